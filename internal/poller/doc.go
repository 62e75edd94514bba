// Package poller implements the LVP snapshot poller.
//
// The poller:
//   - Takes a snapshot of the value store every polling interval
//   - Hands the snapshot to every registered handler (Redis mirror, logging)
//   - Runs handlers concurrently, bounded by Concurrency, each under Timeout
package poller
