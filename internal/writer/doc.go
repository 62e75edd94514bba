// Package writer persists quote history to TimescaleDB.
//
// The quote writer listens on the streaming client's event fan-out, keeps
// only quote events, and flushes them in batches. Inserts are append-only:
// a quote already stored for (instrument, provider_ts) is counted as a
// conflict and skipped.
package writer
