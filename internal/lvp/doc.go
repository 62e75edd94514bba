// Package lvp implements Last Value Persistence for streamed quotes.
//
// Store keeps exactly one entry per instrument, overwritten on every tick
// and classified as fresh or stale on read. RedisMirror copies snapshots to
// Redis so a restarted process can serve last values before the feed
// delivers new ticks.
package lvp
