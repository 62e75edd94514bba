// Package streaming implements the Streaming Client.
//
// The client owns one connection.Source at a time and serializes everything
// through a single event loop:
//   - Commands from the public API (connect, subscribe, heartbeat control)
//   - Connect results and source events, tagged with a generation number
//   - Heartbeat ticks and reconnect timers from an injectable clock
//
// Ticks update the lvp.Store and are re-emitted as model.Event values to
// listeners, which never block the loop. Consumers read last values through
// GetLatest, which reports staleness explicitly.
package streaming
