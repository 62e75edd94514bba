// Package connection implements the feed Connection Adapter.
//
// A Source owns one websocket at a time:
//   - Dials configured endpoints in failover order with signed headers
//   - Keeps the desired instrument set and resubscribes after every dial
//   - Turns quote messages into Tick events, server errors into Error events
//   - Reports closure, or redials itself when AutoReconnect is set
package connection
