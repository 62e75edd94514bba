// Package model defines shared data types used across the price feed.
//
// Conventions:
//   - Instrument keys are opaque strings; FX and metal pairs use BASEQUOTE (e.g. "EURUSD")
//   - Prices are float64 as delivered by the feed
//   - Timestamps are time.Time; provider timestamps are UTC
//   - Session IDs: uuid.UUID, one per connection attempt
package model
