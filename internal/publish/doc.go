// Package publish forwards streaming events to Kafka.
//
// Quote events are keyed by instrument so each instrument stays on one
// partition in order. Heartbeats are keyed "heartbeat". Connection state
// events are not published.
package publish
