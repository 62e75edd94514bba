// Package router fans streaming client events out to listeners.
//
// Each listener gets its own GrowableBuffer so a slow consumer (database
// writer, Kafka publisher) never blocks the event loop that publishes.
package router
