package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Quotes
// -----------------------------------------------------------------------------

// InstrumentKey builds the key for a currency or metal pair (e.g. EUR/USD → "EURUSD").
func InstrumentKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + strings.ToUpper(strings.TrimSpace(quote))
}

// Quote is a normalized price for one instrument. A new Quote is produced for
// every tick and never modified afterwards.
type Quote struct {
	InstrumentKey  string    `json:"instrumentKey"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	Mid            float64   `json:"mid"`
	Timestamp      time.Time `json:"timestamp"`      // Provider timestamp
	TimezoneOffset int       `json:"timezoneOffset"` // Minutes east of UTC reported by the provider
	OutOfOrder     bool      `json:"outOfOrder,omitempty"`
}

// -----------------------------------------------------------------------------
// Connection state
// -----------------------------------------------------------------------------

// ConnectionState is the streaming client's view of its upstream connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *ConnectionState) UnmarshalText(b []byte) error {
	for c := Disconnected; c <= Reconnecting; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// EventType identifies an emitted event.
type EventType string

const (
	EventQuote           EventType = "quote"
	EventHeartbeat       EventType = "heartbeat"
	EventConnectionState EventType = "connectionState"
)

// Event is emitted by the streaming client to its listeners.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Quote     *Quote          `json:"quote,omitempty"`  // quote events only
	State     ConnectionState `json:"state"`            // state at emission time
	SessionID uuid.UUID       `json:"sessionId"`        // zero when no attempt has been made
	Reason    string          `json:"reason,omitempty"` // connectionState only: why the state changed
}

// -----------------------------------------------------------------------------
// Adapter responses
// -----------------------------------------------------------------------------

// AdapterResponse is the canonical request/response payload served to callers.
// Successful responses set Result and Data; failures set ErrorMessage.
type AdapterResponse struct {
	Result       any                 `json:"result"`
	Data         any                 `json:"data,omitempty"`
	Timestamps   *ResponseTimestamps `json:"timestamps,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	StatusCode   int                 `json:"statusCode"`
}

// ResponseTimestamps carries provider timing for a response.
type ResponseTimestamps struct {
	ProviderIndicatedTimeUnixMs int64 `json:"providerIndicatedTimeUnixMs,omitempty"`
}

// ErrorResponse builds a failed AdapterResponse.
func ErrorResponse(statusCode int, msg string) AdapterResponse {
	return AdapterResponse{ErrorMessage: msg, StatusCode: statusCode}
}
