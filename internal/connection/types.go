package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/pricefeed/internal/auth"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrNoEndpoints      = errors.New("no endpoints configured")
	ErrMalformedMessage = errors.New("malformed message")
)

// Field identifiers carried in the "f" map of a quote message.
const (
	FieldMid       = 9
	FieldBid       = 10
	FieldAsk       = 11
	FieldTimestamp = 152
	FieldTimezone  = 3015
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// EventKind classifies a Source event.
type EventKind int

const (
	EventTick   EventKind = iota // Quote update for one instrument
	EventError                   // Non-fatal problem (rejected subscription, interruption)
	EventClosed                  // Connection ended; the source will not recover by itself
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by a Source on its Events channel.
type Event struct {
	Kind EventKind
	Tick *Tick // Set for EventTick
	Err  error // Set for EventError and EventClosed
}

// Tick is one raw quote update, keyed by field id. Values are kept as
// strings so the consumer owns number parsing.
type Tick struct {
	Instrument string
	Fields     map[int]string
	ReceivedAt time.Time
}

// Command is a WebSocket command to send to the server.
type Command struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params interface{} `json:"params"`
}

// SubscribeParams are parameters for subscribe and unsubscribe commands.
type SubscribeParams struct {
	Instruments []string `json:"instruments"`
	Provider    string   `json:"provider,omitempty"`
}

// DataMessage is any message from the server. Command responses carry ID
// and Msg; quotes carry Instrument and Fields.
type DataMessage struct {
	ID         int64                      `json:"id,omitempty"`
	Type       string                     `json:"type"` // "quote", "subscribed", "unsubscribed", "error"
	Instrument string                     `json:"i,omitempty"`
	Fields     map[string]json.RawMessage `json:"f,omitempty"`
	Msg        json.RawMessage            `json:"msg,omitempty"`
}

// ErrorMsg is the message content for an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerError is reported when the server rejects a command.
type ServerError struct {
	CommandID int64
	Code      string
	Message   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (cmd %d): %s: %s", e.CommandID, e.Code, e.Message)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://feed.example.com/stream)
	Header           http.Header   // Handshake headers (signed credentials)
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without ping before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// SourceConfig configures a websocket Source.
type SourceConfig struct {
	Endpoints         []string          // Tried in order until one accepts
	Provider          string            // Optional provider hint sent with subscriptions
	Credentials       *auth.Credentials // nil = unauthenticated
	AutoReconnect     bool              // Redial inside the source instead of reporting closed
	ReconnectBaseWait time.Duration     // Base wait time for reconnection
	ReconnectMaxWait  time.Duration     // Max wait time for reconnection
	EventBufferSize   int               // Buffer size for the Events channel
	Client            ClientConfig      // Per-socket settings; URL and Header are filled per endpoint
}

// DefaultSourceConfig returns sensible defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		EventBufferSize:   10000,
		Client:            DefaultClientConfig(),
	}
}
