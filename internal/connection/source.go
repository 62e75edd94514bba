package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Source is an opaque push feed of quote ticks.
type Source interface {
	// Connect opens the feed. It is a no-op when already connected.
	Connect(ctx context.Context) error

	// Disconnect releases the feed. No events are delivered after it
	// returns and the Events channel is closed.
	Disconnect() error

	// Subscribe adds instruments to the desired set and forwards them when connected.
	Subscribe(keys []string) error

	// Unsubscribe removes instruments from the desired set.
	Unsubscribe(keys []string) error

	// Events returns the tick, error and closed notifications.
	Events() <-chan Event
}

// wsSource implements Source over one websocket at a time.
type wsSource struct {
	cfg    SourceConfig
	logger *slog.Logger

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	cmdID atomic.Int64

	mu        sync.Mutex
	client    Client
	endpoint  string
	connected bool
	closed    bool
	desired   map[string]struct{}
}

// NewSource creates a websocket Source. It is single use: once
// Disconnect returns, Connect fails with ErrAlreadyClosed.
func NewSource(cfg SourceConfig, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultSourceConfig()
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = defaults.EventBufferSize
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = defaults.ReconnectMaxWait
	}

	return &wsSource{
		cfg:     cfg,
		logger:  logger.With("component", "source"),
		events:  make(chan Event, cfg.EventBufferSize),
		done:    make(chan struct{}),
		desired: make(map[string]struct{}),
	}
}

// Connect dials the configured endpoints in order until one succeeds.
func (s *wsSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	c, endpoint, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return ErrAlreadyClosed
	}
	s.client = c
	s.endpoint = endpoint
	s.connected = true
	keys := s.desiredKeys()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(c)

	if len(keys) > 0 {
		if err := s.send(c, "subscribe", keys); err != nil {
			s.logger.Warn("resubscribe failed", "endpoint", endpoint, "error", err)
		}
	}

	s.logger.Info("feed connected", "endpoint", endpoint, "instruments", len(keys))
	return nil
}

// dial tries each endpoint in failover order.
func (s *wsSource) dial(ctx context.Context) (Client, string, error) {
	if len(s.cfg.Endpoints) == 0 {
		return nil, "", ErrNoEndpoints
	}

	var errs []error
	for _, endpoint := range s.cfg.Endpoints {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		cfg := s.cfg.Client
		cfg.URL = endpoint
		if s.cfg.Credentials != nil {
			path := "/"
			if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
				path = u.Path
			}
			header, err := s.cfg.Credentials.SignWebSocket(path)
			if err != nil {
				return nil, "", fmt.Errorf("sign handshake: %w", err)
			}
			cfg.Header = header
		}

		c := NewClient(cfg, s.logger.With("endpoint", endpoint))
		if err := c.Connect(ctx); err != nil {
			s.logger.Debug("endpoint failed", "endpoint", endpoint, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		return c, endpoint, nil
	}

	return nil, "", fmt.Errorf("all endpoints failed: %w", errors.Join(errs...))
}

// Disconnect closes the socket, waits for the pump to exit, then closes Events.
func (s *wsSource) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	c := s.client
	s.client = nil
	s.mu.Unlock()

	close(s.done)

	var err error
	if c != nil {
		err = c.Close()
	}

	s.wg.Wait()
	close(s.events)
	return err
}

// Subscribe adds keys to the desired set and forwards them when connected.
func (s *wsSource) Subscribe(keys []string) error {
	return s.update("subscribe", keys)
}

// Unsubscribe removes keys from the desired set and forwards them when connected.
func (s *wsSource) Unsubscribe(keys []string) error {
	return s.update("unsubscribe", keys)
}

func (s *wsSource) update(cmd string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	for _, k := range keys {
		if cmd == "subscribe" {
			s.desired[k] = struct{}{}
		} else {
			delete(s.desired, k)
		}
	}
	c := s.client
	connected := s.connected
	s.mu.Unlock()

	if !connected || c == nil {
		return nil
	}
	return s.send(c, cmd, keys)
}

// Events returns the event channel.
func (s *wsSource) Events() <-chan Event {
	return s.events
}

func (s *wsSource) send(c Client, cmd string, keys []string) error {
	data, err := json.Marshal(Command{
		ID:  s.cmdID.Add(1),
		Cmd: cmd,
		Params: SubscribeParams{
			Instruments: keys,
			Provider:    s.cfg.Provider,
		},
	})
	if err != nil {
		return err
	}
	return c.Send(data)
}

// desiredKeys returns the sorted desired set. Caller holds s.mu.
func (s *wsSource) desiredKeys() []string {
	keys := make([]string, 0, len(s.desired))
	for k := range s.desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// emit delivers an event unless the source is shutting down.
func (s *wsSource) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// pump forwards messages from the current client until it fails or the
// source is disconnected.
func (s *wsSource) pump(c Client) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case err := <-c.Errors():
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()

			s.logger.Warn("connection error", "error", err)
			c.Close()

			if !s.cfg.AutoReconnect {
				s.emit(Event{Kind: EventClosed, Err: err})
				return
			}

			if !s.emit(Event{Kind: EventError, Err: fmt.Errorf("connection interrupted: %w", err)}) {
				return
			}
			next := s.reconnect()
			if next == nil {
				return
			}
			c = next

		case msg := <-c.Messages():
			ev, ok := s.handleMessage(msg)
			if !ok {
				continue
			}
			if !s.emit(ev) {
				return
			}
		}
	}
}

// reconnect redials with exponential backoff and resubscribes the desired set.
// It returns nil if the source was disconnected meanwhile.
func (s *wsSource) reconnect() Client {
	wait := s.cfg.ReconnectBaseWait
	maxWait := s.cfg.ReconnectMaxWait

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-s.done:
			return nil
		case <-time.After(wait):
		}

		s.logger.Info("attempting reconnection")

		c, endpoint, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("reconnection failed", "error", err)

			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Close()
			return nil
		}
		s.client = c
		s.endpoint = endpoint
		s.connected = true
		keys := s.desiredKeys()
		s.mu.Unlock()

		if len(keys) > 0 {
			if err := s.send(c, "subscribe", keys); err != nil {
				s.logger.Warn("resubscribe failed", "error", err)
			}
		}

		s.logger.Info("reconnected", "endpoint", endpoint, "instruments", len(keys))
		return c
	}
}

// handleMessage decodes a server message into an Event. Command
// acknowledgements are logged and produce no event.
func (s *wsSource) handleMessage(msg TimestampedMessage) (Event, bool) {
	var dm DataMessage
	if err := json.Unmarshal(msg.Data, &dm); err != nil {
		return Event{Kind: EventError, Err: fmt.Errorf("%w: %v", ErrMalformedMessage, err)}, true
	}

	switch dm.Type {
	case "quote":
		fields, err := decodeFields(dm.Fields)
		if err != nil {
			return Event{Kind: EventError, Err: err}, true
		}
		return Event{
			Kind: EventTick,
			Tick: &Tick{
				Instrument: dm.Instrument,
				Fields:     fields,
				ReceivedAt: msg.ReceivedAt,
			},
		}, true

	case "error":
		var em ErrorMsg
		if err := json.Unmarshal(dm.Msg, &em); err != nil {
			return Event{Kind: EventError, Err: fmt.Errorf("%w: error message for command %d: %v", ErrMalformedMessage, dm.ID, err)}, true
		}
		return Event{Kind: EventError, Err: &ServerError{CommandID: dm.ID, Code: em.Code, Message: em.Message}}, true

	case "subscribed", "unsubscribed", "ok":
		s.logger.Debug("command acknowledged", "id", dm.ID, "type", dm.Type)
		return Event{}, false

	default:
		s.logger.Debug("ignoring message", "type", dm.Type)
		return Event{}, false
	}
}

// decodeFields converts the wire field map to numeric ids. Values may be
// JSON strings or numbers; both are kept as their text form.
func decodeFields(raw map[string]json.RawMessage) (map[int]string, error) {
	fields := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: field id %q", ErrMalformedMessage, k)
		}
		if len(v) == 0 || string(v) == "null" {
			continue
		}
		if v[0] == '"' {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, id, err)
			}
			fields[id] = s
			continue
		}
		fields[id] = string(v)
	}
	return fields, nil
}
