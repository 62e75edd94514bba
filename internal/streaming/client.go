package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/pricefeed/internal/clock"
	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/lvp"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/router"
)

// SourceFactory builds a fresh Source for each connect attempt.
type SourceFactory func() (connection.Source, error)

// Option customizes a Client.
type Option func(*Client)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithStore shares an existing store, e.g. one restored from a mirror.
func WithStore(s *lvp.Store) Option {
	return func(cl *Client) { cl.store = s }
}

// Stats contains client statistics.
type Stats struct {
	State           model.ConnectionState
	Instruments     int // entries held in the store
	Subscribed      int // desired instrument set
	QuotesReceived  int64
	ParseErrors     int64
	OutOfOrder      int64
	Heartbeats      int64
	SourceErrors    int64
	ConnectAttempts int64
	ConnectFailures int64
	Reconnects      int64
	PanicsRecovered int64
	Events          router.BroadcastStats
}

type counters struct {
	quotes          atomic.Int64
	parseErrors     atomic.Int64
	outOfOrder      atomic.Int64
	heartbeats      atomic.Int64
	sourceErrors    atomic.Int64
	connectAttempts atomic.Int64
	connectFailures atomic.Int64
	reconnects      atomic.Int64
	panics          atomic.Int64
}

type command struct {
	fn    func() error
	reply chan error
}

type connectResult struct {
	gen    uint64
	source connection.Source
	keys   []string // desired set the source was subscribed with
	err    error
}

type sourceEvent struct {
	gen uint64
	ev  connection.Event
}

// Client is the Streaming Client. Create with New, then Start.
type Client struct {
	cfg     Config
	factory SourceFactory
	clock   clock.Clock
	logger  *slog.Logger
	store   *lvp.Store
	events  *router.Broadcaster[model.Event]

	cmds      chan command
	results   chan connectResult
	srcEvents chan sourceEvent

	state       atomic.Int32
	instruments atomic.Pointer[[]string]
	stats       counters

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loopWG  sync.WaitGroup
	stopped chan struct{}

	// Owned by the event loop.
	source        connection.Source
	gen           uint64
	session       uuid.UUID
	attemptCancel context.CancelFunc
	connectTimer  clock.Timer
	retryTimer    clock.Timer
	heartbeat     clock.Ticker
	failures      int
	connectedAt   time.Time
	desired       map[string]struct{}
}

// New validates cfg and creates a Client. Errors wrap ErrConfig.
func New(cfg Config, factory SourceFactory, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: source factory is required", ErrConfig)
	}

	c := &Client{
		cfg:       cfg,
		factory:   factory,
		cmds:      make(chan command),
		results:   make(chan connectResult),
		srcEvents: make(chan sourceEvent, 256),
		stopped:   make(chan struct{}),
		desired:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "streaming")
	if c.store == nil {
		c.store = lvp.NewStore(cfg.CacheMaxAge)
	}
	c.events = router.NewBroadcaster[model.Event](cfg.MaxListenerBuffer)

	for _, k := range cfg.Instruments {
		c.desired[strings.TrimSpace(k)] = struct{}{}
	}
	c.publishInstruments()

	return c, nil
}

// Start launches the event loop. It does not connect. A Client can be
// started once.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.loopWG.Add(1)
	go c.run()

	c.logger.Info("streaming client started",
		"heartbeat_interval", c.cfg.HeartbeatInterval,
		"cache_max_age", c.cfg.CacheMaxAge,
		"instruments", len(c.desired),
	)
	return nil
}

// Stop disconnects, stops the loop and closes all listener buffers.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("streaming client stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect starts connecting. It returns once the attempt is scheduled;
// progress is reported through connectionState events.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch c.State() {
		case model.Connecting, model.Connected:
			return nil
		}
		c.stopRetryTimer()
		c.failures = 0
		c.startAttempt("connect requested")
		return nil
	})
}

// Disconnect moves to Disconnected from any state. No heartbeat or quote
// from the released connection is emitted after it returns.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.teardown("disconnect requested")
		return nil
	})
}

// Subscribe adds instruments to the desired set.
func (c *Client) Subscribe(ctx context.Context, keys ...string) error {
	return c.do(ctx, func() error {
		var added []string
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, ok := c.desired[k]; !ok {
				c.desired[k] = struct{}{}
				added = append(added, k)
			}
		}
		if len(added) == 0 {
			return nil
		}
		c.publishInstruments()
		c.logger.Debug("subscribing", "instruments", added)

		if c.source != nil {
			if err := c.source.Subscribe(added); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
		}
		return nil
	})
}

// Unsubscribe removes instruments from the desired set. Stored values are kept.
func (c *Client) Unsubscribe(ctx context.Context, keys ...string) error {
	return c.do(ctx, func() error {
		var removed []string
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if _, ok := c.desired[k]; ok {
				delete(c.desired, k)
				removed = append(removed, k)
			}
		}
		if len(removed) == 0 {
			return nil
		}
		c.publishInstruments()

		if c.source != nil {
			if err := c.source.Unsubscribe(removed); err != nil {
				return fmt.Errorf("unsubscribe: %w", err)
			}
		}
		return nil
	})
}

// StartHeartbeat starts the heartbeat ticker. No-op if already running.
func (c *Client) StartHeartbeat(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.startHeartbeat()
		return nil
	})
}

// StopHeartbeat stops the heartbeat ticker. No-op if not running.
func (c *Client) StopHeartbeat(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.stopHeartbeat()
		return nil
	})
}

// GetLatest returns the last value for key, flagged stale when older than
// CacheMaxAge. Unknown keys return lvp.ErrNotFound.
func (c *Client) GetLatest(key string) (lvp.Lookup, error) {
	return c.store.Get(key, c.clock.Now())
}

// Store returns the backing value store.
func (c *Client) Store() *lvp.Store {
	return c.store
}

// Listen registers an event listener. Emission never blocks on it.
func (c *Client) Listen(bufferSize int) *router.GrowableBuffer[model.Event] {
	if bufferSize <= 0 {
		bufferSize = c.cfg.ListenerBuffer
	}
	return c.events.Listen(bufferSize)
}

// Unlisten removes and closes a listener.
func (c *Client) Unlisten(buf *router.GrowableBuffer[model.Event]) {
	c.events.Unlisten(buf)
}

// State returns the current connection state.
func (c *Client) State() model.ConnectionState {
	return model.ConnectionState(c.state.Load())
}

// Instruments returns the desired instrument set, sorted.
func (c *Client) Instruments() []string {
	p := c.instruments.Load()
	if p == nil {
		return nil
	}
	out := make([]string, len(*p))
	copy(out, *p)
	return out
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		State:           c.State(),
		Instruments:     c.store.Len(),
		Subscribed:      len(c.Instruments()),
		QuotesReceived:  c.stats.quotes.Load(),
		ParseErrors:     c.stats.parseErrors.Load(),
		OutOfOrder:      c.stats.outOfOrder.Load(),
		Heartbeats:      c.stats.heartbeats.Load(),
		SourceErrors:    c.stats.sourceErrors.Load(),
		ConnectAttempts: c.stats.connectAttempts.Load(),
		ConnectFailures: c.stats.connectFailures.Load(),
		Reconnects:      c.stats.reconnects.Load(),
		PanicsRecovered: c.stats.panics.Load(),
		Events:          c.events.Stats(),
	}
}

// do runs fn on the event loop and waits for its result.
func (c *Client) do(ctx context.Context, fn func() error) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// run is the event loop.
func (c *Client) run() {
	defer c.loopWG.Done()
	defer close(c.stopped)

	for {
		select {
		case <-c.ctx.Done():
			c.teardown("client stopped")
			c.events.Close()
			return

		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn()

		case res := <-c.results:
			c.handleResult(res)

		case se := <-c.srcEvents:
			if se.gen != c.gen || c.source == nil {
				continue
			}
			c.handleSourceEvent(se.ev)

		case <-timerC(c.connectTimer):
			c.connectTimer = nil
			if c.State() != model.Connecting {
				continue
			}
			c.logger.Warn("connect attempt timed out", "timeout", c.cfg.ConnectingTimeout, "session", c.session)
			c.invalidateAttempt()
			c.handleFailure(ErrTimeout)

		case <-timerC(c.retryTimer):
			c.retryTimer = nil
			if c.State() != model.Reconnecting {
				continue
			}
			c.stats.reconnects.Add(1)
			c.startAttempt("retrying")

		case fired := <-tickerC(c.heartbeat):
			c.stats.heartbeats.Add(1)
			c.emit(model.Event{
				Type:      model.EventHeartbeat,
				Timestamp: fired,
				State:     c.State(),
				SessionID: c.session,
			})
		}
	}
}

// startAttempt begins one asynchronous connect attempt bounded by
// ConnectingTimeout.
func (c *Client) startAttempt(reason string) {
	c.gen++
	gen := c.gen
	c.session = uuid.New()
	c.stats.connectAttempts.Add(1)

	ctx, cancel := context.WithCancel(c.ctx)
	c.attemptCancel = cancel
	c.connectTimer = c.clock.NewTimer(c.cfg.ConnectingTimeout)

	keys := c.desiredKeys()
	logger := c.logger.With("session", c.session, "attempt", c.failures+1)

	c.setState(model.Connecting, reason)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		src, err := c.factory()
		if err == nil && src == nil {
			err = errors.New("source factory returned nil")
		}
		if err == nil {
			if err = src.Subscribe(keys); err == nil {
				err = src.Connect(ctx)
			}
			if err != nil {
				src.Disconnect()
				src = nil
			}
		}
		if err != nil {
			logger.Debug("connect attempt failed", "error", err)
		}

		select {
		case c.results <- connectResult{gen: gen, source: src, keys: keys, err: err}:
		case <-c.ctx.Done():
			if src != nil {
				src.Disconnect()
			}
		}
	}()
}

// handleResult applies a connect result if it belongs to the current attempt.
func (c *Client) handleResult(res connectResult) {
	if res.gen != c.gen || c.State() != model.Connecting {
		if res.source != nil {
			c.logger.Debug("discarding late connection", "gen", res.gen, "current", c.gen)
			res.source.Disconnect()
		}
		return
	}

	c.stopConnectTimer()
	c.attemptCancel = nil

	if res.err != nil {
		c.handleFailure(fmt.Errorf("%w: %v", ErrConnection, res.err))
		return
	}

	c.source = res.source
	c.connectedAt = c.clock.Now()
	c.syncSubscriptions(res.keys)

	c.wg.Add(1)
	go c.forward(res.gen, res.source)

	c.startHeartbeat()
	c.setState(model.Connected, "")
}

// syncSubscriptions reconciles changes made to the desired set while the
// attempt was in flight.
func (c *Client) syncSubscriptions(subscribed []string) {
	had := make(map[string]struct{}, len(subscribed))
	for _, k := range subscribed {
		had[k] = struct{}{}
	}

	var add, remove []string
	for k := range c.desired {
		if _, ok := had[k]; !ok {
			add = append(add, k)
		}
	}
	for k := range had {
		if _, ok := c.desired[k]; !ok {
			remove = append(remove, k)
		}
	}

	if len(add) > 0 {
		if err := c.source.Subscribe(add); err != nil {
			c.logger.Warn("subscribe failed", "instruments", add, "error", err)
		}
	}
	if len(remove) > 0 {
		if err := c.source.Unsubscribe(remove); err != nil {
			c.logger.Warn("unsubscribe failed", "instruments", remove, "error", err)
		}
	}
}

// handleFailure counts a failed attempt or an early closure and schedules the
// next attempt, or gives up once MaxRetries consecutive failures are reached.
// The count resets on the first quote of a connection, or when a connection
// outlived Backoff.Max before closing.
func (c *Client) handleFailure(err error) {
	c.failures++
	c.stats.connectFailures.Add(1)

	if c.cfg.MaxRetries > 0 && c.failures >= c.cfg.MaxRetries {
		c.logger.Error("giving up after consecutive failures", "failures", c.failures, "error", err)
		c.teardown(fmt.Sprintf("retries exhausted after %d attempts: %v", c.failures, err))
		return
	}

	c.scheduleRetry(c.cfg.Backoff.Next(c.failures), err)
}

func (c *Client) scheduleRetry(delay time.Duration, cause error) {
	c.stopRetryTimer()
	c.retryTimer = c.clock.NewTimer(delay)

	c.logger.Warn("connection failed, retrying", "delay", delay, "failures", c.failures, "error", cause)
	c.setState(model.Reconnecting, cause.Error())
}

// handleSourceEvent processes one event from the current source.
func (c *Client) handleSourceEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventTick:
		c.handleTick(ev.Tick)

	case connection.EventError:
		c.stats.sourceErrors.Add(1)
		c.logger.Warn("source error", "error", ev.Err, "session", c.session)

	case connection.EventClosed:
		c.logger.Warn("connection closed unexpectedly", "error", ev.Err, "session", c.session)
		c.releaseSource()
		cause := fmt.Errorf("%w: connection closed", ErrConnection)
		if ev.Err != nil {
			cause = fmt.Errorf("%w: connection closed: %v", ErrConnection, ev.Err)
		}
		if c.clock.Now().Sub(c.connectedAt) >= c.cfg.Backoff.Max {
			c.failures = 0
		}
		c.handleFailure(cause)
	}
}

// handleTick parses a tick, updates the store and emits a quote event.
// Failures are contained to the tick.
func (c *Client) handleTick(t *connection.Tick) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.panics.Add(1)
			c.logger.Error("panic while handling tick", "panic", r)
		}
	}()

	q, err := ParseTick(t)
	if err != nil {
		c.stats.parseErrors.Add(1)
		c.logger.Warn("dropping tick", "error", err)
		return
	}

	now := c.clock.Now()
	if c.store.Update(q.InstrumentKey, q, now) {
		q.OutOfOrder = true
		c.stats.outOfOrder.Add(1)
		c.logger.Debug("out-of-order tick", "instrument", q.InstrumentKey, "timestamp", q.Timestamp)
	}
	c.stats.quotes.Add(1)
	c.failures = 0

	c.emit(model.Event{
		Type:      model.EventQuote,
		Timestamp: now,
		Quote:     &q,
		State:     c.State(),
		SessionID: c.session,
	})
}

// forward relays source events into the loop tagged with gen.
func (c *Client) forward(gen uint64, src connection.Source) {
	defer c.wg.Done()

	for ev := range src.Events() {
		select {
		case c.srcEvents <- sourceEvent{gen: gen, ev: ev}:
		case <-c.ctx.Done():
			return
		}
	}
}

// teardown releases everything and enters Disconnected.
func (c *Client) teardown(reason string) {
	c.invalidateAttempt()
	c.stopRetryTimer()
	c.releaseSource()
	c.stopHeartbeat()
	c.failures = 0
	c.setState(model.Disconnected, reason)
}

// invalidateAttempt cancels any in-flight attempt so its result is discarded.
func (c *Client) invalidateAttempt() {
	c.gen++
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	c.stopConnectTimer()
}

func (c *Client) releaseSource() {
	if c.source == nil {
		return
	}
	src := c.source
	c.source = nil
	c.gen++
	if err := src.Disconnect(); err != nil {
		c.logger.Debug("source disconnect", "error", err)
	}
}

func (c *Client) startHeartbeat() {
	if c.heartbeat != nil {
		return
	}
	c.heartbeat = c.clock.NewTicker(c.cfg.HeartbeatInterval)
	c.logger.Debug("heartbeat started", "interval", c.cfg.HeartbeatInterval)
}

func (c *Client) stopHeartbeat() {
	if c.heartbeat == nil {
		return
	}
	c.heartbeat.Stop()
	c.heartbeat = nil
	c.logger.Debug("heartbeat stopped")
}

func (c *Client) stopConnectTimer() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Client) stopRetryTimer() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setState records a transition and emits a connectionState event.
func (c *Client) setState(s model.ConnectionState, reason string) {
	prev := model.ConnectionState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}

	c.logger.Info("connection state changed",
		"from", prev,
		"to", s,
		"reason", reason,
		"session", c.session,
	)
	c.emit(model.Event{
		Type:      model.EventConnectionState,
		Timestamp: c.clock.Now(),
		State:     s,
		SessionID: c.session,
		Reason:    reason,
	})
}

func (c *Client) emit(ev model.Event) {
	c.events.Publish(ev)
}

func (c *Client) desiredKeys() []string {
	keys := make([]string, 0, len(c.desired))
	for k := range c.desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) publishInstruments() {
	keys := c.desiredKeys()
	c.instruments.Store(&keys)
}

func timerC(t clock.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func tickerC(t clock.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
