package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pricefeed/internal/lvp"
)

// SnapshotSource provides the entries to hand out each cycle.
type SnapshotSource interface {
	Snapshot() []lvp.Entry
}

// SnapshotHandler receives store snapshots.
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, entries []lvp.Entry) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(context.Context, []lvp.Entry) error

func (f SnapshotHandlerFunc) HandleSnapshot(ctx context.Context, entries []lvp.Entry) error {
	return f(ctx, entries)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 2s)
	Concurrency int           // Max concurrent handlers (default: 4)
	Timeout     time.Duration // Per-handler timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		Concurrency: 4,
		Timeout:     5 * time.Second,
	}
}

// Stats counts poll cycles and handler outcomes.
type Stats struct {
	Cycles   int64
	Handled  int64
	Errors   int64
	LastSize int64 // entries in the most recent snapshot
}

// Poller periodically snapshots the value store and hands the snapshot to handlers.
type Poller struct {
	cfg      Config
	source   SnapshotSource
	handlers []SnapshotHandler
	logger   *slog.Logger

	cycles   atomic.Int64
	handled  atomic.Int64
	errors   atomic.Int64
	lastSize atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source SnapshotSource, logger *slog.Logger, handlers ...SnapshotHandler) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		handlers: handlers,
		logger:   logger.With("component", "snapshot_poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"handlers", len(p.handlers),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns counters since start.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:   p.cycles.Load(),
		Handled:  p.handled.Load(),
		Errors:   p.errors.Load(),
		LastSize: p.lastSize.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll takes one snapshot and runs every handler on it concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	entries := p.source.Snapshot()
	p.cycles.Add(1)
	p.lastSize.Store(int64(len(entries)))

	if len(entries) == 0 {
		p.logger.Debug("store empty, nothing to hand out")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var failed atomic.Int64

	for i, h := range p.handlers {
		wg.Add(1)
		go func(idx int, h SnapshotHandler) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.handle(h, entries); err != nil {
				p.logger.Warn("snapshot handler failed",
					"handler", idx,
					"err", err,
				)
				failed.Add(1)
				p.errors.Add(1)
				return
			}
			p.handled.Add(1)
		}(i, h)
	}

	wg.Wait()

	p.logger.Debug("poll cycle complete",
		"entries", len(entries),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) handle(h SnapshotHandler, entries []lvp.Entry) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()
	return h.HandleSnapshot(ctx, entries)
}
