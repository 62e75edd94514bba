package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/pricefeed/internal/lvp"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/streaming"
)

// PriceSource is the part of the streaming client the handlers use.
type PriceSource interface {
	GetLatest(key string) (lvp.Lookup, error)
	Subscribe(ctx context.Context, keys ...string) error
	Unsubscribe(ctx context.Context, keys ...string) error
	State() model.ConnectionState
	Stats() streaming.Stats
	Instruments() []string
	Store() *lvp.Store
}

// ProofSource serves the insurance proof.
type ProofSource interface {
	Fetch(ctx context.Context) model.AdapterResponse
}

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc is a function adapter for Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds HTTP server configuration.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CheckTimeout    time.Duration // per-check timeout on /health
	OnDemandTTL     time.Duration // idle time before an on-demand instrument is unsubscribed
	MaxOnDemand     int           // cap on instruments subscribed by /price
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CheckTimeout:    2 * time.Second,
		OnDemandTTL:     10 * time.Minute,
		MaxOnDemand:     100,
	}
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	prices PriceSource
	proof  ProofSource
	logger *slog.Logger

	checksMu sync.RWMutex
	checks   map[string]Checker

	onDemand *onDemand
	now      func() time.Time

	engine   *gin.Engine
	srv      *http.Server
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Server. proof may be nil, in which case /insurance-proof
// answers 503.
func New(cfg Config, prices PriceSource, proof ProofSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultConfig().CheckTimeout
	}
	if cfg.OnDemandTTL <= 0 {
		cfg.OnDemandTTL = DefaultConfig().OnDemandTTL
	}
	if cfg.MaxOnDemand <= 0 {
		cfg.MaxOnDemand = DefaultConfig().MaxOnDemand
	}

	s := &Server{
		cfg:    cfg,
		prices: prices,
		proof:  proof,
		logger: logger.With("component", "http"),
		checks: make(map[string]Checker),

		onDemand: newOnDemand(cfg.OnDemandTTL, cfg.MaxOnDemand),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/price", s.handlePrice)
	r.POST("/insurance-proof", s.handleInsuranceProof)
	r.GET("/health", s.handleHealth)
	r.GET("/debug/instruments", s.handleInstruments)

	s.engine = r
	return s
}

// AddCheck registers a dependency check reported on /health.
func (s *Server) AddCheck(name string, c Checker) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = c
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on the configured port.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.wg.Add(1)
	go s.expiryLoop(ctx)

	s.logger.Info("http server started", "addr", s.srv.Addr)
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	err := s.srv.Shutdown(ctx)
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
