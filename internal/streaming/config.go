package streaming

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Min is the first retry delay.
	Min time.Duration
	// Max caps the delay.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// DefaultBackoff returns the reconnect defaults: 1s doubling up to 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    1 * time.Second,
		Max:    60 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Config holds streaming client configuration.
type Config struct {
	Instruments       []string      // Subscribed on every connect
	HeartbeatInterval time.Duration // Liveness event cadence
	ConnectingTimeout time.Duration // Bound on one connect attempt
	CacheMaxAge       time.Duration // Freshness window for GetLatest
	Backoff           Backoff       // Delay between failed attempts
	MaxRetries        int           // Consecutive failures before giving up (0 = unlimited)
	ListenerBuffer    int           // Initial capacity of listener buffers
	MaxListenerBuffer int           // Per-listener cap, oldest dropped beyond it (0 = unbounded)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ConnectingTimeout: 4 * time.Second,
		CacheMaxAge:       90 * time.Second,
		Backoff:           DefaultBackoff(),
		MaxRetries:        0,
		ListenerBuffer:    1024,
		MaxListenerBuffer: 100000,
	}
}

// Validate checks the configuration. Errors wrap ErrConfig.
func (c Config) Validate() error {
	var problems []string

	if c.HeartbeatInterval <= 0 {
		problems = append(problems, "heartbeat interval must be positive")
	}
	if c.ConnectingTimeout <= 0 {
		problems = append(problems, "connecting timeout must be positive")
	}
	if c.CacheMaxAge <= 0 {
		problems = append(problems, "cache max age must be positive")
	}
	if c.Backoff.Min <= 0 {
		problems = append(problems, "backoff min must be positive")
	}
	if c.Backoff.Max < c.Backoff.Min {
		problems = append(problems, "backoff max must be >= backoff min")
	}
	if c.Backoff.Factor != 0 && c.Backoff.Factor < 1 {
		problems = append(problems, "backoff factor must be >= 1")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		problems = append(problems, "backoff jitter must be within [0, 1]")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "max retries must be >= 0")
	}
	if c.MaxListenerBuffer < 0 {
		problems = append(problems, "max listener buffer must be >= 0")
	}
	for _, k := range c.Instruments {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, "instrument keys must not be empty")
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
