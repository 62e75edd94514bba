package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrOnDemandLimit is returned when the on-demand subscription cap is reached.
var ErrOnDemandLimit = errors.New("on-demand subscription limit reached")

// onDemand tracks instruments subscribed on behalf of /price requests and
// when each was last requested. Configured instruments are never tracked.
type onDemand struct {
	mu       sync.Mutex
	ttl      time.Duration
	max      int
	lastSeen map[string]time.Time
}

func newOnDemand(ttl time.Duration, max int) *onDemand {
	return &onDemand{ttl: ttl, max: max, lastSeen: make(map[string]time.Time)}
}

// touch refreshes key if it is tracked.
func (o *onDemand) touch(key string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.lastSeen[key]; !ok {
		return false
	}
	o.lastSeen[key] = now
	return true
}

// reserve starts tracking key. It reports false if key was already tracked.
func (o *onDemand) reserve(key string, now time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.lastSeen[key]; ok {
		o.lastSeen[key] = now
		return false, nil
	}
	if o.max > 0 && len(o.lastSeen) >= o.max {
		return false, ErrOnDemandLimit
	}
	o.lastSeen[key] = now
	return true, nil
}

func (o *onDemand) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastSeen, key)
}

// idle removes and returns keys not requested for longer than ttl.
func (o *onDemand) idle(now time.Time) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for k, seen := range o.lastSeen {
		if now.Sub(seen) > o.ttl {
			keys = append(keys, k)
			delete(o.lastSeen, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (o *onDemand) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lastSeen)
}

// subscribeOnDemand adds key to the desired set so the next request can be
// served. Keys already desired for other reasons are left alone.
func (s *Server) subscribeOnDemand(ctx context.Context, key string) error {
	if s.onDemand.touch(key, s.now()) {
		return nil
	}
	for _, k := range s.prices.Instruments() {
		if k == key {
			return nil
		}
	}

	added, err := s.onDemand.reserve(key, s.now())
	if err != nil {
		s.logger.Warn("on-demand subscribe refused", "instrument", key, "tracked", s.onDemand.len())
		return err
	}
	if !added {
		return nil
	}
	if err := s.prices.Subscribe(ctx, key); err != nil {
		s.onDemand.release(key)
		s.logger.Warn("on-demand subscribe failed", "instrument", key, "error", err)
		return err
	}
	s.logger.Info("subscribed on demand", "instrument", key)
	return nil
}

// expireOnDemand unsubscribes on-demand instruments idle longer than the TTL.
func (s *Server) expireOnDemand(ctx context.Context, now time.Time) []string {
	keys := s.onDemand.idle(now)
	if len(keys) == 0 {
		return nil
	}
	if err := s.prices.Unsubscribe(ctx, keys...); err != nil {
		s.logger.Warn("on-demand unsubscribe failed", "instruments", keys, "error", err)
		return keys
	}
	s.logger.Info("released idle on-demand instruments", "instruments", keys, "ttl", s.cfg.OnDemandTTL)
	return keys
}

func (s *Server) expiryLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.OnDemandTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.expireOnDemand(ctx, s.now())
		}
	}
}
