package lvp

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// DefaultMaxAge is the freshness window used when none is configured.
const DefaultMaxAge = 90 * time.Second

// ErrNotFound is returned for instruments that have never received a tick.
var ErrNotFound = errors.New("instrument not found")

// Entry is the stored last value of one instrument.
type Entry struct {
	Quote      model.Quote `json:"quote"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Lookup is the result of a read.
type Lookup struct {
	Quote      model.Quote
	ReceivedAt time.Time
	Age        time.Duration
	Stale      bool
}

// Store holds the last value of every instrument. One goroutine writes;
// any number may read.
type Store struct {
	maxAge time.Duration

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore creates an empty store. maxAge <= 0 selects DefaultMaxAge.
func NewStore(maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		maxAge:  maxAge,
		entries: make(map[string]Entry),
	}
}

// MaxAge returns the freshness window.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Update overwrites the entry for key. A quote older than the stored one
// is still accepted; it is flagged and reported as out of order.
func (s *Store) Update(key string, q model.Quote, now time.Time) (outOfOrder bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[key]; ok && q.Timestamp.Before(prev.Quote.Timestamp) {
		outOfOrder = true
	}
	q.OutOfOrder = outOfOrder
	s.entries[key] = Entry{Quote: q, ReceivedAt: now}
	return outOfOrder
}

// Get returns the entry for key classified against now.
// An entry is fresh while now - ReceivedAt <= MaxAge.
func (s *Store) Get(key string, now time.Time) (Lookup, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return Lookup{}, ErrNotFound
	}

	age := now.Sub(e.ReceivedAt)
	return Lookup{
		Quote:      e.Quote,
		ReceivedAt: e.ReceivedAt,
		Age:        age,
		Stale:      age > s.maxAge,
	}, nil
}

// Keys returns the stored instrument keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of stored instruments.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of all entries ordered by key.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Quote.InstrumentKey < out[j].Quote.InstrumentKey
	})
	return out
}

// Restore loads entries, keeping whichever of the stored and restored
// values was received later. It returns the number of entries applied.
func (s *Store) Restore(entries []Entry) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, e := range entries {
		key := e.Quote.InstrumentKey
		if key == "" {
			continue
		}
		if prev, ok := s.entries[key]; ok && !e.ReceivedAt.After(prev.ReceivedAt) {
			continue
		}
		s.entries[key] = e
		applied++
	}
	return applied
}
