package lvp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces mirrored entries.
const DefaultKeyPrefix = "lvp:"

// RedisMirror persists store snapshots to Redis.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisMirror creates a mirror. Entries expire after ttl so a mirror
// left behind by a dead process does not outlive the freshness window.
func NewRedisMirror(rdb *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisMirror{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "lvp_mirror"),
	}
}

func (m *RedisMirror) key(instrument string) string {
	return m.prefix + instrument
}

// Save writes every entry in one pipeline.
func (m *RedisMirror) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := m.rdb.Pipeline()
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", e.Quote.InstrumentKey, err)
		}
		pipe.Set(ctx, m.key(e.Quote.InstrumentKey), b, m.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// HandleSnapshot saves a store snapshot. It satisfies poller.SnapshotHandler.
func (m *RedisMirror) HandleSnapshot(ctx context.Context, entries []Entry) error {
	return m.Save(ctx, entries)
}

// Load reads every mirrored entry. Undecodable values are skipped.
func (m *RedisMirror) Load(ctx context.Context) ([]Entry, error) {
	var keys []string
	iter := m.rdb.Scan(ctx, 0, m.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := m.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			m.logger.Warn("skipping undecodable entry", "key", keys[i], "error", err)
			continue
		}
		if e.Quote.InstrumentKey == "" {
			e.Quote.InstrumentKey = strings.TrimPrefix(keys[i], m.prefix)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RestoreInto loads the mirror into store and returns the number applied.
func (m *RedisMirror) RestoreInto(ctx context.Context, store *Store) (int, error) {
	entries, err := m.Load(ctx)
	if err != nil {
		return 0, err
	}
	n := store.Restore(entries)
	m.logger.Info("restored last values", "mirrored", len(entries), "applied", n)
	return n, nil
}

// Ping checks connectivity.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}
