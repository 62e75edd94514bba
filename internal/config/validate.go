package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return invalid("instance.id is required")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Feed.validate("feed"); err != nil {
		return err
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return invalid("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.OnDemandTTL < 0 {
		return invalid("http.on_demand_ttl must be >= 0")
	}
	if c.HTTP.MaxOnDemand < 0 {
		return invalid("http.max_on_demand must be >= 0")
	}

	if c.Database.Timescale.Enabled() {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Redis.DB < 0 {
		return invalid("redis.db must be >= 0")
	}

	if c.Kafka.Enabled() {
		if c.Kafka.Topic == "" {
			return invalid("kafka.topic is required when kafka.brokers is set")
		}
		if c.Kafka.BatchSize < 1 {
			return invalid("kafka.batch_size must be >= 1")
		}
	}

	if _, err := url.ParseRequestURI(c.Insurance.Endpoint); err != nil {
		return invalid("insurance.endpoint: %v", err)
	}
	if c.Insurance.MaxRetries < 0 {
		return invalid("insurance.max_retries must be >= 0")
	}

	if c.Writers.BatchSize < 1 {
		return invalid("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return invalid("writers.buffer_size must be >= 1")
	}

	return nil
}

func (f *FeedConfig) validate(prefix string) error {
	if len(f.Endpoints) == 0 {
		return invalid("%s.endpoints requires at least one url", prefix)
	}
	for i, e := range f.Endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return invalid("%s.endpoints[%d] must be a ws:// or wss:// url, got %q", prefix, i, e)
		}
	}

	hasSecret := f.Password != "" || f.PasswordFile != ""
	if f.UserGroup != "" && !hasSecret {
		return invalid("%s.password or %s.password_file is required with %s.user_group", prefix, prefix, prefix)
	}
	if hasSecret && f.UserGroup == "" {
		return invalid("%s.user_group is required with a password", prefix)
	}

	for i, k := range f.Instruments {
		if strings.TrimSpace(k) == "" {
			return invalid("%s.instruments[%d] is empty", prefix, i)
		}
	}

	durations := []struct {
		name  string
		value int64
	}{
		{"polling_interval", int64(f.PollingInterval)},
		{"connecting_timeout", int64(f.ConnectingTimeout)},
		{"heartbeat_interval", int64(f.HeartbeatInterval)},
		{"cache_max_age", int64(f.CacheMaxAge)},
		{"reconnect.base_delay", int64(f.Reconnect.BaseDelay)},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return invalid("%s.%s must be positive", prefix, d.name)
		}
	}

	if f.Reconnect.MaxDelay < f.Reconnect.BaseDelay {
		return invalid("%s.reconnect.max_delay (%s) cannot be below base_delay (%s)", prefix, f.Reconnect.MaxDelay, f.Reconnect.BaseDelay)
	}
	if f.Reconnect.Factor < 1 {
		return invalid("%s.reconnect.factor must be >= 1", prefix)
	}
	if f.Reconnect.Jitter < 0 || f.Reconnect.Jitter > 1 {
		return invalid("%s.reconnect.jitter must be within [0, 1]", prefix)
	}
	if f.Reconnect.MaxRetries < 0 {
		return invalid("%s.reconnect.max_retries must be >= 0", prefix)
	}
	if f.BufferSize < 1 {
		return invalid("%s.buffer_size must be >= 1", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return invalid("%s.host is required", prefix)
	}
	if db.Name == "" {
		return invalid("%s.name is required", prefix)
	}
	if db.User == "" {
		return invalid("%s.user is required", prefix)
	}
	if db.Password == "" {
		return invalid("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return invalid("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return invalid("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return invalid("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}
