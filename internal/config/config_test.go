package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: pricefeed-1
feed:
  endpoints:
    - wss://primary.example.com/stream
    - wss://backup.example.com/stream
  user_group: acme.prod
  password: secret
  instruments: [EURUSD, XAUUSD]
  heartbeat_interval: 10s
  reconnect:
    max_retries: 5
database:
  timescale:
    host: localhost
    port: 5433
    name: quotes
    user: writer
    password: pw
kafka:
  brokers: [localhost:9092]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "pricefeed-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "pricefeed-1")
	}
	if len(cfg.Feed.Endpoints) != 2 || cfg.Feed.Endpoints[1] != "wss://backup.example.com/stream" {
		t.Errorf("Feed.Endpoints = %v", cfg.Feed.Endpoints)
	}
	if cfg.Feed.HeartbeatInterval != 10*time.Second {
		t.Errorf("Feed.HeartbeatInterval = %v, want 10s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Feed.Reconnect.MaxRetries != 5 {
		t.Errorf("Feed.Reconnect.MaxRetries = %d, want 5", cfg.Feed.Reconnect.MaxRetries)
	}
	if cfg.Database.Timescale.Port != 5433 {
		t.Errorf("Database.Timescale.Port = %d, want 5433", cfg.Database.Timescale.Port)
	}
	if !cfg.Kafka.Enabled() {
		t.Error("Kafka.Enabled() = false, want true")
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis.Enabled() = true, want false")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_PASSWORD", "secret123")
	t.Setenv("TEST_INSURANCE_KEY", "key-abc")

	yaml := `
instance:
  id: pricefeed-1
feed:
  endpoints: [wss://feed.example.com]
  user_group: acme
  password: ${TEST_FEED_PASSWORD}
insurance:
  api_key: ${TEST_INSURANCE_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.Password != "secret123" {
		t.Errorf("Feed.Password = %q, want %q", cfg.Feed.Password, "secret123")
	}
	if cfg.Insurance.APIKey != "key-abc" {
		t.Errorf("Insurance.APIKey = %q, want %q", cfg.Insurance.APIKey, "key-abc")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: pricefeed-1
feed:
  endpoints: [wss://feed.example.com]
database:
  timescale:
    host: localhost
    name: quotes
    user: writer
    password: pw
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Feed.PollingInterval", cfg.Feed.PollingInterval, DefaultPollingInterval},
		{"Feed.ConnectingTimeout", cfg.Feed.ConnectingTimeout, DefaultConnectingTimeout},
		{"Feed.HeartbeatInterval", cfg.Feed.HeartbeatInterval, DefaultHeartbeatInterval},
		{"Feed.CacheMaxAge", cfg.Feed.CacheMaxAge, DefaultCacheMaxAge},
		{"Feed.Reconnect.BaseDelay", cfg.Feed.Reconnect.BaseDelay, DefaultReconnectBase},
		{"Feed.Reconnect.MaxDelay", cfg.Feed.Reconnect.MaxDelay, DefaultReconnectMax},
		{"Feed.Reconnect.Factor", cfg.Feed.Reconnect.Factor, DefaultReconnectFactor},
		{"Feed.Reconnect.MaxRetries", cfg.Feed.Reconnect.MaxRetries, 0},
		{"HTTP.Port", cfg.HTTP.Port, DefaultHTTPPort},
		{"HTTP.OnDemandTTL", cfg.HTTP.OnDemandTTL, DefaultOnDemandTTL},
		{"HTTP.MaxOnDemand", cfg.HTTP.MaxOnDemand, DefaultMaxOnDemand},
		{"Database.Timescale.Port", cfg.Database.Timescale.Port, DefaultDBPort},
		{"Database.Timescale.MaxConns", cfg.Database.Timescale.MaxConns, DefaultMaxConns},
		{"Insurance.Endpoint", cfg.Insurance.Endpoint, DefaultInsuranceEndpoint},
		{"Writers.BatchSize", cfg.Writers.BatchSize, DefaultBatchSize},
		{"Writers.FlushInterval", cfg.Writers.FlushInterval, DefaultFlushInterval},
		{"Log.Level", cfg.Log.Level, DefaultLogLevel},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want default %v", c.name, c.got, c.want)
		}
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: x\n")

	_, err := LoadAndValidate(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "feed.endpoints") {
		t.Errorf("err = %v, want mention of feed.endpoints", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

// validConfig returns a config that passes Validate.
func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Feed: FeedConfig{
			Endpoints: []string{"wss://feed.example.com/stream"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level: unknown level "loud"`,
		},
		{
			name:    "no endpoints",
			mutate:  func(c *Config) { c.Feed.Endpoints = nil },
			wantErr: "feed.endpoints requires at least one url",
		},
		{
			name:    "http endpoint",
			mutate:  func(c *Config) { c.Feed.Endpoints = []string{"https://feed.example.com"} },
			wantErr: `feed.endpoints[0] must be a ws:// or wss:// url, got "https://feed.example.com"`,
		},
		{
			name:    "user group without password",
			mutate:  func(c *Config) { c.Feed.UserGroup = "acme" },
			wantErr: "feed.password or feed.password_file is required with feed.user_group",
		},
		{
			name:    "password without user group",
			mutate:  func(c *Config) { c.Feed.Password = "pw" },
			wantErr: "feed.user_group is required with a password",
		},
		{
			name:    "negative heartbeat",
			mutate:  func(c *Config) { c.Feed.HeartbeatInterval = -time.Second },
			wantErr: "feed.heartbeat_interval must be positive",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Feed.Reconnect.MaxDelay = 100 * time.Millisecond },
			wantErr: "feed.reconnect.max_delay (100ms) cannot be below base_delay (1s)",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Feed.Reconnect.MaxRetries = -1 },
			wantErr: "feed.reconnect.max_retries must be >= 0",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "negative on-demand cap",
			mutate:  func(c *Config) { c.HTTP.MaxOnDemand = -1 },
			wantErr: "http.max_on_demand must be >= 0",
		},
		{
			name: "timescale missing password",
			mutate: func(c *Config) {
				c.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 10}
			},
			wantErr: "database.timescale.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.timescale.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "kafka without topic",
			mutate:  func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"}; c.Kafka.Topic = "" },
			wantErr: "kafka.topic is required when kafka.brokers is set",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name: "valid with credentials and sinks",
			mutate: func(c *Config) {
				c.Feed.UserGroup = "acme"
				c.Feed.PasswordFile = "/run/secrets/feed"
				c.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
				c.Redis.Addr = "localhost:6379"
				c.Kafka.Brokers = []string{"localhost:9092"}
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error does not wrap ErrInvalid: %v", err)
			}
			if want := "invalid config: " + tt.wantErr; err.Error() != want {
				t.Errorf("Validate() error = %q, want %q", err.Error(), want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
