package app

import (
	"io"
	"log/slog"

	"github.com/rickgao/pricefeed/internal/auth"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/poller"
	"github.com/rickgao/pricefeed/internal/publish"
	"github.com/rickgao/pricefeed/internal/server"
	"github.com/rickgao/pricefeed/internal/streaming"
	"github.com/rickgao/pricefeed/internal/writer"
)

// NewLogger builds the process logger from log config.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// LoadCredentials returns nil when no user group is configured.
func LoadCredentials(feed config.FeedConfig) (*auth.Credentials, error) {
	if feed.UserGroup == "" {
		return nil, nil
	}
	return auth.LoadCredentials(feed.UserGroup, feed.Password, feed.PasswordFile)
}

// SourceConfig maps feed settings onto the websocket source.
func SourceConfig(feed config.FeedConfig, creds *auth.Credentials) connection.SourceConfig {
	cfg := connection.DefaultSourceConfig()
	cfg.Endpoints = feed.Endpoints
	cfg.Provider = feed.Provider
	cfg.Credentials = creds
	cfg.AutoReconnect = feed.AutoReconnect
	cfg.ReconnectBaseWait = feed.Reconnect.BaseDelay
	cfg.ReconnectMaxWait = feed.Reconnect.MaxDelay
	cfg.Client.HandshakeTimeout = feed.ConnectingTimeout
	cfg.Client.PingInterval = feed.PingInterval
	cfg.Client.PingTimeout = feed.PingTimeout
	cfg.Client.WriteTimeout = feed.WriteTimeout
	if feed.BufferSize > 0 {
		cfg.Client.BufferSize = feed.BufferSize
		cfg.EventBufferSize = feed.BufferSize
	}
	return cfg
}

// SourceFactory builds a fresh websocket source per connect attempt.
func SourceFactory(cfg connection.SourceConfig, logger *slog.Logger) streaming.SourceFactory {
	return func() (connection.Source, error) {
		return connection.NewSource(cfg, logger), nil
	}
}

// StreamingConfig maps feed settings onto the streaming client.
func StreamingConfig(feed config.FeedConfig) streaming.Config {
	cfg := streaming.DefaultConfig()
	cfg.Instruments = feed.Instruments
	cfg.HeartbeatInterval = feed.HeartbeatInterval
	cfg.ConnectingTimeout = feed.ConnectingTimeout
	cfg.CacheMaxAge = feed.CacheMaxAge
	cfg.Backoff = streaming.Backoff{
		Min:    feed.Reconnect.BaseDelay,
		Max:    feed.Reconnect.MaxDelay,
		Factor: feed.Reconnect.Factor,
		Jitter: feed.Reconnect.Jitter,
	}
	cfg.MaxRetries = feed.Reconnect.MaxRetries
	return cfg
}

func ServerConfig(h config.HTTPConfig) server.Config {
	cfg := server.DefaultConfig()
	cfg.Port = h.Port
	cfg.ReadTimeout = h.ReadTimeout
	cfg.WriteTimeout = h.WriteTimeout
	cfg.ShutdownTimeout = h.ShutdownTimeout
	cfg.OnDemandTTL = h.OnDemandTTL
	cfg.MaxOnDemand = h.MaxOnDemand
	return cfg
}

func WriterConfig(w config.WritersConfig) writer.WriterConfig {
	return writer.WriterConfig{
		BatchSize:     w.BatchSize,
		FlushInterval: w.FlushInterval,
	}
}

func PollerConfig(cfg *config.Config) poller.Config {
	pc := poller.DefaultConfig()
	pc.Interval = cfg.Feed.PollingInterval
	pc.Timeout = cfg.Mirror.Timeout
	return pc
}

func PublishConfig(k config.KafkaConfig) publish.Config {
	return publish.Config{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
	}
}
