package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultPollingInterval   = 2 * time.Second
	DefaultConnectingTimeout = 4 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCacheMaxAge       = 90 * time.Second
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultReconnectFactor   = 2.0
	DefaultPingInterval      = 15 * time.Second
	DefaultPingTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultFeedBufferSize    = 10000
	DefaultHTTPPort          = 8080
	DefaultHTTPReadTimeout   = 10 * time.Second
	DefaultHTTPWriteTimeout  = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultOnDemandTTL       = 10 * time.Minute
	DefaultMaxOnDemand       = 100
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultRedisKeyPrefix    = "lvp:"
	DefaultKafkaTopic        = "pricefeed.events"
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 1 * time.Second
	DefaultInsuranceEndpoint = "https://api.t-rize.com"
	DefaultInsuranceTimeout  = 30 * time.Second
	DefaultInsuranceRetries  = 3
	DefaultBatchSize         = 1000
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultMirrorTimeout     = 5 * time.Second
)

func (c *Config) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	f := &c.Feed
	if f.PollingInterval == 0 {
		f.PollingInterval = DefaultPollingInterval
	}
	if f.ConnectingTimeout == 0 {
		f.ConnectingTimeout = DefaultConnectingTimeout
	}
	if f.HeartbeatInterval == 0 {
		f.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if f.CacheMaxAge == 0 {
		f.CacheMaxAge = DefaultCacheMaxAge
	}
	if f.Reconnect.BaseDelay == 0 {
		f.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if f.Reconnect.MaxDelay == 0 {
		f.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if f.Reconnect.Factor == 0 {
		f.Reconnect.Factor = DefaultReconnectFactor
	}
	if f.PingInterval == 0 {
		f.PingInterval = DefaultPingInterval
	}
	if f.PingTimeout == 0 {
		f.PingTimeout = DefaultPingTimeout
	}
	if f.WriteTimeout == 0 {
		f.WriteTimeout = DefaultWriteTimeout
	}
	if f.BufferSize == 0 {
		f.BufferSize = DefaultFeedBufferSize
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = DefaultHTTPReadTimeout
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = DefaultHTTPWriteTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.HTTP.OnDemandTTL == 0 {
		c.HTTP.OnDemandTTL = DefaultOnDemandTTL
	}
	if c.HTTP.MaxOnDemand == 0 {
		c.HTTP.MaxOnDemand = DefaultMaxOnDemand
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Redis defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Kafka defaults
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = DefaultKafkaBatchSize
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Insurance defaults
	if c.Insurance.Endpoint == "" {
		c.Insurance.Endpoint = DefaultInsuranceEndpoint
	}
	if c.Insurance.Timeout == 0 {
		c.Insurance.Timeout = DefaultInsuranceTimeout
	}
	if c.Insurance.MaxRetries == 0 {
		c.Insurance.MaxRetries = DefaultInsuranceRetries
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Mirror defaults
	if c.Mirror.Timeout == 0 {
		c.Mirror.Timeout = DefaultMirrorTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
