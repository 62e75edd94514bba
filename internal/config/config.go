package config

import "time"

// Config is the root configuration for a pricefeed instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Log       LogConfig       `yaml:"log"`
	Feed      FeedConfig      `yaml:"feed"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Insurance InsuranceConfig `yaml:"insurance"`
	Writers   WritersConfig   `yaml:"writers"`
	Mirror    MirrorConfig    `yaml:"mirror"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// FeedConfig holds streaming feed settings.
type FeedConfig struct {
	Endpoints    []string `yaml:"endpoints"` // Failover order
	UserGroup    string   `yaml:"user_group"`
	Password     string   `yaml:"password"`
	PasswordFile string   `yaml:"password_file"` // Takes precedence over password
	Provider     string   `yaml:"provider"`
	Instruments  []string `yaml:"instruments"`

	PollingInterval   time.Duration `yaml:"polling_interval"`
	ConnectingTimeout time.Duration `yaml:"connecting_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CacheMaxAge       time.Duration `yaml:"cache_max_age"`

	Reconnect     ReconnectConfig `yaml:"reconnect"`
	AutoReconnect bool            `yaml:"auto_reconnect"` // Let the socket redial itself

	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// ReconnectConfig holds reconnect backoff settings.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Factor     float64       `yaml:"factor"`
	Jitter     float64       `yaml:"jitter"`
	MaxRetries int           `yaml:"max_retries"` // 0 = retry forever
}

// HTTPConfig holds the request adapter server settings.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	OnDemandTTL     time.Duration `yaml:"on_demand_ttl"` // Idle time before a /price subscription is dropped
	MaxOnDemand     int           `yaml:"max_on_demand"` // Cap on /price subscriptions
}

// DatabaseConfig holds the TimescaleDB connection for quote history.
// Empty host disables the quote writer.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// RedisConfig holds the LVP mirror connection. Empty addr disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// KafkaConfig holds event publishing settings. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// Enabled reports whether Kafka is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// InsuranceConfig holds the proof-of-insurance provider settings.
type InsuranceConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MirrorConfig holds LVP mirror settings. Snapshots are taken every
// feed.polling_interval.
type MirrorConfig struct {
	Timeout     time.Duration `yaml:"timeout"`      // Per snapshot write
	SkipRestore bool          `yaml:"skip_restore"` // Start with an empty store
}
