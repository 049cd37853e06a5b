package domain

import (
	"strings"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	RecordStore RecordStoreConfig `mapstructure:"record_store"`
	Results     ResultsConfig     `mapstructure:"results"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MCP         MCPConfig         `mapstructure:"mcp"`
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents the results database (PostgreSQL) connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RecordStoreConfig represents the claims warehouse the engine reads events from
type RecordStoreConfig struct {
	Driver    string        `mapstructure:"driver"` // "sqlite", "postgres"
	DSN       string        `mapstructure:"dsn"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig represents circuit breaker configuration for the record store
type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ResultsConfig selects where characterization runs are persisted
type ResultsConfig struct {
	Backend    string `mapstructure:"backend"` // "sqlite", "postgres", "none"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// CacheConfig represents record store memoization configuration
type CacheConfig struct {
	MemorySize  int           `mapstructure:"memory_size"`
	MemoryTTL   time.Duration `mapstructure:"memory_ttl"`
	RedisURL    string        `mapstructure:"redis_url"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// KafkaConfig represents characterization publishing configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// Enabled reports whether a broker list is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// EngineConfig tunes the classification engine
type EngineConfig struct {
	Workers        int    `mapstructure:"workers"`
	NoSurgeryLabel bool   `mapstructure:"no_surgery_label"`
	VocabularyPath string `mapstructure:"vocabulary_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
