package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/bc-pathway-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager. An empty configFile searches the
// default locations for config.yaml.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/bc-pathway/")
	}

	v.SetEnvPrefix("BC_PATHWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional when searching; an explicit file must exist
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)

	// Record store defaults
	v.SetDefault("record_store.driver", "sqlite")
	v.SetDefault("record_store.dsn", "./data/snds.db")
	v.SetDefault("record_store.rate_limit", 50)
	v.SetDefault("record_store.rate_burst", 10)
	v.SetDefault("record_store.breaker.max_requests", 5)
	v.SetDefault("record_store.breaker.interval", "30s")
	v.SetDefault("record_store.breaker.timeout", "60s")

	// Results database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "bc_pathway")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("results.backend", "sqlite")
	v.SetDefault("results.sqlite_path", "./data/results.db")

	// Cache defaults
	v.SetDefault("cache.memory_size", 256)
	v.SetDefault("cache.memory_ttl", "15m")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Publishing defaults
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "bc-pathway.characterizations")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")

	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.no_surgery_label", false)
	v.SetDefault("engine.vocabulary_path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("mcp.server_name", "bc-pathway-engine")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.RecordStore.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported record store driver: %q", config.RecordStore.Driver)
	}
	if config.RecordStore.DSN == "" {
		return fmt.Errorf("record store DSN is required")
	}

	switch config.Results.Backend {
	case "none":
	case "sqlite":
		if config.Results.SQLitePath == "" {
			return fmt.Errorf("results SQLite path is required")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unsupported results backend: %q", config.Results.Backend)
	}

	if config.Engine.Workers < 0 {
		return fmt.Errorf("engine workers must not be negative: %d", config.Engine.Workers)
	}
	if len(config.Kafka.Brokers) > 0 && config.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}
