// Package config provides configuration management for the pathway engine.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bc-pathway-engine/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It reads a local SQLite extract, keeps results in SQLite and needs no Redis or Kafka.
type LiteConfig struct {
	// Data storage
	DataDir        string // Base directory for results and exports
	RecordStoreDSN string // SQLite extract of the claims warehouse

	// Cache settings
	CacheMaxItems int           // Maximum query results in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Engine settings
	Workers        int
	NoSurgeryLabel bool
	VocabularyPath string // Optional: overrides the embedded vocabulary

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".bc-pathway")

	return &LiteConfig{
		DataDir:        dataDir,
		RecordStoreDSN: filepath.Join(dataDir, "snds.db"),
		CacheMaxItems:  256,
		CacheTTL:       15 * time.Minute,
		Workers:        8,
		Transport:      "stdio",
		HTTPPort:       8080,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("BCP_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.RecordStoreDSN = filepath.Join(v, "snds.db")
	}
	if v := os.Getenv("BCP_RECORD_STORE"); v != "" {
		cfg.RecordStoreDSN = v
	}

	// Cache settings
	if v := os.Getenv("BCP_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("BCP_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Engine
	if v := os.Getenv("BCP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("BCP_NO_SURGERY_LABEL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NoSurgeryLabel = b
		}
	}
	cfg.VocabularyPath = os.Getenv("BCP_VOCABULARY")

	// Transport
	if v := os.Getenv("BCP_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("BCP_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("BCP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BCP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// ResultsDBPath returns the path to the results SQLite database.
func (c *LiteConfig) ResultsDBPath() string {
	return filepath.Join(c.DataDir, "results.db")
}

// ExportDir returns the directory for CSV and JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// ToConfig expands the lite settings into a full configuration. Logs go to stderr when
// the transport is stdio, since stdout carries the protocol.
func (c *LiteConfig) ToConfig() *domain.Config {
	output := "stdout"
	if c.Transport == "stdio" {
		output = "stderr"
	}
	return &domain.Config{
		Environment: "development",
		Server: domain.ServerConfig{
			Host:         "127.0.0.1",
			Port:         c.HTTPPort,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    20,
			RateBurst:    40,
		},
		RecordStore: domain.RecordStoreConfig{Driver: "sqlite", DSN: c.RecordStoreDSN},
		Results:     domain.ResultsConfig{Backend: "sqlite", SQLitePath: c.ResultsDBPath()},
		Cache:       domain.CacheConfig{MemorySize: c.CacheMaxItems, MemoryTTL: c.CacheTTL},
		Engine: domain.EngineConfig{
			Workers:        c.Workers,
			NoSurgeryLabel: c.NoSurgeryLabel,
			VocabularyPath: c.VocabularyPath,
		},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: output},
		MCP:     domain.MCPConfig{ServerName: "bc-pathway-engine", ServerVersion: "1.0.0"},
	}
}
