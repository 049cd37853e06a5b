package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "snds.db"), cfg.RecordStoreDSN)
	assert.Equal(t, 256, cfg.CacheMaxItems)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.Workers)
	assert.False(t, cfg.NoSurgeryLabel)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 256, cfg.CacheMaxItems)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Empty(t, cfg.VocabularyPath)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("BCP_DATA_DIR", "/tmp/test-bcp")
	os.Setenv("BCP_CACHE_MAX_ITEMS", "500")
	os.Setenv("BCP_CACHE_TTL", "12h")
	os.Setenv("BCP_WORKERS", "2")
	os.Setenv("BCP_NO_SURGERY_LABEL", "true")
	os.Setenv("BCP_TRANSPORT", "http")
	os.Setenv("BCP_HTTP_PORT", "9090")
	os.Setenv("BCP_LOG_LEVEL", "debug")

	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-bcp", cfg.DataDir)
	assert.Equal(t, "/tmp/test-bcp/snds.db", cfg.RecordStoreDSN)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.NoSurgeryLabel)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_RecordStoreOverride(t *testing.T) {
	clearEnvVars(t)
	os.Setenv("BCP_DATA_DIR", "/tmp/test-bcp")
	os.Setenv("BCP_RECORD_STORE", "/data/extract.db")
	os.Setenv("BCP_WORKERS", "-3")
	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "/data/extract.db", cfg.RecordStoreDSN)
	assert.Equal(t, 8, cfg.Workers, "invalid values keep the default")
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.bc-pathway"}

	assert.Equal(t, "/home/user/.bc-pathway/results.db", cfg.ResultsDBPath())
	assert.Equal(t, "/home/user/.bc-pathway/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "bcp")}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func TestLiteConfig_ToConfig(t *testing.T) {
	cfg := &LiteConfig{
		DataDir:        "/srv/bcp",
		RecordStoreDSN: "/srv/bcp/snds.db",
		CacheMaxItems:  64,
		CacheTTL:       time.Minute,
		Workers:        3,
		NoSurgeryLabel: true,
		Transport:      "stdio",
		HTTPPort:       8081,
		LogLevel:       "warn",
		LogFormat:      "text",
	}

	full := cfg.ToConfig()

	assert.Equal(t, "sqlite", full.RecordStore.Driver)
	assert.Equal(t, "/srv/bcp/snds.db", full.RecordStore.DSN)
	assert.Equal(t, "sqlite", full.Results.Backend)
	assert.Equal(t, "/srv/bcp/results.db", full.Results.SQLitePath)
	assert.Equal(t, 64, full.Cache.MemorySize)
	assert.Empty(t, full.Cache.RedisURL)
	assert.False(t, full.Kafka.Enabled())
	assert.Equal(t, 3, full.Engine.Workers)
	assert.True(t, full.Engine.NoSurgeryLabel)
	assert.Equal(t, 8081, full.Server.Port)
	assert.Equal(t, "stderr", full.Logging.Output)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"BCP_DATA_DIR",
		"BCP_RECORD_STORE",
		"BCP_CACHE_MAX_ITEMS",
		"BCP_CACHE_TTL",
		"BCP_WORKERS",
		"BCP_NO_SURGERY_LABEL",
		"BCP_VOCABULARY",
		"BCP_TRANSPORT",
		"BCP_HTTP_PORT",
		"BCP_LOG_LEVEL",
		"BCP_LOG_FORMAT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
