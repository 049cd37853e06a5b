package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_PreservesOtherServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client", "config.json")
	require.NoError(t, SaveClientConfig(path, &ClientConfig{MCPServers: map[string]MCPServerConfig{
		"other": {Command: "/usr/bin/other"},
	}}))

	binary := filepath.Join(dir, "bcpathway")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	written, err := Configure(Options{ConfigPath: path, BinaryPath: binary, DataDir: "/data/bcp"})
	require.NoError(t, err)
	assert.Equal(t, path, written)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.MCPServers, "other")
	entry := cfg.MCPServers[ServerName]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, []string{"mcp", "--lite"}, entry.Args)
	assert.Equal(t, "/data/bcp", entry.Env["BCP_DATA_DIR"])
	assert.NotContains(t, entry.Env, "BCP_RECORD_STORE")

	status, err := GetStatus(path)
	require.NoError(t, err)
	assert.True(t, status.Configured)
	assert.Empty(t, status.Issues)
	assert.Equal(t, "/data/bcp", status.DataDir)
}

func TestGetStatus_NotRegistered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	status, err := GetStatus(path)

	require.NoError(t, err)
	assert.False(t, status.Configured)
	assert.Len(t, status.Issues, 1)
}

func TestGetStatus_MissingBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := Configure(Options{ConfigPath: path, BinaryPath: "/nonexistent/bcpathway"})
	require.NoError(t, err)

	status, err := GetStatus(path)

	require.NoError(t, err)
	assert.True(t, status.Configured)
	require.Len(t, status.Issues, 1)
	assert.Contains(t, status.Issues[0], "not found")
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadClientConfig(path)

	assert.Error(t, err)
}
