// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key the server is registered under in the client config.
const ServerName = "bc-pathway-engine"

// BinaryName is the CLI binary looked up when no explicit path is given.
const BinaryName = "bcpathway"

// ClientConfig represents the MCP client configuration file structure.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for the setup process.
type Options struct {
	ConfigPath string // client config file, detected when empty
	BinaryPath string // path to the bcpathway binary, looked up when empty
	DataDir    string // exported as BCP_DATA_DIR
	RecordDSN  string // exported as BCP_RECORD_STORE
}

// DefaultClientConfigPath returns the path to the desktop client's config file.
func DefaultClientConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	var configDir string
	switch runtime.GOOS {
	case "darwin":
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig loads the client config, returning an empty one when the file does not
// exist yet.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{MCPServers: map[string]MCPServerConfig{}}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]MCPServerConfig{}
	}
	return &cfg, nil
}

// SaveClientConfig writes the client config, creating its directory.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Configure adds or replaces the server entry in the client config and returns the path
// it wrote. Other servers in the file are left untouched.
func Configure(opts Options) (string, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = DefaultClientConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = findBinary(); err != nil {
			return "", fmt.Errorf("could not find %s binary: %w", BinaryName, err)
		}
	}

	entry := MCPServerConfig{
		Command: binary,
		Args:    []string{"mcp", "--lite"},
		Env:     map[string]string{},
	}
	if opts.DataDir != "" {
		entry.Env["BCP_DATA_DIR"] = opts.DataDir
	}
	if opts.RecordDSN != "" {
		entry.Env["BCP_RECORD_STORE"] = opts.RecordDSN
	}
	cfg.MCPServers[ServerName] = entry

	return path, SaveClientConfig(path, cfg)
}

// Status represents the current registration status.
type Status struct {
	ConfigPath string   `json:"config_path"`
	Configured bool     `json:"configured"`
	ServerPath string   `json:"server_path,omitempty"`
	DataDir    string   `json:"data_dir,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// GetStatus reports whether the server is registered in the client config at path, or at
// the default location when path is empty.
func GetStatus(path string) (*Status, error) {
	if path == "" {
		var err error
		if path, err = DefaultClientConfigPath(); err != nil {
			return nil, err
		}
	}
	status := &Status{ConfigPath: path}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, ServerName+" is not registered")
		return status, nil
	}

	status.Configured = true
	status.ServerPath = entry.Command
	status.DataDir = entry.Env["BCP_DATA_DIR"]
	if info, err := os.Stat(entry.Command); err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	} else if info.Mode()&0111 == 0 {
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	return status, nil
}

func findBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + BinaryName,
		"./build/" + BinaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", BinaryName),
		"/usr/local/bin/" + BinaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found in common locations", BinaryName)
}
