package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Server  ServerConfig  `toml:"server"`
	Pool    PoolConfig    `toml:"pool"`
	Autofix AutofixConfig `toml:"autofix"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PoolConfig holds sandbox pool settings
type PoolConfig struct {
	Enabled       bool   `toml:"enabled"`
	Baseline      int    `toml:"baseline"`
	Burst         int    `toml:"burst"`
	ReconcileCron string `toml:"reconcile_cron"`
	AgentURL      string `toml:"agent_url"`
}

// AutofixConfig holds verification loop settings. ReviewCommand is
// optional; without it the PR review gate stays off.
type AutofixConfig struct {
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffSeconds int    `toml:"backoff_seconds"`
	TestCommand    string `toml:"test_command"`
	FixCommand     string `toml:"fix_command"`
	ReviewCommand  string `toml:"review_command"`
}

// Backoff returns the configured fix backoff as a duration
func (a AutofixConfig) Backoff() time.Duration {
	return time.Duration(a.BackoffSeconds) * time.Second
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".sandbox-orchestrator", "orchestrator.db"),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Pool: PoolConfig{
			Enabled:       true,
			Baseline:      2,
			Burst:         5,
			ReconcileCron: "* * * * *",
		},
		Autofix: AutofixConfig{
			MaxAttempts:    3,
			BackoffSeconds: 2,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sandbox-orchestrator", "config.toml")
}
