package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Pool.Baseline != 2 {
		t.Errorf("Pool.Baseline = %d, want 2", cfg.Pool.Baseline)
	}
	if cfg.Pool.Burst != 5 {
		t.Errorf("Pool.Burst = %d, want 5", cfg.Pool.Burst)
	}
	if !cfg.Pool.Enabled {
		t.Error("pool should be enabled by default")
	}
	if cfg.Autofix.MaxAttempts != 3 {
		t.Errorf("Autofix.MaxAttempts = %d, want 3", cfg.Autofix.MaxAttempts)
	}
	if cfg.Autofix.Backoff() != 2*time.Second {
		t.Errorf("Autofix.Backoff() = %v, want 2s", cfg.Autofix.Backoff())
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[server]
port = 9000

[pool]
baseline = 4
burst = 8
agent_url = "ws://agents.internal:4100"

[autofix]
max_attempts = 5
test_command = "npm run verify"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Pool.Baseline != 4 {
		t.Errorf("Pool.Baseline = %d, want 4", cfg.Pool.Baseline)
	}
	if cfg.Pool.AgentURL != "ws://agents.internal:4100" {
		t.Errorf("Pool.AgentURL = %q, want ws://agents.internal:4100", cfg.Pool.AgentURL)
	}
	if cfg.Autofix.MaxAttempts != 5 {
		t.Errorf("Autofix.MaxAttempts = %d, want 5", cfg.Autofix.MaxAttempts)
	}
	if cfg.Autofix.TestCommand != "npm run verify" {
		t.Errorf("Autofix.TestCommand = %q, want npm run verify", cfg.Autofix.TestCommand)
	}
	// Unset sections keep their defaults
	if cfg.Autofix.BackoffSeconds != 2 {
		t.Errorf("Autofix.BackoffSeconds = %d, want 2", cfg.Autofix.BackoffSeconds)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want default 8090", cfg.Server.Port)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[pool]\nbaseline = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(configPath, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(configPath, []byte("[pool]\nbaseline = 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Pool.Baseline != 7 {
			t.Errorf("Pool.Baseline = %d, want 7", cfg.Pool.Baseline)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
