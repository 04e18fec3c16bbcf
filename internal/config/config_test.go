package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default configuration should validate: %v", err)
	}
}

func TestValidateCatchesInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database", func(c *Config) { c.Database = nil }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"port too low", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero auth timeout", func(c *Config) { c.WebSocket.AuthTimeout = 0 }},
		{"empty auth secret", func(c *Config) { c.Auth.Secret = "" }},
		{"zero grace window", func(c *Config) { c.Reconnect.GraceWindow = 0 }},
		{"zero buffer capacity", func(c *Config) { c.Reconnect.BufferCapacity = 0 }},
		{"zero snapshot timeout", func(c *Config) { c.Snapshot.FetchTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation to fail")
			}
		})
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	os.Setenv("LIVEGRADE_HTTP_PORT", "9090")
	os.Setenv("LIVEGRADE_DATABASE_PATH", "/tmp/custom.db")
	os.Setenv("LIVEGRADE_AUTH_SECRET", "env-secret")
	os.Setenv("LIVEGRADE_RECONNECT_GRACE", "45s")
	os.Setenv("LIVEGRADE_RECONNECT_BUFFER_CAPACITY", "512")
	os.Setenv("LIVEGRADE_SNAPSHOT_TIMEOUT", "2s")
	defer func() {
		os.Unsetenv("LIVEGRADE_HTTP_PORT")
		os.Unsetenv("LIVEGRADE_DATABASE_PATH")
		os.Unsetenv("LIVEGRADE_AUTH_SECRET")
		os.Unsetenv("LIVEGRADE_RECONNECT_GRACE")
		os.Unsetenv("LIVEGRADE_RECONNECT_BUFFER_CAPACITY")
		os.Unsetenv("LIVEGRADE_SNAPSHOT_TIMEOUT")
	}()

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/custom.db" {
		t.Errorf("Expected custom database path, got %s", config.Database.Path)
	}
	if config.Auth.Secret != "env-secret" {
		t.Errorf("Expected env secret, got %s", config.Auth.Secret)
	}
	if config.Reconnect.GraceWindow != 45*time.Second {
		t.Errorf("Expected 45s grace window, got %v", config.Reconnect.GraceWindow)
	}
	if config.Reconnect.BufferCapacity != 512 {
		t.Errorf("Expected buffer capacity 512, got %d", config.Reconnect.BufferCapacity)
	}
	if config.Snapshot.FetchTimeout != 2*time.Second {
		t.Errorf("Expected 2s snapshot timeout, got %v", config.Snapshot.FetchTimeout)
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	os.Setenv("LIVEGRADE_HTTP_PORT", "not-a-number")
	os.Setenv("LIVEGRADE_RECONNECT_GRACE", "soon")
	defer func() {
		os.Unsetenv("LIVEGRADE_HTTP_PORT")
		os.Unsetenv("LIVEGRADE_RECONNECT_GRACE")
	}()

	config := LoadFromEnv()
	defaults := DefaultConfig()

	if config.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("Malformed port should keep default, got %d", config.HTTP.Port)
	}
	if config.Reconnect.GraceWindow != defaults.Reconnect.GraceWindow {
		t.Errorf("Malformed duration should keep default, got %v", config.Reconnect.GraceWindow)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"http": {"port": 9999, "host": "127.0.0.1"},
		"database": {"path": "/tmp/file.db", "timeout": "10s"},
		"reconnect": {"grace_window": "1m", "buffer_capacity": 64},
		"snapshot": {"fetch_timeout": "3s"}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.HTTP.Port != 9999 || config.HTTP.Host != "127.0.0.1" {
		t.Errorf("HTTP overrides not applied: %+v", config.HTTP)
	}
	if config.Database.Timeout != 10*time.Second {
		t.Errorf("Expected 10s database timeout, got %v", config.Database.Timeout)
	}
	if config.Reconnect.GraceWindow != time.Minute || config.Reconnect.BufferCapacity != 64 {
		t.Errorf("Reconnect overrides not applied: %+v", config.Reconnect)
	}
	// Untouched sections keep defaults
	if config.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("Unset section should keep defaults, got %v", config.WebSocket.PingInterval)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	os.Setenv("LIVEGRADE_HTTP_PORT", "9090")
	defer os.Unsetenv("LIVEGRADE_HTTP_PORT")

	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"http": {"port": 7070}}`), 0644)

	// File wins over environment
	config := LoadConfigWithPrecedence(path)
	if config.HTTP.Port != 7070 {
		t.Errorf("Expected file port 7070 to win, got %d", config.HTTP.Port)
	}

	// Unreadable file falls back to environment
	config = LoadConfigWithPrecedence("/nonexistent/config.json")
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected env port 9090 fallback, got %d", config.HTTP.Port)
	}

	// No file, no env beyond the one set above
	config = LoadConfigWithPrecedence("")
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected env port 9090, got %d", config.HTTP.Port)
	}
}
