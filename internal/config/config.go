package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Precedence when
// loading: file > environment > defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Reconnect *ReconnectConfig `json:"reconnect"`
	Snapshot  *SnapshotConfig  `json:"snapshot"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	AuthTimeout  time.Duration `json:"auth_timeout"`
}

type AuthConfig struct {
	// Secret is the shared HMAC key for bearer token verification.
	// The default is for development only; deployments set
	// LIVEGRADE_AUTH_SECRET.
	Secret string `json:"secret"`
}

// ReconnectConfig tunes the grace window behavior. GraceWindow bounds
// how long a dropped identity stays resumable; BufferCapacity bounds
// how many updates are held per (identity, assessment) before the
// buffer degrades to a forced resync.
type ReconnectConfig struct {
	GraceWindow    time.Duration `json:"grace_window"`
	BufferCapacity int           `json:"buffer_capacity"`
}

type SnapshotConfig struct {
	FetchTimeout time.Duration `json:"fetch_timeout"`
}

// DefaultConfig returns production-ready defaults. The 30 second grace
// window covers typical mobile network blips without holding room
// slots for long-gone clients.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./livegrade.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			AuthTimeout:  10 * time.Second,
		},
		Auth: &AuthConfig{
			Secret: "livegrade-dev-secret",
		},
		Reconnect: &ReconnectConfig{
			GraceWindow:    30 * time.Second,
			BufferCapacity: 256,
		},
		Snapshot: &SnapshotConfig{
			FetchTimeout: 5 * time.Second,
		},
	}
}

// Validate catches invalid configurations before components start.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.AuthTimeout <= 0 {
		return fmt.Errorf("WebSocket auth timeout must be positive")
	}

	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}

	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.GraceWindow <= 0 {
		return fmt.Errorf("reconnect grace window must be positive")
	}
	if c.Reconnect.BufferCapacity <= 0 {
		return fmt.Errorf("reconnect buffer capacity must be positive")
	}

	if c.Snapshot == nil {
		return fmt.Errorf("snapshot configuration is required")
	}
	if c.Snapshot.FetchTimeout <= 0 {
		return fmt.Errorf("snapshot fetch timeout must be positive")
	}

	return nil
}

// LoadFromEnv returns defaults overridden by environment variables.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("LIVEGRADE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("LIVEGRADE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if timeout := os.Getenv("LIVEGRADE_HTTP_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("LIVEGRADE_HTTP_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if dbPath := os.Getenv("LIVEGRADE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if timeout := os.Getenv("LIVEGRADE_DATABASE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Database.Timeout = d
		}
	}

	if interval := os.Getenv("LIVEGRADE_WEBSOCKET_PING_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if timeout := os.Getenv("LIVEGRADE_WEBSOCKET_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("LIVEGRADE_WEBSOCKET_AUTH_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.WebSocket.AuthTimeout = d
		}
	}

	if secret := os.Getenv("LIVEGRADE_AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}

	if window := os.Getenv("LIVEGRADE_RECONNECT_GRACE"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Reconnect.GraceWindow = d
		}
	}
	if capacity := os.Getenv("LIVEGRADE_RECONNECT_BUFFER_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			config.Reconnect.BufferCapacity = n
		}
	}

	if timeout := os.Getenv("LIVEGRADE_SNAPSHOT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Snapshot.FetchTimeout = d
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfig          `json:"auth"`
	Reconnect *ReconnectConfigFile `json:"reconnect"`
	Snapshot  *SnapshotConfigFile  `json:"snapshot"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	AuthTimeout  string `json:"auth_timeout"`
}

type ReconnectConfigFile struct {
	GraceWindow    string `json:"grace_window"`
	BufferCapacity int    `json:"buffer_capacity"`
}

type SnapshotConfigFile struct {
	FetchTimeout string `json:"fetch_timeout"`
}

// LoadFromFile parses a JSON config file over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if d, err := time.ParseDuration(configFile.Database.Timeout); err == nil && configFile.Database.Timeout != "" {
			config.Database.Timeout = d
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if d, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil && configFile.HTTP.ReadTimeout != "" {
			config.HTTP.ReadTimeout = d
		}
		if d, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil && configFile.HTTP.WriteTimeout != "" {
			config.HTTP.WriteTimeout = d
		}
	}

	if configFile.WebSocket != nil {
		if d, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil && configFile.WebSocket.PingInterval != "" {
			config.WebSocket.PingInterval = d
		}
		if d, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil && configFile.WebSocket.ReadTimeout != "" {
			config.WebSocket.ReadTimeout = d
		}
		if d, err := time.ParseDuration(configFile.WebSocket.AuthTimeout); err == nil && configFile.WebSocket.AuthTimeout != "" {
			config.WebSocket.AuthTimeout = d
		}
	}

	if configFile.Auth != nil && configFile.Auth.Secret != "" {
		config.Auth.Secret = configFile.Auth.Secret
	}

	if configFile.Reconnect != nil {
		if d, err := time.ParseDuration(configFile.Reconnect.GraceWindow); err == nil && configFile.Reconnect.GraceWindow != "" {
			config.Reconnect.GraceWindow = d
		}
		if configFile.Reconnect.BufferCapacity > 0 {
			config.Reconnect.BufferCapacity = configFile.Reconnect.BufferCapacity
		}
	}

	if configFile.Snapshot != nil {
		if d, err := time.ParseDuration(configFile.Snapshot.FetchTimeout); err == nil && configFile.Snapshot.FetchTimeout != "" {
			config.Snapshot.FetchTimeout = d
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence loads configuration with file > env >
// defaults precedence. File errors fall back silently so environment
// and defaults still work.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
