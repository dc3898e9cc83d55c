package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.HTTP.Port)
	}
	if config.WebSocket.PongTimeout <= config.WebSocket.PingInterval {
		t.Error("Default pong timeout should exceed ping interval")
	}
	if config.Archive.Enabled {
		t.Error("Archive should be disabled by default")
	}
	if config.Forward.RedisURL != "" {
		t.Error("Default forward sink should be the log sink")
	}
}

// TECHNICAL VALIDATION TEST: Complete validation coverage
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"nil http", func(c *Config) { c.HTTP = nil }},
		{"nil websocket", func(c *Config) { c.WebSocket = nil }},
		{"nil archive", func(c *Config) { c.Archive = nil }},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 65536 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero read timeout", func(c *Config) { c.HTTP.ReadTimeout = 0 }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"pong not after ping", func(c *Config) { c.WebSocket.PongTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero read limit", func(c *Config) { c.WebSocket.ReadLimit = 0 }},
		{"negative history", func(c *Config) { c.Session.HistoryLimit = -1 }},
		{"negative rate limit", func(c *Config) { c.Session.RateLimitPerMinute = -1 }},
		{"zero media timeout", func(c *Config) { c.Media.Timeout = 0 }},
		{"non http processor", func(c *Config) { c.Media.ProcessorURL = "ftp://media" }},
		{"zero forward queue", func(c *Config) { c.Forward.QueueSize = 0 }},
		{"redis without stream", func(c *Config) { c.Forward.RedisURL = "redis://localhost:6379"; c.Forward.Stream = "" }},
		{"enabled archive without path", func(c *Config) { c.Archive.Enabled = true; c.Archive.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Validation should fail")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	config := DefaultConfig()
	config.Archive.Path = ""
	if err := config.Validate(); err != nil {
		t.Errorf("Disabled archive should not need a path: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATRELAY_HTTP_PORT", "9090")
	t.Setenv("CHATRELAY_HTTP_PUBLIC_URL", "https://relay.example.com")
	t.Setenv("CHATRELAY_SESSION_RATE_LIMIT", "0")
	t.Setenv("CHATRELAY_FORWARD_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CHATRELAY_ARCHIVE_ENABLED", "true")
	t.Setenv("CHATRELAY_ARCHIVE_PATH", "/tmp/relay.db")
	t.Setenv("CHATRELAY_MEDIA_TIMEOUT", "2s")

	config, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.HTTP.PublicURL != "https://relay.example.com" {
		t.Errorf("Unexpected public URL %s", config.HTTP.PublicURL)
	}
	if config.Session.RateLimitPerMinute != 0 {
		t.Errorf("Expected rate limit 0, got %d", config.Session.RateLimitPerMinute)
	}
	if config.Forward.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Unexpected redis URL %s", config.Forward.RedisURL)
	}
	if !config.Archive.Enabled || config.Archive.Path != "/tmp/relay.db" {
		t.Errorf("Unexpected archive config %+v", config.Archive)
	}
	if config.Media.Timeout != 2*time.Second {
		t.Errorf("Expected media timeout 2s, got %v", config.Media.Timeout)
	}
}

// TECHNICAL VALIDATION TEST: unparseable environment values are reported
func TestConfig_LoadFromEnvInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CHATRELAY_HTTP_PORT", "invalid"},
		{"CHATRELAY_HTTP_READ_TIMEOUT", "soon"},
		{"CHATRELAY_ARCHIVE_ENABLED", "maybe"},
		{"CHATRELAY_WEBSOCKET_READ_LIMIT", "8MB"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("%s=%s should be rejected", tt.key, tt.value)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfig_LoadFromEnvDefaults(t *testing.T) {
	config, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	defaults := DefaultConfig()
	if config.HTTP.Port != defaults.HTTP.Port || config.WebSocket.PingInterval != defaults.WebSocket.PingInterval {
		t.Error("Unset variables should keep the defaults")
	}
	if config.Forward.Stream != defaults.Forward.Stream {
		t.Errorf("Expected default stream, got %s", config.Forward.Stream)
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFileJSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
		"http": {"port": 8081, "read_timeout": "10s"},
		"session": {"history_limit": 0},
		"archive": {"enabled": true, "path": "/tmp/transcripts.db"}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}
	if config.HTTP.Port != 8081 || config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Unexpected HTTP config %+v", config.HTTP)
	}
	if config.HTTP.WriteTimeout != DefaultConfig().HTTP.WriteTimeout {
		t.Error("Unset fields should keep their defaults")
	}
	if config.Session.HistoryLimit != 0 {
		t.Errorf("Explicit zero history limit should be kept, got %d", config.Session.HistoryLimit)
	}
	if !config.Archive.Enabled || config.Archive.Path != "/tmp/transcripts.db" {
		t.Errorf("Unexpected archive config %+v", config.Archive)
	}
}

func TestConfig_LoadFromFileYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
http:
  port: 9191
  public_url: http://localhost:9191
websocket:
  ping_interval: 10s
  pong_timeout: 25s
media:
  processor_url: http://localhost:7000/process
  timeout: 3s
forward:
  redis_url: redis://localhost:6379
  stream: relay:intents
  max_len: 0
`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}
	if config.HTTP.Port != 9191 || config.HTTP.PublicURL != "http://localhost:9191" {
		t.Errorf("Unexpected HTTP config %+v", config.HTTP)
	}
	if config.WebSocket.PingInterval != 10*time.Second || config.WebSocket.PongTimeout != 25*time.Second {
		t.Errorf("Unexpected WebSocket config %+v", config.WebSocket)
	}
	if config.Media.ProcessorURL != "http://localhost:7000/process" || config.Media.Timeout != 3*time.Second {
		t.Errorf("Unexpected media config %+v", config.Media)
	}
	if config.Forward.Stream != "relay:intents" || config.Forward.MaxLen != 0 {
		t.Errorf("Unexpected forward config %+v", config.Forward)
	}
}

// TECHNICAL VALIDATION TEST: Invalid file handling
func TestConfig_LoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid json", "bad.json", `{"http": {"port": 80`},
		{"invalid yaml", "bad.yaml", "http:\n  port: [unclosed"},
		{"bad duration", "dur.json", `{"http": {"read_timeout": "soon"}}`},
		{"fails validation", "ping.json", `{"websocket": {"ping_interval": "2m"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.file, tt.content)
			if _, err := LoadFromFile(path); err == nil {
				t.Error("LoadFromFile should fail")
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFromFile should fail for a missing file")
	}
}

// FUNCTIONAL VALIDATION TEST: file > environment > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	config, err := LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("Defaults should load: %v", err)
	}
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.HTTP.Port)
	}

	t.Setenv("CHATRELAY_HTTP_PORT", "9999")
	t.Setenv("CHATRELAY_HTTP_HOST", "127.0.0.1")

	config, err = LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatal(err)
	}
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected env var port 9999, got %d", config.HTTP.Port)
	}

	path := writeConfigFile(t, "config.json", `{"http": {"port": 7777}}`)
	config, err = LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.HTTP.Port != 7777 {
		t.Errorf("Expected file config port 7777, got %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Env value not overridden by the file should survive, got %s", config.HTTP.Host)
	}

	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
		t.Error("A named but missing file should be an error")
	}
}
