package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting, one section per component.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Session   *SessionConfig   `json:"session"`
	Media     *MediaConfig     `json:"media"`
	Forward   *ForwardConfig   `json:"forward"`
	Archive   *ArchiveConfig   `json:"archive"`
}

type HTTPConfig struct {
	Port         int           `json:"port" env:"CHATRELAY_HTTP_PORT"`
	Host         string        `json:"host" env:"CHATRELAY_HTTP_HOST"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"CHATRELAY_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CHATRELAY_HTTP_WRITE_TIMEOUT"`
	// PublicURL is the base used to build joinUrl; derived from the request when empty
	PublicURL string `json:"public_url" env:"CHATRELAY_HTTP_PUBLIC_URL"`
}

// FUNCTIONAL DISCOVERY: heartbeat and limits for participant connections
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"CHATRELAY_WEBSOCKET_PING_INTERVAL"`
	PongTimeout  time.Duration `json:"pong_timeout" env:"CHATRELAY_WEBSOCKET_PONG_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"CHATRELAY_WEBSOCKET_WRITE_TIMEOUT"`
	BufferSize   int           `json:"buffer_size" env:"CHATRELAY_WEBSOCKET_BUFFER_SIZE"`
	ReadLimit    int64         `json:"read_limit" env:"CHATRELAY_WEBSOCKET_READ_LIMIT"`
}

type SessionConfig struct {
	HistoryLimit       int `json:"history_limit" env:"CHATRELAY_SESSION_HISTORY_LIMIT"`
	RateLimitPerMinute int `json:"rate_limit_per_minute" env:"CHATRELAY_SESSION_RATE_LIMIT"`
}

// MediaConfig configures the media collaborator. An empty ProcessorURL leaves
// every kind as a pass-through.
type MediaConfig struct {
	ProcessorURL string        `json:"processor_url" env:"CHATRELAY_MEDIA_PROCESSOR_URL"`
	Timeout      time.Duration `json:"timeout" env:"CHATRELAY_MEDIA_TIMEOUT"`
}

// ForwardConfig selects the forwarding sink: a Redis stream when RedisURL is
// set, the log sink otherwise
type ForwardConfig struct {
	RedisURL  string        `json:"redis_url" env:"CHATRELAY_FORWARD_REDIS_URL"`
	Stream    string        `json:"stream" env:"CHATRELAY_FORWARD_STREAM"`
	MaxLen    int64         `json:"max_len" env:"CHATRELAY_FORWARD_MAX_LEN"`
	QueueSize int           `json:"queue_size" env:"CHATRELAY_FORWARD_QUEUE_SIZE"`
	Timeout   time.Duration `json:"timeout" env:"CHATRELAY_FORWARD_TIMEOUT"`
}

type ArchiveConfig struct {
	Enabled bool          `json:"enabled" env:"CHATRELAY_ARCHIVE_ENABLED"`
	Path    string        `json:"path" env:"CHATRELAY_ARCHIVE_PATH"`
	Timeout time.Duration `json:"timeout" env:"CHATRELAY_ARCHIVE_TIMEOUT"`
}

// DefaultConfig returns settings suitable for a single local relay
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
			ReadLimit:    8 << 20,
		},
		Session: &SessionConfig{
			HistoryLimit:       100,
			RateLimitPerMinute: 60,
		},
		Media: &MediaConfig{
			Timeout: 30 * time.Second,
		},
		Forward: &ForwardConfig{
			Stream:    "chatrelay:forward",
			MaxLen:    10000,
			QueueSize: 1000,
			Timeout:   5 * time.Second,
		},
		Archive: &ArchiveConfig{
			Enabled: false,
			Path:    "./data/chatrelay.db",
			Timeout: 5 * time.Second,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Session == nil || c.Media == nil || c.Forward == nil || c.Archive == nil {
		return fmt.Errorf("%w: every configuration section is required", ErrInvalidConfig)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: HTTP port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("%w: HTTP host cannot be empty", ErrInvalidConfig)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("%w: HTTP timeouts must be positive", ErrInvalidConfig)
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("%w: WebSocket ping interval must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("%w: WebSocket pong timeout must exceed the ping interval", ErrInvalidConfig)
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WebSocket write timeout must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("%w: WebSocket buffer size must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.ReadLimit <= 0 {
		return fmt.Errorf("%w: WebSocket read limit must be positive", ErrInvalidConfig)
	}

	if c.Session.HistoryLimit < 0 {
		return fmt.Errorf("%w: session history limit cannot be negative", ErrInvalidConfig)
	}
	if c.Session.RateLimitPerMinute < 0 {
		return fmt.Errorf("%w: rate limit cannot be negative", ErrInvalidConfig)
	}

	if c.Media.Timeout <= 0 {
		return fmt.Errorf("%w: media timeout must be positive", ErrInvalidConfig)
	}
	if c.Media.ProcessorURL != "" && !strings.HasPrefix(c.Media.ProcessorURL, "http://") && !strings.HasPrefix(c.Media.ProcessorURL, "https://") {
		return fmt.Errorf("%w: media processor URL must be http or https", ErrInvalidConfig)
	}

	if c.Forward.QueueSize <= 0 {
		return fmt.Errorf("%w: forward queue size must be positive", ErrInvalidConfig)
	}
	if c.Forward.Timeout <= 0 {
		return fmt.Errorf("%w: forward timeout must be positive", ErrInvalidConfig)
	}
	if c.Forward.RedisURL != "" && c.Forward.Stream == "" {
		return fmt.Errorf("%w: forward stream cannot be empty when redis is configured", ErrInvalidConfig)
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("%w: archive path cannot be empty", ErrInvalidConfig)
		}
		if c.Archive.Timeout <= 0 {
			return fmt.Errorf("%w: archive timeout must be positive", ErrInvalidConfig)
		}
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Variables override defaults; an unparseable value is an error rather than
// silently ignored.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return config, nil
}

// ConfigFile is the on-disk shape. Durations are strings ("30s") and unset
// fields keep the value they are layered over.
type ConfigFile struct {
	HTTP *struct {
		Port         int    `json:"port" yaml:"port"`
		Host         string `json:"host" yaml:"host"`
		ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
		PublicURL    string `json:"public_url" yaml:"public_url"`
	} `json:"http" yaml:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval" yaml:"ping_interval"`
		PongTimeout  string `json:"pong_timeout" yaml:"pong_timeout"`
		WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
		BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
		ReadLimit    int64  `json:"read_limit" yaml:"read_limit"`
	} `json:"websocket" yaml:"websocket"`
	Session *struct {
		HistoryLimit       *int `json:"history_limit" yaml:"history_limit"`
		RateLimitPerMinute *int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	} `json:"session" yaml:"session"`
	Media *struct {
		ProcessorURL string `json:"processor_url" yaml:"processor_url"`
		Timeout      string `json:"timeout" yaml:"timeout"`
	} `json:"media" yaml:"media"`
	Forward *struct {
		RedisURL  string `json:"redis_url" yaml:"redis_url"`
		Stream    string `json:"stream" yaml:"stream"`
		MaxLen    *int64 `json:"max_len" yaml:"max_len"`
		QueueSize int    `json:"queue_size" yaml:"queue_size"`
		Timeout   string `json:"timeout" yaml:"timeout"`
	} `json:"forward" yaml:"forward"`
	Archive *struct {
		Enabled *bool  `json:"enabled" yaml:"enabled"`
		Path    string `json:"path" yaml:"path"`
		Timeout string `json:"timeout" yaml:"timeout"`
	} `json:"archive" yaml:"archive"`
}

// LoadFromFile reads a JSON or YAML (.yaml, .yml) file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f := file.HTTP; f != nil {
		setInt(&config.HTTP.Port, f.Port)
		setString(&config.HTTP.Host, f.Host)
		setString(&config.HTTP.PublicURL, f.PublicURL)
		if err := setDuration(&config.HTTP.ReadTimeout, f.ReadTimeout, "http.read_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.HTTP.WriteTimeout, f.WriteTimeout, "http.write_timeout"); err != nil {
			return err
		}
	}

	if f := file.WebSocket; f != nil {
		setInt(&config.WebSocket.BufferSize, f.BufferSize)
		if f.ReadLimit > 0 {
			config.WebSocket.ReadLimit = f.ReadLimit
		}
		if err := setDuration(&config.WebSocket.PingInterval, f.PingInterval, "websocket.ping_interval"); err != nil {
			return err
		}
		if err := setDuration(&config.WebSocket.PongTimeout, f.PongTimeout, "websocket.pong_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.WebSocket.WriteTimeout, f.WriteTimeout, "websocket.write_timeout"); err != nil {
			return err
		}
	}

	// zero is meaningful for both session limits, so they are pointers
	if f := file.Session; f != nil {
		if f.HistoryLimit != nil {
			config.Session.HistoryLimit = *f.HistoryLimit
		}
		if f.RateLimitPerMinute != nil {
			config.Session.RateLimitPerMinute = *f.RateLimitPerMinute
		}
	}

	if f := file.Media; f != nil {
		setString(&config.Media.ProcessorURL, f.ProcessorURL)
		if err := setDuration(&config.Media.Timeout, f.Timeout, "media.timeout"); err != nil {
			return err
		}
	}

	if f := file.Forward; f != nil {
		setString(&config.Forward.RedisURL, f.RedisURL)
		setString(&config.Forward.Stream, f.Stream)
		setInt(&config.Forward.QueueSize, f.QueueSize)
		if f.MaxLen != nil {
			config.Forward.MaxLen = *f.MaxLen
		}
		if err := setDuration(&config.Forward.Timeout, f.Timeout, "forward.timeout"); err != nil {
			return err
		}
	}

	if f := file.Archive; f != nil {
		if f.Enabled != nil {
			config.Archive.Enabled = *f.Enabled
		}
		setString(&config.Archive.Path, f.Path)
		if err := setDuration(&config.Archive.Timeout, f.Timeout, "archive.timeout"); err != nil {
			return err
		}
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	*dst = d
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A file that was named but cannot be loaded is an error, not a silent fallback.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
