package archive

import (
	"fmt"
	"time"
)

// Config holds sqlite settings for the transcript archive
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	WriteTimeout    time.Duration
	RetryDelay      time.Duration
}

// DefaultConfig returns settings suited to a single relay process
// FUNCTIONAL DISCOVERY: SQLite performs well with ~10 pooled readers and one writer
func DefaultConfig() Config {
	return Config{
		Path:            "./data/chatrelay.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      5 * time.Second,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidConfig)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max connections must be greater than 0", ErrInvalidConfig)
	}
	if c.ConnMaxLifetime <= 0 || c.ConnMaxIdleTime <= 0 {
		return fmt.Errorf("%w: connection lifetimes must be greater than 0", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write timeout must be greater than 0", ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidConfig)
	}
	return nil
}
