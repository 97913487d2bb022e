// Package config loads and validates Arbor server configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Arbor server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Ephemeral     EphemeralConfig     `yaml:"ephemeral"`
	Database      DatabaseConfig      `yaml:"database"`
	Collaboration CollaborationConfig `yaml:"collaboration"`
	Activity      ActivityConfig      `yaml:"activity"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EphemeralConfig configures the ephemeral state store connection.
type EphemeralConfig struct {
	// URL is a redis URL (redis://host:port/db). Empty selects the
	// in-process memory store (dev mode / degraded operation).
	URL string `yaml:"url"`

	// ReadyTimeout bounds the initial connection attempt. Past it the
	// server starts in database-only degraded mode.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// MaxRetries bounds per-call retries.
	MaxRetries int `yaml:"max_retries"`
}

// DatabaseConfig configures the durable session store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CollaborationConfig carries the presence/lock/cursor/typing TTLs.
type CollaborationConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	PresenceTTL    time.Duration `yaml:"presence_ttl"`
	CursorTTL      time.Duration `yaml:"cursor_ttl"`
	TypingTTL      time.Duration `yaml:"typing_ttl"`
	HeartbeatTTL   time.Duration `yaml:"heartbeat_ttl"`
	CursorThrottle time.Duration `yaml:"cursor_throttle"`
}

// ActivityConfig configures activity batching and retention.
type ActivityConfig struct {
	BatchWindow   time.Duration `yaml:"batch_window"`
	BatchMax      int           `yaml:"batch_max"`
	RetentionDays int           `yaml:"retention_days"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel     string  `yaml:"log_level"`
	LogFormat    string  `yaml:"log_format"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the configuration defaults. Every duration matches the
// documented default settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8087,
		},
		Ephemeral: EphemeralConfig{
			ReadyTimeout: 10 * time.Second,
			MaxRetries:   3,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Collaboration: CollaborationConfig{
			SessionTimeout: 30 * time.Minute,
			LockTimeout:    30 * time.Second,
			PresenceTTL:    300 * time.Second,
			CursorTTL:      60 * time.Second,
			TypingTTL:      10 * time.Second,
			HeartbeatTTL:   30 * time.Second,
			CursorThrottle: 1 * time.Second,
		},
		Activity: ActivityConfig{
			BatchWindow:   2000 * time.Millisecond,
			BatchMax:      10,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			LogLevel:   "info",
			LogFormat:  "json",
			SampleRate: 1.0,
		},
	}
}

// Validate checks invariants the rest of the system depends on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Collaboration.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.Collaboration.HeartbeatTTL <= 0 {
		return fmt.Errorf("heartbeat ttl must be positive")
	}
	if c.Collaboration.PresenceTTL < c.Collaboration.HeartbeatTTL {
		return fmt.Errorf("presence ttl must be >= heartbeat ttl")
	}
	if c.Activity.BatchMax <= 0 {
		return fmt.Errorf("activity batch max must be positive")
	}
	if c.Activity.RetentionDays <= 0 {
		return fmt.Errorf("activity retention days must be positive")
	}
	return nil
}
