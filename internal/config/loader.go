package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from an optional yaml file, then applies
// environment overrides. A missing path is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment settings onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ESS_URL"); v != "" {
		cfg.Ephemeral.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setMinutes(&cfg.Collaboration.SessionTimeout, "SESSION_TIMEOUT_MINUTES")
	setSeconds(&cfg.Collaboration.LockTimeout, "LOCK_TIMEOUT_SECONDS")
	setSeconds(&cfg.Collaboration.PresenceTTL, "PRESENCE_TTL_SECONDS")
	setSeconds(&cfg.Collaboration.CursorTTL, "CURSOR_TTL_SECONDS")
	setSeconds(&cfg.Collaboration.TypingTTL, "TYPING_TTL_SECONDS")
	setSeconds(&cfg.Collaboration.HeartbeatTTL, "HEARTBEAT_TTL_SECONDS")
	setSeconds(&cfg.Collaboration.CursorThrottle, "CURSOR_THROTTLE_SECONDS")
	setMillis(&cfg.Activity.BatchWindow, "ACTIVITY_BATCH_MS")
	setMillis(&cfg.Ephemeral.ReadyTimeout, "ESS_READY_TIMEOUT_MS")
	if v := os.Getenv("ACTIVITY_BATCH_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Activity.BatchMax = n
		}
	}
	if v := os.Getenv("ACTIVITY_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Activity.RetentionDays = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
}

func setSeconds(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func setMinutes(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Minute
		}
	}
}

func setMillis(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
