package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()

	if got, want := cfg.Collaboration.SessionTimeout, 30*time.Minute; got != want {
		t.Errorf("session timeout = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.LockTimeout, 30*time.Second; got != want {
		t.Errorf("lock timeout = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.PresenceTTL, 300*time.Second; got != want {
		t.Errorf("presence ttl = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.CursorTTL, 60*time.Second; got != want {
		t.Errorf("cursor ttl = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.TypingTTL, 10*time.Second; got != want {
		t.Errorf("typing ttl = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.HeartbeatTTL, 30*time.Second; got != want {
		t.Errorf("heartbeat ttl = %v, want %v", got, want)
	}
	if got, want := cfg.Collaboration.CursorThrottle, time.Second; got != want {
		t.Errorf("cursor throttle = %v, want %v", got, want)
	}
	if got, want := cfg.Activity.BatchWindow, 2*time.Second; got != want {
		t.Errorf("batch window = %v, want %v", got, want)
	}
	if got, want := cfg.Activity.BatchMax, 10; got != want {
		t.Errorf("batch max = %d, want %d", got, want)
	}
	if got, want := cfg.Activity.RetentionDays, 30; got != want {
		t.Errorf("retention days = %d, want %d", got, want)
	}
	if got, want := cfg.Ephemeral.ReadyTimeout, 10*time.Second; got != want {
		t.Errorf("ready timeout = %v, want %v", got, want)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8087 {
		t.Errorf("port = %d, want 8087", cfg.Server.Port)
	}
}

func TestLoad_YamlAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.yaml")
	content := []byte("server:\n  port: 9000\ncollaboration:\n  lock_timeout: 45s\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOCK_TIMEOUT_SECONDS", "60")
	t.Setenv("ACTIVITY_BATCH_MAX", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000 (yaml)", cfg.Server.Port)
	}
	// Env wins over yaml.
	if cfg.Collaboration.LockTimeout != 60*time.Second {
		t.Errorf("lock timeout = %v, want 60s (env)", cfg.Collaboration.LockTimeout)
	}
	if cfg.Activity.BatchMax != 25 {
		t.Errorf("batch max = %d, want 25", cfg.Activity.BatchMax)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"negative lock timeout", func(c *Config) { c.Collaboration.LockTimeout = -time.Second }},
		{"presence below heartbeat", func(c *Config) { c.Collaboration.PresenceTTL = time.Second }},
		{"zero batch max", func(c *Config) { c.Activity.BatchMax = 0 }},
		{"zero retention", func(c *Config) { c.Activity.RetentionDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
