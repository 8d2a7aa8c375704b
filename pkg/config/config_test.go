package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }},
		{"reconnect max below initial", func(c *Config) {
			c.Signal.Reconnect.InitialDelay = time.Second
			c.Signal.Reconnect.MaxDelay = 100 * time.Millisecond
		}},
		{"zero max participants", func(c *Config) { c.Studio.MaxParticipants = 0 }},
		{"stage larger than session", func(c *Config) {
			c.Studio.MaxParticipants = 5
			c.Studio.MaxOnStage = 6
		}},
		{"zero frame rate", func(c *Config) { c.Compositor.FrameRate = 0 }},
		{"frame rate too high", func(c *Config) { c.Compositor.FrameRate = 240 }},
		{"negative master gain", func(c *Config) { c.Compositor.MasterGain = -0.1 }},
		{"crop smoothing out of range", func(c *Config) {
			c.Compositor.VerticalCrop.Enabled = true
			c.Compositor.VerticalCrop.SmoothingFactor = 1.5
		}},
		{"streaming max below initial", func(c *Config) {
			c.Streaming.InitialDelay = time.Minute
			c.Streaming.MaxDelay = time.Second
		}},
		{"multiplier below one", func(c *Config) { c.Streaming.Multiplier = 0.5 }},
		{"loss ratio out of range", func(c *Config) { c.Streaming.DegradedLossRatio = 1.0 }},
		{"zero negotiation timeout", func(c *Config) { c.Streaming.NegotiationTimeout = 0 }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero chat rate", func(c *Config) { c.Chat.MessagesPerSecond = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected defaults on missing file, got: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address, got %s", cfg.Server.Address)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("studio:\n  max_participants: 20\n  max_on_stage: 4\ncompositor:\n  frame_rate: 24\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Studio.MaxParticipants != 20 {
		t.Errorf("max_participants = %d, want 20", cfg.Studio.MaxParticipants)
	}
	if cfg.Studio.MaxOnStage != 4 {
		t.Errorf("max_on_stage = %d, want 4", cfg.Studio.MaxOnStage)
	}
	if cfg.Compositor.FrameRate != 24 {
		t.Errorf("frame_rate = %d, want 24", cfg.Compositor.FrameRate)
	}
	// Untouched sections keep defaults.
	if cfg.Streaming.MaxAttempts != 5 {
		t.Errorf("streaming max_attempts = %d, want default 5", cfg.Streaming.MaxAttempts)
	}
}

func TestLoad_InvalidYAMLValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("compositor:\n  frame_rate: -1\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for negative frame rate")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STAGECAST_SERVER_ADDRESS", ":9999")
	t.Setenv("STAGECAST_JWT_SECRET", "env-secret")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Server.Address != ":9999" {
		t.Errorf("address = %s, want :9999", cfg.Server.Address)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret not overridden, got %s", cfg.Auth.JWTSecret)
	}
}
