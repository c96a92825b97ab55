package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROCESSOR_DEFAULT_URL", "http://default:8080/payments")
	cfg := Load()

	if cfg.FallbackProcessorURL != "http://default:8080/payments" {
		t.Fatalf("expected fallback url to default to the default processor, got %q", cfg.FallbackProcessorURL)
	}
	if cfg.HealthInterval != 5*time.Second {
		t.Fatalf("expected 5s health interval, got %s", cfg.HealthInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("BACKOFF_UNIT", "250ms")
	t.Setenv("PROCESSOR_FALLBACK_URL", "http://fallback:8080/payments")
	t.Setenv("PRIMARY_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.MaxRetries != 7 {
		t.Fatalf("expected MAX_RETRIES=7, got %d", cfg.MaxRetries)
	}
	if cfg.BackoffUnit != 250*time.Millisecond {
		t.Fatalf("expected 250ms backoff unit, got %s", cfg.BackoffUnit)
	}
	if cfg.FallbackProcessorURL != "http://fallback:8080/payments" {
		t.Fatalf("unexpected fallback url %q", cfg.FallbackProcessorURL)
	}
	if cfg.PrimaryWorkers != 16 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.PrimaryWorkers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero_primary_workers", mutate: func(c *Config) { c.PrimaryWorkers = 0 }},
		{name: "negative_retries", mutate: func(c *Config) { c.MaxRetries = -1 }},
		{name: "connect_not_shorter", mutate: func(c *Config) { c.ConnectTimeout = c.DispatchTimeout }},
		{name: "shared_queue_name", mutate: func(c *Config) { c.FallbackQueue = c.PrimaryQueue }},
		{name: "unknown_backend", mutate: func(c *Config) { c.LedgerBackend = "mongo" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
