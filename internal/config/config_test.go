package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Context.RecentLimit != 5 {
		t.Errorf("RecentLimit = %d, want 5", cfg.Context.RecentLimit)
	}
	if cfg.Reconciler.BatchConfidence != 0.5 || cfg.Reconciler.FieldConfidence != 0.7 {
		t.Errorf("confidence gates = %g/%g, want 0.5/0.7",
			cfg.Reconciler.BatchConfidence, cfg.Reconciler.FieldConfidence)
	}
}

func TestValidateBounds(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"recent limit zero", func(c *Config) { c.Context.RecentLimit = 0 }},
		{"recent limit too high", func(c *Config) { c.Context.RecentLimit = 21 }},
		{"batch confidence negative", func(c *Config) { c.Reconciler.BatchConfidence = -0.1 }},
		{"field confidence above one", func(c *Config) { c.Reconciler.FieldConfidence = 1.5 }},
	} {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.ListenAddr(); got != "127.0.0.1:38180" {
		t.Errorf("ListenAddr = %q", got)
	}
}

func TestLLMTimeout(t *testing.T) {
	c := LLMConfig{TimeoutSeconds: 30}
	if c.Timeout() != 30*time.Second {
		t.Errorf("Timeout = %v", c.Timeout())
	}
	c.TimeoutSeconds = 0
	if c.Timeout() != 60*time.Second {
		t.Errorf("zero timeout should default to 60s, got %v", c.Timeout())
	}
}
