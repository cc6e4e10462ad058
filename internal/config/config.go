package config

import (
	"fmt"
	"time"
)

// Config holds all confidant configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	LLM        LLMConfig        `toml:"llm"`
	Context    ContextConfig    `toml:"context"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"` // "openrouter", "anthropic"
	Model          string `toml:"model"`
	OpenRouterKey  string `toml:"openrouter_key"`
	AnthropicKey   string `toml:"anthropic_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ContextConfig tunes context assembly.
type ContextConfig struct {
	// RecentLimit is the recency window: how many additional
	// recently-mentioned cards may join an assembled context after the
	// self, pinned, and current-session tiers. Valid range 1-20.
	RecentLimit int `toml:"recent_limit"`
}

// ReconcilerConfig carries the confidence gates for auto-updates. These are
// business constants with config defaults; lowering them trades precision
// for recall of auto-updates.
type ReconcilerConfig struct {
	BatchConfidence float64 `toml:"batch_confidence"`
	FieldConfidence float64 `toml:"field_confidence"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38180,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:       "openrouter",
			Model:          "anthropic/claude-3-haiku",
			TimeoutSeconds: 60,
		},
		Context: ContextConfig{
			RecentLimit: 5,
		},
		Reconciler: ReconcilerConfig{
			BatchConfidence: 0.5,
			FieldConfidence: 0.7,
		},
	}
}

// Validate checks configuration bounds before any work begins.
func (c *Config) Validate() error {
	if c.Context.RecentLimit < 1 || c.Context.RecentLimit > 20 {
		return fmt.Errorf("context.recent_limit must be between 1 and 20, got %d", c.Context.RecentLimit)
	}
	if c.Reconciler.BatchConfidence < 0 || c.Reconciler.BatchConfidence > 1 {
		return fmt.Errorf("reconciler.batch_confidence must be in [0,1], got %g", c.Reconciler.BatchConfidence)
	}
	if c.Reconciler.FieldConfidence < 0 || c.Reconciler.FieldConfidence > 1 {
		return fmt.Errorf("reconciler.field_confidence must be in [0,1], got %g", c.Reconciler.FieldConfidence)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Timeout returns the LLM call timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
