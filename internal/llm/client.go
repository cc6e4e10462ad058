package llm

import (
	"context"
	"fmt"

	"github.com/confidanthq/confidant/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openrouter":
		if cfg.OpenRouterKey == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "anthropic/claude-3-haiku"
		}
		return NewOpenRouter(cfg.OpenRouterKey, model, cfg.Timeout()), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
