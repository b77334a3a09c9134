// Package summary contains the pluggable summarization backends. Each backend
// exposes a single capability: turn a prompt into a short text. The sync loop
// never sees backend specifics; a broken summarizer degrades to a fallback
// string and must never block alert publication.
package summary

import (
	"context"
	"fmt"

	"github.com/zabbar/zabbar/internal/config"
)

// FallbackText is published when a summarization call fails.
const FallbackText = "unable to generate summary"

// Provider defines the summarization capability.
type Provider interface {
	// Summarize produces a short textual summary for the given prompt.
	Summarize(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name
	Name() string
}

// NewFromConfig creates a Provider based on the summarization settings.
func NewFromConfig(cfg config.SummaryConfig) (Provider, error) {
	if !cfg.Enabled {
		return NewDisabled(), nil
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	case config.ProviderOllama:
		return NewOllamaClient(cfg.Model, cfg.BaseURL, cfg.Timeout), nil

	case config.ProviderDisabled:
		return NewDisabled(), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
