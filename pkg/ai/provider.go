package ai

import (
	"context"
	"fmt"
)

// Default base URLs for the OpenAI-compatible providers.
const (
	ollamaBaseURL = "http://localhost:11434/v1"
	grokBaseURL   = "https://api.x.ai/v1"
)

// NewProvider constructs a provider from its configuration.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: api_key is required")
		}
		return newOpenAIProvider("openai", cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = ollamaBaseURL
		}
		// Ollama ignores the key but the client requires one.
		key := cfg.APIKey
		if key == "" {
			key = "ollama"
		}
		return newOpenAIProvider("ollama", key, base), nil
	case "grok":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("grok: api_key is required")
		}
		base := cfg.BaseURL
		if base == "" {
			base = grokBaseURL
		}
		return newOpenAIProvider("grok", cfg.APIKey, base), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: api_key is required")
		}
		return newAnthropicProvider(cfg.APIKey), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: api_key is required")
		}
		return newGeminiProvider(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", cfg.Kind)
	}
}
