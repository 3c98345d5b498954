// Package ai dispatches completion requests across LLM providers. Logical
// model tiers resolve to concrete provider+model pairs via configuration;
// non-streaming calls retry and fall back across a provider chain while
// streaming calls bind to a single provider.
package ai

import (
	"context"

	"github.com/farid/orbit/pkg/retry"
)

// Logical model tiers resolved through TierModels.
const (
	TierFast      = "fast"
	TierSmart     = "smart"
	TierDefault   = "default"
	TierEmbedding = "embedding"
)

// Message is one turn in a conversation.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the result of a provider call.
type Completion struct {
	Text      string     `json:"text"`
	Model     string     `json:"model"`
	Provider  string     `json:"provider"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// Request contains the resolved parameters for one provider call. Tools are
// function-calling schemas in the {type:"function", function:{...}} shape.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []map[string]interface{}
	Temperature float64
	MaxTokens   int
}

// Options configures a dispatcher operation. Model may be a tier name or an
// explicit model name.
type Options struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
}

// Provider is a concrete LLM backend.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Complete makes a non-streaming call.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Stream makes a streaming call, invoking onDelta for each text chunk.
	Stream(ctx context.Context, req Request, onDelta func(text string) error) (*Completion, error)

	// CheckModel probes whether a model is available. Best-effort: returns
	// false on any failure, never an error.
	CheckModel(ctx context.Context, model string) bool
}

// ProviderConfig describes how to construct one provider.
type ProviderConfig struct {
	Kind    string `json:"kind" mapstructure:"kind"` // openai, anthropic, gemini, ollama, grok
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// TierModels maps logical tiers to concrete model names.
type TierModels struct {
	Fast      string `json:"fast" mapstructure:"fast"`
	Smart     string `json:"smart" mapstructure:"smart"`
	Default   string `json:"default" mapstructure:"default"`
	Embedding string `json:"embedding" mapstructure:"embedding"`
}

// Config wires the dispatcher: a primary provider, an optional smart
// provider reserved for the smart tier, and an ordered fallback chain.
type Config struct {
	Primary   ProviderConfig   `json:"primary" mapstructure:"primary"`
	Smart     *ProviderConfig  `json:"smart,omitempty" mapstructure:"smart"`
	Fallbacks []ProviderConfig `json:"fallbacks,omitempty" mapstructure:"fallbacks"`
	Models    TierModels       `json:"models" mapstructure:"models"`
	Retry     retry.Policy     `json:"-" mapstructure:"-"`
}
