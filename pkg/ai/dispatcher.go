package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/farid/orbit/pkg/retry"
)

// Observer receives provider call outcomes for metrics.
type Observer interface {
	ProviderCall(provider string, status string)
	ProviderFallback(from string, to string)
}

// Dispatcher routes requests to providers. The smart tier binds to the smart
// provider when one is configured and never falls back; every other
// non-streaming call walks the fallback chain after the primary fails.
// Streaming calls bind to a single provider.
type Dispatcher struct {
	primary   Provider
	smart     Provider
	fallbacks []Provider
	models    TierModels
	retry     retry.Policy
	observer  Observer
	logger    zerolog.Logger
}

// NewDispatcher constructs providers from cfg. A failed primary is fatal;
// failed smart or fallback providers are skipped with a warning.
func NewDispatcher(ctx context.Context, cfg Config, observer Observer, logger zerolog.Logger) (*Dispatcher, error) {
	logger = logger.With().Str("component", "ai").Logger()

	primary, err := NewProvider(ctx, cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}

	d := &Dispatcher{
		primary:  primary,
		models:   cfg.Models,
		retry:    cfg.Retry,
		observer: observer,
		logger:   logger,
	}
	if d.retry.MaxRetries == 0 && d.retry.BaseDelay == 0 {
		d.retry = retry.DefaultPolicy()
	}

	if cfg.Smart != nil {
		smart, err := NewProvider(ctx, *cfg.Smart)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create smart provider, smart tier will use primary")
		} else {
			d.smart = smart
		}
	}

	for _, fc := range cfg.Fallbacks {
		fb, err := NewProvider(ctx, fc)
		if err != nil {
			logger.Warn().Err(err).Str("kind", fc.Kind).Msg("Skipping fallback provider")
			continue
		}
		d.fallbacks = append(d.fallbacks, fb)
	}

	logger.Info().
		Str("primary", primary.Name()).
		Int("fallbacks", len(d.fallbacks)).
		Bool("smart", d.smart != nil).
		Msg("AI dispatcher ready")

	return d, nil
}

// ResolveModel maps a tier name to its configured model. An empty name
// resolves through the default tier; anything that is not a tier passes
// through unchanged as an explicit model name.
func (d *Dispatcher) ResolveModel(name string) string {
	switch name {
	case "", TierDefault:
		return d.models.Default
	case TierFast:
		if d.models.Fast != "" {
			return d.models.Fast
		}
		return d.models.Default
	case TierSmart:
		if d.models.Smart != "" {
			return d.models.Smart
		}
		return d.models.Default
	case TierEmbedding:
		if d.models.Embedding != "" {
			return d.models.Embedding
		}
		return d.models.Default
	default:
		return name
	}
}

// providerFor picks the provider for a tier. The second return reports
// whether fallback is permitted for this call.
func (d *Dispatcher) providerFor(tier string) (Provider, bool) {
	if tier == TierSmart && d.smart != nil {
		return d.smart, false
	}
	return d.primary, true
}

// Complete runs a single-prompt completion.
func (d *Dispatcher) Complete(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	return d.Chat(ctx, []Message{{Role: "user", Content: prompt}}, opts)
}

// Chat runs a multi-turn completion.
func (d *Dispatcher) Chat(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	req := d.buildRequest(messages, nil, opts)
	provider, fallback := d.providerFor(opts.Model)
	return d.withFallback(ctx, provider, fallback, req)
}

// CallTools runs a completion with function-calling schemas attached. The
// returned completion may carry tool calls instead of (or alongside) text.
func (d *Dispatcher) CallTools(ctx context.Context, messages []Message, tools []map[string]interface{}, opts Options) (*Completion, error) {
	req := d.buildRequest(messages, tools, opts)
	provider, fallback := d.providerFor(opts.Model)
	return d.withFallback(ctx, provider, fallback, req)
}

// Stream runs a streaming single-prompt completion. Streaming never falls
// back: a retry on a different provider would replay text the caller has
// already seen.
func (d *Dispatcher) Stream(ctx context.Context, prompt string, opts Options, onDelta func(text string) error) (*Completion, error) {
	return d.StreamChat(ctx, []Message{{Role: "user", Content: prompt}}, opts, onDelta)
}

// StreamChat runs a streaming multi-turn completion with no fallback.
func (d *Dispatcher) StreamChat(ctx context.Context, messages []Message, opts Options, onDelta func(text string) error) (*Completion, error) {
	req := d.buildRequest(messages, nil, opts)
	provider, _ := d.providerFor(opts.Model)

	completion, err := provider.Stream(ctx, req, onDelta)
	d.record(provider, err)
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// CheckModel probes whether the primary provider serves the model.
// Best-effort: false on any failure.
func (d *Dispatcher) CheckModel(ctx context.Context, model string) bool {
	provider, _ := d.providerFor(model)
	return provider.CheckModel(ctx, d.ResolveModel(model))
}

// Primary exposes the primary provider name.
func (d *Dispatcher) Primary() string {
	return d.primary.Name()
}

func (d *Dispatcher) buildRequest(messages []Message, tools []map[string]interface{}, opts Options) Request {
	return Request{
		Model:       d.ResolveModel(opts.Model),
		System:      opts.System,
		Messages:    messages,
		Tools:       tools,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

// withFallback calls the chosen provider with retries, then walks the
// fallback chain. Non-retryable failures (bad key, 401/403, not found) are
// misconfiguration and surface immediately without touching any fallback.
// When every fallback also fails the PRIMARY error is returned so callers
// see the failure that actually matters.
func (d *Dispatcher) withFallback(ctx context.Context, provider Provider, allowFallback bool, req Request) (*Completion, error) {
	completion, primaryErr := d.attempt(ctx, provider, req)
	if primaryErr == nil {
		return completion, nil
	}

	if !allowFallback || !retry.IsRetryable(primaryErr) || len(d.fallbacks) == 0 {
		return nil, primaryErr
	}

	for _, fb := range d.fallbacks {
		d.logger.Warn().
			Err(primaryErr).
			Str("from", provider.Name()).
			Str("to", fb.Name()).
			Msg("Provider failed, trying fallback")
		if d.observer != nil {
			d.observer.ProviderFallback(provider.Name(), fb.Name())
		}

		completion, err := d.attempt(ctx, fb, req)
		if err == nil {
			return completion, nil
		}
		d.logger.Warn().Err(err).Str("provider", fb.Name()).Msg("Fallback provider failed")
	}

	return nil, primaryErr
}

func (d *Dispatcher) attempt(ctx context.Context, provider Provider, req Request) (*Completion, error) {
	completion, err := retry.Do(ctx, d.retry, provider.Name(), func(ctx context.Context) (*Completion, error) {
		return provider.Complete(ctx, req)
	})
	d.record(provider, err)
	return completion, err
}

func (d *Dispatcher) record(provider Provider, err error) {
	if d.observer == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.observer.ProviderCall(provider.Name(), status)
}
