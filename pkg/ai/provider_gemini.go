package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiProvider implements Provider for Google Gemini. Tool calling is not
// wired for this backend; requests carrying tool schemas are rejected.
type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, apiKey string) (*geminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("gemini provider does not support tool calling")
	}

	contents := []*genai.Content{}
	for _, msg := range req.Messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	var config *genai.GenerateContentConfig
	if req.System != "" || req.Temperature > 0 || req.MaxTokens > 0 {
		config = &genai.GenerateContentConfig{}
		if req.System != "" {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: req.System}},
			}
		}
		if req.Temperature > 0 {
			temp := float32(req.Temperature)
			config.Temperature = &temp
		}
		if req.MaxTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxTokens)
		}
	}

	res, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, err
	}

	completion := &Completion{
		Text:     res.Text(),
		Model:    req.Model,
		Provider: p.Name(),
	}
	if res.UsageMetadata != nil {
		completion.Usage = &Usage{
			InputTokens:  int(res.UsageMetadata.PromptTokenCount),
			OutputTokens: int(res.UsageMetadata.CandidatesTokenCount),
		}
	}
	return completion, nil
}

// Stream performs a blocking completion and emits the whole text as a single
// delta. Callers still get streaming semantics, just coarse.
func (p *geminiProvider) Stream(ctx context.Context, req Request, onDelta func(text string) error) (*Completion, error) {
	completion, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if completion.Text != "" {
		if err := onDelta(completion.Text); err != nil {
			return nil, err
		}
	}
	return completion, nil
}

func (p *geminiProvider) CheckModel(ctx context.Context, model string) bool {
	_, err := p.client.Models.Get(ctx, model, nil)
	return err == nil
}
