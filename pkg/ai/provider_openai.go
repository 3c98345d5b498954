package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIProvider implements Provider against any OpenAI-compatible API.
// It also serves the ollama and grok backends via their base URLs.
type openAIProvider struct {
	client openai.Client
	name   string
}

func newOpenAIProvider(name, apiKey, baseURL string) *openAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &openAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
	}
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	toolCalls, err := parseOpenAIToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:      choice.Message.Content,
		Model:     req.Model,
		Provider:  p.name,
		ToolCalls: toolCalls,
		Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

func (p *openAIProvider) Stream(ctx context.Context, req Request, onDelta func(text string) error) (*Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	completion := &Completion{
		Model:    req.Model,
		Provider: p.name,
	}
	if len(acc.Choices) > 0 {
		completion.Text = acc.Choices[0].Message.Content
		toolCalls, err := parseOpenAIToolCalls(acc.Choices[0].Message.ToolCalls)
		if err != nil {
			return nil, err
		}
		completion.ToolCalls = toolCalls
	}
	completion.Usage = &Usage{
		InputTokens:  int(acc.Usage.PromptTokens),
		OutputTokens: int(acc.Usage.CompletionTokens),
	}

	return completion, nil
}

func (p *openAIProvider) CheckModel(ctx context.Context, model string) bool {
	_, err := p.client.Models.Get(ctx, model)
	return err == nil
}

func (p *openAIProvider) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					argsJSON, err := json.Marshal(tc.Arguments)
					if err != nil {
						return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range req.Tools {
			fn, ok := tool["function"].(map[string]interface{})
			if !ok {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("malformed tool schema: missing function block")
			}
			name, ok := fn["name"].(string)
			if !ok || name == "" {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("malformed tool schema: missing function name")
			}
			description, _ := fn["description"].(string)
			parameters, _ := fn["parameters"].(map[string]interface{})
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        name,
					Description: openai.String(description),
					Parameters:  openai.FunctionParameters(parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func parseOpenAIToolCalls(raw []openai.ChatCompletionMessageToolCall) ([]ToolCall, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	toolCalls := make([]ToolCall, 0, len(raw))
	for _, tc := range raw {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return toolCalls, nil
}
