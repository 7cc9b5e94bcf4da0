package extract

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	kgraph "github.com/kgraph-ai/kgraph"
)

// OpenAICaller implements kgraph.ModelCaller against any OpenAI-compatible
// chat completion endpoint (OpenAI, vllm, ollama).
type OpenAICaller struct {
	client *openai.Client
	model  string
}

// OpenAIOptions configuration for the model caller.
type OpenAIOptions struct {
	APIKey string
	Model  string
	// BaseURL points at a compatible server, empty for api.openai.com.
	BaseURL string
}

var _ kgraph.ModelCaller = (*OpenAICaller)(nil)

// NewOpenAICaller creates a chat-completion backed model caller.
func NewOpenAICaller(opts OpenAIOptions) (*OpenAICaller, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAICaller{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}, nil
}

// Generate sends one prompt and returns the raw completion text.
func (c *OpenAICaller) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
