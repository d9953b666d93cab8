package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/Ahmadjon7/UZB-AI/internal/config"
)

type openAIClient struct {
	client *openai.Client
}

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &openAIClient{client: openai.NewClientWithConfig(config)}
}

func (c *openAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	s, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}
