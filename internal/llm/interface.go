package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Stream is the subset of *openai.ChatCompletionStream the relay consumes.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client is minimal subset of openai.Client used by the relay; it is easy to mock in tests.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}
