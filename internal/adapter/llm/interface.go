// Package llm provides an abstraction for LLM API clients.
package llm

import "context"

// LLMClient defines the interface for LLM API operations.
type LLMClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

var (
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*OllamaClient)(nil)
	_ LLMClient = (*MockClient)(nil)
)
