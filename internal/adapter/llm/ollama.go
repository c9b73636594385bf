package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	client *ollama.Client
}

// NewOllamaClient creates a client for the given host.
func NewOllamaClient(host string, timeout time.Duration) (*OllamaClient, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &OllamaClient{client: ollama.NewClient(u, &http.Client{Timeout: timeout})}, nil
}

// CreateChatCompletion sends a chat request and collects the full reply.
func (c *OllamaClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	stream := false
	oreq := &ollama.ChatRequest{
		Model:    req.Model,
		Messages: make([]ollama.Message, 0, len(req.Messages)),
		Stream:   &stream,
		Options:  map[string]any{},
	}
	for _, m := range req.Messages {
		oreq.Messages = append(oreq.Messages, ollama.Message{Role: m.Role, Content: m.Content})
	}
	if req.Temperature != nil {
		oreq.Options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		oreq.Options["num_predict"] = *req.MaxTokens
	}

	var last ollama.ChatResponse
	content := ""
	err := c.client.Chat(ctx, oreq, func(cr ollama.ChatResponse) error {
		content += cr.Message.Content
		last = cr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &ChatCompletionResponse{
		Model: last.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: RoleAssistant, Content: content},
			FinishReason: last.DoneReason,
		}},
		Usage: &Usage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}
