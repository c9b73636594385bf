package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockClient is a deterministic LLMClient used in MOCK mode and tests.
//
// It answers code-generation prompts (those mentioning matplotlib) with a
// small plotting script, chart-like questions with a chart reply whose axes
// are left for the caller to pick, and everything else with a text reply.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// MockPlotScript is the code returned for code-generation prompts.
const MockPlotScript = `x = df.columns[0]
numeric = df.select_dtypes(include="number").columns
y = numeric[0] if len(numeric) else df.columns[-1]
df.plot(x=x, y=y, kind="bar")
plt.title(f"{y} by {x}")
plt.tight_layout()`

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:    fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Model: req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(content) / 4,
			TotalTokens:      m.estimateTokens(req) + len(content)/4,
		},
	}, nil
}

func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}
	lower := strings.ToLower(lastUserMessage)

	if strings.Contains(lower, "matplotlib") {
		return "```python\n" + MockPlotScript + "\n```"
	}

	if isChartQuestion(lower) {
		out, _ := json.Marshal(map[string]any{
			"type": "chart",
			"chart": map[string]any{
				"kind":  "bar",
				"title": truncate(lastUserMessage, 60),
			},
		})
		return string(out)
	}

	answer := "[MOCK] This is a mock response from the LLM client."
	if lastUserMessage != "" {
		answer = fmt.Sprintf("[MOCK] Received your question: %q.", truncate(lastUserMessage, 100))
	}
	out, _ := json.Marshal(map[string]string{"type": "text", "answer": answer})
	return string(out)
}

func isChartQuestion(q string) bool {
	for _, w := range []string{"plot", "chart", "graph", "visuali"} {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
