package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/table"
)

const codegenTemplate = `Write Python code that answers the request below with a chart.
A pandas DataFrame named df is already loaded with these columns: %s
Sample rows:
%s
Rules:
- use only df and matplotlib.pyplot, imported as plt
- do not read or write files and do not call plt.show()
- return only code, runnable end to end

Request: %s`

// CodeGenerator asks the model for matplotlib code that plots a question.
type CodeGenerator struct {
	client      llm.LLMClient
	model       string
	temperature *float64
}

// NewCodeGenerator creates a CodeGenerator.
func NewCodeGenerator(client llm.LLMClient, model string, temperature *float64) *CodeGenerator {
	return &CodeGenerator{client: client, model: model, temperature: temperature}
}

// Generate returns plotting code for question over df, without code fences.
func (g *CodeGenerator) Generate(ctx context.Context, df *table.Table, question string) (string, error) {
	var sample strings.Builder
	if err := df.Head(3).WriteCSV(&sample); err != nil {
		return "", domain.Wrap(domain.ErrCodeGeneration, err)
	}
	prompt := fmt.Sprintf(codegenTemplate, strings.Join(df.Columns, ", "), sample.String(), question)

	resp, err := g.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:       g.model,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", domain.Wrap(domain.ErrCodeGeneration, err)
	}

	code := stripFences(resp.Content())
	if code == "" {
		return "", domain.Wrap(domain.ErrCodeGeneration, errors.New("model returned no code"))
	}
	return code, nil
}
