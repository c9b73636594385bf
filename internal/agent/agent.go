// Package agent answers natural-language questions about tables with an LLM.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/render"
	"github.com/xiaot623/dataquery/internal/table"
)

// AnswerKind tags the variant held by an Answer.
type AnswerKind int

const (
	AnswerText AnswerKind = iota
	AnswerFigure
)

// Answer is either a text reply or a figure to render.
type Answer struct {
	Kind   AnswerKind
	Text   string
	Figure *render.Figure
}

// Describe returns the text stored in conversation memory for this answer.
func (a Answer) Describe() string {
	if a.Kind == AnswerFigure && a.Figure != nil {
		return a.Figure.Spec.Describe()
	}
	return a.Text
}

// Options tune an agent.
type Options struct {
	Model       string
	Temperature *float64
	// MemorySize is the number of past question/answer turns sent with each question.
	MemorySize int
	// PromptRows is the number of sample rows per table included in the prompt.
	PromptRows int
}

// Turn is one remembered question and answer.
type Turn struct {
	Question string
	Answer   string
}

// DataFrameAgent holds tables and a bounded conversation memory. Calls to
// Chat are serialized.
type DataFrameAgent struct {
	client llm.LLMClient
	opts   Options
	tables []*table.Table

	mu     sync.Mutex
	memory []Turn
}

// New creates an agent over tables, which must not be empty.
func New(client llm.LLMClient, tables []*table.Table, opts Options) (*DataFrameAgent, error) {
	if client == nil {
		return nil, errors.New("llm client is required")
	}
	if len(tables) == 0 {
		return nil, errors.New("at least one table is required")
	}
	if opts.MemorySize < 0 {
		opts.MemorySize = 0
	}
	if opts.PromptRows <= 0 {
		opts.PromptRows = 5
	}
	return &DataFrameAgent{client: client, opts: opts, tables: tables}, nil
}

// Memory returns a copy of the remembered turns, oldest first.
func (a *DataFrameAgent) Memory() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Turn(nil), a.memory...)
}

// Chat asks one question. The answer is remembered only when it succeeds.
func (a *DataFrameAgent) Chat(ctx context.Context, question string) (Answer, error) {
	return a.ChatThen(ctx, question, nil)
}

// ChatThen asks one question and hands the answer to deliver while still
// holding the conversation. The turn is remembered only when deliver
// returns nil; its error is returned as is.
func (a *DataFrameAgent) ChatThen(ctx context.Context, question string, deliver func(Answer) error) (Answer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := &llm.ChatCompletionRequest{
		Model:       a.opts.Model,
		Messages:    a.buildMessages(question),
		Temperature: a.opts.Temperature,
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Answer{}, fmt.Errorf("failed to call llm: %w", err)
	}
	if resp.Usage != nil {
		log.Debug().Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens).Msg("agent llm call")
	}

	r := parseReply(resp.Content())
	answer, err := a.resolve(r)
	if err != nil {
		return Answer{}, err
	}

	if deliver != nil {
		if err := deliver(answer); err != nil {
			return Answer{}, err
		}
	}

	a.remember(Turn{Question: question, Answer: answer.Describe()})
	return answer, nil
}

func (a *DataFrameAgent) resolve(r reply) (Answer, error) {
	if r.Type != replyChart {
		return Answer{Kind: AnswerText, Text: r.Answer}, nil
	}
	spec := render.ChartSpec{}
	if r.Chart != nil {
		spec = *r.Chart
	}
	fig, err := render.NewFigure(spec, a.table(spec.Table))
	if err != nil {
		return Answer{}, fmt.Errorf("invalid chart: %w", err)
	}
	return Answer{Kind: AnswerFigure, Figure: fig}, nil
}

// table finds a table by name, falling back to the first one.
func (a *DataFrameAgent) table(name string) *table.Table {
	for _, t := range a.tables {
		if t.Name == name {
			return t
		}
	}
	return a.tables[0]
}

func (a *DataFrameAgent) remember(t Turn) {
	if a.opts.MemorySize == 0 {
		return
	}
	a.memory = append(a.memory, t)
	if over := len(a.memory) - a.opts.MemorySize; over > 0 {
		a.memory = append([]Turn(nil), a.memory[over:]...)
	}
}

func (a *DataFrameAgent) buildMessages(question string) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, 2+2*len(a.memory))
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt(a.tables, a.opts.PromptRows)})
	for _, t := range a.memory {
		msgs = append(msgs,
			llm.ChatMessage{Role: llm.RoleUser, Content: t.Question},
			llm.ChatMessage{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	return append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: question})
}
