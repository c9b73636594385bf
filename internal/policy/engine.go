// Package policy decides whether generated code may be executed.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy is evaluated against.
type Input struct {
	ExecEnabled bool   `json:"exec_enabled"`
	Language    string `json:"language"`
	Mode        string `json:"mode"`
	CodeBytes   int    `json:"code_bytes"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.exec_policy.decision"),
		rego.Module("exec_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load reads a policy file, or uses DefaultPolicy when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns the decision and an optional reason. A policy that
// produces no decision blocks.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionBlock, "no decision", nil
	}

	// The rule may return a bare string or {"decision": ..., "reason": ...}.
	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return DecisionBlock, "decision missing", nil
		}
		return decision, reason, nil
	}

	return DecisionBlock, "unexpected return type", nil
}

// Allowed is a convenience wrapper reporting whether input may run.
func (e *Engine) Allowed(ctx context.Context, input Input) (bool, string, error) {
	decision, reason, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, "", err
	}
	return decision == DecisionAllow, reason, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package exec_policy

default decision = "block"

decision = "allow" {
	input.exec_enabled
	input.language == "python"
}
`
