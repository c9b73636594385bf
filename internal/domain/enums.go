// Package domain defines the core domain models for dataquery.
package domain

// ResultKind discriminates the two ChartResult variants.
type ResultKind string

const (
	ResultKindText  ResultKind = "text"
	ResultKindChart ResultKind = "chart"
)

// MessageRole is the author of a conversation log entry.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// AnalyzeMode names the code path used by a one-shot analysis.
type AnalyzeMode string

const (
	AnalyzeModeAgent   AnalyzeMode = "agent"
	AnalyzeModeCodegen AnalyzeMode = "codegen"
)
