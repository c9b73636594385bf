package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for queries against an unknown session id.
	ErrSessionNotFound = errors.New("session not found, upload files first")
	// ErrNoValidData is returned when none of the uploaded files could be parsed.
	ErrNoValidData = errors.New("no valid data files")
	// ErrInitialization prefixes every failure of start-analysis.
	ErrInitialization = errors.New("failed to initialize analysis")
	// ErrAgentInvocation prefixes failures inside an agent conversation.
	ErrAgentInvocation = errors.New("conversation failed")
	// ErrCodeGeneration prefixes failures while asking the model for plotting code.
	ErrCodeGeneration = errors.New("code generation failed")
	// ErrExecution prefixes failures while running generated code.
	ErrExecution = errors.New("code execution failed")
)

// FileParseError reports a single file that could not be loaded as a table.
// It is logged and swallowed by the loader.
type FileParseError struct {
	Path string
	Err  error
}

func (e *FileParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *FileParseError) Unwrap() error {
	return e.Err
}

// Wrap chains err under one of the sentinel kinds above, keeping the
// underlying message visible: "<kind>: <err>".
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
