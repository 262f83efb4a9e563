package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/allyrun/ally/internal/errkind"
)

// Common sentinel errors for agent operations
var (
	// ErrMaxIterations indicates the agentic loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrContextCancelled indicates the context was cancelled
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrBackpressure indicates the system is overloaded
	ErrBackpressure = errors.New("backpressure: system overloaded")
)

// ToolError carries a failed tool call's classification alongside its
// cause, so the orchestrator can shape a ToolResult whose error_type comes
// from the closed taxonomy instead of string-matching at render time.
type ToolError struct {
	// Kind classifies the failure (errkind.KindValidation,
	// KindPermission, KindInterrupted, ...).
	Kind errkind.Kind

	// ToolName is the name of the tool that failed
	ToolName string

	// ToolCallID is the ID of the tool call that failed
	ToolCallID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error

	// Attempts is the number of attempts made
	Attempts int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))

	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError wraps cause with a classification inferred from sentinel
// errors and message content.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Kind:     errkind.KindGeneral,
		Attempts: 1,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = ClassifyToolError(cause)
	}
	return err
}

// WithKind overrides the inferred classification.
func (e *ToolError) WithKind(kind errkind.Kind) *ToolError {
	e.Kind = kind
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithAttempts sets the number of execution attempts that were made.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// ClassifyToolError maps a tool failure onto the closed error taxonomy.
// Explicit classifications (a wrapped errkind.Error or ToolError) win;
// sentinel and context errors come next; message-content heuristics are
// the fallback, defaulting to general.
func ClassifyToolError(err error) errkind.Kind {
	if err == nil {
		return errkind.KindGeneral
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr.Kind != "" {
		return toolErr.Kind
	}
	var kindErr *errkind.Error
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return errkind.KindInterrupted
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrToolTimeout) {
		return errkind.KindSystem
	}
	if errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrToolPanic) {
		return errkind.KindSystem
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "denied by") ||
		strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return errkind.KindPermission
	case strings.Contains(msg, "outside the workspace") || strings.Contains(msg, "refusing to run") ||
		strings.Contains(msg, "path traversal"):
		return errkind.KindSecurity
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "not been read") || strings.Contains(msg, "required") ||
		strings.Contains(msg, "missing"):
		return errkind.KindValidation
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such") ||
		strings.Contains(msg, "unknown id"):
		return errkind.KindUser
	case strings.Contains(msg, "cancel") || strings.Contains(msg, "interrupt"):
		return errkind.KindInterrupted
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "panic") || strings.Contains(msg, "internal"):
		return errkind.KindSystem
	default:
		return errkind.KindGeneral
	}
}
