// Package runtime implements the agent execution engine: the per-prompt
// request context, the step loop, the streaming tool-call parser, and the
// sub-agent scheduler.
package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for runtime operations
var (
	// ErrStepBudgetExhausted indicates the agent ran out of steps
	ErrStepBudgetExhausted = errors.New("step budget exhausted")

	// ErrPromptCancelled indicates the client cancelled the prompt
	ErrPromptCancelled = errors.New("prompt cancelled")

	// ErrNoProvider indicates no LLM provider is configured for the model
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyPrompt indicates a prompt with no text and no content parts
	ErrEmptyPrompt = errors.New("prompt requires text or content")
)

// ErrorKind categorizes run failures for the wire protocol and retry logic.
type ErrorKind string

const (
	// KindAuth indicates a missing or invalid auth token.
	KindAuth ErrorKind = "auth_error"

	// KindInsufficientCredits indicates the gate rejected the prompt for
	// lack of credits.
	KindInsufficientCredits ErrorKind = "insufficient_credits"

	// KindValidation indicates malformed client input.
	KindValidation ErrorKind = "validation_error"

	// KindPermission indicates an operation the agent is not allowed to do
	// (restricted tool, unspawnable agent).
	KindPermission ErrorKind = "permission_error"

	// KindProvider indicates an upstream LLM failure.
	KindProvider ErrorKind = "provider_error"

	// KindAbort indicates deliberate cancellation.
	KindAbort ErrorKind = "abort"

	// KindInternal indicates an unexpected server fault.
	KindInternal ErrorKind = "internal_error"
)

// IsRetryable reports whether the kind suggests retrying may succeed.
// Only upstream provider failures qualify.
func (k ErrorKind) IsRetryable() bool {
	return k == KindProvider
}

// RunError is a structured failure from a prompt run, categorized for the
// prompt-error action sent to the client.
type RunError struct {
	// Kind categorizes the error
	Kind ErrorKind

	// AgentID is the agent instance that failed, when known
	AgentID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.AgentID != "" {
		parts = append(parts, e.AgentID)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// NewRunError creates a RunError, inferring the kind from the cause.
func NewRunError(cause error) *RunError {
	err := &RunError{Kind: KindInternal, Cause: cause}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = classifyRunError(cause)
	}
	return err
}

// WithKind overrides the inferred kind.
func (e *RunError) WithKind(k ErrorKind) *RunError {
	e.Kind = k
	return e
}

// WithAgentID tags the error with the failing agent instance.
func (e *RunError) WithAgentID(id string) *RunError {
	e.AgentID = id
	return e
}

// WithMessage sets a custom human-readable message.
func (e *RunError) WithMessage(msg string) *RunError {
	e.Message = msg
	return e
}

// Validationf builds a validation error from a format string.
func Validationf(format string, args ...any) *RunError {
	return &RunError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Permissionf builds a permission error from a format string.
func Permissionf(format string, args ...any) *RunError {
	return &RunError{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// classifyRunError determines the error kind from the error content.
func classifyRunError(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}

	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}

	if errors.Is(err, ErrPromptCancelled) {
		return KindAbort
	}
	if errors.Is(err, ErrEmptyPrompt) {
		return KindValidation
	}
	if errors.Is(err, ErrNoProvider) {
		return KindInternal
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "cancelled") {
		return KindAbort
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid token") ||
		strings.Contains(errStr, "auth") && strings.Contains(errStr, "token") {
		return KindAuth
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "503") {
		return KindProvider
	}

	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") {
		return KindValidation
	}

	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "not allowed") {
		return KindPermission
	}

	return KindInternal
}

// GetRunError extracts a RunError from an error chain.
func GetRunError(err error) (*RunError, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return nil, false
}

// KindOf returns the kind of an arbitrary error, classifying plain errors.
func KindOf(err error) ErrorKind {
	if runErr, ok := GetRunError(err); ok {
		return runErr.Kind
	}
	return classifyRunError(err)
}
