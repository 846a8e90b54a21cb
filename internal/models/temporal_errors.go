package models

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
)

// ApplicationError type strings used for cross-boundary error classification.
// Workflows switch on temporal.ApplicationError.Type(); these constants are
// the single source of truth for the wire-level type names.
const (
	LLMErrTypeContextOverflow = "LLMContextOverflow"
	LLMErrTypeAPILimit        = "LLMAPILimit"
	LLMErrTypeUsageLimit      = "LLMUsageLimit"
	LLMErrTypeFatal           = "LLMFatal"

	ToolErrTypeNotFound   = "ToolNotFound"
	ToolErrTypeValidation = "ToolValidation"
	ToolErrTypeTimeout    = "ToolTimeout"
)

// ToolErrorDetails is the structured detail payload attached to tool
// ApplicationErrors. Workflows read it via ApplicationError.Details rather
// than parsing the error message.
type ToolErrorDetails struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// RateLimitErrorDetails carries parsed rate-limit metadata on LLMErrTypeAPILimit
// and LLMErrTypeUsageLimit errors. BlockedUntilUnix is 0 when the provider did
// not report a reset time.
type RateLimitErrorDetails struct {
	AccountID        string `json:"account_id,omitempty"`
	BlockedUntilUnix int64  `json:"blocked_until_unix,omitempty"`
}

// WrapActivityError converts an ActivityError into a temporal.ApplicationError
// with the matching type string and retryability, so the workflow can classify
// it without depending on provider-specific error shapes.
func WrapActivityError(err *ActivityError) error {
	var typeName string
	switch err.Type {
	case ErrorTypeContextOverflow:
		typeName = LLMErrTypeContextOverflow
	case ErrorTypeAPILimit:
		typeName = LLMErrTypeAPILimit
	case ErrorTypeFatal:
		typeName = LLMErrTypeFatal
	case ErrorTypeToolFailure:
		typeName = ToolErrTypeValidation
	default:
		typeName = "Transient"
	}

	opts := temporal.ApplicationErrorOptions{
		NonRetryable: !err.Retryable,
	}
	if len(err.Details) > 0 {
		opts.Details = []interface{}{err.Details}
	}
	if err.RateLimit != nil {
		opts.Details = []interface{}{*err.RateLimit}
	}
	return temporal.NewApplicationErrorWithOptions(err.Message, typeName, opts)
}

// NewToolNotFoundError reports a tool name with no registered handler.
// Non-retryable: the same name will fail on every attempt.
func NewToolNotFoundError(toolName string) error {
	return temporal.NewApplicationErrorWithOptions(
		fmt.Sprintf("tool not found: %s", toolName),
		ToolErrTypeNotFound,
		temporal.ApplicationErrorOptions{
			NonRetryable: true,
			Details:      []interface{}{ToolErrorDetails{ToolName: toolName, Reason: fmt.Sprintf("no handler registered for %q", toolName)}},
		},
	)
}

// NewToolValidationError reports invalid tool arguments or a handler failure
// that will not resolve on retry.
func NewToolValidationError(toolName string, cause error) error {
	return temporal.NewApplicationErrorWithOptions(
		fmt.Sprintf("tool %s failed: %v", toolName, cause),
		ToolErrTypeValidation,
		temporal.ApplicationErrorOptions{
			NonRetryable: true,
			Details:      []interface{}{ToolErrorDetails{ToolName: toolName, Reason: cause.Error()}},
		},
	)
}

// NewToolTimeoutError reports a tool that exceeded its execution deadline.
func NewToolTimeoutError(toolName string, cause error) error {
	return temporal.NewApplicationErrorWithOptions(
		fmt.Sprintf("tool %s timed out: %v", toolName, cause),
		ToolErrTypeTimeout,
		temporal.ApplicationErrorOptions{
			NonRetryable: true,
			Details:      []interface{}{ToolErrorDetails{ToolName: toolName, Reason: "tool execution timed out"}},
		},
	)
}
