package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"

	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/tools"
)

// ToolActivityInput is the input for tool execution.
//
type ToolActivityInput struct {
	CallID    string                 `json:"call_id"`
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`

	// Cwd is the session working directory for tool execution.
	Cwd string `json:"cwd,omitempty"`

	// SessionID identifies the workflow session (MCP store lookup, exec
	// session routing).
	SessionID string `json:"session_id,omitempty"`

	// SandboxPolicy, when set, restricts the child's execution environment.
	SandboxPolicy *tools.SandboxPolicyRef `json:"sandbox_policy,omitempty"`

	// EnvPolicy, when set, filters the child's environment variables.
	EnvPolicy *tools.EnvPolicyRef `json:"env_policy,omitempty"`

	// McpToolRef routes this call to an MCP server tool.
	McpToolRef *tools.McpToolRef `json:"mcp_tool_ref,omitempty"`
}

// ToolActivityOutput is the output from tool execution.
// Only returned on successful activity completion. Infrastructure errors
// are returned as temporal.ApplicationError (retryable or non-retryable).
//
type ToolActivityOutput struct {
	CallID  string `json:"call_id"`
	Content string `json:"content,omitempty"`
	Success *bool  `json:"success,omitempty"`

	// ExitCode is set for exec-style tools (nil when not applicable; a
	// distinguished value when the command was cancelled).
	ExitCode *int `json:"exit_code,omitempty"`

	// Truncated reports that Content was cut at the output limit.
	Truncated bool `json:"truncated,omitempty"`

	// DurationMs is the handler's wall-clock execution time.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// ToolActivities contains tool-related activities.
type ToolActivities struct {
	registry *tools.ToolRegistry
}

// NewToolActivities creates a new ToolActivities instance.
func NewToolActivities(registry *tools.ToolRegistry) *ToolActivities {
	return &ToolActivities{registry: registry}
}

// mcpHandlerName is the registry key of the MCP dispatch handler.
const mcpHandlerName = "mcp"

// ExecuteTool executes a single tool call.
//
// Error handling:
//   - Tool not found → non-retryable ApplicationError (ToolNotFound)
//   - Handler validation error → non-retryable ApplicationError (ToolValidation)
//   - Handler timeout → non-retryable ApplicationError (ToolTimeout)
//   - Tool runs but fails (e.g., command exits non-zero) → successful return with Success=false
//   - Tool runs successfully → successful return with Success=true
//
func (a *ToolActivities) ExecuteTool(ctx context.Context, input ToolActivityInput) (ToolActivityOutput, error) {
	handlerName := input.ToolName
	if input.McpToolRef != nil {
		handlerName = mcpHandlerName
	}

	handler, err := a.registry.GetHandler(handlerName)
	if err != nil {
		return ToolActivityOutput{}, models.NewToolNotFoundError(input.ToolName)
	}

	invocation := &tools.ToolInvocation{
		CallID:        input.CallID,
		ToolName:      input.ToolName,
		Arguments:     input.Arguments,
		Cwd:           input.Cwd,
		SessionID:     input.SessionID,
		SandboxPolicy: input.SandboxPolicy,
		EnvPolicy:     input.EnvPolicy,
		McpToolRef:    input.McpToolRef,
	}
	if activity.IsActivity(ctx) {
		invocation.Heartbeat = func(details ...interface{}) {
			activity.RecordHeartbeat(ctx, details...)
		}
	}

	output, err := handler.Handle(ctx, invocation)
	if err != nil {
		return ToolActivityOutput{}, classifyHandlerError(input.ToolName, err)
	}

	return ToolActivityOutput{
		CallID:     input.CallID,
		Content:    output.Content,
		Success:    output.Success,
		ExitCode:   output.ExitCode,
		Truncated:  output.Truncated,
		DurationMs: output.DurationMs,
	}, nil
}

// classifyHandlerError converts a handler error into the appropriate
// temporal.ApplicationError based on the error context.
//
// Handler errors are non-retryable by default because they represent
// validation failures (missing args, bad types) or execution issues that
// won't resolve on retry. Handlers wrap genuinely transient failures with
// tools.TransientError so Temporal retries them.
func classifyHandlerError(toolName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewToolTimeoutError(toolName, err)
	}
	if tools.IsTransientError(err) {
		return err // retryable as-is
	}

	// Default: treat handler errors as validation/execution errors (non-retryable).
	// The same invalid input will produce the same error on retry.
	return models.NewToolValidationError(toolName, err)
}
