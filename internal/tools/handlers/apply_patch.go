package handlers

import (
	"context"
	"os"

	"github.com/sessionforge/agentcore/internal/tools"
	"github.com/sessionforge/agentcore/internal/tools/patch"
)

// ApplyPatchTool applies structured file patches.
//
type ApplyPatchTool struct{}

// NewApplyPatchTool creates a new apply_patch tool handler.
func NewApplyPatchTool() *ApplyPatchTool {
	return &ApplyPatchTool{}
}

// Name returns the tool's name.
func (t *ApplyPatchTool) Name() string {
	return "apply_patch"
}

// Kind returns ToolKindFunction.
func (t *ApplyPatchTool) Kind() tools.ToolKind {
	return tools.ToolKindFunction
}

// IsMutating returns true - apply_patch always modifies the environment.
//
func (t *ApplyPatchTool) IsMutating(invocation *tools.ToolInvocation) bool {
	return true
}

// Handle parses the patch from the "input" argument and applies it to the filesystem.
//
func (t *ApplyPatchTool) Handle(_ context.Context, invocation *tools.ToolInvocation) (*tools.ToolOutput, error) {
	inputArg, ok := invocation.Arguments["input"]
	if !ok {
		return nil, tools.NewValidationError("missing required argument: input")
	}

	input, ok := inputArg.(string)
	if !ok {
		return nil, tools.NewValidationError("input must be a string")
	}

	if input == "" {
		return nil, tools.NewValidationError("input cannot be empty")
	}

	// Resolve relative paths against the session cwd, falling back to the
	// worker's working directory.
	cwd := invocation.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			success := false
			return &tools.ToolOutput{
				Content: "Failed to determine working directory: " + err.Error(),
				Success: &success,
			}, nil
		}
		cwd = wd
	}

	// Classify before applying so the record title reflects the proposed
	// change even when apply fails.
	title := "Updated"
	if parsed, parseErr := patch.Parse(input); parseErr == nil {
		title = patch.ResolveTitle(parsed)
	}

	result, err := patch.Apply(input, cwd)
	if err != nil {
		success := false
		return &tools.ToolOutput{
			Content: err.Error(),
			Success: &success,
		}, nil
	}

	success := true
	return &tools.ToolOutput{
		Content: title + "\n" + result,
		Success: &success,
	}, nil
}
