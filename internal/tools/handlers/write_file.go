package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sessionforge/agentcore/internal/tools"
)

// WriteFileTool creates or overwrites a file with the given content.
//
type WriteFileTool struct{}

// NewWriteFileTool creates a new write_file tool handler.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// Name returns the tool's name.
func (t *WriteFileTool) Name() string {
	return "write_file"
}

// Kind returns ToolKindFunction.
func (t *WriteFileTool) Kind() tools.ToolKind {
	return tools.ToolKindFunction
}

// IsMutating returns true - write_file always modifies the environment.
func (t *WriteFileTool) IsMutating(invocation *tools.ToolInvocation) bool {
	return true
}

// Handle writes content to the given path, creating parent directories as
// needed. Relative paths resolve against the session cwd.
func (t *WriteFileTool) Handle(_ context.Context, invocation *tools.ToolInvocation) (*tools.ToolOutput, error) {
	pathArg, ok := invocation.Arguments["path"].(string)
	if !ok || pathArg == "" {
		return nil, tools.NewValidationError("missing required argument: path")
	}
	content, ok := invocation.Arguments["content"].(string)
	if !ok {
		return nil, tools.NewValidationError("missing required argument: content")
	}

	path := pathArg
	if !filepath.IsAbs(path) && invocation.Cwd != "" {
		path = filepath.Join(invocation.Cwd, path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			success := false
			return &tools.ToolOutput{
				Content: fmt.Sprintf("Failed to create parent directories for %s: %v", pathArg, err),
				Success: &success,
			}, nil
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		success := false
		return &tools.ToolOutput{
			Content: fmt.Sprintf("Failed to write %s: %v", pathArg, err),
			Success: &success,
		}, nil
	}

	success := true
	return &tools.ToolOutput{
		Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), pathArg),
		Success: &success,
	}, nil
}
