package models

import "github.com/sessionforge/agentcore/internal/mcp"

// ModelConfig configures the LLM model parameters
//
type ModelConfig struct {
	Provider        string  `json:"provider,omitempty"`         // "openai", "anthropic"
	Model           string  `json:"model"`                      // e.g., "gpt-5.1-codex", "claude-sonnet-4-5"
	Temperature     float64 `json:"temperature"`                // 0.0 to 2.0
	MaxTokens       int     `json:"max_tokens"`                 // Max tokens to generate
	ContextWindow   int     `json:"context_window"`             // Max context window size
	ReasoningEffort string  `json:"reasoning_effort,omitempty"` // "low", "medium", "high"
}

// DefaultModelConfig returns a sensible default configuration
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Provider:      "openai",
		Model:         "gpt-4o-mini",
		Temperature:   0.7,
		MaxTokens:     4096,
		ContextWindow: 128000,
	}
}

// ApprovalMode governs whether tool calls auto-run or await a user decision.
type ApprovalMode string

const (
	// ApprovalNever auto-approves every tool call.
	ApprovalNever ApprovalMode = "never"
	// ApprovalOnRequest prompts only when the policy engine asks for it.
	ApprovalOnRequest ApprovalMode = "on-request"
	// ApprovalUnlessTrusted prompts for anything outside the trusted-command set.
	ApprovalUnlessTrusted ApprovalMode = "unless-trusted"
	// ApprovalAlwaysAsk prompts for every tool call.
	ApprovalAlwaysAsk ApprovalMode = "always-ask"
	// ApprovalOnFailure runs sandboxed first and escalates to the user only
	// when a call fails in a way that looks like a sandbox denial.
	ApprovalOnFailure ApprovalMode = "on-failure"
)

// WebSearchMode names a provider-native web search setting. It is passed
// through to LLM requests, but no provider client acts on it.
type WebSearchMode string

const (
	WebSearchOff    WebSearchMode = ""
	WebSearchCached WebSearchMode = "cached"
	WebSearchLive   WebSearchMode = "live"
)

// ShellToolType selects which shell tool surface is exposed to the model.
type ShellToolType string

const (
	// ShellToolDefault exposes the one-shot "shell" tool.
	ShellToolDefault ShellToolType = "default"
	// ShellToolShellCommand exposes the session-based "shell_command" tool
	// (persistent exec sessions with write_stdin support).
	ShellToolShellCommand ShellToolType = "shell_command"
	// ShellToolDisabled exposes no shell tool at all.
	ShellToolDisabled ShellToolType = "disabled"
)

// ToolsConfig configures which tools are enabled
//
type ToolsConfig struct {
	EnableShell      bool          `json:"enable_shell"`
	ShellType        ShellToolType `json:"shell_type,omitempty"`
	EnableReadFile   bool          `json:"enable_read_file"`
	EnableWriteFile  bool          `json:"enable_write_file,omitempty"`  // Built-in write_file tool
	EnableListDir    bool          `json:"enable_list_dir,omitempty"`    // Built-in list_dir tool
	EnableGrepFiles  bool          `json:"enable_grep_files,omitempty"`  // Built-in grep_files tool
	EnableApplyPatch bool          `json:"enable_apply_patch,omitempty"` // Built-in apply_patch tool
	EnableUpdatePlan bool          `json:"enable_update_plan,omitempty"` // Workflow-intercepted update_plan tool
	EnableCollab     bool          `json:"enable_collab,omitempty"`      // Subagent collaboration tools
}

// ResolvedShellType returns the effective shell tool type, honoring both the
// legacy EnableShell boolean and the newer ShellType selector.
func (c ToolsConfig) ResolvedShellType() ShellToolType {
	if !c.EnableShell {
		return ShellToolDisabled
	}
	switch c.ShellType {
	case ShellToolShellCommand:
		return ShellToolShellCommand
	case ShellToolDisabled:
		return ShellToolDisabled
	default:
		return ShellToolDefault
	}
}

// DefaultToolsConfig returns default tools configuration
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		EnableShell:      true,
		EnableReadFile:   true,
		EnableWriteFile:  true,
		EnableListDir:    true,
		EnableGrepFiles:  true,
		EnableApplyPatch: true,
		EnableUpdatePlan: true,
		EnableCollab:     true,
	}
}

// SessionConfiguration configures a complete agentic session.
//
type SessionConfiguration struct {
	// Instructions hierarchy (base/developer/user tiers)
	BaseInstructions      string `json:"base_instructions,omitempty"`      // Core system prompt for the model
	DeveloperInstructions string `json:"developer_instructions,omitempty"` // Developer overrides (sent as developer message)
	UserInstructions      string `json:"user_instructions,omitempty"`      // Project docs (AGENTS.md content)

	// Raw instruction sources, merged into the tiers above by the workflow.
	CLIProjectDocs           string `json:"cli_project_docs,omitempty"`
	UserPersonalInstructions string `json:"user_personal_instructions,omitempty"`

	// Model configuration
	Model ModelConfig `json:"model"`

	// Tool configuration
	Tools ToolsConfig `json:"tools"`

	// WebSearchMode is forwarded to LLM requests; no provider client acts on
	// it, so it does not add a web search tool.
	WebSearchMode WebSearchMode `json:"web_search_mode,omitempty"`

	// Execution context
	Cwd string `json:"cwd,omitempty"` // Working directory for tool execution

	// CodeHome is the state root directory (accounts, rollouts, policy rules).
	CodeHome string `json:"code_home,omitempty"`

	// ApprovalMode governs tool approval. Empty means ApprovalNever.
	ApprovalMode ApprovalMode `json:"approval_mode,omitempty"`

	// ExecPolicyRules is the serialized exec policy rule source.
	ExecPolicyRules string `json:"exec_policy_rules,omitempty"`

	// Sandbox policy for tool child processes.
	SandboxMode          string   `json:"sandbox_mode,omitempty"` // "full-access", "read-only", "workspace-write"
	SandboxWritableRoots []string `json:"sandbox_writable_roots,omitempty"`
	SandboxNetworkAccess bool     `json:"sandbox_network_access,omitempty"`

	// SessionTaskQueue routes tool/LLM activities to a specific worker
	// (per-session worker affinity in multi-host mode).
	SessionTaskQueue string `json:"session_task_queue,omitempty"`

	// AutoCompactTokenLimit triggers proactive history compaction once the
	// estimated prompt size crosses it. 0 disables proactive compaction.
	AutoCompactTokenLimit int `json:"auto_compact_token_limit,omitempty"`

	// McpServers configures MCP servers whose tools are exposed to the model.
	McpServers map[string]mcp.McpServerConfig `json:"mcp_servers,omitempty"`

	// Account / rate-limit arbitration.
	ActiveAccountID     string `json:"active_account_id,omitempty"`
	AllowAPIKeyFallback bool   `json:"allow_api_key_fallback,omitempty"`

	// RolloutPersistence enables the per-session rollout log.
	RolloutPersistence bool `json:"rollout_persistence,omitempty"`

	// DisableSuggestions disables post-turn prompt suggestion generation.
	DisableSuggestions bool `json:"disable_suggestions,omitempty"`

	// Session metadata
	SessionSource string `json:"session_source,omitempty"` // "cli", "api", "exec" — for logging/tracking
}

// DefaultSessionConfiguration returns sensible defaults.
func DefaultSessionConfiguration() SessionConfiguration {
	return SessionConfiguration{
		Model: DefaultModelConfig(),
		Tools: DefaultToolsConfig(),
	}
}
