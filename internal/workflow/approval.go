// Package workflow contains Temporal workflow definitions.
//
// approval.go implements the approval gate: classifying tool calls into
// auto-run, needs-approval, and forbidden before dispatch.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/sessionforge/agentcore/internal/execpolicy"
	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/tools"
)

// ApprovalGate classifies tool calls against the session's approval mode and
// exec policy rules. Built once per turn.
type ApprovalGate struct {
	mode      models.ApprovalMode
	policyMgr *execpolicy.ExecPolicyManager
}

// NewApprovalGate builds a gate for the given mode, parsing policy rules when
// present. Unparseable rules degrade to heuristic classification.
func NewApprovalGate(mode models.ApprovalMode, policyRules string) *ApprovalGate {
	gate := &ApprovalGate{mode: mode}
	if policyRules != "" {
		if mgr, err := execpolicy.LoadExecPolicyFromSource(policyRules); err == nil {
			gate.policyMgr = mgr
		}
	}
	return gate
}

// Classify splits function calls into those needing user approval and those
// forbidden outright (returned as ready-to-record failure outputs).
func (g *ApprovalGate) Classify(functionCalls []models.ConversationItem) (pending []PendingApproval, forbidden []models.ConversationItem) {
	// Empty/unset mode or "never" auto-approves everything.
	if g.mode == "" || g.mode == models.ApprovalNever {
		return nil, nil
	}

	for _, fc := range functionCalls {
		req, reason := g.evaluate(fc.Name, fc.Arguments)
		switch req {
		case tools.ApprovalSkip:
			continue
		case tools.ApprovalNeeded:
			pending = append(pending, PendingApproval{
				CallID:    fc.CallID,
				ToolName:  fc.Name,
				Arguments: fc.Arguments,
				Reason:    reason,
			})
		case tools.ApprovalForbidden:
			falseVal := false
			msg := "This command is forbidden by exec policy."
			if reason != "" {
				msg = fmt.Sprintf("Forbidden: %s", reason)
			}
			forbidden = append(forbidden, models.ConversationItem{
				Type:   models.ItemTypeFunctionCallOutput,
				CallID: fc.CallID,
				Output: &models.FunctionCallOutputPayload{
					Content: msg,
					Success: &falseVal,
				},
			})
		}
	}
	return pending, forbidden
}

// evaluate determines the approval requirement for a single tool call.
func (g *ApprovalGate) evaluate(toolName, arguments string) (tools.ExecApprovalRequirement, string) {
	switch toolName {
	case "read_file", "list_dir", "grep_files", "request_user_input", "update_plan":
		return tools.ApprovalSkip, "" // Read-only / workflow-intercepted tools always safe

	case "shell", "shell_command", "exec_command", "write_stdin":
		return g.evaluateShell(arguments)

	case "write_file", "apply_patch":
		if g.mode == models.ApprovalOnFailure {
			return tools.ApprovalSkip, "" // runs in sandbox; failures escalate
		}
		return tools.ApprovalNeeded, "mutating file operation"

	default:
		if isCollabToolCall(toolName) {
			return tools.ApprovalSkip, "" // workflow-managed child agents
		}
		if g.mode == models.ApprovalAlwaysAsk {
			return tools.ApprovalNeeded, "approval required for every tool"
		}
		return tools.ApprovalNeeded, "unknown tool"
	}
}

// evaluateShell runs a shell-family call through the exec policy engine,
// falling back to the command-safety heuristic.
func (g *ApprovalGate) evaluateShell(arguments string) (tools.ExecApprovalRequirement, string) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return tools.ApprovalNeeded, "cannot parse arguments"
	}
	cmd, _ := args["command"].(string)
	if cmd == "" {
		cmd, _ = args["cmd"].(string)
	}
	if cmd == "" {
		// write_stdin and friends carry no command; they extend an already
		// approved session.
		if _, ok := args["session_id"]; ok {
			return tools.ApprovalSkip, ""
		}
		return tools.ApprovalNeeded, "missing command"
	}

	// Escalated-permission requests are gated on a stated justification.
	if escalated, _ := args["escalated_permissions"].(bool); escalated {
		justification, _ := args["justification"].(string)
		if justification == "" {
			return tools.ApprovalNeeded, "escalated permissions requested without justification"
		}
		return tools.ApprovalNeeded, justification
	}

	if g.mode == models.ApprovalAlwaysAsk {
		return tools.ApprovalNeeded, "approval required for every tool"
	}

	// Read/search/list invocations never mutate; only Run executions go
	// through the policy engine.
	if classifyExecKind(cmd) != ExecKindRun {
		return tools.ApprovalSkip, ""
	}

	// Use exec policy if available
	if g.policyMgr != nil {
		eval := g.policyMgr.GetEvaluation([]string{"bash", "-c", cmd}, string(g.mode))
		return decisionToApprovalReq(eval.Decision), eval.Justification
	}

	// Fallback heuristics by mode.
	if g.mode == models.ApprovalNever || g.mode == "" {
		return tools.ApprovalSkip, ""
	}
	if g.mode == models.ApprovalOnFailure {
		return tools.ApprovalSkip, "" // runs in sandbox
	}
	// unless-trusted / on-request: use command_safety heuristic
	mgr := execpolicy.NewExecPolicyManager(execpolicy.NewPolicy())
	return mgr.EvaluateShellCommand(cmd, string(g.mode)), ""
}

// ApplyDecision filters function calls based on the approval response.
// Returns approved calls and denied result items for history.
func (g *ApprovalGate) ApplyDecision(functionCalls []models.ConversationItem, resp *ApprovalResponse) ([]models.ConversationItem, []models.ConversationItem) {
	if resp == nil {
		return functionCalls, nil
	}

	deniedSet := make(map[string]bool, len(resp.Denied))
	for _, id := range resp.Denied {
		deniedSet[id] = true
	}

	var approved []models.ConversationItem
	var denied []models.ConversationItem

	for _, fc := range functionCalls {
		if deniedSet[fc.CallID] {
			falseVal := false
			denied = append(denied, models.ConversationItem{
				Type:   models.ItemTypeFunctionCallOutput,
				CallID: fc.CallID,
				Output: &models.FunctionCallOutputPayload{
					Content: "User denied execution of this tool call.",
					Success: &falseVal,
				},
			})
		} else {
			approved = append(approved, fc)
		}
	}

	return approved, denied
}

// decisionToApprovalReq maps a policy Decision to ExecApprovalRequirement.
func decisionToApprovalReq(d execpolicy.Decision) tools.ExecApprovalRequirement {
	switch d {
	case execpolicy.DecisionAllow:
		return tools.ApprovalSkip
	case execpolicy.DecisionPrompt:
		return tools.ApprovalNeeded
	case execpolicy.DecisionForbidden:
		return tools.ApprovalForbidden
	default:
		return tools.ApprovalNeeded
	}
}
