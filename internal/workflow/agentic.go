// Package workflow contains Temporal workflow definitions.
//
// agentic.go holds the workflow entry points and the outer multi-turn loop;
// the per-turn LLM/tool pipeline lives in turn.go.
package workflow

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/sessionforge/agentcore/internal/history"
	"github.com/sessionforge/agentcore/internal/instructions"
	"github.com/sessionforge/agentcore/internal/models"
)

// IdleTimeout is how long the workflow waits for user input before triggering ContinueAsNew.
const IdleTimeout = 24 * time.Hour

// maxIterationsBeforeCAN is the total iteration count across all turns in a
// single workflow run before triggering ContinueAsNew to keep history bounded.
const maxIterationsBeforeCAN = 100

// maxRepeatToolCalls is the number of consecutive identical tool call batches
// before the turn is ended early to prevent tight loops.
const maxRepeatToolCalls = 3

// AgenticWorkflow is the main durable agentic loop.
//
func AgenticWorkflow(ctx workflow.Context, input WorkflowInput) (WorkflowResult, error) {
	state := SessionState{
		ConversationID:  input.ConversationID,
		History:         history.NewInMemoryHistory(),
		Config:          input.Config,
		MaxIterations:   20,
		IterationCount:  0,
		ActiveAccountID: input.Config.ActiveAccountID,
		AgentCtl:        NewAgentControl(input.Depth),
	}

	// Resolve the model profile, then build tool specs under it.
	state.resolveProfile()
	state.ToolSpecs = buildToolSpecs(input.Config.Tools, state.ResolvedProfile)

	// Instructions and exec policy may arrive pre-assembled (harness mode);
	// otherwise load them from the worker filesystem.
	if state.Config.BaseInstructions == "" {
		state.resolveInstructions(ctx)
	}
	state.ExecPolicyRules = input.Config.ExecPolicyRules
	if state.ExecPolicyRules == "" {
		state.loadExecPolicy(ctx)
	}

	// Connect MCP servers and merge their discovered tools.
	if err := state.initMcpServers(ctx); err != nil {
		workflow.GetLogger(ctx).Warn("MCP initialization failed, continuing without MCP tools", "error", err)
	}

	ctrl := NewLoopControl()

	// Seed the first turn.
	turnID := state.nextTurnID()
	if err := state.History.AddItem(models.ConversationItem{
		Type:   models.ItemTypeTurnStarted,
		TurnID: turnID,
	}); err != nil {
		return WorkflowResult{}, fmt.Errorf("failed to add turn started: %w", err)
	}

	// Add environment context as the first user message
	if state.Config.Cwd != "" {
		envCtx := instructions.BuildEnvironmentContext(state.Config.Cwd, "")
		if err := state.History.AddItem(models.ConversationItem{
			Type:    models.ItemTypeUserMessage,
			Content: envCtx,
			TurnID:  turnID,
		}); err != nil {
			return WorkflowResult{}, fmt.Errorf("failed to add environment context: %w", err)
		}
	}

	if err := state.History.AddItem(models.ConversationItem{
		Type:    models.ItemTypeUserMessage,
		Content: input.UserMessage,
		TurnID:  turnID,
	}); err != nil {
		return WorkflowResult{}, fmt.Errorf("failed to add user message: %w", err)
	}

	ctrl.SetPendingUserInput(turnID)

	state.registerHandlers(ctx, ctrl)
	return state.runMultiTurnLoop(ctx, ctrl)
}

// AgenticWorkflowContinued handles ContinueAsNew.
func AgenticWorkflowContinued(ctx workflow.Context, state SessionState) (WorkflowResult, error) {
	// Restore History interface from serialized HistoryItems
	state.initHistory()
	if state.AgentCtl != nil && state.AgentCtl.childFutures == nil {
		state.AgentCtl.childFutures = make(map[string]workflow.ChildWorkflowFuture)
	}
	ctrl := NewLoopControl()
	// Re-register handlers after ContinueAsNew
	state.registerHandlers(ctx, ctrl)
	return state.runMultiTurnLoop(ctx, ctrl)
}

// runMultiTurnLoop is the outer loop that waits for user input between turns.
func (s *SessionState) runMultiTurnLoop(ctx workflow.Context, ctrl *LoopControl) (WorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	s.ctrl = ctrl

	for {
		// Wait for pending user input (first turn has it set already)
		if !ctrl.HasPendingWork() {
			ctrl.SetPhase(PhaseWaitingForInput)
			ctrl.ClearToolsInFlight()
			logger.Info("Waiting for user input or shutdown")
			timedOut, err := ctrl.WaitForInput(ctx)
			if err != nil {
				return WorkflowResult{}, fmt.Errorf("await failed: %w", err)
			}
			if timedOut {
				logger.Info("Idle timeout reached, triggering ContinueAsNew")
				return s.continueAsNew(ctx, ctrl)
			}
		}

		// Check for shutdown
		if ctrl.IsShutdown() {
			logger.Info("Shutdown requested, completing workflow")
			return s.completeWorkflow(ctx, ctrl)
		}

		// Manual compaction request (no new turn)
		if ctrl.IsCompactRequested() {
			ctrl.ClearCompactRequested()
			if err := s.performCompaction(ctx, ctrl); err != nil {
				logger.Warn("Manual compaction failed", "error", err)
			}
			ctrl.SetPhase(PhaseWaitingForInput)
			continue
		}

		// Reset for new turn
		ctrl.StartTurn()
		s.IterationCount = 0

		// Run the agentic turn
		done, err := s.runAgenticTurn(ctx, ctrl)
		if err != nil {
			return WorkflowResult{}, err
		}

		if done {
			// ContinueAsNew was triggered
			return s.continueAsNew(ctx, ctrl)
		}

		// Accumulate iterations for CAN threshold across turns.
		s.TotalIterationsForCAN += s.IterationCount
		if s.TotalIterationsForCAN >= maxIterationsBeforeCAN {
			logger.Info("Total iterations across turns reached CAN threshold",
				"total", s.TotalIterationsForCAN)
			return s.continueAsNew(ctx, ctrl)
		}

		// Turn complete — add TurnComplete marker (unless interrupted, which already added it)
		if !ctrl.IsInterrupted() {
			_ = s.History.AddItem(models.ConversationItem{
				Type:   models.ItemTypeTurnComplete,
				TurnID: ctrl.CurrentTurnID(),
			})
			ctrl.NotifyItemAdded()
		}

		// Best-effort post-turn prompt suggestion.
		if !s.Config.DisableSuggestions && !ctrl.IsShutdown() {
			s.generateSuggestion(ctx, ctrl)
		}

		ctrl.SetPhase(PhaseWaitingForInput)
		ctrl.ClearToolsInFlight()
		logger.Info("Turn complete, waiting for next input", "turn_id", ctrl.CurrentTurnID())
	}
}

// completeWorkflow drains handlers and returns the final result.
func (s *SessionState) completeWorkflow(ctx workflow.Context, ctrl *LoopControl) (WorkflowResult, error) {
	ctrl.SetDraining()
	_ = workflow.Await(ctx, func() bool {
		return workflow.AllHandlersFinished(ctx)
	})

	items, _ := s.History.GetRawItems()
	return WorkflowResult{
		ConversationID:    s.ConversationID,
		TotalIterations:   s.IterationCount,
		TotalTokens:       s.TotalTokens,
		ToolCallsExecuted: s.ToolCallsExecuted,
		EndReason:         "shutdown",
		FinalMessage:      extractFinalMessage(items),
	}, nil
}

// awaitWithIdleTimeout waits for condition or idle timeout.
// Returns (timedOut, error).
func awaitWithIdleTimeout(ctx workflow.Context, condition func() bool) (bool, error) {
	ok, err := workflow.AwaitWithTimeout(ctx, IdleTimeout, condition)
	if err != nil {
		return false, err
	}
	return !ok, nil // ok=false means timed out
}

// continueAsNew prepares state and triggers ContinueAsNew.
func (s *SessionState) continueAsNew(ctx workflow.Context, ctrl *LoopControl) (WorkflowResult, error) {
	ctrl.SetDraining()
	// Wait for all update handlers to finish before ContinueAsNew
	_ = workflow.Await(ctx, func() bool {
		return workflow.AllHandlersFinished(ctx)
	})

	s.syncHistoryItems()
	return WorkflowResult{}, workflow.NewContinueAsNewError(ctx, "AgenticWorkflowContinued", *s)
}

// truncate returns s truncated to n bytes with "..." appended if it was longer.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// toolCallsKey produces a deterministic hash for a batch of tool calls
// based on tool names and arguments, used for repeat detection.
func toolCallsKey(calls []models.ConversationItem) string {
	// Build a sorted list of "name:args" strings for deterministic ordering.
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = c.Name + ":" + c.Arguments
	}
	sort.Strings(parts)
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// toInt64 converts a JSON-decoded number (float64) to int64.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
