// Package workflow contains Temporal workflow definitions.
//
// turn.go implements the single-turn agentic loop (LLM + tool execution).
// The main function runAgenticTurn delegates to focused sub-methods.
//
package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sessionforge/agentcore/internal/activities"
	"github.com/sessionforge/agentcore/internal/auth"
	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/rollout"
	"github.com/sessionforge/agentcore/internal/tools"
)

// runAgenticTurn runs a single agentic turn (LLM + tool loop).
// Returns (needsContinueAsNew, error).
//
func (s *SessionState) runAgenticTurn(ctx workflow.Context, ctrl *LoopControl) (bool, error) {
	logger := workflow.GetLogger(ctx)
	s.compactedThisTurn = false
	gate := NewApprovalGate(s.Config.ApprovalMode, s.ExecPolicyRules)
	executor := NewToolExecutor(s.ToolSpecs, s.Config.Cwd, s.Config.SessionTaskQueue, s.ConversationID, s.McpToolLookup, s.sandboxPolicyRef())

	// New turn: event_seq restarts at 0 with task_started, and the HTTP
	// attempt ordinal restarts so OrderMeta reflects attempts within this
	// turn only.
	s.RequestOrdinal = 0
	s.turnUsage = models.TokenUsage{}
	s.emitEvent(ctx, ctrl, Event{Type: rollout.EventTaskStarted})

	for s.IterationCount < s.MaxIterations {
		if ctrl.IsInterrupted() {
			logger.Info("Turn interrupted")
			s.emitTurnAborted(ctx, ctrl, "interrupted")
			return false, nil
		}
		logger.Info("Starting iteration", "iteration", s.IterationCount, "turn_id", ctrl.CurrentTurnID())

		s.maybeCompactBeforeLLM(ctx, ctrl)

		llmResult, err := s.callLLM(ctx, ctrl)
		if err != nil {
			action, handleErr := s.handleLLMError(ctx, ctrl, err)
			if handleErr != nil {
				return false, handleErr
			}
			switch action {
			case llmRetry:
				continue
			case llmContinueAsNew:
				return true, nil
			default:
				return false, nil
			}
		}
		if ctrl.IsInterrupted() {
			logger.Info("Turn interrupted after LLM call")
			s.emitTurnAborted(ctx, ctrl, "interrupted")
			return false, nil
		}

		s.recordLLMResponse(ctx, ctrl, llmResult)

		calls := extractFunctionCalls(llmResult.Items)
		calls, hadIntercepted, err := s.dispatchInterceptedCalls(ctx, ctrl, calls)
		if err != nil {
			return false, err
		}
		if hadIntercepted && len(calls) == 0 {
			if ctrl.IsInterrupted() || ctrl.IsShutdown() {
				return false, nil
			}
			s.IterationCount++
			continue
		}

		if len(calls) > 0 {
			if s.detectRepeatedToolCalls(calls) {
				logger.Warn("Detected repeated identical tool calls", "repeat_count", s.repeatCount)
				_ = s.History.AddItem(models.ConversationItem{
					Type:    models.ItemTypeAssistantMessage,
					Content: "[Turn ended: detected repeated identical tool calls. Please try a different approach.]",
				})
				ctrl.NotifyItemAdded()
				return false, nil
			}
			allDenied, execErr := s.approveAndExecuteTools(ctx, ctrl, gate, executor, calls)
			if execErr != nil {
				return false, execErr
			}
			if allDenied {
				return false, nil
			}
			if ctrl.IsInterrupted() {
				logger.Info("Turn interrupted after tool execution")
				s.emitTurnAborted(ctx, ctrl, "interrupted")
				return false, nil
			}
			s.IterationCount++
			continue
		}

		// No tool calls — check finish reason
		if llmResult.FinishReason == models.FinishReasonStop {
			logger.Info("Turn completed", "iterations", s.IterationCount, "turn_id", ctrl.CurrentTurnID())
			s.finishTurn(ctx, ctrl)
			return false, nil
		}
		s.IterationCount++
		s.finishTurn(ctx, ctrl)
		return false, nil
	}

	// Max iterations reached
	logger.Warn("Max iterations per turn reached", "iterations", s.IterationCount)
	_ = s.History.AddItem(models.ConversationItem{
		Type:    models.ItemTypeAssistantMessage,
		Content: fmt.Sprintf("[Turn ended: reached maximum of %d iterations without completing. The task may need to be broken into smaller steps.]", s.MaxIterations),
	})
	ctrl.NotifyItemAdded()
	s.finishTurn(ctx, ctrl)
	return false, nil
}

// finishTurn emits task_complete, folds the turn's usage into SessionMetrics,
// and arms the loop-detection warning for the next turn.
func (s *SessionState) finishTurn(ctx workflow.Context, ctrl *LoopControl) {
	items, _ := s.History.GetRawItems()
	s.emitEvent(ctx, ctrl, Event{
		Type:             rollout.EventTaskComplete,
		LastAgentMessage: extractFinalMessage(items),
	})

	s.Metrics.RecordTurn(s.turnUsage)
	if warning := s.Metrics.LoopDetectionWarning(); warning != "" {
		s.PendingLoopWarning = warning
	}
}

// emitTurnAborted emits the terminal turn_aborted event.
func (s *SessionState) emitTurnAborted(ctx workflow.Context, ctrl *LoopControl, reason string) {
	s.emitEvent(ctx, ctrl, Event{Type: rollout.EventTurnAborted, Message: reason})
}

// sandboxPolicyRef derives the serializable sandbox policy for tool activities.
func (s *SessionState) sandboxPolicyRef() *tools.SandboxPolicyRef {
	if s.Config.SandboxMode == "" {
		return nil
	}
	return &tools.SandboxPolicyRef{
		Mode:          s.Config.SandboxMode,
		WritableRoots: s.Config.SandboxWritableRoots,
		NetworkAccess: s.Config.SandboxNetworkAccess,
	}
}

// effectiveAutoCompactLimit returns the auto-compact token limit, clamped to
// 90% of the context window. This prevents the configured limit from exceeding
// the model's actual context capacity (important after a model switch to a
// smaller context window).
func (s *SessionState) effectiveAutoCompactLimit() int {
	configured := s.Config.AutoCompactTokenLimit
	if configured <= 0 {
		return 0
	}
	contextLimit := s.Config.Model.ContextWindow * 9 / 10
	if contextLimit > 0 && contextLimit < configured {
		return contextLimit
	}
	return configured
}

// maybeCompactBeforeLLM performs proactive compaction if history exceeds the
// effective token limit. Also handles model-switch awareness: injects a
// developer message about the switch and triggers compaction if needed.
func (s *SessionState) maybeCompactBeforeLLM(ctx workflow.Context, ctrl *LoopControl) {
	if s.compactedThisTurn {
		return
	}

	limit := s.effectiveAutoCompactLimit()
	logger := workflow.GetLogger(ctx)

	if s.modelSwitched {
		// Consume the flag so it fires only once.
		s.modelSwitched = false

		// Inject a developer message so the new model knows about the switch.
		switchMsg := fmt.Sprintf("<model_switch>\nThe user switched from model %q to %q "+
			"(context window: %d tokens). Continue the conversation seamlessly.\n</model_switch>",
			s.PreviousModel, s.Config.Model.Model, s.Config.Model.ContextWindow)
		_ = s.History.AddItem(models.ConversationItem{
			Type:    models.ItemTypeModelSwitch,
			Content: switchMsg,
		})
		ctrl.NotifyItemAdded()
		// Reset incremental sends since we modified the history.
		s.lastSentHistoryLen = 0

		// Check if compaction is needed after model switch.
		if limit > 0 {
			estimated, _ := s.History.EstimateTokenCount()
			if estimated >= limit {
				logger.Info("Model-switch compaction triggered",
					"estimated_tokens", estimated,
					"limit", limit,
					"previous_model", s.PreviousModel,
					"new_model", s.Config.Model.Model)
				if err := s.performCompaction(ctx, ctrl); err != nil {
					logger.Warn("Model-switch compaction failed, continuing without", "error", err)
				}
			}
		}
		return
	}

	// Standard proactive compaction check.
	if limit > 0 {
		estimated, _ := s.History.EstimateTokenCount()
		if estimated >= limit {
			logger.Info("Proactive compaction triggered",
				"estimated_tokens", estimated,
				"limit", limit)
			if err := s.performCompaction(ctx, ctrl); err != nil {
				logger.Warn("Proactive compaction failed, continuing without", "error", err)
			}
		}
	}
}

// callLLM prepares incremental history and executes the LLM activity.
// Each call is a fresh HTTP attempt, so the per-turn request ordinal
// increments before the activity is scheduled.
func (s *SessionState) callLLM(ctx workflow.Context, ctrl *LoopControl) (*activities.LLMActivityOutput, error) {
	historyItems, err := s.History.GetForPrompt()
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var inputItems []models.ConversationItem
	var previousResponseID string
	if s.LastResponseID != "" && s.lastSentHistoryLen > 0 && s.lastSentHistoryLen <= len(historyItems) {
		inputItems = historyItems[s.lastSentHistoryLen:]
		previousResponseID = s.LastResponseID
	} else {
		inputItems = historyItems
		previousResponseID = ""
	}

	// Loop-detection guidance rides along as a developer message for this
	// call only; it is not persisted into history.
	developerInstructions := s.Config.DeveloperInstructions
	if s.PendingLoopWarning != "" {
		if developerInstructions != "" {
			developerInstructions += "\n\n"
		}
		developerInstructions += s.PendingLoopWarning
		s.PendingLoopWarning = ""
	}

	llmActivityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	llmCtx := workflow.WithActivityOptions(ctx, llmActivityOptions)

	ctrl.SetPhase(PhaseLLMCalling)
	ctrl.ClearToolsInFlight()

	s.RequestOrdinal++

	llmInput := activities.LLMActivityInput{
		History:               inputItems,
		ModelConfig:           s.Config.Model,
		ToolSpecs:             s.ToolSpecs,
		BaseInstructions:      s.Config.BaseInstructions,
		DeveloperInstructions: developerInstructions,
		UserInstructions:      s.Config.UserInstructions,
		PreviousResponseID:    previousResponseID,
		WebSearchMode:         s.Config.WebSearchMode,
	}

	var llmResult activities.LLMActivityOutput
	err = workflow.ExecuteActivity(llmCtx, "ExecuteLLMCall", llmInput).Get(ctx, &llmResult)
	if err != nil {
		return nil, err
	}
	return &llmResult, nil
}

// llmErrAction tells runAgenticTurn what to do after an LLM error.
type llmErrAction int

const (
	llmEndTurn llmErrAction = iota
	llmRetry
	llmContinueAsNew
)

// handleLLMError classifies and handles LLM errors: context overflow ->
// compact then ContinueAsNew with the smaller history, rate limit -> account
// switch and retry (or surface+end), fatal -> end turn.
func (s *SessionState) handleLLMError(ctx workflow.Context, ctrl *LoopControl, err error) (llmErrAction, error) {
	logger := workflow.GetLogger(ctx)

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch appErr.Type() {
		case models.LLMErrTypeContextOverflow:
			logger.Warn("Context overflow, attempting compaction")
			if compactErr := s.performCompaction(ctx, ctrl); compactErr != nil {
				logger.Warn("Compaction failed, falling back to destructive drop", "error", compactErr)
				turnCount, _ := s.History.GetTurnCount()
				keepTurns := turnCount / 2
				if keepTurns < 2 {
					keepTurns = 2
				}
				s.History.DropOldestUserTurns(keepTurns)
			}
			s.LastResponseID = ""
			s.lastSentHistoryLen = 0
			// Restart on a fresh run so the trimmed history is what the
			// continuation replays.
			return llmContinueAsNew, nil

		case models.LLMErrTypeAPILimit, models.LLMErrTypeUsageLimit:
			var details models.RateLimitErrorDetails
			if appErr.HasDetails() {
				_ = appErr.Details(&details)
			}
			switched, switchErr := s.switchAccountOnRateLimit(ctx, ctrl, details)
			if switchErr != nil {
				logger.Warn("Account switch failed", "error", switchErr)
			}
			if switched {
				return llmRetry, nil // fresh HTTP attempt on the new account
			}
			// No usable account: surface the rate limit and end the turn.
			logger.Warn("Rate limited with no account to switch to, ending turn")
			s.emitEvent(ctx, ctrl, Event{
				Type:        rollout.EventBackgroundEvent,
				Title:       "Rate limited",
				Description: appErr.Message(),
			})
			s.emitTurnAborted(ctx, ctrl, "rate limited")
			_ = s.History.AddItem(models.ConversationItem{
				Type:    models.ItemTypeAssistantMessage,
				Content: fmt.Sprintf("[Error: %s]", appErr.Message()),
				TurnID:  ctrl.CurrentTurnID(),
			})
			ctrl.NotifyItemAdded()
			return llmEndTurn, nil

		case models.LLMErrTypeFatal:
			logger.Error("Fatal LLM error, ending turn", "error", err)
			_ = s.History.AddItem(models.ConversationItem{
				Type:    models.ItemTypeAssistantMessage,
				Content: fmt.Sprintf("[Error: %s]", appErr.Message()),
				TurnID:  ctrl.CurrentTurnID(),
			})
			ctrl.NotifyItemAdded()
			s.emitTurnAborted(ctx, ctrl, "fatal LLM error")
			return llmEndTurn, nil
		}
	}

	// General activity error (timeout, retries exhausted, unknown).
	logger.Error("LLM activity failed, ending turn", "error", err)
	_ = s.History.AddItem(models.ConversationItem{
		Type:    models.ItemTypeAssistantMessage,
		Content: fmt.Sprintf("[Error: LLM call failed: %v]", err),
		TurnID:  ctrl.CurrentTurnID(),
	})
	ctrl.NotifyItemAdded()
	s.emitTurnAborted(ctx, ctrl, "transport error")
	return llmEndTurn, nil
}

// switchAccountOnRateLimit asks the account arbiter for the next usable
// account. Returns true when a switch happened and the call should be
// retried on the new account.
func (s *SessionState) switchAccountOnRateLimit(ctx workflow.Context, ctrl *LoopControl, details models.RateLimitErrorDetails) (bool, error) {
	if s.Config.CodeHome == "" {
		return false, nil // no account store configured
	}

	input := activities.SwitchAccountInput{
		CodeHome:               s.Config.CodeHome,
		CurrentAccountID:       s.ActiveAccountID,
		BlockedUntilUnix:       details.BlockedUntilUnix,
		AllowAPIKeyFallback:    s.Config.AllowAPIKeyFallback,
		TriedAccounts:          s.TriedAccounts,
		LimitedChatGPTAccounts: s.LimitedChatGPTAccounts,
		BlockedUntilByAccount:  s.BlockedUntilByAccount,
	}

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	if s.Config.SessionTaskQueue != "" {
		actOpts.TaskQueue = s.Config.SessionTaskQueue
	}
	actCtx := workflow.WithActivityOptions(ctx, actOpts)

	var out activities.SwitchAccountOutput
	if err := workflow.ExecuteActivity(actCtx, "SwitchAccountOnRateLimit", input).Get(ctx, &out); err != nil {
		return false, err
	}

	// Merge back the arbiter's updated view of this session's switch state.
	s.TriedAccounts = out.TriedAccounts
	s.LimitedChatGPTAccounts = out.LimitedChatGPTAccounts
	s.BlockedUntilByAccount = out.BlockedUntilByAccount

	if out.NewAccountID == "" {
		return false, nil
	}

	previous := s.ActiveAccountID
	s.ActiveAccountID = out.NewAccountID
	s.emitEvent(ctx, ctrl, Event{
		Type:        rollout.EventBackgroundEvent,
		Title:       "Switched account",
		Description: fmt.Sprintf("Rate limited on %q; continuing on %q", previous, out.NewAccountID),
		AccountID:   out.NewAccountID,
	})
	return true, nil
}

// recordLLMResponse adds response items to history, tracks tokens, emits the
// provider-ordered events, and updates the response ID for incremental sends.
func (s *SessionState) recordLLMResponse(ctx workflow.Context, ctrl *LoopControl, result *activities.LLMActivityOutput) {
	logger := workflow.GetLogger(ctx)

	s.TotalTokens += result.TokenUsage.TotalTokens
	s.TotalCachedTokens += result.TokenUsage.CachedTokens
	s.turnUsage.PromptTokens += result.TokenUsage.PromptTokens
	s.turnUsage.CompletionTokens += result.TokenUsage.CompletionTokens
	s.turnUsage.TotalTokens += result.TokenUsage.TotalTokens
	s.turnUsage.CachedTokens += result.TokenUsage.CachedTokens
	s.turnUsage.CacheCreationTokens += result.TokenUsage.CacheCreationTokens
	logger.Info("LLM call completed",
		"tokens", result.TokenUsage.TotalTokens,
		"cached_tokens", result.TokenUsage.CachedTokens,
		"cache_creation_tokens", result.TokenUsage.CacheCreationTokens,
		"finish_reason", result.FinishReason,
		"items", len(result.Items))

	for i, item := range result.Items {
		_ = s.History.AddItem(item)
		ctrl.NotifyItemAdded()

		if item.Type == models.ItemTypeAssistantMessage && item.Content != "" {
			s.emitEvent(ctx, ctrl, Event{
				Type:    rollout.EventAgentMessage,
				Order:   s.orderMetaFor(i),
				Message: item.Content,
			})
		}
	}

	usage := result.TokenUsage
	s.emitEvent(ctx, ctrl, Event{
		Type:       rollout.EventTokenCount,
		Usage:      &usage,
		RateLimits: result.RateLimits,
	})

	if result.RateLimits != nil {
		s.persistRateLimitSnapshot(ctx, ctrl, *result.RateLimits)
	}

	if result.ResponseID != "" {
		s.LastResponseID = result.ResponseID
		allItems, _ := s.History.GetForPrompt()
		s.lastSentHistoryLen = len(allItems)
	}
}

// persistRateLimitSnapshot hands a provider usage snapshot to the account
// store on a detached task. Failures are logged only.
func (s *SessionState) persistRateLimitSnapshot(ctx workflow.Context, ctrl *LoopControl, snap auth.StoredRateLimitSnapshot) {
	if s.Config.CodeHome == "" || s.ActiveAccountID == "" {
		return
	}
	snap.AccountID = s.ActiveAccountID

	input := activities.RecordRateLimitSnapshotInput{
		CodeHome: s.Config.CodeHome,
		Snapshot: snap,
	}
	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	if s.Config.SessionTaskQueue != "" {
		actOpts.TaskQueue = s.Config.SessionTaskQueue
	}
	actCtx := workflow.WithActivityOptions(ctx, actOpts)
	accountID := s.ActiveAccountID
	workflow.Go(ctx, func(gCtx workflow.Context) {
		if err := workflow.ExecuteActivity(actCtx, "RecordRateLimitSnapshot", input).Get(gCtx, nil); err != nil {
			workflow.GetLogger(gCtx).Warn("Rate-limit snapshot write failed", "error", err)
			return
		}
		s.emitEvent(gCtx, ctrl, Event{
			Type:      rollout.EventRateLimitSnapshotStored,
			AccountID: accountID,
		})
	})
}

// dispatchInterceptedCalls processes workflow-handled tool calls
// (request_user_input, update_plan, and collab tools), returning the
// remaining normal calls and whether any were intercepted.
func (s *SessionState) dispatchInterceptedCalls(ctx workflow.Context, ctrl *LoopControl, calls []models.ConversationItem) (remaining []models.ConversationItem, hadIntercepted bool, err error) {
	if len(calls) == 0 {
		return calls, false, nil
	}

	record := func(item models.ConversationItem) error {
		if addErr := s.History.AddItem(item); addErr != nil {
			return fmt.Errorf("failed to add intercepted tool response: %w", addErr)
		}
		ctrl.NotifyItemAdded()
		return nil
	}

	var normalCalls []models.ConversationItem
	for _, fc := range calls {
		switch {
		case fc.Name == "request_user_input":
			hadIntercepted = true
			outputItem, callErr := s.handleRequestUserInput(ctx, ctrl, fc)
			if callErr != nil {
				return nil, hadIntercepted, callErr
			}
			if err := record(outputItem); err != nil {
				return nil, hadIntercepted, err
			}

		case fc.Name == "update_plan":
			hadIntercepted = true
			outputItem, callErr := s.handleUpdatePlan(ctx, ctrl, fc)
			if callErr != nil {
				return nil, hadIntercepted, callErr
			}
			if err := record(outputItem); err != nil {
				return nil, hadIntercepted, err
			}

		case isCollabToolCall(fc.Name):
			hadIntercepted = true
			outputItem, callErr := s.handleCollabToolCall(ctx, fc)
			if callErr != nil {
				return nil, hadIntercepted, callErr
			}
			if err := record(outputItem); err != nil {
				return nil, hadIntercepted, err
			}

		default:
			normalCalls = append(normalCalls, fc)
		}
	}
	return normalCalls, hadIntercepted, nil
}

// approveAndExecuteTools runs the full pipeline: classify -> filter forbidden ->
// wait for approval -> execute -> escalate -> record results.
// Returns (allDenied, error). allDenied=true means all tools were denied by user.
func (s *SessionState) approveAndExecuteTools(
	ctx workflow.Context,
	ctrl *LoopControl,
	gate *ApprovalGate,
	executor *ToolExecutor,
	functionCalls []models.ConversationItem,
) (bool, error) {
	logger := workflow.GetLogger(ctx)

	// Classify which tools need approval
	needsApproval, forbiddenResults := gate.Classify(functionCalls)

	// Record forbidden results and filter them out
	functionCalls = s.recordForbiddenAndFilter(ctrl, functionCalls, forbiddenResults)
	if len(functionCalls) == 0 {
		return false, nil // all forbidden — iteration continues
	}

	// Wait for approval if needed
	if len(needsApproval) > 0 {
		resp, err := ctrl.AwaitApproval(ctx, needsApproval)
		if err != nil {
			return false, err
		}
		if resp == nil {
			return false, nil // interrupted or shutdown while waiting
		}
		var deniedResults []models.ConversationItem
		functionCalls, deniedResults = gate.ApplyDecision(functionCalls, resp)
		for _, dr := range deniedResults {
			_ = s.History.AddItem(dr)
			ctrl.NotifyItemAdded()
		}
		if len(functionCalls) == 0 {
			return true, nil // all denied by user — end turn
		}
	}

	// Execute tools
	ctrl.SetPhase(PhaseToolExecuting)
	toolNames := make([]string, len(functionCalls))
	for i, fc := range functionCalls {
		toolNames[i] = fc.Name
	}
	ctrl.SetToolsInFlight(toolNames)
	logger.Info("Executing tools", "count", len(functionCalls))

	s.emitExecBeginEvents(ctx, ctrl, functionCalls)

	toolResults, err := executor.ExecuteParallel(ctx, functionCalls)
	if err != nil {
		_ = s.History.AddItem(models.ConversationItem{
			Type:    models.ItemTypeAssistantMessage,
			Content: fmt.Sprintf("[Error: tool execution failed: %v]", err),
			TurnID:  ctrl.CurrentTurnID(),
		})
		ctrl.NotifyItemAdded()
		return false, nil
	}

	ctrl.ClearToolsInFlight()

	// On-failure mode escalation
	if s.Config.ApprovalMode == models.ApprovalOnFailure {
		toolResults, err = s.handleOnFailureEscalation(ctx, ctrl, functionCalls, toolResults)
		if err != nil {
			return false, err
		}
	}

	s.emitExecEndEvents(ctx, ctrl, functionCalls, toolResults)

	// Record results
	s.recordToolResults(ctrl, functionCalls, toolResults)
	return false, nil
}

// recordForbiddenAndFilter adds forbidden results to history and removes those
// tool calls from the list. Returns the remaining allowed calls.
func (s *SessionState) recordForbiddenAndFilter(
	ctrl *LoopControl,
	calls []models.ConversationItem,
	forbidden []models.ConversationItem,
) []models.ConversationItem {
	for _, fr := range forbidden {
		_ = s.History.AddItem(fr)
		ctrl.NotifyItemAdded()
	}

	if len(forbidden) == 0 {
		return calls
	}

	forbiddenIDs := make(map[string]bool, len(forbidden))
	for _, fr := range forbidden {
		forbiddenIDs[fr.CallID] = true
	}

	var remaining []models.ConversationItem
	for _, fc := range calls {
		if !forbiddenIDs[fc.CallID] {
			remaining = append(remaining, fc)
		}
	}
	return remaining
}

// recordToolResults tracks which tools were executed and adds their outputs to history.
func (s *SessionState) recordToolResults(ctrl *LoopControl, calls []models.ConversationItem, results []activities.ToolActivityOutput) {
	for _, fc := range calls {
		s.ToolCallsExecuted = append(s.ToolCallsExecuted, fc.Name)
	}

	for _, result := range results {
		item := models.ConversationItem{
			Type:   models.ItemTypeFunctionCallOutput,
			CallID: result.CallID,
			Output: &models.FunctionCallOutputPayload{
				Content: result.Content,
				Success: result.Success,
			},
		}
		_ = s.History.AddItem(item)
		ctrl.NotifyItemAdded()
	}
}

// detectRepeatedToolCalls checks whether the current batch of tool calls is
// identical to the previous batch. Returns true if the same batch has been
// seen maxRepeatToolCalls times consecutively, indicating a tight loop.
func (s *SessionState) detectRepeatedToolCalls(calls []models.ConversationItem) bool {
	key := toolCallsKey(calls)
	if key == s.lastToolKey {
		s.repeatCount++
		s.Metrics.RecordReplay()
		s.Metrics.RecordDuplicateItems(len(calls))
	} else {
		s.lastToolKey = key
		s.repeatCount = 1
		s.Metrics.ResetLoopCounters()
	}
	return s.repeatCount >= maxRepeatToolCalls
}

// extractFunctionCalls filters the FunctionCall items out of a response batch.
func extractFunctionCalls(items []models.ConversationItem) []models.ConversationItem {
	var calls []models.ConversationItem
	for _, item := range items {
		if item.Type == models.ItemTypeFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}
