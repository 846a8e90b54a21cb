// Package workflow contains Temporal workflow definitions.
//
// state.go manages workflow state, separated from workflow logic.
//
package workflow

import (
	"fmt"

	"github.com/sessionforge/agentcore/internal/history"
	"github.com/sessionforge/agentcore/internal/metrics"
	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/tools"
)

// Handler name constants for Temporal query and update handlers.
const (
	// QueryGetConversationItems returns conversation history.
	QueryGetConversationItems = "get_conversation_items"

	// QueryGetTurnStatus returns the current turn phase and stats.
	// Used by pollers to drive spinner/state transitions.
	QueryGetTurnStatus = "get_turn_status"

	// QueryGetEvents returns stamped protocol events after a cursor.
	QueryGetEvents = "get_events"

	// UpdateUserInput submits a new user message to the workflow.
	UpdateUserInput = "user_input"

	// UpdateInterrupt aborts the current turn.
	UpdateInterrupt = "interrupt"

	// UpdateShutdown ends the session.
	UpdateShutdown = "shutdown"

	// UpdateModel changes the model used for subsequent LLM calls.
	UpdateModel = "update_model"

	// UpdateApprovalResponse submits the user's tool approval decision.
	UpdateApprovalResponse = "approval_response"

	// UpdateEscalationResponse submits the user's escalation decision (on-failure mode).
	UpdateEscalationResponse = "escalation_response"

	// UpdateUserInputQuestionResponse submits the user's answers to request_user_input questions.
	UpdateUserInputQuestionResponse = "user_input_question_response"

	// UpdateCompact triggers manual context compaction.
	UpdateCompact = "compact"

	// UpdatePlanRequest spawns a planner child workflow directly.
	UpdatePlanRequest = "plan_request"

	// UpdateGetStateUpdate is the blocking long-poll update used instead of
	// query polling.
	UpdateGetStateUpdate = "get_state_update"

	// SignalAgentInput delivers a user message to a child agent workflow.
	SignalAgentInput = "agent_input"

	// SignalAgentShutdown requests a child agent workflow to shut down.
	SignalAgentShutdown = "agent_shutdown"
)

// TurnPhase indicates the current phase of the workflow turn.
type TurnPhase string

const (
	PhaseWaitingForInput   TurnPhase = "waiting_for_input"
	PhaseLLMCalling        TurnPhase = "llm_calling"
	PhaseToolExecuting     TurnPhase = "tool_executing"
	PhaseApprovalPending   TurnPhase = "approval_pending"
	PhaseEscalationPending TurnPhase = "escalation_pending"
	PhaseUserInputPending  TurnPhase = "user_input_pending"
	PhaseCompacting        TurnPhase = "compacting"
	PhaseWaitingForAgents  TurnPhase = "waiting_for_agents"
)

// ChildAgentSummary is a compact view of a spawned child agent for status queries.
type ChildAgentSummary struct {
	AgentID    string      `json:"agent_id"`
	WorkflowID string      `json:"workflow_id"`
	Role       AgentRole   `json:"role"`
	Status     AgentStatus `json:"status"`
}

// TurnStatus is the response from the get_turn_status query.
type TurnStatus struct {
	Phase                   TurnPhase                `json:"phase"`
	CurrentTurnID           string                   `json:"current_turn_id"`
	ToolsInFlight           []string                 `json:"tools_in_flight,omitempty"`
	PendingApprovals        []PendingApproval        `json:"pending_approvals,omitempty"`
	PendingEscalations      []EscalationRequest      `json:"pending_escalations,omitempty"`
	PendingUserInputRequest *PendingUserInputRequest `json:"pending_user_input_request,omitempty"`
	IterationCount          int                      `json:"iteration_count"`
	TotalTokens             int                      `json:"total_tokens"`
	TotalCachedTokens       int                      `json:"total_cached_tokens,omitempty"`
	TurnCount               int                      `json:"turn_count"`
	WorkerVersion           string                   `json:"worker_version,omitempty"`
	Suggestion              string                   `json:"suggestion,omitempty"`
	Plan                    *PlanState               `json:"plan,omitempty"`
	ChildAgents             []ChildAgentSummary      `json:"child_agents,omitempty"`
}

// WorkflowInput is the initial input to start a conversation.
//
type WorkflowInput struct {
	ConversationID string                      `json:"conversation_id"`
	UserMessage    string                      `json:"user_message"`
	Config         models.SessionConfiguration `json:"config"`
	// Depth tracks subagent nesting level. 0 = top-level, 1 = child.
	Depth int `json:"depth,omitempty"`
}

// UserInput is the payload for the user_input Update.
type UserInput struct {
	Content string `json:"content"`
}

// InterruptRequest is the payload for the interrupt Update.
type InterruptRequest struct{}

// InterruptResponse is returned by the interrupt Update.
type InterruptResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// ShutdownRequest is the payload for the shutdown Update.
type ShutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ShutdownResponse is returned by the shutdown Update.
type ShutdownResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// UpdateModelRequest is the payload for the update_model Update.
type UpdateModelRequest struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// UpdateModelResponse is returned by the update_model Update.
type UpdateModelResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// PendingApproval describes a tool call awaiting user approval.
type PendingApproval struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`        // Raw JSON string of arguments
	Reason    string `json:"reason,omitempty"` // Why approval is needed (from policy justification or heuristic)
}

// ApprovalResponse is the user's decision on pending tool approvals.
type ApprovalResponse struct {
	Approved []string `json:"approved"` // CallIDs the user approved
	Denied   []string `json:"denied"`   // CallIDs the user denied
}

// ApprovalResponseAck is returned by the approval_response Update after acceptance.
type ApprovalResponseAck struct{}

// EscalationRequest describes a failed sandboxed tool call awaiting user escalation.
type EscalationRequest struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"` // Failed output from sandboxed execution
	Reason    string `json:"reason"` // Why escalation is needed
}

// EscalationResponse is the user's decision on escalation.
type EscalationResponse struct {
	Approved []string `json:"approved"` // CallIDs to re-execute without sandbox
	Denied   []string `json:"denied"`   // CallIDs to reject
}

// EscalationResponseAck is returned by the escalation_response Update.
type EscalationResponseAck struct{}

// RequestUserInputQuestionOption describes a single option for a user input question.
type RequestUserInputQuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// RequestUserInputQuestion describes a single question for the user.
type RequestUserInputQuestion struct {
	ID       string                           `json:"id"`
	Header   string                           `json:"header,omitempty"`
	Question string                           `json:"question"`
	IsOther  bool                             `json:"is_other,omitempty"`
	Options  []RequestUserInputQuestionOption `json:"options"`
}

// PendingUserInputRequest describes a request_user_input call awaiting user response.
type PendingUserInputRequest struct {
	CallID    string                     `json:"call_id"`
	Questions []RequestUserInputQuestion `json:"questions"`
}

// UserInputQuestionAnswer holds the selected answers for a single question.
type UserInputQuestionAnswer struct {
	Answers []string `json:"answers"`
}

// UserInputQuestionResponse is the user's response to a request_user_input call.
type UserInputQuestionResponse struct {
	Answers map[string]UserInputQuestionAnswer `json:"answers"`
}

// UserInputQuestionResponseAck is returned by the user_input_question_response Update.
type UserInputQuestionResponseAck struct{}

// CompactRequest is the payload for the compact Update.
type CompactRequest struct{}

// CompactResponse is returned by the compact Update.
type CompactResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// PlanRequest is the payload for the plan_request Update.
type PlanRequest struct {
	Message string `json:"message"`
}

// PlanRequestAccepted is returned by the plan_request Update.
type PlanRequestAccepted struct {
	AgentID    string `json:"agent_id"`
	WorkflowID string `json:"workflow_id"`
}

// StateUpdateRequest is the payload for the get_state_update long-poll Update.
type StateUpdateRequest struct {
	// SinceSeq is the history cursor: only items with Seq > SinceSeq are returned.
	SinceSeq int `json:"since_seq"`
	// SincePhase lets the poller wake on phase transitions with no new items.
	SincePhase TurnPhase `json:"since_phase,omitempty"`
}

// StateUpdateResponse is returned by get_state_update and user_input.
type StateUpdateResponse struct {
	TurnID    string                    `json:"turn_id"`
	Items     []models.ConversationItem `json:"items,omitempty"`
	Status    TurnStatus                `json:"status"`
	Compacted bool                      `json:"compacted,omitempty"`
	Completed bool                      `json:"completed,omitempty"`
}

// AgentInputSignal is the payload for the agent_input signal.
// Sent from parent to child workflow via SignalExternalWorkflow.
type AgentInputSignal struct {
	Content   string `json:"content"`
	Interrupt bool   `json:"interrupt"`
}

// SessionState is passed through ContinueAsNew.
// Uses ContextManager interface to allow pluggable storage backends.
//
type SessionState struct {
	ConversationID string                      `json:"conversation_id"`
	History        history.ContextManager      `json:"-"`             // Not serialized directly; see note below
	HistoryItems   []models.ConversationItem   `json:"history_items"` // Serialized form for ContinueAsNew
	ToolSpecs      []tools.ToolSpec            `json:"tool_specs"`
	Config         models.SessionConfiguration `json:"config"`

	// ResolvedProfile is the merged model profile for the active model.
	ResolvedProfile models.ResolvedProfile `json:"resolved_profile"`

	// Iteration tracking
	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	// Event stamping: per-sub-id sequence counters and the per-turn HTTP
	// attempt ordinal. EventSeq is authoritative; provider sequence numbers
	// are recorded in OrderMeta but never replace it.
	EventSeqBySubID map[string]uint64 `json:"event_seq_by_sub_id,omitempty"`
	RequestOrdinal  int64             `json:"request_ordinal"`

	// Events is the bounded outbound event buffer served by get_events.
	Events      []Event `json:"events,omitempty"`
	EventCursor int64   `json:"event_cursor"`

	// Metrics accumulates usage totals and loop-detection counters.
	Metrics metrics.SessionMetrics `json:"metrics"`

	// PendingLoopWarning is injected as a developer-style message into the
	// next LLM call, then cleared. Never shown as an assistant message.
	PendingLoopWarning string `json:"pending_loop_warning,omitempty"`

	// Plan is the model-maintained plan from update_plan calls.
	Plan *PlanState `json:"plan,omitempty"`

	// Exec policy rules (serialized text, persists across ContinueAsNew)
	ExecPolicyRules string `json:"exec_policy_rules,omitempty"`

	// Total iterations across all turns (persists across ContinueAsNew).
	// Used to trigger ContinueAsNew when history grows too large.
	TotalIterationsForCAN int `json:"total_iterations_for_can"`

	// OpenAI Responses API: last response ID for incremental sends.
	// Persists across CAN to enable chaining across workflow continuations.
	LastResponseID string `json:"last_response_id,omitempty"`

	// Transient: tracks how many history items were sent in the last LLM call,
	// enabling incremental sends (only new items after this index).
	// Reset on history modification (compaction, DropOldestUserTurns).
	lastSentHistoryLen int

	// Model switch tracking (update_model).
	PreviousModel         string `json:"previous_model,omitempty"`
	PreviousContextWindow int    `json:"previous_context_window,omitempty"`
	modelSwitched         bool

	// Context compaction tracking
	CompactionCount   int  `json:"compaction_count"` // How many times compaction has occurred
	compactedThisTurn bool // Prevents double compaction in one turn

	// Repeated tool call detection (transient — not serialized)
	lastToolKey string
	repeatCount int

	// turnUsage accumulates this turn's token usage across HTTP attempts
	// (transient; folded into Metrics on turn completion).
	turnUsage models.TokenUsage

	// ctrl is the current run's LoopControl (transient; set when the
	// multi-turn loop starts). Lets deeply nested handlers reach the
	// coordination state without threading it through every signature.
	ctrl *LoopControl

	// TurnCounter feeds deterministic turn-id generation.
	TurnCounter uint64 `json:"turn_counter"`

	// Account / rate-limit arbitration state for this session.
	ActiveAccountID        string           `json:"active_account_id,omitempty"`
	TriedAccounts          []string         `json:"tried_accounts,omitempty"`
	LimitedChatGPTAccounts []string         `json:"limited_chatgpt_accounts,omitempty"`
	BlockedUntilByAccount  map[string]int64 `json:"blocked_until_by_account,omitempty"`

	// Cumulative stats (persist across ContinueAsNew)
	TotalTokens       int      `json:"total_tokens"`
	TotalCachedTokens int      `json:"total_cached_tokens"`
	ToolCallsExecuted []string `json:"tool_calls_executed"`

	// MCP tool routing, discovered at session init.
	McpToolLookup map[string]tools.McpToolRef `json:"mcp_tool_lookup,omitempty"`

	// Subagent control — manages child workflow lifecycles.
	AgentCtl *AgentControl `json:"agent_ctl,omitempty"`
}

// WorkflowResult is the final result of the workflow.
type WorkflowResult struct {
	ConversationID    string   `json:"conversation_id"`
	TotalIterations   int      `json:"total_iterations"`
	TotalTokens       int      `json:"total_tokens"`
	ToolCallsExecuted []string `json:"tool_calls_executed"`
	EndReason         string   `json:"end_reason,omitempty"` // "shutdown", "error"
	// FinalMessage is the last assistant message from the workflow.
	// Used by parent workflows to get the child's result.
	FinalMessage string `json:"final_message,omitempty"`
}

// initHistory initializes the History field from HistoryItems.
// Called after deserialization (ContinueAsNew) to restore the interface.
func (s *SessionState) initHistory() {
	h := history.NewInMemoryHistory()
	for _, item := range s.HistoryItems {
		h.AddItem(item)
	}
	s.History = h
}

// syncHistoryItems copies history to HistoryItems for serialization.
// Called before ContinueAsNew to persist state.
func (s *SessionState) syncHistoryItems() {
	items, _ := s.History.GetRawItems()
	s.HistoryItems = items
}

// nextTurnID generates the next turn's sub_id. Counter-based so replay is
// deterministic without a SideEffect per turn.
func (s *SessionState) nextTurnID() string {
	s.TurnCounter++
	return fmt.Sprintf("turn-%d", s.TurnCounter)
}
