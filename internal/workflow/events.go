// Package workflow contains Temporal workflow definitions.
//
// events.go implements the stamped protocol-event stream: every user-visible
// emission carries (sub_id, event_seq, order?) where event_seq is strictly
// monotonic per sub_id, starting at 0 on task_started. Provider ordering
// (request ordinal, output index, sequence number) rides along as OrderMeta
// but never replaces event_seq.
package workflow

import (
	"encoding/json"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sessionforge/agentcore/internal/activities"
	"github.com/sessionforge/agentcore/internal/auth"
	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/rollout"
)

// maxBufferedEvents bounds the in-workflow event buffer served by get_events.
// Older events age out of the buffer but remain in the rollout log.
const maxBufferedEvents = 512

// execHookBeforeSuffix and execHookAfterSuffix mark the observability hook
// events emitted around each exec tool call.
const (
	execHookBeforeSuffix = "_hook_tool_before"
	execHookAfterSuffix  = "_hook_tool_after"
)

// Event is one stamped emission on the session's event port.
// Type selects the payload variant; unused fields stay empty.
type Event struct {
	// Cursor is a session-global position used by the get_events query.
	Cursor int64 `json:"cursor"`

	// ID is the sub_id of the owning turn.
	ID string `json:"id"`

	// EventSeq is monotonic within ID, 0 on task_started.
	EventSeq uint64 `json:"event_seq"`

	// Order carries provider ordering for provider-sourced events.
	Order *rollout.OrderMeta `json:"order,omitempty"`

	// Type is one of the rollout.Event* names.
	Type string `json:"type"`

	Message          string                        `json:"message,omitempty"`
	Title            string                        `json:"title,omitempty"`
	Description      string                        `json:"description,omitempty"`
	LastAgentMessage string                        `json:"last_agent_message,omitempty"`
	CallID           string                        `json:"call_id,omitempty"`
	Argv             []string                      `json:"argv,omitempty"`
	Cwd              string                        `json:"cwd,omitempty"`
	ExitCode         *int                          `json:"exit_code,omitempty"`
	Stdout           string                        `json:"stdout,omitempty"`
	Stderr           string                        `json:"stderr,omitempty"`
	Usage            *models.TokenUsage            `json:"usage,omitempty"`
	RateLimits       *auth.StoredRateLimitSnapshot `json:"rate_limits,omitempty"`
	Plan             *PlanState                    `json:"plan,omitempty"`
	Agents           []ChildAgentSummary           `json:"agents,omitempty"`
	AccountID        string                        `json:"account_id,omitempty"`
}

// stampEvent assigns the event's sub_id (when empty), cursor, and event_seq.
// task_started resets the sub_id's counter to 0; every other emission
// increments it.
func (s *SessionState) stampEvent(ctrl *LoopControl, ev *Event) {
	if ev.ID == "" {
		if ctrl != nil {
			ev.ID = ctrl.CurrentTurnID()
		}
		if ev.ID == "" {
			ev.ID = s.ConversationID
		}
	}

	if s.EventSeqBySubID == nil {
		s.EventSeqBySubID = make(map[string]uint64)
	}
	if ev.Type == rollout.EventTaskStarted {
		s.EventSeqBySubID[ev.ID] = 0
		ev.EventSeq = 0
	} else {
		s.EventSeqBySubID[ev.ID]++
		ev.EventSeq = s.EventSeqBySubID[ev.ID]
	}

	s.EventCursor++
	ev.Cursor = s.EventCursor
}

// emitEvent stamps ev, appends it to the bounded buffer, wakes long-pollers,
// and hands it to the rollout recorder when the persistence policy retains
// its type. Recorder failures are logged and never fail the turn.
func (s *SessionState) emitEvent(ctx workflow.Context, ctrl *LoopControl, ev Event) {
	s.stampEvent(ctrl, &ev)

	s.Events = append(s.Events, ev)
	if len(s.Events) > maxBufferedEvents {
		s.Events = s.Events[len(s.Events)-maxBufferedEvents:]
	}
	if ctrl != nil {
		ctrl.NotifyItemAdded()
	}

	if !s.Config.RolloutPersistence || !rollout.ShouldPersist(ev.Type) {
		return
	}

	record, err := toRolloutRecord(ev)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Failed to encode rollout record", "error", err)
		return
	}

	// Detached append: the turn never waits on, or fails because of, the log.
	input := activities.RecordRolloutEventsInput{
		SessionID: s.ConversationID,
		CodeHome:  s.Config.CodeHome,
		Records:   []rollout.RecordedEvent{record},
	}
	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	if s.Config.SessionTaskQueue != "" {
		actOpts.TaskQueue = s.Config.SessionTaskQueue
	}
	recCtx := workflow.WithActivityOptions(ctx, actOpts)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		if err := workflow.ExecuteActivity(recCtx, "RecordRolloutEvents", input).Get(gCtx, nil); err != nil {
			workflow.GetLogger(gCtx).Warn("Rollout append failed", "error", err)
		}
	})
}

// toRolloutRecord converts a stamped Event into its rollout log form.
func toRolloutRecord(ev Event) (rollout.RecordedEvent, error) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return rollout.RecordedEvent{}, err
	}
	return rollout.RecordedEvent{
		ID:       ev.ID,
		EventSeq: ev.EventSeq,
		Order:    ev.Order,
		Type:     ev.Type,
		Msg:      msg,
	}, nil
}

// eventsSince returns buffered events with Cursor > since, for the
// get_events query.
func (s *SessionState) eventsSince(since int64) []Event {
	// Events are append-ordered by cursor; find the first match.
	idx := len(s.Events)
	for i, ev := range s.Events {
		if ev.Cursor > since {
			idx = i
			break
		}
	}
	out := make([]Event, len(s.Events)-idx)
	copy(out, s.Events[idx:])
	return out
}

// orderMetaFor builds the OrderMeta for a provider output item at the given
// index within the current HTTP attempt.
func (s *SessionState) orderMetaFor(outputIndex int) *rollout.OrderMeta {
	idx := int64(outputIndex)
	return &rollout.OrderMeta{
		RequestOrdinal: s.RequestOrdinal,
		OutputIndex:    &idx,
	}
}
