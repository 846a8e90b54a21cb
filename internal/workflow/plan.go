// Package workflow contains Temporal workflow definitions.
//
// plan.go intercepts update_plan tool calls. The plan lives in workflow state
// and is surfaced through get_turn_status and plan_update events; the tool
// call itself never reaches an activity.
package workflow

import (
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/workflow"

	"github.com/sessionforge/agentcore/internal/models"
	"github.com/sessionforge/agentcore/internal/rollout"
)

// PlanStepStatus is the lifecycle state of one plan step.
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "in_progress"
	PlanStepCompleted  PlanStepStatus = "completed"
)

// PlanStep is one entry in the model-maintained plan.
type PlanStep struct {
	Step   string         `json:"step"`
	Status PlanStepStatus `json:"status"`
}

// PlanState is the full plan as of the latest update_plan call.
type PlanState struct {
	Explanation string     `json:"explanation,omitempty"`
	Steps       []PlanStep `json:"steps"`
}

// handleUpdatePlan validates an update_plan call, stores the new plan, emits
// a plan_update event, and returns the tool output item.
func (s *SessionState) handleUpdatePlan(ctx workflow.Context, ctrl *LoopControl, fc models.ConversationItem) (models.ConversationItem, error) {
	plan, err := parseUpdatePlanArgs(fc.Arguments)
	if err != nil {
		workflow.GetLogger(ctx).Warn("Invalid update_plan args", "error", err)
		falseVal := false
		return models.ConversationItem{
			Type:   models.ItemTypeFunctionCallOutput,
			CallID: fc.CallID,
			Output: &models.FunctionCallOutputPayload{
				Content: fmt.Sprintf("Invalid update_plan arguments: %v", err),
				Success: &falseVal,
			},
		}, nil
	}

	s.Plan = plan
	s.emitEvent(ctx, ctrl, Event{
		Type:   rollout.EventPlanUpdate,
		CallID: fc.CallID,
		Plan:   plan,
	})

	trueVal := true
	return models.ConversationItem{
		Type:   models.ItemTypeFunctionCallOutput,
		CallID: fc.CallID,
		Output: &models.FunctionCallOutputPayload{
			Content: "Plan updated",
			Success: &trueVal,
		},
	}, nil
}

// parseUpdatePlanArgs validates and parses update_plan arguments.
func parseUpdatePlanArgs(argsJSON string) (*PlanState, error) {
	var args struct {
		Explanation string `json:"explanation,omitempty"`
		Plan        []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(args.Plan) == 0 {
		return nil, fmt.Errorf("plan must not be empty")
	}

	inProgress := 0
	steps := make([]PlanStep, len(args.Plan))
	for i, p := range args.Plan {
		if p.Step == "" {
			return nil, fmt.Errorf("step %d: step text is required", i+1)
		}
		var status PlanStepStatus
		switch PlanStepStatus(p.Status) {
		case PlanStepPending, PlanStepInProgress, PlanStepCompleted:
			status = PlanStepStatus(p.Status)
		default:
			return nil, fmt.Errorf("step %d: invalid status %q", i+1, p.Status)
		}
		if status == PlanStepInProgress {
			inProgress++
		}
		steps[i] = PlanStep{Step: p.Step, Status: status}
	}
	if inProgress > 1 {
		return nil, fmt.Errorf("at most one step may be in_progress, got %d", inProgress)
	}

	return &PlanState{Explanation: args.Explanation, Steps: steps}, nil
}
