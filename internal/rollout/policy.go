package rollout

// Event type names shared between the session runtime and the rollout log.
// These are the provider-neutral payload variants of the event port.
const (
	EventTaskStarted             = "task_started"
	EventTaskComplete            = "task_complete"
	EventTurnAborted             = "turn_aborted"
	EventAgentMessage            = "agent_message"
	EventAgentMessageDelta       = "agent_message_delta"
	EventAgentStatusUpdate       = "agent_status_update"
	EventExecCommandBegin        = "exec_command_begin"
	EventExecCommandEnd          = "exec_command_end"
	EventPatchApplyBegin         = "patch_apply_begin"
	EventPatchApplySuccess       = "patch_apply_success"
	EventPatchApplyFailure       = "patch_apply_failure"
	EventPlanUpdate              = "plan_update"
	EventTokenCount              = "token_count"
	EventBackgroundEvent         = "background_event"
	EventRateLimitSnapshotStored = "rate_limit_snapshot_stored"
	EventRateLimitFetchFailed    = "rate_limit_fetch_failed"
)

// persistedTypes is the set of payload variants retained in the rollout log.
// Stream deltas and status animations are ephemeral: they carry no information
// that survives the turn, and replaying them would only reproduce flicker.
var persistedTypes = map[string]bool{
	EventTaskStarted:             true,
	EventTaskComplete:            true,
	EventTurnAborted:             true,
	EventAgentMessage:            true,
	EventExecCommandBegin:        true,
	EventExecCommandEnd:          true,
	EventPatchApplyBegin:         true,
	EventPatchApplySuccess:       true,
	EventPatchApplyFailure:       true,
	EventPlanUpdate:              true,
	EventTokenCount:              true,
	EventBackgroundEvent:         true,
	EventRateLimitSnapshotStored: true,
}

// ShouldPersist reports whether an event of the given type belongs in the
// rollout log.
func ShouldPersist(eventType string) bool {
	return persistedTypes[eventType]
}
