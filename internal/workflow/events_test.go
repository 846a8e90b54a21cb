package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionforge/agentcore/internal/rollout"
	"github.com/sessionforge/agentcore/internal/tools"
)

func TestStampEvent_SeqStartsAtZeroOnTaskStarted(t *testing.T) {
	s := &SessionState{}
	ctrl := NewLoopControl()
	ctrl.SetPendingUserInput("turn-1")

	started := Event{Type: rollout.EventTaskStarted}
	s.stampEvent(ctrl, &started)
	assert.Equal(t, "turn-1", started.ID)
	assert.Equal(t, uint64(0), started.EventSeq)

	msg := Event{Type: rollout.EventAgentMessage}
	s.stampEvent(ctrl, &msg)
	assert.Equal(t, uint64(1), msg.EventSeq)

	done := Event{Type: rollout.EventTaskComplete}
	s.stampEvent(ctrl, &done)
	assert.Equal(t, uint64(2), done.EventSeq)
}

func TestStampEvent_SeqStrictlyMonotonicPerSubID(t *testing.T) {
	s := &SessionState{}
	ctrl := NewLoopControl()
	ctrl.SetPendingUserInput("turn-1")

	var seqs []uint64
	s.stampEvent(ctrl, &Event{Type: rollout.EventTaskStarted})
	for i := 0; i < 10; i++ {
		ev := Event{Type: rollout.EventAgentMessage}
		s.stampEvent(ctrl, &ev)
		seqs = append(seqs, ev.EventSeq)
	}
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}

	// A second turn restarts its own counter without touching turn-1's.
	ctrl.SetPendingUserInput("turn-2")
	started := Event{Type: rollout.EventTaskStarted}
	s.stampEvent(ctrl, &started)
	assert.Equal(t, "turn-2", started.ID)
	assert.Equal(t, uint64(0), started.EventSeq)

	next := Event{Type: rollout.EventAgentMessage, ID: "turn-1"}
	s.stampEvent(ctrl, &next)
	assert.Equal(t, seqs[len(seqs)-1]+1, next.EventSeq)
}

func TestStampEvent_CursorGloballyMonotonic(t *testing.T) {
	s := &SessionState{}
	ctrl := NewLoopControl()
	ctrl.SetPendingUserInput("turn-1")

	var last int64
	for i := 0; i < 5; i++ {
		ev := Event{Type: rollout.EventAgentMessage}
		s.stampEvent(ctrl, &ev)
		assert.Greater(t, ev.Cursor, last)
		last = ev.Cursor
	}
}

func TestEventsSince_ReturnsOnlyNewer(t *testing.T) {
	s := &SessionState{}
	ctrl := NewLoopControl()
	ctrl.SetPendingUserInput("turn-1")

	for i := 0; i < 5; i++ {
		ev := Event{Type: rollout.EventAgentMessage}
		s.stampEvent(ctrl, &ev)
		s.Events = append(s.Events, ev)
	}

	all := s.eventsSince(0)
	require.Len(t, all, 5)

	tail := s.eventsSince(all[2].Cursor)
	require.Len(t, tail, 2)
	assert.Equal(t, all[3].Cursor, tail[0].Cursor)

	assert.Empty(t, s.eventsSince(all[4].Cursor))
}

func TestOrderMetaFor_CarriesRequestOrdinal(t *testing.T) {
	s := &SessionState{RequestOrdinal: 3}
	meta := s.orderMetaFor(2)
	require.NotNil(t, meta)
	assert.Equal(t, int64(3), meta.RequestOrdinal)
	require.NotNil(t, meta.OutputIndex)
	assert.Equal(t, int64(2), *meta.OutputIndex)
	assert.Nil(t, meta.SequenceNumber)
}

func TestToRolloutRecord_PreservesStamping(t *testing.T) {
	s := &SessionState{}
	ctrl := NewLoopControl()
	ctrl.SetPendingUserInput("turn-7")

	ev := Event{Type: rollout.EventAgentMessage, Message: "hi", Order: s.orderMetaFor(0)}
	s.stampEvent(ctrl, &ev)

	rec, err := toRolloutRecord(ev)
	require.NoError(t, err)
	assert.Equal(t, "turn-7", rec.ID)
	assert.Equal(t, ev.EventSeq, rec.EventSeq)
	assert.Equal(t, rollout.EventAgentMessage, rec.Type)
	require.NotNil(t, rec.Order)
	assert.Contains(t, string(rec.Msg), `"hi"`)
}

func TestClassifyExecKind(t *testing.T) {
	tests := []struct {
		command string
		want    ExecKind
	}{
		{"cat foo.txt", ExecKindRead},
		{"rg pattern src/", ExecKindSearch},
		{"ls -la", ExecKindList},
		{"go build ./...", ExecKindRun},
		{"", ExecKindRun},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyExecKind(tt.command), "command %q", tt.command)
	}
}

func TestEvaluateShell_EscalationRequiresJustification(t *testing.T) {
	gate := NewApprovalGate("on-request", "")

	req, reason := gate.evaluate("shell", `{"command":"apt-get install jq","escalated_permissions":true}`)
	assert.Equal(t, tools.ApprovalNeeded, req)
	assert.Contains(t, reason, "without justification")

	req, reason = gate.evaluate("shell", `{"command":"apt-get install jq","escalated_permissions":true,"justification":"needs network install"}`)
	assert.Equal(t, tools.ApprovalNeeded, req)
	assert.Equal(t, "needs network install", reason)
}

func TestEvaluateShell_WriteStdinExtendsApprovedSession(t *testing.T) {
	gate := NewApprovalGate("unless-trusted", "")
	req, _ := gate.evaluate("write_stdin", `{"session_id":3,"chars":"y\n"}`)
	assert.Equal(t, tools.ApprovalSkip, req)
}
