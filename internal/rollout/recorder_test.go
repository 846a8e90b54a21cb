package rollout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int64) *int64 { return &v }

func sampleRecords() []RecordedEvent {
	return []RecordedEvent{
		{ID: "turn-1", EventSeq: 0, Type: EventTaskStarted},
		{
			ID:       "turn-1",
			EventSeq: 1,
			Type:     EventAgentMessage,
			Order:    &OrderMeta{RequestOrdinal: 1, OutputIndex: intPtr(0), SequenceNumber: intPtr(7)},
			Msg:      json.RawMessage(`{"message":"hello"}`),
		},
		{ID: "turn-1", EventSeq: 2, Type: EventTaskComplete},
	}
}

func TestRecorder_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollouts", "session.jsonl")

	rec, err := NewRecorder(path)
	require.NoError(t, err)

	require.NoError(t, rec.RecordEvents(sampleRecords()[:2]))
	require.NoError(t, rec.RecordEvents(sampleRecords()[2:]))
	require.NoError(t, rec.Close())

	got, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "turn-1", got[0].ID)
	assert.Equal(t, uint64(0), got[0].EventSeq)
	assert.Equal(t, EventTaskStarted, got[0].Type)

	require.NotNil(t, got[1].Order)
	assert.Equal(t, int64(1), got[1].Order.RequestOrdinal)
	require.NotNil(t, got[1].Order.SequenceNumber)
	assert.Equal(t, int64(7), *got[1].Order.SequenceNumber)
	assert.JSONEq(t, `{"message":"hello"}`, string(got[1].Msg))
}

func TestRecorder_ClosedRejectsWrites(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	assert.Error(t, rec.RecordEvents(sampleRecords()))
}

func TestReadLog_ToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")

	rec, err := NewRecorder(path)
	require.NoError(t, err)
	require.NoError(t, rec.RecordEvents(sampleRecords()[:1]))
	require.NoError(t, rec.Close())

	// Simulate a crash mid-append: a partial JSON line at the tail.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"turn-1","event_seq":`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadLog(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBinaryRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.pb")

	rec, err := NewBinaryRecorder(path)
	require.NoError(t, err)
	require.NoError(t, rec.RecordEvents(sampleRecords()))
	require.NoError(t, rec.Close())

	got, err := ReadBinaryLog(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(2), got[2].EventSeq)
	assert.Equal(t, EventTaskComplete, got[2].Type)
}

func TestBinaryReader_ToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.pb")

	rec, err := NewBinaryRecorder(path)
	require.NoError(t, err)
	require.NoError(t, rec.RecordEvents(sampleRecords()[:2]))
	require.NoError(t, rec.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x10, 0x00, 0x01}) // frame header promising more than exists
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadBinaryLog(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestShouldPersist(t *testing.T) {
	assert.True(t, ShouldPersist(EventTaskStarted))
	assert.True(t, ShouldPersist(EventAgentMessage))
	assert.True(t, ShouldPersist(EventPlanUpdate))
	assert.True(t, ShouldPersist(EventTokenCount))

	assert.False(t, ShouldPersist(EventAgentMessageDelta))
	assert.False(t, ShouldPersist(EventAgentStatusUpdate))
	assert.False(t, ShouldPersist(EventRateLimitFetchFailed))
	assert.False(t, ShouldPersist("unknown"))
}

func TestStore_ReusesAndSanitizes(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	a, err := store.Get("conv/../weird id")
	require.NoError(t, err)
	b, err := store.Get("conv/../weird id")
	require.NoError(t, err)
	assert.Same(t, a, b)

	// The sanitized path stays inside the rollouts dir.
	rel, err := filepath.Rel(filepath.Join(root, "rollouts"), a.Path())
	require.NoError(t, err)
	assert.NotContains(t, rel, string(filepath.Separator))

	store.Remove("conv/../weird id")
	c, err := store.Get("conv/../weird id")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	store.CloseAll()
}
