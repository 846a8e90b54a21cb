package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionforge/agentcore/internal/models"
)

func usage(prompt, cached, completion int) models.TokenUsage {
	return models.TokenUsage{
		PromptTokens:     prompt,
		CachedTokens:     cached,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func TestEstimatedNextPromptTokens_Default(t *testing.T) {
	var m SessionMetrics
	assert.Equal(t, 4000, m.EstimatedNextPromptTokens())
}

func TestEstimatedNextPromptTokens_LastTurnFallback(t *testing.T) {
	m := SessionMetrics{LastTurn: usage(1200, 200, 50)}
	// Ring is empty; falls back to last turn's non-cached input.
	assert.Equal(t, 1000, m.EstimatedNextPromptTokens())
}

func TestEstimatedNextPromptTokens_RingMean(t *testing.T) {
	var m SessionMetrics
	m.RecordTurn(usage(1000, 0, 10))
	m.RecordTurn(usage(2000, 0, 10))
	m.RecordTurn(usage(3000, 0, 10))
	assert.Equal(t, 2000, m.EstimatedNextPromptTokens())

	// Window slides: the oldest reading drops out.
	m.RecordTurn(usage(6000, 0, 10))
	require.Len(t, m.RecentPromptTokens, PromptRingWindow)
	assert.Equal(t, (2000+3000+6000)/3, m.EstimatedNextPromptTokens())
}

func TestRecordTurn_SkipsFullyCachedPrompts(t *testing.T) {
	var m SessionMetrics
	m.RecordTurn(usage(1000, 1000, 10))
	assert.Empty(t, m.RecentPromptTokens)
}

func TestRecordTurn_Totals(t *testing.T) {
	var m SessionMetrics
	m.RecordTurn(usage(100, 20, 30))
	m.RecordTurn(usage(200, 0, 40))

	assert.Equal(t, 300, m.Total.PromptTokens)
	assert.Equal(t, 70, m.Total.CompletionTokens)
	assert.Equal(t, 2, m.TurnCount)
	assert.Equal(t, usage(200, 0, 40), m.LastTurn)
}

func TestLoopDetectionWarning_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		replays    int
		duplicates int
		want       string
	}{
		{"healthy", 0, 0, ""},
		{"one replay", 1, 0, ""},
		{"potential loop", 2, 0, "Potential loop detected"},
		{"loop detected", 4, 0, "LOOP DETECTED"},
		{"duplicates below threshold", 0, 2, ""},
		{"repetition", 0, 3, "Repetition detected"},
		{"replay wins over duplicates", 2, 5, "Potential loop detected"},
		{"hard replay wins over duplicates", 4, 5, "LOOP DETECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m SessionMetrics
			m.ReplayUpdates = tt.replays
			m.DuplicateItems = tt.duplicates

			got := m.LoopDetectionWarning()
			if tt.want == "" {
				assert.Empty(t, got)
			} else {
				assert.Contains(t, got, tt.want)
			}
		})
	}
}

func TestResetLoopCounters(t *testing.T) {
	var m SessionMetrics
	m.RecordReplay()
	m.RecordReplay()
	m.RecordDuplicateItems(3)
	m.ResetLoopCounters()

	assert.Zero(t, m.ReplayUpdates)
	assert.Zero(t, m.DuplicateItems)
	assert.Empty(t, m.LoopDetectionWarning())
}
