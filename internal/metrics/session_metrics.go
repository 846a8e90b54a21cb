// Package metrics tracks per-session token accounting and the loop-detection
// heuristics the session runtime uses to steer the model out of tight loops.
//
// SessionMetrics is pure in-memory bookkeeping with no clock or I/O, so it is
// safe to keep inside workflow state and serialize through ContinueAsNew.
package metrics

import "github.com/sessionforge/agentcore/internal/models"

// PromptRingWindow is how many recent prompt sizes feed the next-prompt estimate.
const PromptRingWindow = 3

// defaultPromptEstimate is the fallback when no usage data exists yet.
const defaultPromptEstimate = 4000

// Loop-detection thresholds. Replay warnings take precedence over duplicate
// warnings.
const (
	replayLoopThreshold      = 4
	replayPotentialThreshold = 2
	duplicateItemThreshold   = 3
)

// SessionMetrics accumulates usage totals and loop-detection counters for one
// session.
type SessionMetrics struct {
	Total    models.TokenUsage `json:"total"`
	LastTurn models.TokenUsage `json:"last_turn"`

	TurnCount int `json:"turn_count"`

	// ReplayUpdates counts consecutive turns the model re-issued an
	// essentially identical update batch.
	ReplayUpdates int `json:"replay_updates"`

	// DuplicateItems counts duplicate output items observed within the
	// current window.
	DuplicateItems int `json:"duplicate_items"`

	// RecentPromptTokens is a ring of the last PromptRingWindow non-cached
	// prompt sizes, newest last.
	RecentPromptTokens []int `json:"recent_prompt_tokens,omitempty"`
}

// RecordTurn folds one completed turn's usage into the totals and pushes the
// non-cached prompt size into the recent-prompt ring.
func (m *SessionMetrics) RecordTurn(usage models.TokenUsage) {
	m.Total.PromptTokens += usage.PromptTokens
	m.Total.CompletionTokens += usage.CompletionTokens
	m.Total.TotalTokens += usage.TotalTokens
	m.Total.CachedTokens += usage.CachedTokens
	m.Total.CacheCreationTokens += usage.CacheCreationTokens
	m.LastTurn = usage
	m.TurnCount++

	if nonCached := nonCachedInput(usage); nonCached > 0 {
		m.RecentPromptTokens = append(m.RecentPromptTokens, nonCached)
		if len(m.RecentPromptTokens) > PromptRingWindow {
			m.RecentPromptTokens = m.RecentPromptTokens[len(m.RecentPromptTokens)-PromptRingWindow:]
		}
	}
}

// RecordReplay bumps the replay-update counter.
func (m *SessionMetrics) RecordReplay() { m.ReplayUpdates++ }

// RecordDuplicateItems adds n observed duplicate output items.
func (m *SessionMetrics) RecordDuplicateItems(n int) { m.DuplicateItems += n }

// ResetLoopCounters clears the loop-detection counters. Called when the model
// produces a batch that differs from the previous one.
func (m *SessionMetrics) ResetLoopCounters() {
	m.ReplayUpdates = 0
	m.DuplicateItems = 0
}

// EstimatedNextPromptTokens predicts the next prompt's non-cached size:
// the arithmetic mean of the recent-prompt ring when non-empty, otherwise the
// last turn's non-cached input when positive, otherwise a flat default.
func (m *SessionMetrics) EstimatedNextPromptTokens() int {
	if len(m.RecentPromptTokens) > 0 {
		sum := 0
		for _, v := range m.RecentPromptTokens {
			sum += v
		}
		return sum / len(m.RecentPromptTokens)
	}
	if nonCached := nonCachedInput(m.LastTurn); nonCached > 0 {
		return nonCached
	}
	return defaultPromptEstimate
}

// LoopDetectionWarning returns guidance to inject into the next turn's context
// when the counters cross a threshold, or "" when the session looks healthy.
// Replay warnings take precedence over duplicate warnings.
func (m *SessionMetrics) LoopDetectionWarning() string {
	switch {
	case m.ReplayUpdates >= replayLoopThreshold:
		return "LOOP DETECTED: the last several updates replayed identical content. Stop repeating yourself and take a materially different action."
	case m.ReplayUpdates >= replayPotentialThreshold:
		return "Potential loop detected: recent updates replayed earlier content. Re-check your plan before continuing."
	case m.DuplicateItems >= duplicateItemThreshold:
		return "Repetition detected: several duplicate output items were produced. Vary your approach."
	default:
		return ""
	}
}

func nonCachedInput(u models.TokenUsage) int {
	nonCached := u.PromptTokens - u.CachedTokens
	if nonCached < 0 {
		return 0
	}
	return nonCached
}
