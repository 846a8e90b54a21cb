package activities

import (
	"context"
	"sync"

	"github.com/sessionforge/agentcore/internal/rollout"
)

// RolloutActivities appends protocol events to per-session rollout logs.
// Stores are cached per state root so repeated appends share one open file
// per session.
type RolloutActivities struct {
	mu     sync.Mutex
	stores map[string]*rollout.Store
}

// NewRolloutActivities creates a new RolloutActivities instance.
func NewRolloutActivities() *RolloutActivities {
	return &RolloutActivities{stores: make(map[string]*rollout.Store)}
}

// RecordRolloutEventsInput is the input for the RecordRolloutEvents activity.
type RecordRolloutEventsInput struct {
	SessionID string                  `json:"session_id"`
	CodeHome  string                  `json:"code_home"`
	Records   []rollout.RecordedEvent `json:"records"`
}

// RecordRolloutEvents appends records to the session's rollout log. The
// workflow treats failures as log-only; the error return exists so Temporal
// can retry transient filesystem hiccups.
func (a *RolloutActivities) RecordRolloutEvents(_ context.Context, input RecordRolloutEventsInput) error {
	if input.CodeHome == "" || len(input.Records) == 0 {
		return nil
	}

	a.mu.Lock()
	store, ok := a.stores[input.CodeHome]
	if !ok {
		store = rollout.NewStore(input.CodeHome)
		a.stores[input.CodeHome] = store
	}
	a.mu.Unlock()

	rec, err := store.Get(input.SessionID)
	if err != nil {
		return err
	}
	return rec.RecordEvents(input.Records)
}

// CloseSessionLogInput names the session whose log should be closed.
type CloseSessionLogInput struct {
	SessionID string `json:"session_id"`
	CodeHome  string `json:"code_home"`
}

// CloseSessionLog closes a session's rollout log. Called on session shutdown.
func (a *RolloutActivities) CloseSessionLog(_ context.Context, input CloseSessionLogInput) error {
	a.mu.Lock()
	store, ok := a.stores[input.CodeHome]
	a.mu.Unlock()
	if ok {
		store.Remove(input.SessionID)
	}
	return nil
}
