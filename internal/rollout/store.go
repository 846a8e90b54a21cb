package rollout

import (
	"path/filepath"
	"sync"

	"github.com/sessionforge/agentcore/internal/netctx"
)

// Store hands out one Recorder per session, creating the log file on first
// use under <root>/rollouts/<session>.jsonl. Recorders are cached so every
// activity invocation for a session appends to the same open file.
type Store struct {
	mu        sync.Mutex
	root      string
	recorders map[string]*Recorder
}

// NewStore creates a Store rooted at the given state directory.
func NewStore(root string) *Store {
	return &Store{
		root:      root,
		recorders: make(map[string]*Recorder),
	}
}

// Get returns the recorder for sessionID, opening its log if needed. The
// session id is sanitized before it becomes a path component.
func (s *Store) Get(sessionID string) (*Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.recorders[sessionID]; ok {
		return rec, nil
	}

	name := netctx.SafePathComponent(sessionID, "session")
	rec, err := NewRecorder(filepath.Join(s.root, "rollouts", name+".jsonl"))
	if err != nil {
		return nil, err
	}
	s.recorders[sessionID] = rec
	return rec, nil
}

// Remove closes and forgets the recorder for sessionID, if any.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.recorders[sessionID]; ok {
		_ = rec.Close()
		delete(s.recorders, sessionID)
	}
}

// CloseAll closes every open recorder. Called on worker shutdown.
func (s *Store) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.recorders {
		_ = rec.Close()
		delete(s.recorders, id)
	}
}
