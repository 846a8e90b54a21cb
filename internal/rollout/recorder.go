// Package rollout persists the ordered protocol-event log of a session: an
// append-only record of everything the session runtime emitted, sufficient to
// replay the visible event stream after a crash or restart.
//
// Records are line-delimited JSON by default. Failures are reported to the
// caller for logging but are never allowed to fail a turn; the recorder is a
// best-effort observer of the session, not a participant.
package rollout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// OrderMeta mirrors the provider-side ordering of an output item. It is
// advisory: EventSeq remains the authoritative per-sub-id order.
type OrderMeta struct {
	RequestOrdinal int64  `json:"request_ordinal"`
	OutputIndex    *int64 `json:"output_index,omitempty"`
	SequenceNumber *int64 `json:"sequence_number,omitempty"`
}

// RecordedEvent is one entry in the rollout log.
type RecordedEvent struct {
	// ID is the sub_id of the turn that produced the event.
	ID string `json:"id"`

	// EventSeq is the per-sub-id monotonic sequence stamped by the runtime.
	EventSeq uint64 `json:"event_seq"`

	// Order carries provider ordering when the event originated from a
	// provider output item.
	Order *OrderMeta `json:"order,omitempty"`

	// Type names the payload variant (see policy.go for the retained set).
	Type string `json:"type"`

	// Msg is the payload, serialized in its provider-neutral schema.
	Msg json.RawMessage `json:"msg,omitempty"`
}

// Recorder appends records to a single session's log file. It is safe for
// concurrent use; appends are serialized internally. A Recorder is shared by
// every holder of the pointer — the file closes when Close is called once all
// writers are done.
type Recorder struct {
	mu   sync.Mutex
	path string
	file *os.File

	// encode serializes one record including any framing. Defaults to JSONL.
	encode func(RecordedEvent) ([]byte, error)
}

// NewRecorder opens (creating if needed) the log at path for appending.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create rollout dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open rollout log: %w", err)
	}
	return &Recorder{path: path, file: f, encode: marshalJSONLine}, nil
}

func marshalJSONLine(ev RecordedEvent) ([]byte, error) {
	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal rollout record: %w", err)
	}
	return append(line, '\n'), nil
}

// Path returns the log file path.
func (r *Recorder) Path() string { return r.path }

// RecordEvents appends the given records in the recorder's format (one JSON
// line each by default, one protobuf frame each for a binary recorder), and
// syncs the file so a crash loses at most the write in flight.
func (r *Recorder) RecordEvents(events []RecordedEvent) error {
	if len(events) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return fmt.Errorf("rollout recorder is closed")
	}

	for _, ev := range events {
		framed, err := r.encode(ev)
		if err != nil {
			return err
		}
		if _, err := r.file.Write(framed); err != nil {
			return fmt.Errorf("append rollout record: %w", err)
		}
	}
	return r.file.Sync()
}

// Close flushes and closes the underlying file. Subsequent RecordEvents calls
// fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
