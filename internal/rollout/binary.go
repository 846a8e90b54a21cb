package rollout

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Binary log format: length-delimited protobuf Struct values, one per record.
// The Struct mirrors the JSON shape of RecordedEvent, so both formats share a
// single schema. JSONL remains the default; the binary format exists for
// high-volume sessions where the log would otherwise dominate disk usage.

// marshalBinaryRecord encodes one record as a length-prefixed proto Struct.
func marshalBinaryRecord(rec RecordedEvent) ([]byte, error) {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal rollout record: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &asMap); err != nil {
		return nil, fmt.Errorf("reshape rollout record: %w", err)
	}
	st, err := structpb.NewStruct(asMap)
	if err != nil {
		return nil, fmt.Errorf("build rollout struct: %w", err)
	}
	body, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode rollout struct: %w", err)
	}

	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed, uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}

// ReadBinaryLog reads every record from a binary-format log. A torn final
// frame is tolerated and dropped, matching ReadLog's crash semantics.
func ReadBinaryLog(path string) ([]RecordedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout log: %w", err)
	}
	defer f.Close()

	var records []RecordedEvent
	var header [4]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			// Torn length prefix at the tail.
			return records, nil
		}
		body := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(f, body); err != nil {
			// Torn frame at the tail.
			return records, nil
		}

		var st structpb.Struct
		if err := proto.Unmarshal(body, &st); err != nil {
			return nil, fmt.Errorf("decode rollout struct: %w", err)
		}
		jsonBytes, err := json.Marshal(st.AsMap())
		if err != nil {
			return nil, fmt.Errorf("reshape rollout struct: %w", err)
		}
		var rec RecordedEvent
		if err := json.Unmarshal(jsonBytes, &rec); err != nil {
			return nil, fmt.Errorf("malformed rollout record: %w", err)
		}
		records = append(records, rec)
	}
}

// NewBinaryRecorder opens a recorder that appends length-delimited protobuf
// frames instead of JSON lines.
func NewBinaryRecorder(path string) (*Recorder, error) {
	rec, err := NewRecorder(path)
	if err != nil {
		return nil, err
	}
	rec.encode = marshalBinaryRecord
	return rec, nil
}
