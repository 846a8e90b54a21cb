package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// maxRecordBytes bounds a single rollout line during replay.
const maxRecordBytes = 4 * 1024 * 1024

// ReadLog reads every record from the log at path, in append order. A
// malformed final line (torn write from a crash) is tolerated and dropped;
// malformed lines elsewhere are reported as errors since they indicate
// corruption rather than an interrupted append.
func ReadLog(path string) ([]RecordedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rollout log: %w", err)
	}
	defer f.Close()

	var records []RecordedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var pendingErr error
	for scanner.Scan() {
		if pendingErr != nil {
			// A malformed line followed by more data means corruption.
			return nil, pendingErr
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec RecordedEvent
		if err := json.Unmarshal(line, &rec); err != nil {
			pendingErr = fmt.Errorf("malformed rollout record: %w", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rollout log: %w", err)
	}
	return records, nil
}
