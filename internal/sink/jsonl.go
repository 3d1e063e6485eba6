package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harvestkit/facultydir/internal/harvest"
)

// JSONL appends records as one JSON object per line. The file is opened
// with O_APPEND so records written before a crash are never clobbered on
// resume.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONL opens (or creates) the output file, creating parent
// directories as needed.
func NewJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &JSONL{file: f}, nil
}

// Append writes one record and syncs it to disk. The sync matters: the
// orchestrator marks an id processed only after Append returns, so a
// buffered write that never hits disk would break at-most-once output.
func (j *JSONL) Append(_ context.Context, record harvest.EnrichedRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(data); err != nil {
		return harvest.PersistenceError(fmt.Errorf("append record %s: %w", record.ID, err))
	}
	if err := j.file.Sync(); err != nil {
		return harvest.PersistenceError(fmt.Errorf("sync output file: %w", err))
	}
	return nil
}

// Close releases the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
