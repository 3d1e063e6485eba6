// Package sink provides append-only output sinks for enriched records.
package sink

import (
	"context"
	"sync"

	"github.com/harvestkit/facultydir/internal/harvest"
)

// Memory collects appended records for inspection in tests.
type Memory struct {
	mu      sync.RWMutex
	records []harvest.EnrichedRecord
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Append stores the record.
func (m *Memory) Append(_ context.Context, record harvest.EnrichedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []harvest.EnrichedRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]harvest.EnrichedRecord, len(m.records))
	copy(out, m.records)
	return out
}
