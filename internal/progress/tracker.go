// Package progress implements the checkpointed, resumable progress state
// for a harvest run.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/metrics"
)

// SnapshotKey is the fixed logical name under which the progress snapshot
// is persisted.
const SnapshotKey = "harvest/progress"

// DefaultCheckpointInterval is the mark count between periodic checkpoints.
const DefaultCheckpointInterval = 25

// snapshot is the durable representation of tracker state. The id set is
// serialized as an ordered sequence and rebuilt on load.
type snapshot struct {
	Query            harvest.Query `json:"query"`
	ProcessedIDs     []string      `json:"processed_ids"`
	TotalProcessed   int           `json:"total_processed"`
	TotalRequested   int           `json:"total_requested"`
	StartedAt        time.Time     `json:"started_at"`
	LastCheckpointAt time.Time     `json:"last_checkpoint_at"`
}

// Stats is the observable summary of a run's progress.
type Stats struct {
	TotalProcessed     int     `json:"total_processed"`
	TotalRequested     int     `json:"total_requested"`
	Remaining          int     `json:"remaining"`
	ProgressPercentage int     `json:"progress_percentage"`
	RatePerMinute      float64 `json:"rate_per_minute"`
	IsResumed          bool    `json:"is_resumed"`
}

// Tracker is the single-writer progress state for one run. The orchestrator
// owns it exclusively; mutation is mutex-guarded because enrichment task
// completions may race on MarkProcessed.
type Tracker struct {
	store    harvest.Store
	clock    harvest.Clock
	logger   *zap.Logger
	interval int

	mu               sync.Mutex
	query            harvest.Query
	processed        map[string]struct{}
	totalProcessed   int
	totalRequested   int
	startedAt        time.Time
	lastCheckpointAt time.Time
	isResumed        bool
}

// NewTracker builds a Tracker persisting through store. interval <= 0
// selects DefaultCheckpointInterval.
func NewTracker(store harvest.Store, clock harvest.Clock, interval int, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		processed: make(map[string]struct{}),
	}
}

// Initialize loads any persisted snapshot and adopts it iff its query
// exactly equals q; otherwise prior state is discarded and the run starts
// at zero. Returns whether the run resumed.
func (t *Tracker) Initialize(ctx context.Context, q harvest.Query, totalRequested int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.query = q
	t.processed = make(map[string]struct{})
	t.totalProcessed = 0
	t.totalRequested = totalRequested
	t.startedAt = t.clock.Now()
	t.lastCheckpointAt = time.Time{}
	t.isResumed = false

	data, ok, err := t.store.Get(ctx, SnapshotKey)
	if err != nil {
		return false, harvest.PersistenceError(fmt.Errorf("load progress snapshot: %w", err))
	}
	if !ok {
		return false, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is unusable; starting over is safer than
		// guessing which ids were processed.
		t.logger.Warn("discarding unreadable progress snapshot", zap.Error(err))
		return false, nil
	}

	if !snap.Query.Equal(q) {
		t.logger.Info("persisted progress belongs to a different query; starting fresh",
			zap.String("stored_keyword", snap.Query.Keyword),
			zap.String("current_keyword", q.Keyword),
		)
		return false, nil
	}

	for _, id := range snap.ProcessedIDs {
		t.processed[id] = struct{}{}
	}
	t.totalProcessed = len(t.processed)
	t.startedAt = snap.StartedAt
	t.lastCheckpointAt = snap.LastCheckpointAt
	t.isResumed = true

	t.logger.Info("resumed harvest run",
		zap.Int("total_processed", t.totalProcessed),
		zap.Int("total_requested", totalRequested),
	)
	return true, nil
}

// IsProcessed reports whether id has already produced output this run.
func (t *Tracker) IsProcessed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[id]
	return ok
}

// MarkProcessed records id as complete. The caller guarantees each id is
// marked at most once; the count invariant holds regardless because the id
// set is authoritative.
func (t *Tracker) MarkProcessed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed[id] = struct{}{}
	t.totalProcessed = len(t.processed)
}

// ShouldCheckpoint reports whether totalProcessed sits exactly on a
// checkpoint interval multiple. Marks are always +1, so multiples are
// never skipped.
func (t *Tracker) ShouldCheckpoint() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalProcessed > 0 && t.totalProcessed%t.interval == 0
}

// SaveCheckpoint durably persists the full current snapshot. A failure is
// returned as a persistence error; the previous checkpoint remains valid.
func (t *Tracker) SaveCheckpoint(ctx context.Context) error {
	t.mu.Lock()
	snap := snapshot{
		Query:            t.query,
		ProcessedIDs:     t.orderedIDsLocked(),
		TotalProcessed:   t.totalProcessed,
		TotalRequested:   t.totalRequested,
		StartedAt:        t.startedAt,
		LastCheckpointAt: t.clock.Now(),
	}
	t.lastCheckpointAt = snap.LastCheckpointAt
	stats := t.statsLocked()
	t.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := t.store.Put(ctx, SnapshotKey, data); err != nil {
		return harvest.PersistenceError(fmt.Errorf("persist snapshot: %w", err))
	}

	metrics.ObserveCheckpoint()
	metrics.SetProgress(stats.TotalProcessed, stats.Remaining)
	t.logger.Info("checkpoint saved",
		zap.Int("total_processed", stats.TotalProcessed),
		zap.Int("remaining", stats.Remaining),
		zap.Float64("rate_per_minute", stats.RatePerMinute),
	)
	return nil
}

// Stats returns the observable progress summary.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

// Finalize clears the persisted snapshot and resets in-memory state.
// Called only after a run completes without a fatal abort.
func (t *Tracker) Finalize(ctx context.Context) error {
	if err := t.store.Delete(ctx, SnapshotKey); err != nil {
		return harvest.PersistenceError(fmt.Errorf("clear snapshot: %w", err))
	}
	t.mu.Lock()
	t.processed = make(map[string]struct{})
	t.totalProcessed = 0
	t.isResumed = false
	t.mu.Unlock()
	return nil
}

func (t *Tracker) statsLocked() Stats {
	remaining := t.totalRequested - t.totalProcessed
	if remaining < 0 {
		remaining = 0
	}
	pct := 0
	if t.totalRequested > 0 {
		pct = int(math.Round(100 * float64(t.totalProcessed) / float64(t.totalRequested)))
	}
	rate := 0.0
	if elapsed := t.clock.Now().Sub(t.startedAt).Minutes(); elapsed > 0 {
		rate = float64(t.totalProcessed) / elapsed
	}
	return Stats{
		TotalProcessed:     t.totalProcessed,
		TotalRequested:     t.totalRequested,
		Remaining:          remaining,
		ProgressPercentage: pct,
		RatePerMinute:      rate,
		IsResumed:          t.isResumed,
	}
}

func (t *Tracker) orderedIDsLocked() []string {
	ids := make([]string, 0, len(t.processed))
	for id := range t.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
