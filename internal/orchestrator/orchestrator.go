// Package orchestrator drives a harvest run end to end: search, filter,
// batched enrichment, persistence, checkpointing and finalization.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/metrics"
	"github.com/harvestkit/facultydir/internal/progress"
	"github.com/harvestkit/facultydir/internal/search"
)

// CandidatesKey is the fixed logical name for the cached candidate list.
const CandidatesKey = "harvest/candidates"

// State labels the orchestrator's position in a run.
type State string

// Run states.
const (
	StateSearching     State = "searching"
	StateEnriching     State = "enriching"
	StateCheckpointing State = "checkpointing"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Config tunes batching, concurrency and retry behavior for a run.
type Config struct {
	Query    harvest.Query
	MaxItems int
	// BatchSize partitions the remaining candidates; defaults to 10.
	BatchSize int
	// Concurrency bounds in-flight enrichments per batch. Kept small on
	// purpose: the enricher is a heavyweight, stateful collaborator and
	// high fan-out risks resource exhaustion and detection. Defaults to 2.
	Concurrency int
	// RetryBudget is the number of additional enrichment attempts per
	// item after the first. Zero takes the default of 2; a negative
	// value disables retries.
	RetryBudget int
	// Topic, when set, receives a completion event per output record.
	Topic string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Concurrency > 5 {
		c.Concurrency = 5
	}
	if c.RetryBudget == 0 {
		c.RetryBudget = 2
	} else if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	return c
}

// Report summarizes a finished run.
type Report struct {
	RunID    string
	Complete int
	Partial  int
	Skipped  int
	Resumed  bool
}

// Orchestrator owns one run. The tracker is exclusively owned for the
// duration; the store merely persists the snapshots it is handed.
type Orchestrator struct {
	searcher   harvest.Searcher
	enricher   harvest.Enricher
	recognizer harvest.Recognizer
	sink       harvest.Sink
	store      harvest.Store
	tracker    *progress.Tracker
	publisher  harvest.Publisher
	clock      harvest.Clock
	cfg        Config
	logger     *zap.Logger

	// markMu serializes mark-then-maybe-checkpoint so the modulo trigger
	// cannot be raced past by concurrent task completions.
	markMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// New wires an Orchestrator. recognizer and publisher may be nil.
func New(
	searcher harvest.Searcher,
	enricher harvest.Enricher,
	recognizer harvest.Recognizer,
	sink harvest.Sink,
	store harvest.Store,
	tracker *progress.Tracker,
	publisher harvest.Publisher,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		searcher:   searcher,
		enricher:   enricher,
		recognizer: recognizer,
		sink:       sink,
		store:      store,
		tracker:    tracker,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
	o.logger.Debug("run state", zap.String("state", string(s)))
}

// Run executes the pipeline. On a fatal fault the tracker is NOT
// finalized, so the last checkpoint stays valid for the next resume.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := o.logger.With(zap.String("run_id", report.RunID))

	resumed, err := o.tracker.Initialize(ctx, o.cfg.Query, o.cfg.MaxItems)
	if err != nil {
		o.setState(StateFailed)
		return report, err
	}
	report.Resumed = resumed

	o.setState(StateSearching)
	candidates, err := o.obtainCandidates(ctx, logger)
	if err != nil {
		o.setState(StateFailed)
		return report, err
	}

	pending := make([]harvest.RecordSummary, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if o.tracker.IsProcessed(c.ID) {
			report.Skipped++
			continue
		}
		pending = append(pending, c)
	}
	logger.Info("candidates ready",
		zap.Int("total", len(candidates)),
		zap.Int("already_processed", report.Skipped),
		zap.Int("pending", len(pending)),
	)

	var complete, partial int
	var countMu sync.Mutex

	for start := 0; start < len(pending); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		batchNum := start/o.cfg.BatchSize + 1

		o.setState(StateEnriching)
		logger.Info("batch started", zap.Int("batch", batchNum), zap.Int("size", len(batch)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.Concurrency)
		for _, item := range batch {
			g.Go(func() error {
				outcome, err := o.processItem(gctx, item)
				if err != nil {
					return err
				}
				countMu.Lock()
				if outcome.IsPartial {
					partial++
				} else {
					complete++
				}
				countMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			o.setState(StateFailed)
			logger.Error("batch aborted", zap.Int("batch", batchNum), zap.Error(err))
			return o.fillReport(report, complete, partial), err
		}

		// Unconditional batch-end checkpoint, regardless of interval
		// alignment.
		o.setState(StateCheckpointing)
		if err := o.tracker.SaveCheckpoint(ctx); err != nil {
			o.setState(StateFailed)
			return o.fillReport(report, complete, partial), err
		}

		// Fresh enricher session between batches.
		if err := o.enricher.Reset(ctx); err != nil {
			logger.Warn("enricher reset failed", zap.Error(err))
		}
	}

	o.setState(StateFinalizing)
	if err := o.store.Delete(ctx, CandidatesKey); err != nil {
		logger.Warn("candidate cache cleanup failed", zap.Error(err))
	}
	if err := o.tracker.Finalize(ctx); err != nil {
		o.setState(StateFailed)
		return o.fillReport(report, complete, partial), err
	}

	o.setState(StateDone)
	report = o.fillReport(report, complete, partial)
	logger.Info("run complete",
		zap.Int("complete", report.Complete),
		zap.Int("partial", report.Partial),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (o *Orchestrator) fillReport(r Report, complete, partial int) Report {
	r.Complete = complete
	r.Partial = partial
	return r
}

// candidateCache is the durable form of the cached candidate list.
type candidateCache struct {
	Query harvest.Query           `json:"query"`
	Items []harvest.RecordSummary `json:"items"`
}

// obtainCandidates returns the run's candidate list, reusing the cached
// one when it belongs to the same query. A fresh list is cached before
// enrichment begins so a crash after search does not re-query the source.
func (o *Orchestrator) obtainCandidates(ctx context.Context, logger *zap.Logger) ([]harvest.RecordSummary, error) {
	if data, ok, err := o.store.Get(ctx, CandidatesKey); err != nil {
		return nil, harvest.PersistenceError(fmt.Errorf("load candidate cache: %w", err))
	} else if ok {
		var cached candidateCache
		if err := json.Unmarshal(data, &cached); err == nil && cached.Query.Equal(o.cfg.Query) {
			logger.Info("using cached candidate list", zap.Int("count", len(cached.Items)))
			return cached.Items, nil
		}
	}

	items, err := o.searcher.Collect(ctx, o.cfg.Query, o.cfg.MaxItems)
	if err != nil {
		if !errors.Is(err, search.ErrRetriesExhausted) {
			return nil, err
		}
		// Best effort: a search cut short by retry exhaustion is logged,
		// not fatal.
		logger.Warn("search ended early; proceeding with partial candidate list",
			zap.Int("count", len(items)), zap.Error(err))
	}

	data, err := json.Marshal(candidateCache{Query: o.cfg.Query, Items: items})
	if err != nil {
		return nil, fmt.Errorf("marshal candidate cache: %w", err)
	}
	if err := o.store.Put(ctx, CandidatesKey, data); err != nil {
		return nil, harvest.PersistenceError(fmt.Errorf("cache candidate list: %w", err))
	}
	return items, nil
}

// processItem enriches one record through its retry budget, persists the
// resulting output record, and marks the id processed. Persist happens
// strictly before the mark: a crash between them re-does the item instead
// of silently dropping it.
func (o *Orchestrator) processItem(ctx context.Context, item harvest.RecordSummary) (harvest.EnrichedRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryBudget; attempt++ {
		if ctx.Err() != nil {
			return harvest.EnrichedRecord{}, ctx.Err()
		}
		if attempt > 0 {
			metrics.ObserveEnrichRetry()
			o.logger.Debug("retrying enrichment",
				zap.String("id", item.ID), zap.Int("attempt", attempt))
		}

		detail, err := o.enricher.Fetch(ctx, item.DetailURI)
		if err == nil {
			record := harvest.NewComplete(item, detail, o.deriveContact(ctx, detail), o.clock.Now(), o.cfg.Query)
			if err := o.persistAndMark(ctx, record); err != nil {
				return harvest.EnrichedRecord{}, err
			}
			return record, nil
		}
		if harvest.IsFatal(err) || errors.Is(err, context.Canceled) {
			return harvest.EnrichedRecord{}, err
		}
		lastErr = err
	}

	// Budget exhausted: a permanently failing item degrades to a Partial
	// record and must not block completion.
	record := harvest.NewPartial(item, lastErr.Error(), o.clock.Now(), o.cfg.Query)
	if err := o.persistAndMark(ctx, record); err != nil {
		return harvest.EnrichedRecord{}, err
	}
	return record, nil
}

func (o *Orchestrator) persistAndMark(ctx context.Context, record harvest.EnrichedRecord) error {
	if err := o.sink.Append(ctx, record); err != nil {
		return harvest.PersistenceError(fmt.Errorf("append record %s: %w", record.ID, err))
	}

	outcome := "complete"
	if record.IsPartial {
		outcome = "partial"
	}
	metrics.ObserveRecord(outcome)

	o.markMu.Lock()
	o.tracker.MarkProcessed(record.ID)
	shouldCheckpoint := o.tracker.ShouldCheckpoint()
	var err error
	if shouldCheckpoint {
		err = o.tracker.SaveCheckpoint(ctx)
	}
	o.markMu.Unlock()
	if err != nil {
		return err
	}

	o.publishRecord(ctx, record, outcome)
	return nil
}

// publishRecord emits a completion event. Events are ancillary to the
// output sink, so failures only warn.
func (o *Orchestrator) publishRecord(ctx context.Context, record harvest.EnrichedRecord, outcome string) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"record_id":    record.ID,
		"outcome":      outcome,
		"collected_at": record.CollectedAt.Format(time.RFC3339),
		"keyword":      record.Query.Keyword,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
		o.logger.Warn("record event publish failed",
			zap.String("id", record.ID), zap.Error(err))
	}
}

func (o *Orchestrator) deriveContact(ctx context.Context, detail harvest.DetailRecord) string {
	if detail.Email != "" {
		return detail.Email
	}
	if detail.EmailImageRef == "" || o.recognizer == nil {
		return ""
	}
	if text, ok := o.recognizer.Recover(ctx, detail.EmailImageRef); ok {
		return text
	}
	return ""
}
