package harvest

import (
	"context"
	"time"
)

// Searcher collects record summaries for a query, best effort up to maxItems.
type Searcher interface {
	Collect(ctx context.Context, q Query, maxItems int) ([]RecordSummary, error)
}

// Enricher fetches the full detail record for one listing. Implementations
// are heavyweight and stateful; Reset tears down session state between
// batches and Close releases everything.
type Enricher interface {
	Fetch(ctx context.Context, detailURI string) (DetailRecord, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Recognizer recovers a contact field from an image resource. A false
// return means the field is absent; recognition failure is never fatal.
type Recognizer interface {
	Recover(ctx context.Context, imageRef string) (string, bool)
}

// Sink appends output records. Append-only; no update or delete semantics.
type Sink interface {
	Append(ctx context.Context, record EnrichedRecord) error
}

// Store is a durable key-value store used for the progress snapshot and
// the cached candidate list.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Publisher pushes per-record completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
