package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harvestkit/facultydir/internal/harvest"
)

// execer is the slice of pgxpool.Pool the sink needs; pgxmock satisfies it
// in tests.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres appends records to a single table. The (run_key, record_id)
// conflict clause makes inserts idempotent, so a crash between a durable
// append and the processed mark cannot produce a duplicate row on resume.
type Postgres struct {
	db     execer
	runKey string
	pool   *pgxpool.Pool
}

const insertRecordSQL = `
	INSERT INTO harvest_records (
		run_key, record_id, display_name, institution, department, rank,
		detail_uri, title, email, phone, office, homepage, bio, contact,
		is_partial, error_reason, collected_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (run_key, record_id) DO NOTHING;
`

// NewPostgres connects a pool and returns a sink scoped to one run key.
func NewPostgres(ctx context.Context, dsn string, runKey string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: pool, runKey: runKey, pool: pool}, nil
}

// NewPostgresWithExecer wires an existing connection (or mock) directly.
func NewPostgresWithExecer(db execer, runKey string) *Postgres {
	return &Postgres{db: db, runKey: runKey}
}

// Append inserts one record.
func (p *Postgres) Append(ctx context.Context, r harvest.EnrichedRecord) error {
	_, err := p.db.Exec(ctx, insertRecordSQL,
		p.runKey, r.ID, r.DisplayName, r.Institution, r.Department, r.Rank,
		r.DetailURI, r.Title, r.Email, r.Phone, r.Office, r.Homepage, r.Bio,
		r.Contact, r.IsPartial, r.ErrorReason, r.CollectedAt,
	)
	if err != nil {
		return harvest.PersistenceError(fmt.Errorf("insert record %s: %w", r.ID, err))
	}
	return nil
}

// Close releases the pool when this sink owns one.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
