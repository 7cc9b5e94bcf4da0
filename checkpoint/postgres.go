package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	kgraph "github.com/kgraph-ai/kgraph"
)

// DBPool is the subset of pgxpool.Pool the store needs, kept small so tests
// can substitute a mock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists checkpoints in PostgreSQL.
type PostgresStore struct {
	pool DBPool
	now  func() time.Time
}

var _ kgraph.CheckpointStore = (*PostgresStore)(nil)

// PostgresOptions configuration for the postgres checkpoint store.
type PostgresOptions struct {
	ConnString string
}

// NewPostgresStore creates a postgres-backed checkpoint store and ensures
// its schema exists.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	s := NewPostgresStoreWithPool(pool)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool wraps an existing pool, used in tests.
func NewPostgresStoreWithPool(pool DBPool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// InitSchema creates the checkpoints table if it doesn't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			state BYTEA NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints (thread_id, created_at);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append adds a checkpoint to the thread.
func (s *PostgresStore) Append(ctx context.Context, threadID string, state []byte) (*kgraph.Checkpoint, error) {
	createdAt := s.now().UTC()

	var lastNano int64
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM checkpoints WHERE thread_id = $1 ORDER BY created_at DESC LIMIT 1`,
		threadID).Scan(&lastNano)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, &kgraph.StoreError{Store: "postgres", Err: fmt.Errorf("failed to read newest checkpoint: %w", err)}
	case createdAt.UnixNano() <= lastNano:
		createdAt = time.Unix(0, lastNano+1).UTC()
	}

	cp := &kgraph.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: createdAt,
		State:     state,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, thread_id, created_at, state) VALUES ($1, $2, $3, $4)`,
		cp.ID, cp.ThreadID, cp.CreatedAt.UnixNano(), cp.State)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "postgres", Err: fmt.Errorf("failed to append checkpoint: %w", err)}
	}
	return cp, nil
}

// List returns the thread's checkpoints ordered oldest to newest.
func (s *PostgresStore) List(ctx context.Context, threadID string) ([]*kgraph.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, created_at, state FROM checkpoints
		 WHERE thread_id = $1 ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "postgres", Err: fmt.Errorf("failed to list checkpoints: %w", err)}
	}
	defer rows.Close()

	var out []*kgraph.Checkpoint
	for rows.Next() {
		var cp kgraph.Checkpoint
		var nano int64
		if err := rows.Scan(&cp.ID, &cp.ThreadID, &nano, &cp.State); err != nil {
			return nil, &kgraph.StoreError{Store: "postgres", Err: err}
		}
		cp.CreatedAt = time.Unix(0, nano).UTC()
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// Prune removes checkpoints older than maxAge, always keeping the newest.
func (s *PostgresStore) Prune(ctx context.Context, threadID string, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge).UnixNano()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = $1
		  AND created_at < $2
		  AND created_at < (SELECT MAX(created_at) FROM checkpoints WHERE thread_id = $1)`,
		threadID, cutoff)
	if err != nil {
		return 0, &kgraph.StoreError{Store: "postgres", Err: fmt.Errorf("failed to prune checkpoints: %w", err)}
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAll removes every checkpoint for the thread.
func (s *PostgresStore) DeleteAll(ctx context.Context, threadID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, &kgraph.StoreError{Store: "postgres", Err: fmt.Errorf("failed to delete checkpoints: %w", err)}
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
