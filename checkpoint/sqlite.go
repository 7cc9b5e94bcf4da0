package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	kgraph "github.com/kgraph-ai/kgraph"
)

// SQLiteStore persists checkpoints in a sqlite database. Creation times are
// stored as unix nanoseconds so ordering and pruning are integer compares.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ kgraph.CheckpointStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a sqlite-backed checkpoint store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id         TEXT PRIMARY KEY,
		thread_id  TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		state      BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_thread
		ON checkpoints (thread_id, created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Append adds a checkpoint to the thread.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, state []byte) (*kgraph.Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: err}
	}
	defer tx.Rollback()

	createdAt := s.now().UTC()
	var lastNano sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&lastNano)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to read newest checkpoint: %w", err)}
	}
	if lastNano.Valid && createdAt.UnixNano() <= lastNano.Int64 {
		createdAt = time.Unix(0, lastNano.Int64+1).UTC()
	}

	cp := &kgraph.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: createdAt,
		State:     state,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, thread_id, created_at, state) VALUES (?, ?, ?, ?)`,
		cp.ID, cp.ThreadID, cp.CreatedAt.UnixNano(), cp.State)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to append checkpoint: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: err}
	}
	return cp, nil
}

// List returns the thread's checkpoints ordered oldest to newest.
func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]*kgraph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, created_at, state FROM checkpoints
		 WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to list checkpoints: %w", err)}
	}
	defer rows.Close()

	var out []*kgraph.Checkpoint
	for rows.Next() {
		var cp kgraph.Checkpoint
		var nano int64
		if err := rows.Scan(&cp.ID, &cp.ThreadID, &nano, &cp.State); err != nil {
			return nil, &kgraph.StoreError{Store: "sqlite", Err: err}
		}
		cp.CreatedAt = time.Unix(0, nano).UTC()
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// Prune removes checkpoints older than maxAge, always keeping the newest.
func (s *SQLiteStore) Prune(ctx context.Context, threadID string, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE thread_id = ?
		  AND created_at < ?
		  AND created_at < (SELECT MAX(created_at) FROM checkpoints WHERE thread_id = ?)`,
		threadID, cutoff, threadID)
	if err != nil {
		return 0, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to prune checkpoints: %w", err)}
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "sqlite", Err: err}
	}
	return int(removed), nil
}

// DeleteAll removes every checkpoint for the thread.
func (s *SQLiteStore) DeleteAll(ctx context.Context, threadID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to delete checkpoints: %w", err)}
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "sqlite", Err: err}
	}
	return int(removed), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
