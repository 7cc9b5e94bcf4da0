package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	kgraph "github.com/kgraph-ai/kgraph"
)

// SQLiteStore persists the vector index in a sqlite database. Vectors are
// stored as little-endian float32 blobs; ranking happens in-process after a
// full scan, which is fine at the corpus sizes a single sqlite file holds.
type SQLiteStore struct {
	db *sql.DB
}

var _ kgraph.VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a sqlite-backed vector store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		owner_id  TEXT NOT NULL,
		model_tag TEXT NOT NULL,
		kind      TEXT NOT NULL,
		text      TEXT NOT NULL,
		vector    BLOB NOT NULL,
		PRIMARY KEY (owner_id, model_tag)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Upsert stores the record, replacing any previous vector for the same
// owner and model tag.
func (s *SQLiteStore) Upsert(ctx context.Context, rec kgraph.EmbeddingRecord) error {
	query := `
	INSERT INTO embeddings (owner_id, model_tag, kind, text, vector)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, model_tag)
	DO UPDATE SET kind = excluded.kind, text = excluded.text, vector = excluded.vector`

	_, err := s.db.ExecContext(ctx, query,
		rec.OwnerID, rec.ModelTag, string(rec.Kind), rec.Text, encodeVector(rec.Vector))
	if err != nil {
		return &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to upsert embedding: %w", err)}
	}
	return nil
}

// Search returns the k records nearest to the query vector.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int) ([]kgraph.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, model_tag, kind, text, vector FROM embeddings`)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to scan embeddings: %w", err)}
	}
	defer rows.Close()

	var hits []kgraph.SearchHit
	for rows.Next() {
		var rec kgraph.EmbeddingRecord
		var kind string
		var blob []byte
		if err := rows.Scan(&rec.OwnerID, &rec.ModelTag, &kind, &rec.Text, &blob); err != nil {
			return nil, &kgraph.StoreError{Store: "sqlite", Err: err}
		}
		rec.Kind = kgraph.OwnerKind(kind)
		rec.Vector = decodeVector(blob)
		if len(rec.Vector) != len(vector) {
			continue
		}
		hits = append(hits, kgraph.SearchHit{Record: rec, Score: cosineSimilarity32(vector, rec.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, &kgraph.StoreError{Store: "sqlite", Err: err}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.OwnerID < hits[j].Record.OwnerID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes the record for the owner and model tag.
func (s *SQLiteStore) Delete(ctx context.Context, ownerID, modelTag string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE owner_id = ? AND model_tag = ?`, ownerID, modelTag)
	if err != nil {
		return &kgraph.StoreError{Store: "sqlite", Err: fmt.Errorf("failed to delete embedding: %w", err)}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
