package vectorstore

import (
	"context"
	"sort"
	"sync"

	kgraph "github.com/kgraph-ai/kgraph"
)

// MemoryStore is an in-process vector index. Upserts replace by
// (owner id, model tag); Search is a linear scan ranked by cosine.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]kgraph.EmbeddingRecord
}

type recordKey struct {
	owner string
	model string
}

var _ kgraph.VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]kgraph.EmbeddingRecord)}
}

// Upsert stores the record, replacing any previous vector for the same
// owner and model tag.
func (m *MemoryStore) Upsert(ctx context.Context, rec kgraph.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := rec
	stored.Vector = append([]float32(nil), rec.Vector...)
	m.records[recordKey{owner: rec.OwnerID, model: rec.ModelTag}] = stored
	return nil
}

// Search returns the k records nearest to the query vector. Records whose
// dimension differs from the query never match.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, k int) ([]kgraph.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]kgraph.SearchHit, 0, len(m.records))
	for _, rec := range m.records {
		if len(rec.Vector) != len(vector) {
			continue
		}
		hits = append(hits, kgraph.SearchHit{Record: rec, Score: cosineSimilarity32(vector, rec.Vector)})
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
func (m *MemoryStore) Delete(ctx context.Context, ownerID, modelTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{owner: ownerID, model: modelTag})
	return nil
}

// Close releases the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[recordKey]kgraph.EmbeddingRecord)
	return nil
}
