// Package vectorstore provides vector index backends keyed by
// (owner id, model tag): an in-memory index and a sqlite-backed index.
// Both rank by cosine similarity computed in-process.
package vectorstore

import (
	"fmt"
	"math"
	"strings"

	kgraph "github.com/kgraph-ai/kgraph"
)

// New creates a vector store based on the database URL. memory:// yields the
// in-process index; sqlite:///path/to/index.db yields the sqlite index.
func New(databaseURL string) (kgraph.VectorStore, error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		return NewMemoryStore(), nil
	}

	if strings.HasPrefix(databaseURL, "sqlite://") {
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"))
	}

	return nil, fmt.Errorf("only memory:// and sqlite:// URLs are currently supported")
}

// cosineSimilarity32 computes cosine similarity between two float32 vectors.
// Mismatched lengths and zero vectors score 0.
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
