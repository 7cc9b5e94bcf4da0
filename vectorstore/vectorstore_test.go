package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
)

func record(owner string, kind kgraph.OwnerKind, vector ...float32) kgraph.EmbeddingRecord {
	return kgraph.EmbeddingRecord{
		OwnerID:  owner,
		ModelTag: "test-3d",
		Kind:     kind,
		Text:     "text of " + owner,
		Vector:   vector,
	}
}

func runStoreTests(t *testing.T, store kgraph.VectorStore) {
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("doc:0001", kgraph.OwnerChunk, 1, 0, 0)))
	require.NoError(t, store.Upsert(ctx, record("doc:0002", kgraph.OwnerChunk, 0.9, 0.1, 0)))
	require.NoError(t, store.Upsert(ctx, record("e1", kgraph.OwnerEntity, 0, 1, 0)))

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc:0001", hits[0].Record.OwnerID)
	assert.Equal(t, "doc:0002", hits[1].Record.OwnerID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "text of doc:0001", hits[0].Record.Text)
	assert.Equal(t, kgraph.OwnerChunk, hits[0].Record.Kind)

	// Upsert replaces the vector for the same owner and tag.
	require.NoError(t, store.Upsert(ctx, record("doc:0001", kgraph.OwnerChunk, 0, 0, 1)))
	hits, err = store.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc:0002", hits[0].Record.OwnerID)

	// Mismatched dimensions never match.
	hits, err = store.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, store.Delete(ctx, "e1", "test-3d"))
	hits, err = store.Search(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "e1", h.Record.OwnerID)
	}

	// k <= 0 is an empty result, not an error.
	hits, err = store.Search(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	runStoreTests(t, store)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	runStoreTests(t, store)
}

func TestNewFactory(t *testing.T) {
	store, err := New("memory://")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New("sqlite://" + filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = New("qdrant://localhost")
	assert.Error(t, err)
}

func TestCosineSimilarity32(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity32([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity32([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity32([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity32([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosineSimilarity32([]float32{0, 0}, []float32{1, 1}))
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75}
	assert.Equal(t, in, decodeVector(encodeVector(in)))
	assert.Empty(t, decodeVector(nil))
}
