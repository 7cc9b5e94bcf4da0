package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/extract"
	"github.com/kgraph-ai/kgraph/graphstore"
)

func candidates(entities []extract.CandidateEntity, relations []extract.CandidateRelation) extract.Candidates {
	return extract.Candidates{Entities: entities, Relations: relations}
}

func TestResolveCreatesNewEntities(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	r := New(store, Options{})

	out, err := r.Resolve(context.Background(), []extract.Candidates{
		candidates([]extract.CandidateEntity{
			{Name: "Ada Lovelace", Type: "person", ChunkID: "doc:0001"},
			{Name: "Analytical Engine", Type: "machine", ChunkID: "doc:0001"},
		}, []extract.CandidateRelation{
			{Source: "Ada Lovelace", Target: "Analytical Engine", Predicate: "wrote_programs_for", ChunkID: "doc:0001"},
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out.EntitiesCreated)
	assert.Equal(t, 0, out.EntitiesMerged)
	assert.Equal(t, 1, out.RelationsCreated)
	assert.Empty(t, out.Errors)

	got, err := store.FindByName(context.Background(), "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "doc:0001", got.FirstSeenChunk)
}

func TestResolveMergesByAlias(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.UpsertEntity(ctx, &kgraph.Entity{
		ID:            "e1",
		CanonicalName: "Ada Lovelace",
		Type:          "person",
		Aliases:       []string{"A. Lovelace"},
	})
	require.NoError(t, err)

	r := New(store, Options{})
	out, err := r.Resolve(ctx, []extract.Candidates{
		candidates([]extract.CandidateEntity{
			{Name: "A. Lovelace", Type: "person", Aliases: []string{"Countess of Lovelace"}, ChunkID: "doc:0002"},
		}, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, out.EntitiesCreated)
	assert.Equal(t, 1, out.EntitiesMerged)
	assert.Equal(t, "e1", out.Resolved["a. lovelace"])

	got, err := store.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.HasAlias("Countess of Lovelace"))

	// FirstSeenChunk is immutable under merges.
	entities, err := store.Entities(ctx)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestResolveMergesBySimilarity(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.UpsertEntity(ctx, &kgraph.Entity{
		ID:            "e1",
		CanonicalName: "Ada Lovelace",
		Type:          "person",
	})
	require.NoError(t, err)

	r := New(store, Options{SimilarityCutoff: 0.85})
	out, err := r.Resolve(ctx, []extract.Candidates{
		candidates([]extract.CandidateEntity{
			// One character off, ratio 11/12 ≈ 0.92.
			{Name: "Ada Lovelade", Type: "person", ChunkID: "doc:0002"},
		}, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, out.EntitiesCreated)
	assert.Equal(t, 1, out.EntitiesMerged)
	assert.Equal(t, "e1", out.Resolved["ada lovelade"])
}

func TestResolveBelowCutoffCreates(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.UpsertEntity(ctx, &kgraph.Entity{
		ID:            "e1",
		CanonicalName: "Ada Lovelace",
		Type:          "person",
	})
	require.NoError(t, err)

	r := New(store, Options{})
	out, err := r.Resolve(ctx, []extract.Candidates{
		candidates([]extract.CandidateEntity{
			{Name: "Charles Babbage", Type: "person", ChunkID: "doc:0002"},
		}, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out.EntitiesCreated)
	assert.Equal(t, 0, out.EntitiesMerged)

	entities, err := store.Entities(ctx)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}

func TestResolveSimilarityTieGoesToNewest(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.UpsertEntity(ctx, &kgraph.Entity{ID: "old", CanonicalName: "Projekt Apollo", Type: "program"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, _, err = store.UpsertEntity(ctx, &kgraph.Entity{ID: "new", CanonicalName: "Project Apolla", Type: "program"})
	require.NoError(t, err)

	r := New(store, Options{})
	out, err := r.Resolve(ctx, []extract.Candidates{
		candidates([]extract.CandidateEntity{
			// Equidistant from both stored names.
			{Name: "Project Apollo", Type: "program", ChunkID: "doc:0001"},
		}, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, "new", out.Resolved["project apollo"])
}

func TestResolveDanglingRelationReported(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()

	r := New(store, Options{})
	out, err := r.Resolve(context.Background(), []extract.Candidates{
		candidates([]extract.CandidateEntity{
			{Name: "Ada Lovelace", Type: "person", ChunkID: "doc:0001"},
		}, []extract.CandidateRelation{
			{Source: "Ada Lovelace", Target: "Nobody", Predicate: "knows", ChunkID: "doc:0001"},
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, out.RelationsCreated)
	require.Len(t, out.Errors, 1)
	assert.ErrorIs(t, out.Errors[0], kgraph.ErrDanglingReference)
}

func TestResolveRelationEvidenceUnions(t *testing.T) {
	store := graphstore.NewMemoryGraph()
	defer store.Close()
	ctx := context.Background()

	r := New(store, Options{})
	batch := func(chunk string) extract.Candidates {
		return candidates([]extract.CandidateEntity{
			{Name: "Ada Lovelace", Type: "person", ChunkID: chunk},
			{Name: "Charles Babbage", Type: "person", ChunkID: chunk},
		}, []extract.CandidateRelation{
			{Source: "Ada Lovelace", Target: "Charles Babbage", Predicate: "collaborated_with", ChunkID: chunk},
		})
	}

	out, err := r.Resolve(ctx, []extract.Candidates{batch("doc:0001"), batch("doc:0002")})
	require.NoError(t, err)
	assert.Equal(t, 2, out.EntitiesCreated)
	assert.Equal(t, 1, out.RelationsCreated)

	ada, err := store.FindByName(ctx, "Ada Lovelace")
	require.NoError(t, err)
	_, relations, err := store.Neighborhood(ctx, []string{ada.ID}, 1, 16)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, []string{"doc:0001", "doc:0002"}, relations[0].Evidence)
}

func TestResolveDeterministic(t *testing.T) {
	input := []extract.Candidates{
		candidates([]extract.CandidateEntity{
			{Name: "Ada Lovelace", Type: "person", ChunkID: "doc:0001"},
			{Name: "ada lovelace", Type: "person", ChunkID: "doc:0001"},
			{Name: "Charles Babbage", Type: "person", ChunkID: "doc:0001"},
		}, []extract.CandidateRelation{
			{Source: "ada lovelace", Target: "Charles Babbage", Predicate: "collaborated_with", ChunkID: "doc:0001"},
		}),
	}

	run := func() *Outcome {
		store := graphstore.NewMemoryGraph()
		defer store.Close()
		out, err := New(store, Options{}).Resolve(context.Background(), input)
		require.NoError(t, err)
		return out
	}

	first, second := run(), run()
	assert.Equal(t, first.EntitiesCreated, second.EntitiesCreated)
	assert.Equal(t, first.EntitiesMerged, second.EntitiesMerged)
	assert.Equal(t, first.RelationsCreated, second.RelationsCreated)
	assert.Equal(t, 2, first.EntitiesCreated)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("Ada", "ada"))
	assert.InDelta(t, 0.8, similarity("abcde", "abcdX"), 0.001)
	assert.Equal(t, 0.0, similarity("abc", "xyz"))
}
