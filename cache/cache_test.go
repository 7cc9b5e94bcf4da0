package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
)

func result(query string, version uint64) *kgraph.QueryResult {
	return &kgraph.QueryResult{
		Query:        query,
		IndexVersion: version,
		Context: kgraph.ContextPayload{
			Chunks: []kgraph.ScoredChunk{
				{Chunk: kgraph.Chunk{ID: "doc:0001", Text: "ada"}, Score: 0.9},
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "who is ada lovelace", Normalize("  Who   is\tAda Lovelace\n"))
	assert.Equal(t, "", Normalize("   "))
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(Request{Query: "Who is Ada Lovelace", TopK: 5, Depth: 2})
	b := Fingerprint(Request{Query: "who  is  ada  lovelace", TopK: 5, Depth: 2})
	c := Fingerprint(Request{Query: "who is charles babbage", TopK: 5, Depth: 2})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestFingerprintCoversBounds(t *testing.T) {
	base := Request{Query: "who is Ada Lovelace", TopK: 5, Depth: 2}
	widerK := Request{Query: "who is Ada Lovelace", TopK: 10, Depth: 2}
	deeper := Request{Query: "who is Ada Lovelace", TopK: 5, Depth: 3}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(widerK))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(deeper))
	assert.NotEqual(t, Fingerprint(widerK), Fingerprint(deeper))
}

func runCacheTests(t *testing.T, c ResultCache) {
	ctx := context.Background()
	query := Request{Query: "who is Ada Lovelace", TopK: 5, Depth: 2}

	// Cold cache misses.
	_, ok, err := c.Get(ctx, query, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, query, result(query.Query, 3)))

	got, ok, err := c.Get(ctx, query, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.IndexVersion)
	require.Len(t, got.Context.Chunks, 1)
	assert.Equal(t, "doc:0001", got.Context.Chunks[0].Chunk.ID)

	// Reworded query shares the entry.
	_, ok, err = c.Get(ctx, Request{Query: "WHO  IS  ada lovelace", TopK: 5, Depth: 2}, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// A newer index version invalidates and evicts the entry.
	_, ok, err = c.Get(ctx, query, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	// Evicted for good, even at the original version.
	_, ok, err = c.Get(ctx, query, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	// Same text under different retrieval bounds is a distinct entry.
	require.NoError(t, c.Put(ctx, query, result(query.Query, 3)))
	_, ok, err = c.Get(ctx, Request{Query: query.Query, TopK: 10, Depth: 2}, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, query, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	runCacheTests(t, c)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(context.Background(), Request{Query: "q"}, result("q", 1)))

	_, ok, err := c.Get(context.Background(), Request{Query: "q"}, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(context.Background(), Request{Query: "q"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, time.Minute)
	defer c.Close()
	runCacheTests(t, c)
}

func TestRedisCacheTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, time.Minute)
	defer c.Close()

	require.NoError(t, c.Put(context.Background(), Request{Query: "q"}, result("q", 1)))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(context.Background(), Request{Query: "q"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCache(client, time.Minute)
	defer c.Close()

	require.NoError(t, mr.Set(cacheKeyPrefix+Fingerprint(Request{Query: "q"}), "not json"))

	_, ok, err := c.Get(context.Background(), Request{Query: "q"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryVersion(t *testing.T) {
	v := NewMemoryVersion()
	ctx := context.Background()

	current, err := v.Current(ctx)
	require.NoError(t, err)
	assert.Zero(t, current)

	next, err := v.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	next, err = v.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestRedisVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	v := NewRedisVersion(client)
	ctx := context.Background()

	current, err := v.Current(ctx)
	require.NoError(t, err)
	assert.Zero(t, current)

	next, err := v.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	current, err = v.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), current)
}
