package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func runStoreTests(t *testing.T, store kgraph.CheckpointStore, clk *clock) {
	ctx := context.Background()

	// Empty thread.
	got, err := store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got)

	removed, err := store.Prune(ctx, "t1", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	first, err := store.Append(ctx, "t1", []byte(`{"turn":1}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", first.ThreadID)
	assert.NotEmpty(t, first.ID)

	clk.Advance(time.Hour)
	second, err := store.Append(ctx, "t1", []byte(`{"turn":2}`))
	require.NoError(t, err)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	clk.Advance(time.Hour)
	third, err := store.Append(ctx, "t1", []byte(`{"turn":3}`))
	require.NoError(t, err)

	// Another thread never interferes.
	_, err = store.Append(ctx, "t2", []byte(`{"other":true}`))
	require.NoError(t, err)

	got, err = store.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte(`{"turn":1}`), got[0].State)
	assert.Equal(t, []byte(`{"turn":3}`), got[2].State)
	assert.True(t, got[0].CreatedAt.Before(got[1].CreatedAt))
	assert.True(t, got[1].CreatedAt.Before(got[2].CreatedAt))

	// Prune drops entries older than maxAge.
	clk.Advance(30 * time.Minute)
	removed, err = store.Prune(ctx, "t1", 100*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err = store.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)

	// maxAge zero expires everything, but the newest always survives.
	removed, err = store.Prune(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err = store.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, third.ID, got[0].ID)

	// DeleteAll removes even the newest.
	removed, err = store.DeleteAll(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err = store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got)

	// The other thread was untouched.
	got, err = store.List(ctx, "t2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func runStalledClockTest(t *testing.T, store kgraph.CheckpointStore) {
	ctx := context.Background()

	// With a frozen clock, appended order still shows in the timestamps.
	a, err := store.Append(ctx, "frozen", []byte("a"))
	require.NoError(t, err)
	b, err := store.Append(ctx, "frozen", []byte("b"))
	require.NoError(t, err)
	assert.True(t, b.CreatedAt.After(a.CreatedAt))

	got, err := store.List(ctx, "frozen")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("a"), got[0].State)
	assert.Equal(t, []byte("b"), got[1].State)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	clk := newClock()
	store.now = clk.Now
	runStoreTests(t, store, clk)
	runStalledClockTest(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(RedisOptions{Client: client})
	defer store.Close()
	clk := newClock()
	store.now = clk.Now
	runStoreTests(t, store, clk)
	runStalledClockTest(t, store)
}

func TestRedisStoreSubMillisecondOrdering(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(RedisOptions{Client: client})
	defer store.Close()
	clk := newClock()
	store.now = clk.Now

	ctx := context.Background()

	// Appends closer together than both a millisecond and float64's
	// resolution at nanosecond epoch magnitudes must still come back in
	// insertion order with strictly increasing timestamps.
	const n = 20
	for i := 0; i < n; i++ {
		_, err := store.Append(ctx, "rapid", []byte{byte('a' + i)})
		require.NoError(t, err)
		clk.Advance(100 * time.Nanosecond)
	}

	got, err := store.List(ctx, "rapid")
	require.NoError(t, err)
	require.Len(t, got, n)
	for i := 1; i < n; i++ {
		assert.Equal(t, []byte{byte('a' + i)}, got[i].State)
		assert.True(t, got[i].CreatedAt.After(got[i-1].CreatedAt))
	}

	// Age pruning still sees through the packed scores.
	clk.Advance(time.Second)
	removed, err := store.Prune(ctx, "rapid", 0)
	require.NoError(t, err)
	assert.Equal(t, n-1, removed)

	got, err = store.List(ctx, "rapid")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte{byte('a' + n - 1)}, got[0].State)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()
	clk := newClock()
	store.now = clk.Now
	runStoreTests(t, store, clk)
	runStalledClockTest(t, store)
}

func TestNewFactory(t *testing.T) {
	store, err := New("memory://")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = New("sqlite://" + filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	mr := miniredis.RunT(t)
	store, err = New("redis://" + mr.Addr())
	require.NoError(t, err)
	_, err = store.Append(context.Background(), "t1", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = New("mongodb://localhost")
	assert.Error(t, err)
}

func TestSweeper(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	clk := newClock()
	store.now = clk.Now

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, "t1", []byte("state"))
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	sweeper, err := NewSweeper(store, SweeperOptions{
		Schedule: "@every 1h",
		MaxAge:   90 * time.Minute,
		Threads:  func() []string { return []string{"t1", "missing"} },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sweeper.Sweep(ctx))

	got, err := store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSweeperBadSchedule(t *testing.T) {
	_, err := NewSweeper(NewMemoryStore(), SweeperOptions{Schedule: "not a schedule"})
	assert.Error(t, err)
}
