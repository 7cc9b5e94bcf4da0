package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgraph "github.com/kgraph-ai/kgraph"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface, *clock) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := NewPostgresStoreWithPool(mock)
	clk := newClock()
	store.now = clk.Now
	return store, mock, clk
}

func TestPostgresStoreAppend(t *testing.T) {
	store, mock, clk := newMockStore(t)

	mock.ExpectQuery("SELECT created_at FROM checkpoints").
		WithArgs("t1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs(pgxmock.AnyArg(), "t1", clk.Now().UnixNano(), []byte(`{"turn":1}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cp, err := store.Append(context.Background(), "t1", []byte(`{"turn":1}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", cp.ThreadID)
	assert.Equal(t, clk.Now(), cp.CreatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendStalledClock(t *testing.T) {
	store, mock, clk := newMockStore(t)

	// The stored newest is ahead of the clock; the append lands one
	// nanosecond after it.
	ahead := clk.Now().Add(time.Minute).UnixNano()
	mock.ExpectQuery("SELECT created_at FROM checkpoints").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(ahead))
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs(pgxmock.AnyArg(), "t1", ahead+1, []byte("x")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cp, err := store.Append(context.Background(), "t1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, ahead+1).UTC(), cp.CreatedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	store, mock, clk := newMockStore(t)

	first := clk.Now().UnixNano()
	second := clk.Now().Add(time.Hour).UnixNano()
	mock.ExpectQuery("SELECT id, thread_id, created_at, state FROM checkpoints").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "thread_id", "created_at", "state"}).
			AddRow("cp-1", "t1", first, []byte(`{"turn":1}`)).
			AddRow("cp-2", "t1", second, []byte(`{"turn":2}`)))

	got, err := store.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cp-1", got[0].ID)
	assert.True(t, got[0].CreatedAt.Before(got[1].CreatedAt))
	assert.Equal(t, []byte(`{"turn":2}`), got[1].State)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePrune(t *testing.T) {
	store, mock, clk := newMockStore(t)

	cutoff := clk.Now().Add(-time.Hour).UnixNano()
	mock.ExpectExec("DELETE FROM checkpoints").
		WithArgs("t1", cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	removed, err := store.Prune(context.Background(), "t1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteAll(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec("DELETE FROM checkpoints").
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.DeleteAll(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAppendError(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT created_at FROM checkpoints").
		WithArgs("t1").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Append(context.Background(), "t1", []byte("x"))
	require.Error(t, err)

	var storeErr *kgraph.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "postgres", storeErr.Store)
}
