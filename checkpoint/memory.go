package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	kgraph "github.com/kgraph-ai/kgraph"
)

// MemoryStore keeps checkpoints in process, per thread, oldest first.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string][]*kgraph.Checkpoint
	now     func() time.Time
}

var _ kgraph.CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*kgraph.Checkpoint),
		now:     time.Now,
	}
}

// Append adds a checkpoint to the thread. Timestamps are forced strictly
// increasing per thread so List order matches append order even when the
// clock stalls within its resolution.
func (m *MemoryStore) Append(ctx context.Context, threadID string, state []byte) (*kgraph.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := m.now().UTC()
	if existing := m.threads[threadID]; len(existing) > 0 {
		if last := existing[len(existing)-1].CreatedAt; !createdAt.After(last) {
			createdAt = last.Add(time.Nanosecond)
		}
	}

	cp := &kgraph.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: createdAt,
		State:     append([]byte(nil), state...),
	}
	m.threads[threadID] = append(m.threads[threadID], cp)

	return copyCheckpoint(cp), nil
}

// List returns the thread's checkpoints ordered oldest to newest.
func (m *MemoryStore) List(ctx context.Context, threadID string) ([]*kgraph.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.threads[threadID]
	out := make([]*kgraph.Checkpoint, len(stored))
	for i, cp := range stored {
		out[i] = copyCheckpoint(cp)
	}
	return out, nil
}

// Prune removes checkpoints older than maxAge, always keeping the newest.
// The age cutoff is computed once, so a checkpoint crossing the boundary
// mid-prune cannot split the result.
func (m *MemoryStore) Prune(ctx context.Context, threadID string, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.threads[threadID]
	if len(stored) <= 1 {
		return 0, nil
	}

	cutoff := m.now().UTC().Add(-maxAge)
	kept := stored[:0:0]
	for i, cp := range stored {
		if i == len(stored)-1 || !cp.CreatedAt.Before(cutoff) {
			kept = append(kept, cp)
		}
	}

	removed := len(stored) - len(kept)
	m.threads[threadID] = kept
	return removed, nil
}

// DeleteAll removes every checkpoint for the thread.
func (m *MemoryStore) DeleteAll(ctx context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.threads[threadID])
	delete(m.threads, threadID)
	return removed, nil
}

// Close drops all threads.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = make(map[string][]*kgraph.Checkpoint)
	return nil
}

func copyCheckpoint(cp *kgraph.Checkpoint) *kgraph.Checkpoint {
	out := *cp
	out.State = append([]byte(nil), cp.State...)
	return &out
}
