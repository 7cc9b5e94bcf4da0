// Package checkpoint persists per-thread conversational state. Checkpoints
// append in strictly increasing timestamp order per thread; pruning by age
// always leaves the thread's most recent checkpoint so a conversation can
// resume no matter how long it idled.
package checkpoint

import (
	"fmt"
	"strings"

	kgraph "github.com/kgraph-ai/kgraph"
)

// New creates a checkpoint store based on the database URL:
// memory://, redis://host:port, sqlite:///path/to/state.db.
// Postgres stores are built directly with NewPostgresStore since they need a
// context for pool setup.
func New(databaseURL string) (kgraph.CheckpointStore, error) {
	switch {
	case strings.HasPrefix(databaseURL, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "redis://"):
		return NewRedisStore(RedisOptions{Addr: strings.TrimPrefix(databaseURL, "redis://")}), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
	return nil, fmt.Errorf("unsupported checkpoint store URL %q", databaseURL)
}
