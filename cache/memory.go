package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	kgraph "github.com/kgraph-ai/kgraph"
)

// MemoryCache is an in-process result cache with per-entry TTL.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	result    kgraph.QueryResult
	expiresAt time.Time
}

var _ ResultCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached result at exactly the given index version.
func (c *MemoryCache) Get(ctx context.Context, req Request, version uint64) (*kgraph.QueryResult, bool, error) {
	key := Fingerprint(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) || entry.result.IndexVersion != version {
		delete(c.entries, key)
		return nil, false, nil
	}

	result := entry.result
	return &result, true, nil
}

// Put stores the result under the request fingerprint.
func (c *MemoryCache) Put(ctx context.Context, req Request, result *kgraph.QueryResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Fingerprint(req)] = memoryEntry{
		result:    *result,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Close drops all entries.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}

// MemoryVersion is an in-process version counter.
type MemoryVersion struct {
	version atomic.Uint64
}

var _ VersionCounter = (*MemoryVersion)(nil)

// NewMemoryVersion creates a counter starting at zero.
func NewMemoryVersion() *MemoryVersion {
	return &MemoryVersion{}
}

// Current returns the current index version.
func (v *MemoryVersion) Current(ctx context.Context) (uint64, error) {
	return v.version.Load(), nil
}

// Advance bumps and returns the index version.
func (v *MemoryVersion) Advance(ctx context.Context) (uint64, error) {
	return v.version.Add(1), nil
}
