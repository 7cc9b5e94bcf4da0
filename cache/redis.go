package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	kgraph "github.com/kgraph-ai/kgraph"
)

const (
	cacheKeyPrefix = "kgraph:cache:"
	versionKey     = "kgraph:index_version"
)

// RedisCache stores query results in redis so multiple readers share one
// cache. TTL enforcement is delegated to redis.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ ResultCache = (*RedisCache)(nil)

// NewRedisCache creates a redis-backed result cache.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached result at exactly the given index version.
func (c *RedisCache) Get(ctx context.Context, req Request, version uint64) (*kgraph.QueryResult, bool, error) {
	key := cacheKeyPrefix + Fingerprint(req)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to read cache entry: %w", err)}
	}

	var result kgraph.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Unreadable entries are dropped rather than served.
		c.client.Del(ctx, key)
		return nil, false, nil
	}

	if result.IndexVersion != version {
		c.client.Del(ctx, key)
		return nil, false, nil
	}

	return &result, true, nil
}

// Put stores the result under the request fingerprint with the cache TTL.
func (c *RedisCache) Put(ctx context.Context, req Request, result *kgraph.QueryResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	key := cacheKeyPrefix + Fingerprint(req)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to write cache entry: %w", err)}
	}
	return nil
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RedisVersion keeps the index version in redis so every process sharing the
// store observes the same version.
type RedisVersion struct {
	client redis.UniversalClient
}

var _ VersionCounter = (*RedisVersion)(nil)

// NewRedisVersion creates a redis-backed version counter.
func NewRedisVersion(client redis.UniversalClient) *RedisVersion {
	return &RedisVersion{client: client}
}

// Current returns the current index version; a missing key is version zero.
func (v *RedisVersion) Current(ctx context.Context) (uint64, error) {
	val, err := v.client.Get(ctx, versionKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to read index version: %w", err)}
	}
	return val, nil
}

// Advance bumps and returns the index version.
func (v *RedisVersion) Advance(ctx context.Context) (uint64, error) {
	val, err := v.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to advance index version: %w", err)}
	}
	return uint64(val), nil
}
