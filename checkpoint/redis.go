package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	kgraph "github.com/kgraph-ai/kgraph"
)

// RedisStore keeps each thread's checkpoints in a sorted set scored by
// creation time, so ordering and age pruning are both range operations.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ kgraph.CheckpointStore = (*RedisStore)(nil)

// RedisOptions configuration for the redis checkpoint store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix for all keys, default "kgraph:".
	Prefix string
	// Client overrides Addr/Password/DB with an existing client.
	Client redis.UniversalClient
}

// NewRedisStore creates a redis-backed checkpoint store.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := opts.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "kgraph:"
	}

	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) threadKey(threadID string) string {
	return fmt.Sprintf("%scheckpoints:%s", s.prefix, threadID)
}

// scoreStep separates same-millisecond appends within a score. Scores hold
// milliseconds in the integer part because nanosecond epochs exceed float64's
// 53-bit mantissa and quantize; the step stays above float64 resolution at
// current epoch magnitudes, so successive scores are strictly increasing.
const scoreStep = 1.0 / 1024

// Append adds a checkpoint to the thread's sorted set.
func (s *RedisStore) Append(ctx context.Context, threadID string, state []byte) (*kgraph.Checkpoint, error) {
	key := s.threadKey(threadID)

	createdAt := s.now().UTC()
	last, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to read newest checkpoint: %w", err)}
	}
	if len(last) > 0 {
		// The stored record carries the exact prior timestamp; the score
		// only approximates it.
		var prev kgraph.Checkpoint
		if raw, ok := last[0].Member.(string); ok && json.Unmarshal([]byte(raw), &prev) == nil {
			if !createdAt.After(prev.CreatedAt) {
				createdAt = prev.CreatedAt.Add(time.Nanosecond)
			}
		}
	}

	cp := &kgraph.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: createdAt,
		State:     state,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	score := float64(createdAt.UnixMilli())
	if len(last) > 0 && score <= last[0].Score {
		score = last[0].Score + scoreStep
	}

	err = s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: data}).Err()
	if err != nil {
		return nil, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to append checkpoint: %w", err)}
	}

	return cp, nil
}

// List returns the thread's checkpoints ordered oldest to newest.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]*kgraph.Checkpoint, error) {
	members, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to list checkpoints: %w", err)}
	}

	out := make([]*kgraph.Checkpoint, 0, len(members))
	for _, member := range members {
		var cp kgraph.Checkpoint
		if err := json.Unmarshal([]byte(member), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, nil
}

// Prune removes checkpoints older than maxAge, always keeping the newest.
func (s *RedisStore) Prune(ctx context.Context, threadID string, maxAge time.Duration) (int, error) {
	key := s.threadKey(threadID)

	newest, err := s.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to read newest checkpoint: %w", err)}
	}
	if len(newest) == 0 {
		return 0, nil
	}

	// Everything strictly older than the bound goes; capping the bound at
	// the newest score keeps the latest checkpoint even when it is expired.
	bound := float64(s.now().UTC().Add(-maxAge).UnixMilli())
	if bound > newest[0].Score {
		bound = newest[0].Score
	}

	upper := "(" + strconv.FormatFloat(bound, 'f', -1, 64)
	removed, err := s.client.ZRemRangeByScore(ctx, key, "-inf", upper).Result()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to prune checkpoints: %w", err)}
	}
	return int(removed), nil
}

// DeleteAll removes every checkpoint for the thread.
func (s *RedisStore) DeleteAll(ctx context.Context, threadID string) (int, error) {
	key := s.threadKey(threadID)

	count, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to count checkpoints: %w", err)}
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return 0, &kgraph.StoreError{Store: "redis", Err: fmt.Errorf("failed to delete checkpoints: %w", err)}
	}
	return int(count), nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
