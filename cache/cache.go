// Package cache stores hybrid query results keyed by a fingerprint of the
// normalized query text. Every cached entry carries the index version it was
// computed at; a lookup against a newer index is a miss and evicts the stale
// entry, so readers never see pre-ingest context after an ingest commits.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	kgraph "github.com/kgraph-ai/kgraph"
)

// Request identifies one cacheable query: the text plus the retrieval
// bounds it was answered under. Two calls with the same text but different
// bounds produce different payloads, so the bounds are part of the key.
type Request struct {
	Query string
	TopK  int
	Depth int
}

// ResultCache stores query results bounded by a TTL. Only successful results
// belong in the cache; failures are never stored.
type ResultCache interface {
	// Get returns the cached result for the request if one exists at exactly
	// the given index version. A cached result at any other version is
	// deleted and reported as a miss.
	Get(ctx context.Context, req Request, version uint64) (*kgraph.QueryResult, bool, error)

	Put(ctx context.Context, req Request, result *kgraph.QueryResult) error
	Close() error
}

// VersionCounter tracks the monotonically increasing index version. The
// version advances exactly once per committed ingest.
type VersionCounter interface {
	Current(ctx context.Context) (uint64, error)
	Advance(ctx context.Context) (uint64, error)
}

// Normalize canonicalizes a query for fingerprinting: case folding and
// whitespace collapsing, so trivially reworded queries share an entry.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Fingerprint returns the cache key for a request.
func Fingerprint(req Request) string {
	input := fmt.Sprintf("%s|k=%d|d=%d", Normalize(req.Query), req.TopK, req.Depth)
	return fmt.Sprintf("%016x", xxhash.Sum64String(input))
}
