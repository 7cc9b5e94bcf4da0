// Package graphstore provides graph store adapters with idempotent upsert
// semantics: an in-memory store and a FalkorDB-backed store.
package graphstore

import (
	"fmt"
	"strings"

	kgraph "github.com/kgraph-ai/kgraph"
)

// New creates a graph store based on the database URL. memory:// yields the
// in-process store; falkordb://host:port/graph_name yields the FalkorDB
// adapter.
func New(databaseURL string) (kgraph.GraphStore, error) {
	if strings.HasPrefix(databaseURL, "memory://") {
		return NewMemoryGraph(), nil
	}

	if strings.HasPrefix(databaseURL, "falkordb://") {
		return NewFalkorDBGraph(databaseURL)
	}

	return nil, fmt.Errorf("only memory:// and falkordb:// URLs are currently supported")
}
