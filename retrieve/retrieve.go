// Package retrieve answers queries with hybrid context: vector search finds
// the nearest chunks and entities, then the graph neighborhood of the entity
// hits widens the context with related entities and their relations.
package retrieve

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/log"
)

// Retriever assembles context payloads for queries.
type Retriever struct {
	embedder kgraph.Embedder
	vectors  kgraph.VectorStore
	graph    kgraph.GraphStore
	topK     int
	depth    int
	fanout   int
	logger   log.Logger
}

// Options configuration for the retriever.
type Options struct {
	// TopK bounds the vector search. Defaults to 5.
	TopK int
	// Depth bounds the graph expansion from entity hits. Defaults to 2.
	Depth int
	// Fanout bounds per-node expansion during traversal. Defaults to 16.
	Fanout int
	Logger log.Logger
}

// New creates a hybrid retriever over the vector and graph stores.
func New(embedder kgraph.Embedder, vectors kgraph.VectorStore, graph kgraph.GraphStore, opts Options) *Retriever {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = 2
	}
	fanout := opts.Fanout
	if fanout <= 0 {
		fanout = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
		topK:     topK,
		depth:    depth,
		fanout:   fanout,
		logger:   logger,
	}
}

// Bounds resolves per-call retrieval bounds: non-positive values fall back
// to the configured defaults.
func (r *Retriever) Bounds(topK, depth int) (int, int) {
	if topK <= 0 {
		topK = r.topK
	}
	if depth <= 0 {
		depth = r.depth
	}
	return topK, depth
}

// Retrieve builds the context payload for a query. topK bounds the vector
// search and depth the graph expansion; non-positive values use the
// configured defaults. An empty graph or index yields an empty payload, not
// an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK, depth int) (*kgraph.ContextPayload, error) {
	topK, depth = r.Bounds(topK, depth)

	vector, err := r.embedder.EmbedDocument(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.vectors.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	payload := &kgraph.ContextPayload{
		Chunks:    []kgraph.ScoredChunk{},
		Entities:  []kgraph.Entity{},
		Relations: []kgraph.Relation{},
	}

	var seeds []string
	for _, hit := range hits {
		switch hit.Record.Kind {
		case kgraph.OwnerChunk:
			payload.Chunks = append(payload.Chunks, kgraph.ScoredChunk{
				Chunk: chunkFromRecord(hit.Record),
				Score: hit.Score,
			})
		case kgraph.OwnerEntity:
			seeds = append(seeds, hit.Record.OwnerID)
		}
	}

	if len(seeds) > 0 {
		entities, relations, err := r.graph.Neighborhood(ctx, seeds, depth, r.fanout)
		if err != nil {
			return nil, fmt.Errorf("graph expansion failed: %w", err)
		}
		payload.Entities = entities
		payload.Relations = relations
	}

	r.logger.Debug("retrieved %d chunks, %d entities, %d relations for query",
		len(payload.Chunks), len(payload.Entities), len(payload.Relations))
	return payload, nil
}

// chunkFromRecord rebuilds a chunk from its index record. The owner id
// carries the source and sequence index; character offsets are not indexed
// and stay zero.
func chunkFromRecord(rec kgraph.EmbeddingRecord) kgraph.Chunk {
	chunk := kgraph.Chunk{ID: rec.OwnerID, Text: rec.Text}
	if i := strings.LastIndex(rec.OwnerID, ":"); i > 0 {
		chunk.SourceID = rec.OwnerID[:i]
		if seq, err := strconv.Atoi(rec.OwnerID[i+1:]); err == nil {
			chunk.SequenceIndex = seq
		}
	}
	return chunk
}
