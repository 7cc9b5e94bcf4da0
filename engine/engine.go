// Package engine wires the ingestion and query pipelines together: fetch,
// parse, extract, resolve, index on the way in; cache-checked hybrid
// retrieval on the way out; checkpointed session state on the side.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/cache"
	"github.com/kgraph-ai/kgraph/embed"
	"github.com/kgraph-ai/kgraph/extract"
	"github.com/kgraph-ai/kgraph/log"
	"github.com/kgraph-ai/kgraph/parser"
	"github.com/kgraph-ai/kgraph/resolve"
	"github.com/kgraph-ai/kgraph/retrieve"
	"github.com/kgraph-ai/kgraph/source"
)

// Engine is the top-level coordinator. It is safe for concurrent use; the
// ingest path serializes on a mutex so the index version advances exactly
// once per committed ingest.
type Engine struct {
	sources     *source.Registry
	parser      *parser.Parser
	extractor   *extract.Extractor
	resolver    *resolve.Resolver
	pipeline    *embed.Pipeline
	graph       kgraph.GraphStore
	retriever   *retrieve.Retriever
	cache       cache.ResultCache
	version     cache.VersionCounter
	checkpoints kgraph.CheckpointStore
	logger      log.Logger

	ingestMu sync.Mutex

	threadMu sync.Mutex
	threads  map[string]bool
}

// Options collects the engine's collaborators. Sources, Parser, Extractor,
// Resolver, Pipeline, Graph and Retriever are required; Cache, Version and
// Checkpoints fall back to in-process implementations.
type Options struct {
	Sources     *source.Registry
	Parser      *parser.Parser
	Extractor   *extract.Extractor
	Resolver    *resolve.Resolver
	Pipeline    *embed.Pipeline
	Graph       kgraph.GraphStore
	Retriever   *retrieve.Retriever
	Cache       cache.ResultCache
	Version     cache.VersionCounter
	Checkpoints kgraph.CheckpointStore
	Logger      log.Logger
}

// New creates an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	for name, missing := range map[string]bool{
		"sources":   opts.Sources == nil,
		"parser":    opts.Parser == nil,
		"extractor": opts.Extractor == nil,
		"resolver":  opts.Resolver == nil,
		"pipeline":  opts.Pipeline == nil,
		"graph":     opts.Graph == nil,
		"retriever": opts.Retriever == nil,
	} {
		if missing {
			return nil, fmt.Errorf("engine requires a %s", name)
		}
	}

	resultCache := opts.Cache
	if resultCache == nil {
		resultCache = cache.NewMemoryCache(0)
	}
	version := opts.Version
	if version == nil {
		version = cache.NewMemoryVersion()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &Engine{
		sources:     opts.Sources,
		parser:      opts.Parser,
		extractor:   opts.Extractor,
		resolver:    opts.Resolver,
		pipeline:    opts.Pipeline,
		graph:       opts.Graph,
		retriever:   opts.Retriever,
		cache:       resultCache,
		version:     version,
		checkpoints: opts.Checkpoints,
		logger:      logger,
		threads:     make(map[string]bool),
	}, nil
}

// Ingest fetches, parses, extracts and indexes one document. Per-chunk
// extraction failures and dangling relations are reported in the result and
// never abort the batch; fetch and parse failures do. On success the index
// version advances exactly once, after all writes are visible.
func (e *Engine) Ingest(ctx context.Context, desc source.Descriptor) (*kgraph.IngestResult, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	fetched, err := e.sources.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch failed for %s: %w", desc.SourceID, err)
	}
	defer fetched.Body.Close()

	chunks, err := e.parser.Parse(ctx, fetched.Body, fetched.Document.Format, fetched.Document.SourceID)
	if err != nil {
		return nil, fmt.Errorf("parse failed for %s: %w", desc.SourceID, err)
	}

	result := &kgraph.IngestResult{
		Document:        fetched.Document,
		ChunksProcessed: len(chunks),
	}

	var batches []extract.Candidates
	for _, chunk := range chunks {
		cands, err := e.extractor.Extract(ctx, chunk)
		if err != nil {
			result.Errors = append(result.Errors, kgraph.ChunkError{
				ChunkID:       chunk.ID,
				SequenceIndex: chunk.SequenceIndex,
				Err:           err,
				Message:       err.Error(),
			})
			continue
		}
		batches = append(batches, *cands)
	}

	outcome, err := e.resolver.Resolve(ctx, batches)
	if err != nil {
		return nil, fmt.Errorf("resolution failed for %s: %w", desc.SourceID, err)
	}
	result.EntitiesCreated = outcome.EntitiesCreated
	result.EntitiesMerged = outcome.EntitiesMerged
	result.RelationsCreated = outcome.RelationsCreated
	for _, resolveErr := range outcome.Errors {
		result.Errors = append(result.Errors, kgraph.ChunkError{
			Err:     resolveErr,
			Message: resolveErr.Error(),
		})
	}

	for _, embedErr := range e.pipeline.IndexChunks(ctx, chunks) {
		result.Errors = append(result.Errors, kgraph.ChunkError{
			Err:     embedErr,
			Message: embedErr.Error(),
		})
	}
	entities, err := e.resolvedEntities(ctx, outcome)
	if err != nil {
		return nil, err
	}
	for _, embedErr := range e.pipeline.IndexEntities(ctx, entities) {
		result.Errors = append(result.Errors, kgraph.ChunkError{
			Err:     embedErr,
			Message: embedErr.Error(),
		})
	}

	version, err := e.version.Advance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to advance index version: %w", err)
	}
	result.IndexVersion = version

	e.logger.Info("ingested %s: %d chunks, %d entities created, %d merged, %d relations, version %d",
		desc.SourceID, result.ChunksProcessed, result.EntitiesCreated,
		result.EntitiesMerged, result.RelationsCreated, version)
	return result, nil
}

// resolvedEntities loads the distinct entities touched by a resolution, in a
// stable order.
func (e *Engine) resolvedEntities(ctx context.Context, outcome *resolve.Outcome) ([]kgraph.Entity, error) {
	seen := make(map[string]bool)
	ids := make([]string, 0, len(outcome.Resolved))
	for _, id := range outcome.Resolved {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	entities := make([]kgraph.Entity, 0, len(ids))
	for _, id := range ids {
		entity, err := e.graph.GetEntity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load resolved entity %s: %w", id, err)
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}

// Query answers a hybrid query. topK bounds the vector search and
// traversalDepth the graph expansion; non-positive values use the
// retriever's configured defaults. Cache hits are only served when their
// index version matches the current one; fresh results are cached, failures
// never are.
func (e *Engine) Query(ctx context.Context, query string, topK, traversalDepth int) (*kgraph.QueryResult, error) {
	version, err := e.version.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index version: %w", err)
	}

	topK, traversalDepth = e.retriever.Bounds(topK, traversalDepth)
	req := cache.Request{Query: query, TopK: topK, Depth: traversalDepth}

	if cached, ok, err := e.cache.Get(ctx, req, version); err != nil {
		e.logger.Warn("cache read failed, falling through: %v", err)
	} else if ok {
		cached.ServedFromCache = true
		return cached, nil
	}

	payload, err := e.retriever.Retrieve(ctx, query, topK, traversalDepth)
	if err != nil {
		return nil, err
	}

	result := &kgraph.QueryResult{
		Query:        query,
		Context:      *payload,
		IndexVersion: version,
	}
	if err := e.cache.Put(ctx, req, result); err != nil {
		e.logger.Warn("cache write failed: %v", err)
	}
	return result, nil
}

// CheckpointAppend saves one conversational state snapshot for the thread.
func (e *Engine) CheckpointAppend(ctx context.Context, threadID string, state []byte) (*kgraph.Checkpoint, error) {
	if e.checkpoints == nil {
		return nil, fmt.Errorf("no checkpoint store configured")
	}
	e.trackThread(threadID)
	return e.checkpoints.Append(ctx, threadID, state)
}

// Checkpoints lists the thread's checkpoints, oldest first.
func (e *Engine) Checkpoints(ctx context.Context, threadID string) ([]*kgraph.Checkpoint, error) {
	if e.checkpoints == nil {
		return nil, fmt.Errorf("no checkpoint store configured")
	}
	return e.checkpoints.List(ctx, threadID)
}

// PruneCheckpoints removes the thread's checkpoints older than maxAge,
// always keeping the newest.
func (e *Engine) PruneCheckpoints(ctx context.Context, threadID string, maxAge time.Duration) (int, error) {
	if e.checkpoints == nil {
		return 0, fmt.Errorf("no checkpoint store configured")
	}
	return e.checkpoints.Prune(ctx, threadID, maxAge)
}

// DeleteThread removes every checkpoint of the thread.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) (int, error) {
	if e.checkpoints == nil {
		return 0, fmt.Errorf("no checkpoint store configured")
	}
	e.threadMu.Lock()
	delete(e.threads, threadID)
	e.threadMu.Unlock()
	return e.checkpoints.DeleteAll(ctx, threadID)
}

// KnownThreads returns the thread ids seen by this engine, for the prune
// sweeper.
func (e *Engine) KnownThreads() []string {
	e.threadMu.Lock()
	defer e.threadMu.Unlock()
	ids := make([]string, 0, len(e.threads))
	for id := range e.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) trackThread(threadID string) {
	e.threadMu.Lock()
	e.threads[threadID] = true
	e.threadMu.Unlock()
}

// SweepEmbeddings retries owners whose embedding failed during ingest.
func (e *Engine) SweepEmbeddings(ctx context.Context) (int, error) {
	return e.pipeline.Sweep(ctx)
}

// Close releases the engine's stores.
func (e *Engine) Close() error {
	var firstErr error
	closers := []func() error{e.graph.Close, e.cache.Close}
	if e.checkpoints != nil {
		closers = append(closers, e.checkpoints.Close)
	}
	for _, close := range closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
