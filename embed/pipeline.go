// Package embed turns chunks and entities into vector index records. A
// bounded worker pool fans the embedding calls out; owners whose embedding
// fails stay out of the index and are queued for a later sweep, never
// indexed with a stale or zero vector.
package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/log"
)

// Pipeline embeds owners and upserts them into the vector store.
type Pipeline struct {
	embedder kgraph.Embedder
	vectors  kgraph.VectorStore
	modelTag string
	workers  int
	retry    *kgraph.RetryConfig
	logger   log.Logger

	mu      sync.Mutex
	pending map[string]job
}

type job struct {
	OwnerID string
	Kind    kgraph.OwnerKind
	Text    string
}

// Options configuration for the pipeline.
type Options struct {
	// ModelTag identifies the embedding model and dimension; records carry
	// it so vectors from different models never mix in a search.
	ModelTag string
	// Workers bounds the embedding concurrency. Defaults to 4.
	Workers int
	Retry   *kgraph.RetryConfig
	Logger  log.Logger
}

// NewPipeline creates an embedding pipeline.
func NewPipeline(embedder kgraph.Embedder, vectors kgraph.VectorStore, opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	retry := opts.Retry
	if retry == nil {
		retry = kgraph.DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	modelTag := opts.ModelTag
	if modelTag == "" {
		modelTag = fmt.Sprintf("embedder-%dd", embedder.Dimension())
	}
	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		modelTag: modelTag,
		workers:  workers,
		retry:    retry,
		logger:   logger,
		pending:  make(map[string]job),
	}
}

// ModelTag returns the tag stamped on every record this pipeline writes.
func (p *Pipeline) ModelTag() string {
	return p.modelTag
}

// IndexChunks embeds and indexes document chunks. Per-chunk failures are
// returned and queued for Sweep; successful chunks are indexed regardless.
func (p *Pipeline) IndexChunks(ctx context.Context, chunks []kgraph.Chunk) []error {
	jobs := make([]job, 0, len(chunks))
	for _, c := range chunks {
		jobs = append(jobs, job{OwnerID: c.ID, Kind: kgraph.OwnerChunk, Text: c.Text})
	}
	return p.run(ctx, jobs)
}

// IndexEntities embeds and indexes entities by their name and aliases, so
// queries phrased with any known alias land near the entity.
func (p *Pipeline) IndexEntities(ctx context.Context, entities []kgraph.Entity) []error {
	jobs := make([]job, 0, len(entities))
	for _, e := range entities {
		jobs = append(jobs, job{OwnerID: e.ID, Kind: kgraph.OwnerEntity, Text: entityText(&e)})
	}
	return p.run(ctx, jobs)
}

// Sweep retries every owner whose embedding previously failed. It returns
// how many owners were recovered into the index.
func (p *Pipeline) Sweep(ctx context.Context) (int, error) {
	p.mu.Lock()
	jobs := make([]job, 0, len(p.pending))
	for _, j := range p.pending {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	if len(jobs) == 0 {
		return 0, nil
	}

	errs := p.run(ctx, jobs)
	recovered := len(jobs) - len(errs)
	if recovered > 0 {
		p.logger.Info("re-embedding sweep recovered %d of %d owners", recovered, len(jobs))
	}
	return recovered, ctx.Err()
}

// PendingCount reports how many owners await the next sweep.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pipeline) run(ctx context.Context, jobs []job) []error {
	if len(jobs) == 0 {
		return nil
	}

	in := make(chan job)
	errCh := make(chan error, len(jobs))

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range in {
				if err := p.process(ctx, j); err != nil {
					errCh <- err
				}
			}
		}()
	}

	for _, j := range jobs {
		in <- j
	}
	close(in)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func (p *Pipeline) process(ctx context.Context, j job) error {
	var vector []float32
	err := kgraph.Retry(ctx, p.retry, func() error {
		var embedErr error
		vector, embedErr = p.embedder.EmbedDocument(ctx, j.Text)
		return embedErr
	})
	if err != nil {
		p.queue(j)
		p.logger.Warn("embedding failed for %s %s, queued for sweep: %v", j.Kind, j.OwnerID, err)
		return fmt.Errorf("%w: owner %s: %v", kgraph.ErrEmbeddingUnavailable, j.OwnerID, err)
	}

	rec := kgraph.EmbeddingRecord{
		OwnerID:  j.OwnerID,
		ModelTag: p.modelTag,
		Kind:     j.Kind,
		Text:     j.Text,
		Vector:   vector,
	}
	if err := p.vectors.Upsert(ctx, rec); err != nil {
		p.queue(j)
		return fmt.Errorf("failed to index %s %s: %w", j.Kind, j.OwnerID, err)
	}

	p.forget(j.OwnerID)
	return nil
}

func (p *Pipeline) queue(j job) {
	p.mu.Lock()
	p.pending[j.OwnerID] = j
	p.mu.Unlock()
}

func (p *Pipeline) forget(ownerID string) {
	p.mu.Lock()
	delete(p.pending, ownerID)
	p.mu.Unlock()
}

func entityText(e *kgraph.Entity) string {
	parts := append([]string{e.CanonicalName}, e.Aliases...)
	if e.Type != "" {
		parts = append(parts, e.Type)
	}
	return strings.Join(parts, ", ")
}
