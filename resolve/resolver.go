// Package resolve merges candidate graph components extracted from chunks
// into the existing graph. Candidates are processed in a deterministic order
// so identical extraction output always yields the identical merge outcome.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/extract"
	"github.com/kgraph-ai/kgraph/log"
)

// Resolver decides, per candidate entity, whether it attaches to an existing
// entity or creates a new one, and applies the decision through the graph
// store's conditional upsert so concurrent ingests cannot double-create.
type Resolver struct {
	store  kgraph.GraphStore
	cutoff float64
	logger log.Logger
}

// Options configuration for the resolver.
type Options struct {
	// SimilarityCutoff is the normalized levenshtein ratio above which two
	// names are considered the same entity. Defaults to 0.85.
	SimilarityCutoff float64
	Logger           log.Logger
}

// New creates a resolver over the given graph store.
func New(store kgraph.GraphStore, opts Options) *Resolver {
	cutoff := opts.SimilarityCutoff
	if cutoff <= 0 || cutoff > 1 {
		cutoff = 0.85
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Resolver{store: store, cutoff: cutoff, logger: logger}
}

// Outcome summarizes one resolved batch.
type Outcome struct {
	EntitiesCreated  int
	EntitiesMerged   int
	RelationsCreated int
	// Resolved maps candidate entity names (folded) to stored entity ids.
	Resolved map[string]string
	// Errors holds per-relation failures (dangling references) that did not
	// abort the batch.
	Errors []error
}

// Resolve merges the candidate batches, in order, into the graph store.
// Batches must arrive ordered by chunk sequence index; within a batch,
// candidate order is the extraction order.
func (r *Resolver) Resolve(ctx context.Context, batches []extract.Candidates) (*Outcome, error) {
	existing, err := r.store.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity index: %w", err)
	}

	index := make([]kgraph.Entity, len(existing))
	copy(index, existing)

	out := &Outcome{Resolved: make(map[string]string)}

	for _, batch := range batches {
		for _, cand := range batch.Entities {
			if cand.Name == "" {
				continue
			}
			if err := r.resolveEntity(ctx, cand, &index, out); err != nil {
				return nil, err
			}
		}
	}

	for _, batch := range batches {
		for _, cand := range batch.Relations {
			if err := r.resolveRelation(ctx, cand, &index, out); err != nil {
				out.Errors = append(out.Errors, err)
			}
		}
	}

	return out, nil
}

// resolveEntity attaches one candidate to the graph and updates the local
// index so later candidates in the same batch see it.
func (r *Resolver) resolveEntity(ctx context.Context, cand extract.CandidateEntity, index *[]kgraph.Entity, out *Outcome) error {
	if id, ok := out.Resolved[fold(cand.Name)]; ok {
		// Already resolved earlier in this batch; only new aliases matter.
		if len(cand.Aliases) > 0 {
			if _, err := r.store.MergeEntity(ctx, id, cand.Aliases); err != nil {
				return fmt.Errorf("failed to merge aliases into %s: %w", id, err)
			}
		}
		return nil
	}

	match := r.match(cand, *index)
	if match != nil {
		aliases := append([]string{cand.Name}, cand.Aliases...)
		merged, err := r.store.MergeEntity(ctx, match.ID, aliases)
		if err != nil {
			return fmt.Errorf("failed to merge %q into %s: %w", cand.Name, match.ID, err)
		}
		r.replaceInIndex(index, merged)
		r.noteResolved(out, cand, merged.ID)
		out.EntitiesMerged++
		return nil
	}

	entity := &kgraph.Entity{
		ID:             uuid.NewString(),
		CanonicalName:  cand.Name,
		Type:           cand.Type,
		Aliases:        cand.Aliases,
		FirstSeenChunk: cand.ChunkID,
	}

	stored, created, err := r.store.UpsertEntity(ctx, entity)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", cand.Name, err)
	}

	*index = append(*index, *stored)
	r.noteResolved(out, cand, stored.ID)
	if created {
		out.EntitiesCreated++
	} else {
		// A concurrent ingest created it first; this run merged into it.
		out.EntitiesMerged++
	}
	return nil
}

// resolveRelation maps candidate endpoint names to ids and upserts the edge.
func (r *Resolver) resolveRelation(ctx context.Context, cand extract.CandidateRelation, index *[]kgraph.Entity, out *Outcome) error {
	sourceID, ok := r.lookup(cand.Source, out, *index)
	if !ok {
		return &kgraph.DanglingReferenceError{
			RelationKey: cand.Source + "->" + cand.Target,
			EntityID:    cand.Source,
		}
	}
	targetID, ok := r.lookup(cand.Target, out, *index)
	if !ok {
		return &kgraph.DanglingReferenceError{
			RelationKey: cand.Source + "->" + cand.Target,
			EntityID:    cand.Target,
		}
	}

	rel := &kgraph.Relation{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Predicate: cand.Predicate,
		Evidence:  []string{cand.ChunkID},
	}

	_, created, err := r.store.UpsertRelation(ctx, rel)
	if err != nil {
		return err
	}
	if created {
		out.RelationsCreated++
	}
	return nil
}

// match finds the existing entity a candidate belongs to: exact canonical or
// alias match first, then best name similarity above the cutoff. Ambiguous
// similarity ties go to the most recently touched entity, which keeps
// repeated merges from oscillating between equally close entities.
func (r *Resolver) match(cand extract.CandidateEntity, index []kgraph.Entity) *kgraph.Entity {
	names := append([]string{cand.Name}, cand.Aliases...)

	for i := range index {
		for _, name := range names {
			if index[i].HasAlias(name) {
				return &index[i]
			}
		}
	}

	var best *kgraph.Entity
	bestScore := r.cutoff
	for i := range index {
		score := similarity(cand.Name, index[i].CanonicalName)
		switch {
		case score > bestScore, best == nil && score >= bestScore:
			best = &index[i]
			bestScore = score
		case best != nil && score == bestScore && index[i].UpdatedAt.After(best.UpdatedAt):
			best = &index[i]
		}
	}
	return best
}

// lookup resolves a relation endpoint name to a stored id, preferring
// entities resolved in this batch.
func (r *Resolver) lookup(name string, out *Outcome, index []kgraph.Entity) (string, bool) {
	if id, ok := out.Resolved[fold(name)]; ok {
		return id, true
	}
	for i := range index {
		if index[i].HasAlias(name) {
			return index[i].ID, true
		}
	}
	return "", false
}

func (r *Resolver) noteResolved(out *Outcome, cand extract.CandidateEntity, id string) {
	out.Resolved[fold(cand.Name)] = id
	for _, alias := range cand.Aliases {
		out.Resolved[fold(alias)] = id
	}
}

func (r *Resolver) replaceInIndex(index *[]kgraph.Entity, entity *kgraph.Entity) {
	for i := range *index {
		if (*index)[i].ID == entity.ID {
			(*index)[i] = *entity
			return
		}
	}
	*index = append(*index, *entity)
}

// similarity is the normalized levenshtein ratio in [0,1], case-folded.
func similarity(a, b string) float64 {
	a, b = fold(a), fold(b)
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
