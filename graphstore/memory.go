package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	kgraph "github.com/kgraph-ai/kgraph"
)

// MemoryGraph is an in-process graph store. All upserts run under one lock,
// so the create-or-get entity upsert is a true conditional write.
type MemoryGraph struct {
	mu       sync.RWMutex
	entities map[string]*kgraph.Entity
	// nameIndex maps folded canonical names and aliases to entity ids.
	nameIndex map[string]string
	relations map[string]*kgraph.Relation
	// adjacency maps entity id to the dedup keys of touching relations.
	adjacency map[string][]string
}

var _ kgraph.GraphStore = (*MemoryGraph)(nil)

// NewMemoryGraph creates an empty in-memory graph store.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		entities:  make(map[string]*kgraph.Entity),
		nameIndex: make(map[string]string),
		relations: make(map[string]*kgraph.Relation),
		adjacency: make(map[string][]string),
	}
}

// UpsertEntity creates the entity only if no entity with a matching name or
// alias exists; otherwise it returns the existing one. The whole operation
// is atomic under the store lock.
func (m *MemoryGraph) UpsertEntity(ctx context.Context, entity *kgraph.Entity) (*kgraph.Entity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := append([]string{entity.CanonicalName}, entity.Aliases...)
	for _, name := range names {
		if id, ok := m.nameIndex[fold(name)]; ok {
			existing := m.entities[id]
			m.mergeLocked(existing, names)
			return copyEntity(existing), false, nil
		}
	}

	stored := copyEntity(entity)
	stored.UpdatedAt = time.Now().UTC()
	if stored.Aliases == nil {
		stored.Aliases = []string{}
	}
	m.entities[stored.ID] = stored
	for _, name := range names {
		m.nameIndex[fold(name)] = stored.ID
	}

	return copyEntity(stored), true, nil
}

// MergeEntity adds aliases to an existing entity and touches its recency
// timestamp. Aliases accumulate and are never removed.
func (m *MemoryGraph) MergeEntity(ctx context.Context, entityID string, aliases []string) (*kgraph.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", kgraph.ErrNotFound, entityID)
	}

	m.mergeLocked(entity, aliases)
	return copyEntity(entity), nil
}

func (m *MemoryGraph) mergeLocked(entity *kgraph.Entity, aliases []string) {
	for _, alias := range aliases {
		if alias == "" || entity.HasAlias(alias) {
			continue
		}
		entity.Aliases = append(entity.Aliases, alias)
		m.nameIndex[fold(alias)] = entity.ID
	}
	entity.UpdatedAt = time.Now().UTC()
}

// UpsertRelation merges the relation by its (source, target, predicate) key,
// unioning evidence. Either endpoint missing rejects the write with
// DanglingReference and leaves the store unchanged.
func (m *MemoryGraph) UpsertRelation(ctx context.Context, rel *kgraph.Relation) (*kgraph.Relation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		if _, ok := m.entities[endpoint]; !ok {
			return nil, false, &kgraph.DanglingReferenceError{RelationKey: rel.DedupKey(), EntityID: endpoint}
		}
	}

	key := rel.DedupKey()
	if existing, ok := m.relations[key]; ok {
		existing.Evidence = unionSorted(existing.Evidence, rel.Evidence)
		return copyRelation(existing), false, nil
	}

	stored := copyRelation(rel)
	stored.Evidence = unionSorted(nil, rel.Evidence)
	m.relations[key] = stored
	m.adjacency[rel.SourceID] = append(m.adjacency[rel.SourceID], key)
	m.adjacency[rel.TargetID] = append(m.adjacency[rel.TargetID], key)

	return copyRelation(stored), true, nil
}

// GetEntity retrieves an entity by id.
func (m *MemoryGraph) GetEntity(ctx context.Context, id string) (*kgraph.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", kgraph.ErrNotFound, id)
	}
	return copyEntity(entity), nil
}

// FindByName looks an entity up by canonical name or alias, ignoring case.
func (m *MemoryGraph) FindByName(ctx context.Context, name string) (*kgraph.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.nameIndex[fold(name)]
	if !ok {
		return nil, fmt.Errorf("%w: entity named %q", kgraph.ErrNotFound, name)
	}
	return copyEntity(m.entities[id]), nil
}

// Entities returns every stored entity, ordered by id for determinism.
func (m *MemoryGraph) Entities(ctx context.Context) ([]kgraph.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]kgraph.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, *copyEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Neighborhood performs a breadth-first traversal from the seed set, bounded
// by depth and per-node fanout, and returns the visited entities plus the
// relations connecting them.
func (m *MemoryGraph) Neighborhood(ctx context.Context, seeds []string, depth, fanout int) ([]kgraph.Entity, []kgraph.Relation, error) {
	if depth < 0 {
		depth = 0
	}
	if fanout <= 0 {
		fanout = 16
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := make(map[string]bool)
	seenRel := make(map[string]bool)
	var entities []kgraph.Entity
	var relations []kgraph.Relation

	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if e, ok := m.entities[id]; ok && !visited[id] {
			visited[id] = true
			entities = append(entities, *copyEntity(e))
			frontier = append(frontier, id)
		}
	}

	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			expanded := 0
			for _, key := range m.adjacency[id] {
				if expanded >= fanout {
					break
				}
				rel := m.relations[key]
				if !seenRel[key] {
					seenRel[key] = true
					relations = append(relations, *copyRelation(rel))
				}

				other := rel.TargetID
				if other == id {
					other = rel.SourceID
				}
				if !visited[other] {
					visited[other] = true
					entities = append(entities, *copyEntity(m.entities[other]))
					next = append(next, other)
					expanded++
				}
			}
		}
		frontier = next
	}

	return entities, relations, nil
}

// Close clears the store.
func (m *MemoryGraph) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[string]*kgraph.Entity)
	m.nameIndex = make(map[string]string)
	m.relations = make(map[string]*kgraph.Relation)
	m.adjacency = make(map[string][]string)
	return nil
}

func copyEntity(e *kgraph.Entity) *kgraph.Entity {
	out := *e
	out.Aliases = append([]string(nil), e.Aliases...)
	return &out
}

func copyRelation(r *kgraph.Relation) *kgraph.Relation {
	out := *r
	out.Evidence = append([]string(nil), r.Evidence...)
	return &out
}

// unionSorted merges two evidence sets into a sorted, deduplicated slice.
func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
