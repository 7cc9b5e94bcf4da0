package graphstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	kgraph "github.com/kgraph-ai/kgraph"
)

// FalkorDBGraph persists the knowledge graph in FalkorDB over the redis
// protocol. Entities are nodes labeled Entity keyed by a folded canonical
// name; the single MERGE statement per entity makes the create-or-get upsert
// atomic on the server.
type FalkorDBGraph struct {
	client    redis.UniversalClient
	graphName string
}

var _ kgraph.GraphStore = (*FalkorDBGraph)(nil)

// NewFalkorDBGraph creates a FalkorDB graph store.
// Format: falkordb://host:port/graph_name
func NewFalkorDBGraph(connectionString string) (*FalkorDBGraph, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	addr := u.Host
	if addr == "" {
		return nil, fmt.Errorf("invalid connection string: missing host")
	}
	graphName := strings.TrimPrefix(u.Path, "/")
	if graphName == "" {
		graphName = "kgraph"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	return &FalkorDBGraph{client: client, graphName: graphName}, nil
}

// NewFalkorDBGraphWithClient wraps an existing client, used in tests.
func NewFalkorDBGraphWithClient(client redis.UniversalClient, graphName string) *FalkorDBGraph {
	return &FalkorDBGraph{client: client, graphName: graphName}
}

// UpsertEntity creates the entity unless a node with the same folded name
// already exists, or an existing node carries any of the candidate's names
// as an alias. Created-vs-matched is read off the query statistics.
func (f *FalkorDBGraph) UpsertEntity(ctx context.Context, entity *kgraph.Entity) (*kgraph.Entity, bool, error) {
	names := append([]string{entity.CanonicalName}, entity.Aliases...)
	for _, name := range names {
		existing, err := f.FindByName(ctx, name)
		if errors.Is(err, kgraph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		merged, err := f.MergeEntity(ctx, existing.ID, names)
		if err != nil {
			return nil, false, err
		}
		return merged, false, nil
	}

	now := time.Now().UTC().UnixNano()
	q := fmt.Sprintf(
		"MERGE (n:Entity {key: '%s'}) "+
			"ON CREATE SET n.id='%s', n.name='%s', n.type='%s', n.aliases='%s', n.first_chunk='%s', n.updated_at=%d "+
			"RETURN n.id, n.name, n.type, n.aliases, n.first_chunk, n.updated_at",
		escape(fold(entity.CanonicalName)),
		escape(entity.ID), escape(entity.CanonicalName), escape(entity.Type),
		escape(joinSet(entity.Aliases)), escape(entity.FirstSeenChunk), now,
	)

	qr, err := f.query(ctx, q)
	if err != nil {
		return nil, false, &kgraph.StoreError{Store: "falkordb", Err: err}
	}
	if len(qr.Results) == 0 {
		return nil, false, fmt.Errorf("entity upsert returned no rows")
	}

	stored := rowToEntity(qr.Results[0])
	created := qr.nodesCreated() > 0
	if !created && len(entity.Aliases) > 0 {
		// Matched an existing node; fold the candidate's aliases into it.
		merged, err := f.MergeEntity(ctx, stored.ID, append([]string{entity.CanonicalName}, entity.Aliases...))
		if err != nil {
			return nil, false, err
		}
		stored = merged
	}

	return stored, created, nil
}

// MergeEntity appends aliases to the node's alias set and touches the
// recency timestamp. The append is a single SET so concurrent merges never
// drop each other's aliases; duplicates are collapsed on read.
func (f *FalkorDBGraph) MergeEntity(ctx context.Context, entityID string, aliases []string) (*kgraph.Entity, error) {
	addition := joinSet(aliases)
	q := fmt.Sprintf(
		"MATCH (n:Entity {id: '%s'}) SET n.aliases = n.aliases + '|%s', n.updated_at=%d "+
			"RETURN n.id, n.name, n.type, n.aliases, n.first_chunk, n.updated_at",
		escape(entityID), escape(addition), time.Now().UTC().UnixNano(),
	)

	qr, err := f.query(ctx, q)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "falkordb", Err: err}
	}
	if len(qr.Results) == 0 {
		return nil, fmt.Errorf("%w: entity %s", kgraph.ErrNotFound, entityID)
	}

	return rowToEntity(qr.Results[0]), nil
}

// UpsertRelation verifies both endpoints exist, then blind-merges the edge
// by (source, target, predicate), appending evidence.
func (f *FalkorDBGraph) UpsertRelation(ctx context.Context, rel *kgraph.Relation) (*kgraph.Relation, bool, error) {
	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		if _, err := f.GetEntity(ctx, endpoint); err != nil {
			return nil, false, &kgraph.DanglingReferenceError{RelationKey: rel.DedupKey(), EntityID: endpoint}
		}
	}

	relType := sanitizeLabel(rel.Predicate)
	q := fmt.Sprintf(
		"MATCH (a:Entity {id: '%s'}), (b:Entity {id: '%s'}) "+
			"MERGE (a)-[r:%s {predicate: '%s'}]->(b) "+
			"ON CREATE SET r.id='%s', r.evidence='%s' "+
			"ON MATCH SET r.evidence = r.evidence + '|%s' "+
			"RETURN r.id, r.evidence",
		escape(rel.SourceID), escape(rel.TargetID), relType, escape(rel.Predicate),
		escape(rel.ID), escape(joinSet(rel.Evidence)), escape(joinSet(rel.Evidence)),
	)

	qr, err := f.query(ctx, q)
	if err != nil {
		return nil, false, &kgraph.StoreError{Store: "falkordb", Err: err}
	}
	if len(qr.Results) == 0 {
		return nil, false, fmt.Errorf("relation upsert returned no rows")
	}

	row := qr.Results[0]
	stored := &kgraph.Relation{
		ID:        asString(row[0]),
		SourceID:  rel.SourceID,
		TargetID:  rel.TargetID,
		Predicate: rel.Predicate,
		Evidence:  splitSet(asString(row[1])),
	}

	return stored, qr.relationshipsCreated() > 0, nil
}

// GetEntity retrieves an entity by id.
func (f *FalkorDBGraph) GetEntity(ctx context.Context, id string) (*kgraph.Entity, error) {
	q := fmt.Sprintf(
		"MATCH (n:Entity {id: '%s'}) RETURN n.id, n.name, n.type, n.aliases, n.first_chunk, n.updated_at",
		escape(id))

	qr, err := f.query(ctx, q)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "falkordb", Err: err}
	}
	if len(qr.Results) == 0 {
		return nil, fmt.Errorf("%w: entity %s", kgraph.ErrNotFound, id)
	}

	return rowToEntity(qr.Results[0]), nil
}

// FindByName looks up by the folded canonical name key and falls back to an
// alias scan.
func (f *FalkorDBGraph) FindByName(ctx context.Context, name string) (*kgraph.Entity, error) {
	q := fmt.Sprintf(
		"MATCH (n:Entity {key: '%s'}) RETURN n.id, n.name, n.type, n.aliases, n.first_chunk, n.updated_at",
		escape(fold(name)))

	qr, err := f.query(ctx, q)
	if err != nil {
		return nil, &kgraph.StoreError{Store: "falkordb", Err: err}
	}
	if len(qr.Results) > 0 {
		return rowToEntity(qr.Results[0]), nil
	}

	entities, err := f.Entities(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		if entities[i].HasAlias(name) {
			return &entities[i], nil
		}
	}

	return nil, fmt.Errorf("%w: entity named %q", kgraph.ErrNotFound, name)
}

// Entities returns every stored entity.
func (f *FalkorDBGraph) Entities(ctx context.Context) ([]kgraph.Entity, error) {
	qr, err := f.query(ctx, "MATCH (n:Entity) RETURN n.id, n.name, n.type, n.aliases, n.first_chunk, n.updated_at ORDER BY n.id")
	if err != nil {
		return nil, &kgraph.StoreError{Store: "falkordb", Err: err}
	}

	out := make([]kgraph.Entity, 0, len(qr.Results))
	for _, row := range qr.Results {
		out = append(out, *rowToEntity(row))
	}
	return out, nil
}

// Neighborhood expands breadth-first from the seeds, one hop per query,
// bounding each node's expansion with LIMIT.
func (f *FalkorDBGraph) Neighborhood(ctx context.Context, seeds []string, depth, fanout int) ([]kgraph.Entity, []kgraph.Relation, error) {
	if depth < 0 {
		depth = 0
	}
	if fanout <= 0 {
		fanout = 16
	}

	visited := make(map[string]bool)
	seenRel := make(map[string]bool)
	var entities []kgraph.Entity
	var relations []kgraph.Relation

	var frontier []string
	for _, id := range seeds {
		entity, err := f.GetEntity(ctx, id)
		if err != nil {
			continue
		}
		if !visited[id] {
			visited[id] = true
			entities = append(entities, *entity)
			frontier = append(frontier, id)
		}
	}

	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			q := fmt.Sprintf(
				"MATCH (n:Entity {id: '%s'})-[r]-(m:Entity) "+
					"RETURN r.id, r.predicate, r.evidence, startNode(r).id, endNode(r).id, "+
					"m.id, m.name, m.type, m.aliases, m.first_chunk, m.updated_at LIMIT %d",
				escape(id), fanout)

			qr, err := f.query(ctx, q)
			if err != nil {
				return nil, nil, &kgraph.StoreError{Store: "falkordb", Err: err}
			}

			for _, row := range qr.Results {
				if len(row) < 11 {
					continue
				}
				relID := asString(row[0])
				if !seenRel[relID] {
					seenRel[relID] = true
					relations = append(relations, kgraph.Relation{
						ID:        relID,
						Predicate: asString(row[1]),
						Evidence:  splitSet(asString(row[2])),
						SourceID:  asString(row[3]),
						TargetID:  asString(row[4]),
					})
				}

				other := rowToEntity(row[5:])
				if !visited[other.ID] {
					visited[other.ID] = true
					entities = append(entities, *other)
					next = append(next, other.ID)
				}
			}
		}
		frontier = next
	}

	return entities, relations, nil
}

// Close closes the underlying client.
func (f *FalkorDBGraph) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// queryResult holds the rows and statistics of one GRAPH.QUERY call.
type queryResult struct {
	Header     []string
	Results    [][]any
	Statistics []string
}

// query runs a cypher statement against the graph.
func (f *FalkorDBGraph) query(ctx context.Context, q string) (*queryResult, error) {
	res, err := f.client.Do(ctx, "GRAPH.QUERY", f.graphName, q).Result()
	if err != nil {
		return nil, err
	}

	r, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response type: %T", res)
	}

	qr := &queryResult{}
	switch len(r) {
	case 3:
		if header, ok := r[0].([]any); ok {
			qr.Header = make([]string, len(header))
			for i, h := range header {
				qr.Header[i] = fmt.Sprint(h)
			}
		}
		qr.Results = toRows(r[1])
		qr.Statistics = toStats(r[2])
	case 2:
		qr.Results = toRows(r[0])
		qr.Statistics = toStats(r[1])
	case 1:
		qr.Statistics = toStats(r[0])
	default:
		return nil, fmt.Errorf("unexpected response length: %d", len(r))
	}

	return qr, nil
}

func toRows(v any) [][]any {
	rows, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if vals, ok := row.([]any); ok {
			out = append(out, vals)
		}
	}
	return out
}

func toStats(v any) []string {
	stats, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = fmt.Sprint(s)
	}
	return out
}

func (qr *queryResult) nodesCreated() int         { return qr.statValue("Nodes created") }
func (qr *queryResult) relationshipsCreated() int { return qr.statValue("Relationships created") }

func (qr *queryResult) statValue(prefix string) int {
	for _, s := range qr.Statistics {
		if strings.HasPrefix(s, prefix) {
			fields := strings.Fields(strings.TrimPrefix(s, prefix+":"))
			if len(fields) > 0 {
				if n, err := strconv.Atoi(fields[0]); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

func rowToEntity(row []any) *kgraph.Entity {
	e := &kgraph.Entity{
		ID:             asString(row[0]),
		CanonicalName:  asString(row[1]),
		Type:           asString(row[2]),
		Aliases:        splitSet(asString(row[3])),
		FirstSeenChunk: asString(row[4]),
	}
	if len(row) > 5 {
		if ns, err := strconv.ParseInt(asString(row[5]), 10, 64); err == nil {
			e.UpdatedAt = time.Unix(0, ns).UTC()
		}
	}
	return e
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// joinSet renders a string set as a pipe-separated property value.
func joinSet(items []string) string {
	return strings.Join(items, "|")
}

// splitSet parses a pipe-separated property value back into a deduplicated
// set, dropping empties left by appends.
func splitSet(s string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, item := range strings.Split(s, "|") {
		item = strings.TrimSpace(item)
		if item != "" && !seen[fold(item)] {
			seen[fold(item)] = true
			out = append(out, item)
		}
	}
	return out
}

var labelRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeLabel(l string) string {
	clean := labelRegex.ReplaceAllString(l, "_")
	if strings.Trim(clean, "_") == "" {
		return "RELATED"
	}
	return clean
}

// escape guards single-quoted cypher string literals.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
