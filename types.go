package kgraph

import (
	"context"
	"io"
	"strings"
	"time"
)

// Origin identifies where a document was fetched from.
type Origin string

const (
	OriginFS   Origin = "fs"
	OriginS3   Origin = "s3"
	OriginFeed Origin = "feed"
)

// Format identifies the declared content format of a document.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

// Document describes one fetched source document. A Document is immutable
// once fetched; re-ingesting the same SourceID produces a new Document that
// supersedes the old one.
type Document struct {
	SourceID  string    `json:"source_id"`
	Origin    Origin    `json:"origin"`
	Format    Format    `json:"format"`
	RawRef    string    `json:"raw_ref"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Chunk is one unit of text produced by the parser, with provenance back to
// the document that produced it. SequenceIndex is monotone within a document.
type Chunk struct {
	ID            string `json:"chunk_id"`
	SourceID      string `json:"source_id"`
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
	CharStart     int    `json:"char_start"`
	CharEnd       int    `json:"char_end"`
}

// Entity is a node in the knowledge graph. The ID is stable across merges;
// CanonicalName may be rewritten by the resolver and Aliases only accumulate.
type Entity struct {
	ID             string    `json:"entity_id"`
	CanonicalName  string    `json:"canonical_name"`
	Type           string    `json:"type"`
	Aliases        []string  `json:"aliases"`
	FirstSeenChunk string    `json:"first_seen_chunk_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasAlias reports whether name matches the canonical name or any alias,
// ignoring case.
func (e *Entity) HasAlias(name string) bool {
	if equalFold(e.CanonicalName, name) {
		return true
	}
	for _, a := range e.Aliases {
		if equalFold(a, name) {
			return true
		}
	}
	return false
}

// Relation is a directed edge between two entities. The natural dedup key is
// (SourceID, TargetID, Predicate); Evidence accumulates across re-extraction.
type Relation struct {
	ID        string   `json:"relation_id"`
	SourceID  string   `json:"source_entity_id"`
	TargetID  string   `json:"target_entity_id"`
	Predicate string   `json:"predicate"`
	Evidence  []string `json:"evidence_chunk_ids"`
}

// DedupKey returns the natural dedup key for the relation.
func (r *Relation) DedupKey() string {
	return r.SourceID + "\x1f" + r.TargetID + "\x1f" + r.Predicate
}

// EmbeddingRecord is one stored vector. There is exactly one active vector
// per (OwnerID, ModelTag); re-embedding with the same tag replaces it.
type EmbeddingRecord struct {
	OwnerID  string    `json:"owner_id"`
	ModelTag string    `json:"model_tag"`
	Kind     OwnerKind `json:"kind"`
	Text     string    `json:"text"`
	Vector   []float32 `json:"vector"`
}

// OwnerKind tells what an embedding record's owner is.
type OwnerKind string

const (
	OwnerChunk  OwnerKind = "chunk"
	OwnerEntity OwnerKind = "entity"
)

// Checkpoint is one saved conversational state for a thread.
type Checkpoint struct {
	ID        string    `json:"checkpoint_id"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	State     []byte    `json:"state_blob"`
}

// ChunkError records a per-chunk failure that did not abort the batch.
type ChunkError struct {
	ChunkID       string `json:"chunk_id"`
	SequenceIndex int    `json:"sequence_index"`
	Err           error  `json:"-"`
	Message       string `json:"message"`
}

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	Document         Document     `json:"document"`
	ChunksProcessed  int          `json:"chunks_processed"`
	EntitiesCreated  int          `json:"entities_created"`
	EntitiesMerged   int          `json:"entities_merged"`
	RelationsCreated int          `json:"relations_created"`
	IndexVersion     uint64       `json:"index_version"`
	Errors           []ChunkError `json:"errors,omitempty"`
}

// ContextPayload is the assembled result of a hybrid retrieval: the union of
// matched chunks, entities and relations with their retrieval scores.
type ContextPayload struct {
	Chunks    []ScoredChunk `json:"chunks"`
	Entities  []Entity      `json:"entities"`
	Relations []Relation    `json:"relations"`
}

// ScoredChunk pairs a chunk with its vector similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QueryResult is the answer to one hybrid query.
type QueryResult struct {
	Query           string         `json:"query"`
	Context         ContextPayload `json:"context_payload"`
	IndexVersion    uint64         `json:"index_version"`
	ServedFromCache bool           `json:"served_from_cache"`
}

// SearchHit is one nearest-neighbor match from a vector store.
type SearchHit struct {
	Record EmbeddingRecord `json:"record"`
	Score  float64         `json:"score"`
}

// GraphStore persists entities and relations with idempotent upsert
// semantics. Implementations live in the graphstore package.
type GraphStore interface {
	// UpsertEntity creates the entity only if no entity with a matching
	// canonical name or alias exists, as a single atomic operation, and
	// returns the stored entity plus whether it was newly created.
	UpsertEntity(ctx context.Context, entity *Entity) (*Entity, bool, error)

	// MergeEntity attaches aliases and touches the recency timestamp of an
	// existing entity.
	MergeEntity(ctx context.Context, entityID string, aliases []string) (*Entity, error)

	// UpsertRelation merges the relation by its dedup key, unioning evidence.
	// It fails with DanglingReference if either endpoint does not exist.
	UpsertRelation(ctx context.Context, rel *Relation) (*Relation, bool, error)

	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindByName(ctx context.Context, name string) (*Entity, error)

	// Entities returns every stored entity, for resolver index builds.
	Entities(ctx context.Context) ([]Entity, error)

	// Neighborhood performs a bounded-depth, bounded-fanout traversal from
	// the seed entity set and returns the visited entities and the relations
	// connecting them.
	Neighborhood(ctx context.Context, seeds []string, depth, fanout int) ([]Entity, []Relation, error)

	Close() error
}

// VectorStore stores one vector per (owner, model tag) and answers
// nearest-neighbor searches. Implementations live in the vectorstore package.
type VectorStore interface {
	Upsert(ctx context.Context, rec EmbeddingRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error)
	Delete(ctx context.Context, ownerID, modelTag string) error
	Close() error
}

// Embedder computes dense vectors for text.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ModelCaller is the injected language-model capability used by the graph
// extractor. Prompt wording and provider choice stay outside the core.
type ModelCaller interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CheckpointStore persists per-thread conversational state. Implementations
// live in the checkpoint package.
type CheckpointStore interface {
	Append(ctx context.Context, threadID string, state []byte) (*Checkpoint, error)
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Prune deletes checkpoints older than maxAge but always leaves the most
	// recent checkpoint of the thread intact. It returns the removed count.
	Prune(ctx context.Context, threadID string, maxAge time.Duration) (int, error)

	// DeleteAll removes every checkpoint for the thread regardless of age.
	DeleteAll(ctx context.Context, threadID string) (int, error)

	Close() error
}

// FetchedDocument couples a document record with its content stream.
type FetchedDocument struct {
	Document Document
	Body     io.ReadCloser
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
