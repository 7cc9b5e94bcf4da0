package kgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy of the engine. Callers
// classify with errors.Is.
var (
	// ErrUnsupportedFormat means a document declared a format the parser
	// cannot handle. Fatal for that document, never for a batch.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrExtractionParse means the language model returned output that does
	// not validate against the extraction schema. Recovered locally: the
	// chunk contributes zero candidates.
	ErrExtractionParse = errors.New("extraction output unparsable")

	// ErrEmbeddingUnavailable means the embedding service failed for one
	// owner. The owner keeps its graph presence and is re-embedded later.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDanglingReference means a relation upsert referenced an entity id
	// not present in the graph store. The write is rejected.
	ErrDanglingReference = errors.New("relation references missing entity")

	// ErrStoreUnavailable means a backing store could not be reached after
	// bounded retries.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrNotFound is returned by point lookups that matched nothing.
	ErrNotFound = errors.New("not found")
)

// DanglingReferenceError carries the offending endpoint of a rejected
// relation write.
type DanglingReferenceError struct {
	RelationKey string
	EntityID    string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("relation %s references missing entity %s", e.RelationKey, e.EntityID)
}

// Unwrap makes errors.Is(err, ErrDanglingReference) hold.
func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// ExtractionParseError records which chunk produced unusable model output.
type ExtractionParseError struct {
	ChunkID string
	Detail  string
}

func (e *ExtractionParseError) Error() string {
	return fmt.Sprintf("chunk %s: extraction output unparsable: %s", e.ChunkID, e.Detail)
}

func (e *ExtractionParseError) Unwrap() error { return ErrExtractionParse }

// StoreError wraps a store failure with the store's name for batch reports.
type StoreError struct {
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Store, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }
