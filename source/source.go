// Package source fetches raw document bytes from the supported origins
// (filesystem, object storage, academic-paper feed) and normalizes them into
// a byte stream plus a document metadata record.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	kgraph "github.com/kgraph-ai/kgraph"
)

// Descriptor identifies one document to fetch. Location is origin-specific:
// a path for fs, a bucket key for s3, a search query for the feed. Format
// may be empty, in which case it is inferred from the location extension.
type Descriptor struct {
	SourceID string
	Origin   kgraph.Origin
	Location string
	Format   kgraph.Format
}

// Source fetches a document's content stream and metadata record. The caller
// owns closing the returned body.
type Source interface {
	Fetch(ctx context.Context, desc Descriptor) (*kgraph.FetchedDocument, error)
}

// Registry dispatches fetches to the source registered for each origin.
type Registry struct {
	sources map[kgraph.Origin]Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[kgraph.Origin]Source)}
}

// Register binds a source to an origin, replacing any prior binding.
func (r *Registry) Register(origin kgraph.Origin, src Source) {
	r.sources[origin] = src
}

// Fetch dispatches to the registered source for the descriptor's origin.
func (r *Registry) Fetch(ctx context.Context, desc Descriptor) (*kgraph.FetchedDocument, error) {
	src, ok := r.sources[desc.Origin]
	if !ok {
		return nil, fmt.Errorf("no source registered for origin %q", desc.Origin)
	}
	return src.Fetch(ctx, desc)
}

// inferFormat resolves the document format from the descriptor, falling back
// to the location's file extension.
func inferFormat(desc Descriptor) (kgraph.Format, error) {
	if desc.Format != "" {
		return desc.Format, nil
	}

	ext := strings.TrimPrefix(filepath.Ext(desc.Location), ".")
	switch strings.ToLower(ext) {
	case "pdf":
		return kgraph.FormatPDF, nil
	case "csv":
		return kgraph.FormatCSV, nil
	case "json":
		return kgraph.FormatJSON, nil
	case "txt", "text":
		return kgraph.FormatText, nil
	case "md", "markdown":
		return kgraph.FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: cannot infer format from %q", kgraph.ErrUnsupportedFormat, desc.Location)
	}
}

func newDocument(desc Descriptor, format kgraph.Format, rawRef string) kgraph.Document {
	return kgraph.Document{
		SourceID:  desc.SourceID,
		Origin:    desc.Origin,
		Format:    format,
		RawRef:    rawRef,
		FetchedAt: time.Now().UTC(),
	}
}
