package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kgraph "github.com/kgraph-ai/kgraph"
)

// FSSource fetches documents from the local filesystem. A non-empty Root
// confines lookups to that directory.
type FSSource struct {
	Root string
}

// NewFSSource creates a filesystem source rooted at root ("" for unrooted).
func NewFSSource(root string) *FSSource {
	return &FSSource{Root: root}
}

// Fetch opens the file named by the descriptor location.
func (s *FSSource) Fetch(ctx context.Context, desc Descriptor) (*kgraph.FetchedDocument, error) {
	format, err := inferFormat(desc)
	if err != nil {
		return nil, err
	}

	path := desc.Location
	if s.Root != "" {
		path = filepath.Join(s.Root, filepath.Clean("/"+desc.Location))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return &kgraph.FetchedDocument{
		Document: newDocument(desc, format, path),
		Body:     f,
	}, nil
}
