// Package parser converts raw document bytes into ordered text chunks with
// provenance. Parsing is pure: no state is kept between calls and the same
// input always yields the same chunks.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"

	kgraph "github.com/kgraph-ai/kgraph"
)

// Options bounds chunk sizes. No produced chunk exceeds TokenBudget tokens;
// oversized atomic units (a single page, row or record) are hard-split at
// the budget boundary.
type Options struct {
	TokenBudget int
	Overlap     int
}

// DefaultOptions returns the chunking bounds used when none are configured.
func DefaultOptions() Options {
	return Options{TokenBudget: 512, Overlap: 64}
}

// Parser splits documents into chunks according to their declared format.
type Parser struct {
	opts Options
}

// New creates a parser with the given chunking options.
func New(opts Options) *Parser {
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = DefaultOptions().TokenBudget
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	return &Parser{opts: opts}
}

// Parse reads the document body and returns its chunks in order. The chunk
// id is derived from the source id and sequence index so re-parsing the same
// document yields identical ids. Unsupported formats fail with
// kgraph.ErrUnsupportedFormat.
func (p *Parser) Parse(ctx context.Context, r io.Reader, format kgraph.Format, sourceID string) ([]kgraph.Chunk, error) {
	var units []string
	var err error

	switch format {
	case kgraph.FormatPDF:
		units, err = p.pdfUnits(ctx, r)
	case kgraph.FormatCSV:
		units, err = p.csvUnits(ctx, r)
	case kgraph.FormatJSON:
		units, err = p.jsonUnits(r)
	case kgraph.FormatText:
		units, err = p.textUnits(r, false)
	case kgraph.FormatMarkdown:
		units, err = p.textUnits(r, true)
	default:
		return nil, fmt.Errorf("%w: %q", kgraph.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return p.assemble(units, sourceID)
}

// assemble enforces the token budget on each structural unit and numbers the
// resulting chunks.
func (p *Parser) assemble(units []string, sourceID string) ([]kgraph.Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.opts.TokenBudget),
		textsplitter.WithChunkOverlap(p.opts.Overlap),
		textsplitter.WithLenFunc(approxTokens),
	)

	chunks := make([]kgraph.Chunk, 0, len(units))
	offset := 0
	seq := 0
	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}

		pieces, err := splitter.SplitText(unit)
		if err != nil {
			return nil, fmt.Errorf("failed to split chunk text: %w", err)
		}

		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			chunks = append(chunks, kgraph.Chunk{
				ID:            chunkID(sourceID, seq),
				SourceID:      sourceID,
				SequenceIndex: seq,
				Text:          piece,
				CharStart:     offset,
				CharEnd:       offset + len(piece),
			})
			offset += len(piece)
			seq++
		}
	}

	return chunks, nil
}

func chunkID(sourceID string, seq int) string {
	return fmt.Sprintf("%s:%04d", sourceID, seq)
}

// approxTokens estimates the token count of s at the usual four characters
// per token, so budgets stay meaningful without shipping a tokenizer model.
func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

// pdfUnits loads a PDF and returns one unit per page.
func (p *Parser) pdfUnits(ctx context.Context, r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf body: %w", err)
	}

	loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	units := make([]string, 0, len(docs))
	for _, doc := range docs {
		units = append(units, doc.PageContent)
	}
	return units, nil
}

// csvUnits loads a CSV and returns one unit per row.
func (p *Parser) csvUnits(ctx context.Context, r io.Reader) ([]string, error) {
	loader := documentloaders.NewCSV(r)
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	units := make([]string, 0, len(docs))
	for _, doc := range docs {
		units = append(units, doc.PageContent)
	}
	return units, nil
}

// textUnits splits plain text on blank lines, one unit per paragraph.
// Markdown is stripped to plain text first.
func (p *Parser) textUnits(r io.Reader, isMarkdown bool) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text body: %w", err)
	}

	text := string(data)
	if isMarkdown {
		text = stripMarkdown(data)
	}

	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) != "" {
			units = append(units, para)
		}
	}
	return units, nil
}
