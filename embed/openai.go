package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	kgraph "github.com/kgraph-ai/kgraph"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder computes embeddings through any OpenAI-compatible endpoint,
// which covers self-hosted servers exposing the same API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ kgraph.Embedder = (*OpenAIEmbedder)(nil)

// OpenAIOptions configuration for the embedder.
type OpenAIOptions struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. a local inference server.
	BaseURL string
	// Model defaults to text-embedding-3-small.
	Model string
	// Dimension of the model's vectors. Defaults to 1536.
	Dimension int
}

// NewOpenAIEmbedder creates an embedder for the configured model.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = defaultEmbeddingModel
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = 1536
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}
}

// EmbedDocument embeds a single text.
func (e *OpenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds a batch of texts, preserving order.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kgraph.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			kgraph.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", kgraph.ErrEmbeddingUnavailable, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dimension returns the vector width of the configured model.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
