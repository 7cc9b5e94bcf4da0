// kgraph - Knowledge-Graph Retrieval-Augmented Ingestion and Query Engine
//
// kgraph ingests documents from filesystems, S3 buckets and arXiv, splits
// them into provenance-tracked chunks, extracts entities and relations with
// a language model, resolves duplicates into a growing knowledge graph, and
// indexes everything for hybrid retrieval: vector search over chunks and
// entities combined with graph neighborhood expansion. Query results are
// cached and invalidated by a monotonically increasing index version, and
// conversational sessions persist through pluggable checkpoint stores.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/kgraph-ai/kgraph
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		kgraph "github.com/kgraph-ai/kgraph"
//		"github.com/kgraph-ai/kgraph/embed"
//		"github.com/kgraph-ai/kgraph/engine"
//		"github.com/kgraph-ai/kgraph/extract"
//		"github.com/kgraph-ai/kgraph/graphstore"
//		"github.com/kgraph-ai/kgraph/parser"
//		"github.com/kgraph-ai/kgraph/resolve"
//		"github.com/kgraph-ai/kgraph/retrieve"
//		"github.com/kgraph-ai/kgraph/source"
//		"github.com/kgraph-ai/kgraph/vectorstore"
//	)
//
//	func main() {
//		model, _ := extract.NewOpenAICaller(extract.OpenAIOptions{APIKey: "sk-..."})
//		embedder := embed.NewOpenAIEmbedder(embed.OpenAIOptions{APIKey: "sk-..."})
//
//		graph := graphstore.NewMemoryGraph()
//		vectors := vectorstore.NewMemoryStore()
//
//		registry := source.NewRegistry()
//		registry.Register(kgraph.OriginFS, source.NewFSSource("./docs"))
//
//		extractor, _ := extract.New(model, extract.Options{})
//		pipeline := embed.NewPipeline(embedder, vectors, embed.Options{})
//
//		eng, _ := engine.New(engine.Options{
//			Sources:   registry,
//			Parser:    parser.New(parser.DefaultOptions()),
//			Extractor: extractor,
//			Resolver:  resolve.New(graph, resolve.Options{}),
//			Pipeline:  pipeline,
//			Graph:     graph,
//			Retriever: retrieve.New(embedder, vectors, graph, retrieve.Options{}),
//		})
//
//		ctx := context.Background()
//		result, _ := eng.Ingest(ctx, source.Descriptor{
//			SourceID: "notes",
//			Origin:   kgraph.OriginFS,
//			Location: "notes.md",
//		})
//		fmt.Printf("ingested %d chunks at version %d\n",
//			result.ChunksProcessed, result.IndexVersion)
//
//		answer, _ := eng.Query(ctx, "who designed the Analytical Engine?", 5, 2)
//		fmt.Printf("%d chunks, %d entities in context\n",
//			len(answer.Context.Chunks), len(answer.Context.Entities))
//	}
//
// # Packages
//
//   - source: fetch documents from fs, S3 and the arXiv feed
//   - parser: format-aware splitting into token-bounded chunks
//   - extract: model-driven entity and relation extraction
//   - resolve: entity deduplication into the graph
//   - graphstore: in-memory and FalkorDB graph backends
//   - embed, vectorstore: embedding pipeline and vector index backends
//   - retrieve: hybrid vector + graph retrieval
//   - cache: version-invalidated query result cache
//   - checkpoint: per-thread session state stores with age pruning
//   - engine: the coordinator tying the pipelines together
package kgraph
