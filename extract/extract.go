// Package extract turns chunks of text into candidate graph components by
// calling an injected language model and strictly validating its output.
// Malformed output never propagates downstream: it becomes an
// ExtractionParseError and an empty candidate set.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/log"
)

// DefaultPrompt is the extraction request sent per chunk. The %s placeholder
// receives the chunk text. Callers may swap in their own template as long as
// the response contract below is preserved.
const DefaultPrompt = `Extract the entities and relationships from the text below.
Respond with JSON only, no prose, in exactly this shape:
{"entities":[{"name":"...","type":"...","aliases":["..."]}],"relations":[{"source":"...","target":"...","predicate":"..."}]}
Entity types: person, organization, location, concept, work, event, technology.
Relation source and target must repeat entity names from the entities list.

Text:
%s`

// responseSchema is the contract the model output must satisfy. Anything
// that fails validation is discarded as unparsable.
const responseSchema = `{
  "type": "object",
  "required": ["entities", "relations"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "aliases": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "relations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target", "predicate"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "predicate": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// CandidateEntity is one extracted entity before resolution, carrying
// evidence back to the chunk it came from.
type CandidateEntity struct {
	Name    string
	Type    string
	Aliases []string
	ChunkID string
	// Order is the position within the chunk's extraction output, used for
	// deterministic resolution.
	Order int
}

// CandidateRelation is one extracted relation before resolution. Source and
// Target are entity names, resolved to ids later.
type CandidateRelation struct {
	Source    string
	Target    string
	Predicate string
	ChunkID   string
	Order     int
}

// Candidates is the extraction output for one chunk.
type Candidates struct {
	Entities  []CandidateEntity
	Relations []CandidateRelation
}

// Extractor maps chunks to candidate graph components via a language model.
type Extractor struct {
	model  kgraph.ModelCaller
	prompt string
	retry  *kgraph.RetryConfig
	schema *gojsonschema.Schema
	logger log.Logger
}

// Options configuration for the extractor.
type Options struct {
	// Prompt overrides DefaultPrompt. Must keep the %s placeholder.
	Prompt string
	Retry  *kgraph.RetryConfig
	Logger log.Logger
}

// New creates an extractor around the injected model capability.
func New(model kgraph.ModelCaller, opts Options) (*Extractor, error) {
	if model == nil {
		return nil, fmt.Errorf("model caller is required")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &Extractor{
		model:  model,
		prompt: prompt,
		retry:  opts.Retry,
		schema: schema,
		logger: logger,
	}, nil
}

// Extract runs the model over one chunk and validates the response. Model
// failures are retried up to the configured bound; exhausting retries or
// failing validation downgrades to an empty candidate set plus the recorded
// error, never a pipeline abort.
func (e *Extractor) Extract(ctx context.Context, chunk kgraph.Chunk) (*Candidates, error) {
	var response string
	err := kgraph.Retry(ctx, e.retry, func() error {
		var callErr error
		response, callErr = e.model.Generate(ctx, fmt.Sprintf(e.prompt, chunk.Text))
		return callErr
	})
	if err != nil {
		e.logger.Warn("extraction call failed for chunk %s: %v", chunk.ID, err)
		return &Candidates{}, &kgraph.ExtractionParseError{ChunkID: chunk.ID, Detail: err.Error()}
	}

	cands, err := e.parse(chunk.ID, response)
	if err != nil {
		e.logger.Warn("discarding extraction output for chunk %s: %v", chunk.ID, err)
		return &Candidates{}, err
	}

	return cands, nil
}

// rawExtraction mirrors the response contract.
type rawExtraction struct {
	Entities []struct {
		Name    string   `json:"name"`
		Type    string   `json:"type"`
		Aliases []string `json:"aliases"`
	} `json:"entities"`
	Relations []struct {
		Source    string `json:"source"`
		Target    string `json:"target"`
		Predicate string `json:"predicate"`
	} `json:"relations"`
}

// parse validates the model response against the schema and maps it onto the
// fixed candidate types.
func (e *Extractor) parse(chunkID, response string) (*Candidates, error) {
	cleaned := stripCodeFence(response)

	result, err := e.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, &kgraph.ExtractionParseError{ChunkID: chunkID, Detail: err.Error()}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, &kgraph.ExtractionParseError{ChunkID: chunkID, Detail: strings.Join(details, "; ")}
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &kgraph.ExtractionParseError{ChunkID: chunkID, Detail: err.Error()}
	}

	cands := &Candidates{}
	for i, ent := range raw.Entities {
		cands.Entities = append(cands.Entities, CandidateEntity{
			Name:    strings.TrimSpace(ent.Name),
			Type:    strings.ToLower(strings.TrimSpace(ent.Type)),
			Aliases: trimAll(ent.Aliases),
			ChunkID: chunkID,
			Order:   i,
		})
	}
	for i, rel := range raw.Relations {
		cands.Relations = append(cands.Relations, CandidateRelation{
			Source:    strings.TrimSpace(rel.Source),
			Target:    strings.TrimSpace(rel.Target),
			Predicate: strings.TrimSpace(rel.Predicate),
			ChunkID:   chunkID,
			Order:     i,
		})
	}

	return cands, nil
}

// stripCodeFence removes a surrounding markdown code fence, which chat
// models add even when told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
