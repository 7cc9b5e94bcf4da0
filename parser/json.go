package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// jsonUnits parses a JSON document into one unit per record: each element of
// a top-level array, or the whole object for a single record. Records are
// flattened to "key: value" lines so the extractor sees readable text.
func (p *Parser) jsonUnits(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read json body: %w", err)
	}

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse json: %w", err)
	}

	switch v := root.(type) {
	case []any:
		units := make([]string, 0, len(v))
		for _, item := range v {
			units = append(units, renderRecord(item))
		}
		return units, nil
	default:
		return []string{renderRecord(v)}, nil
	}
}

// renderRecord flattens one decoded JSON value to stable text. Map keys are
// sorted so the same record always renders identically.
func renderRecord(v any) string {
	switch rec := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, renderRecord(rec[k]))
		}
		return strings.TrimRight(b.String(), "\n")
	case []any:
		parts := make([]string, 0, len(rec))
		for _, item := range rec {
			parts = append(parts, renderRecord(item))
		}
		return strings.Join(parts, ", ")
	case string:
		return rec
	case nil:
		return ""
	default:
		out, _ := json.Marshal(rec)
		return string(out)
	}
}
