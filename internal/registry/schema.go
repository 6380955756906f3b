package registry

import (
	"encoding/json"
	"sort"

	"github.com/golovatskygroup/mcp-atlas/pkg/mcp"
)

// Schema is the canonical argument schema consumed by the chat page's form
// generator and by the LLM tool-schema builder.
type Schema struct {
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required"`
}

// Normalize returns the canonical schema for a descriptor. Providers publish
// the schema under either "parameters" or "inputSchema"; "parameters" wins
// when both are present. Anything that is not a JSON object normalizes to an
// empty schema. Never errors.
func Normalize(t mcp.Tool) Schema {
	raw := t.Parameters
	if !isJSONObject(raw) {
		raw = t.InputSchema
	}

	out := Schema{Properties: map[string]map[string]any{}, Required: []string{}}
	if !isJSONObject(raw) {
		return out
	}

	var parsed struct {
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return out
	}
	if parsed.Properties != nil {
		out.Properties = parsed.Properties
	}
	if parsed.Required != nil {
		out.Required = parsed.Required
	}
	return out
}

// PropertyType returns the declared type of a parameter, defaulting to
// "string" when absent.
func (s Schema) PropertyType(name string) string {
	if p, ok := s.Properties[name]; ok {
		if t, ok := p["type"].(string); ok && t != "" {
			return t
		}
	}
	return "string"
}

// PropertyNames returns the parameter names in a stable order.
func (s Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONSchema renders the canonical schema as a JSON Schema object document,
// the shape both the LLM tool list and argument validation expect.
func (s Schema) JSONSchema() json.RawMessage {
	doc := map[string]any{
		"type":       "object",
		"properties": s.Properties,
		"required":   s.Required,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{},"required":[]}`)
	}
	return b
}

func isJSONObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
