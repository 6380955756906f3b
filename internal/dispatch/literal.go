package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LiteralCall is a direct tool invocation typed by the user, e.g.
// create_ticket(project_key="DEMO", summary="Fix login").
type LiteralCall struct {
	Name string
	Args json.RawMessage
}

// ParseLiteralCall matches an utterance against the known tool names, in
// registry order; the first name whose call syntax matches wins. Detection
// is a prefix test on "<name>(" only; a missing closing paren still counts.
// The argument grammar is deliberately narrow: comma-separated key=value
// pairs with scalar literals. A matched name with malformed arguments
// reports the parse error; it does not fall through to the model path.
func ParseLiteralCall(utterance string, toolNames []string) (*LiteralCall, bool, error) {
	trimmed := strings.TrimSpace(utterance)
	for _, name := range toolNames {
		if !strings.HasPrefix(trimmed, name+"(") {
			continue
		}
		inner := strings.TrimRight(trimmed[len(name)+1:], ")")
		args, err := parseLiteralArgs(inner)
		if err != nil {
			return &LiteralCall{Name: name}, true, err
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return &LiteralCall{Name: name}, true, err
		}
		return &LiteralCall{Name: name, Args: raw}, true, nil
	}
	return nil, false, nil
}

func parseLiteralArgs(inner string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(inner) == "" {
		return out, nil
	}
	for _, pair := range splitTopLevel(inner) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("expected key=value, got %q", strings.TrimSpace(pair))
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty argument name in %q", strings.TrimSpace(pair))
		}
		out[key] = parseLiteralValue(strings.TrimSpace(value))
	}
	return out, nil
}

// splitTopLevel splits on commas that are not inside a quoted string.
func splitTopLevel(s string) []string {
	var parts []string
	var sb strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			sb.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			sb.WriteRune(r)
		case r == ',':
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	parts = append(parts, sb.String())
	return parts
}

// parseLiteralValue maps a scalar literal to its JSON value. Only numbers,
// booleans and strings are recognized; there is no expression evaluation.
func parseLiteralValue(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	}
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	return v
}
