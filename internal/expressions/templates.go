package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scope roots available to template references.
const (
	RootTrigger  = "trigger"
	RootSteps    = "steps"
	RootWorkflow = "workflow"
)

// ResolveInputs resolves every {{...}} template reference in a step's inputs
// against the scope. Resolution never fails: a reference into state that does
// not exist yields nil (full templates) or is left verbatim (interpolated
// fragments without a default).
func ResolveInputs(inputs map[string]any, scope map[string]any) map[string]any {
	if inputs == nil {
		return nil
	}
	resolved := make(map[string]any, len(inputs))
	for key, value := range inputs {
		resolved[key] = ResolveValue(value, scope)
	}
	return resolved
}

// ResolveValue resolves a single value. Strings that are exactly one template
// token return the referenced value with its type preserved; strings with
// embedded tokens are interpolated into a string. Maps and slices are
// resolved recursively.
func ResolveValue(value any, scope map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, scope)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveValue(item, scope)
		}
		return out
	case map[string]any:
		return ResolveInputs(v, scope)
	default:
		return value
	}
}

func resolveString(s string, scope map[string]any) any {
	// A string that is exactly one template token keeps the value's type.
	if inner, ok := fullTemplate(s); ok {
		path, def := splitDefault(inner)
		if val, found := lookupPath(scope, path); found {
			return val
		}
		if def != "" {
			return parseDefaultLiteral(def)
		}
		return nil
	}

	if !strings.Contains(s, "{{") {
		return s
	}

	// Interpolate embedded tokens into a string.
	var b strings.Builder
	b.Grow(len(s))
	rest := s
	for {
		idx := strings.Index(rest, "{{")
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[idx:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		token := rest[idx : idx+end+2]
		inner := strings.TrimSpace(rest[idx+2 : idx+end])
		path, def := splitDefault(inner)
		if val, found := lookupPath(scope, path); found {
			b.WriteString(stringify(val))
		} else if def != "" {
			b.WriteString(stripQuotes(def))
		} else {
			// Unresolvable without a default: keep the token verbatim.
			b.WriteString(token)
		}
		rest = rest[idx+end+2:]
	}
	return b.String()
}

// fullTemplate reports whether s is exactly "{{...}}" and returns the inner
// expression.
func fullTemplate(s string) (string, bool) {
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return "", false
	}
	inner := s[2 : len(s)-2]
	if strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// splitDefault splits "path || default" into its parts.
func splitDefault(inner string) (path, def string) {
	if idx := strings.Index(inner, "||"); idx != -1 {
		return strings.TrimSpace(inner[:idx]), strings.TrimSpace(inner[idx+2:])
	}
	return inner, ""
}

// lookupPath resolves a dotted reference rooted at trigger, steps or workflow.
// steps.<id> yields the step's runtime record, steps.<id>.outputs the outputs
// map, deeper segments traverse nested values.
func lookupPath(scope map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || scope == nil {
		return nil, false
	}
	root, ok := scope[parts[0]]
	if !ok {
		return nil, false
	}
	switch parts[0] {
	case RootTrigger, RootWorkflow, RootSteps:
		return traverse(root, parts[1:])
	default:
		return nil, false
	}
}

func traverse(current any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// parseDefaultLiteral interprets a "|| default" literal: quoted strings lose
// their quotes, numbers become float64, everything else stays a string.
func parseDefaultLiteral(def string) any {
	stripped := stripQuotes(def)
	if stripped != def {
		return stripped
	}
	if f, err := strconv.ParseFloat(stripped, 64); err == nil {
		return f
	}
	return stripped
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// stringify renders a resolved value for string interpolation. Composite
// values are JSON-encoded.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}
