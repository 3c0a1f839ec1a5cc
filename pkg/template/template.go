// Package template resolves {{path.to.value}} expressions against a run context.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// ErrMalformedTemplate is returned for an unclosed span or an empty path.
var ErrMalformedTemplate = errors.New("malformed template expression")

// Resolve evaluates every {{...}} span of expression against ctx.
//
// When the whole expression is exactly one span the looked-up value is returned
// unchanged, so numbers, booleans and objects keep their type; a missing path
// returns nil. Spans embedded in larger text are replaced by their string form and
// missing paths become the empty string.
func Resolve(expression string, ctx map[string]any) (any, error) {
	if !strings.Contains(expression, openDelim) {
		return expression, nil
	}

	trimmed := strings.TrimSpace(expression)
	if path, ok := singleSpan(trimmed); ok {
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in %q", ErrMalformedTemplate, expression)
		}

		value, _ := Lookup(path, ctx)

		return value, nil
	}

	var out strings.Builder

	rest := expression
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			out.WriteString(rest)

			break
		}

		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed %q in %q", ErrMalformedTemplate, openDelim, expression)
		}

		path := strings.TrimSpace(rest[start+len(openDelim) : start+len(openDelim)+end])
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in %q", ErrMalformedTemplate, expression)
		}

		out.WriteString(rest[:start])

		value, found := Lookup(path, ctx)
		if found {
			out.WriteString(Stringify(value))
		}

		rest = rest[start+len(openDelim)+end+len(closeDelim):]
	}

	return out.String(), nil
}

// ResolveConfig applies Resolve to every string leaf of config, recursing into
// nested maps and slices. Non-string values pass through unchanged.
func ResolveConfig(config map[string]any, ctx map[string]any) (map[string]any, error) {
	resolved, err := resolveValue(config, ctx)
	if err != nil {
		return nil, err
	}

	out, _ := resolved.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}

	return out, nil
}

func resolveValue(value any, ctx map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return Resolve(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = resolved
		}

		return out, nil
	case map[string]string:
		out := make(map[string]any, len(v))

		for key, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := resolveValue(item, ctx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// singleSpan reports whether s is exactly one {{...}} span and returns its path.
func singleSpan(s string) (string, bool) {
	if !strings.HasPrefix(s, openDelim) || !strings.HasSuffix(s, closeDelim) || len(s) < len(openDelim)+len(closeDelim) {
		return "", false
	}

	inner := s[len(openDelim) : len(s)-len(closeDelim)]
	if strings.Contains(inner, openDelim) || strings.Contains(inner, closeDelim) {
		return "", false
	}

	return strings.TrimSpace(inner), true
}

// Stringify renders a context value for embedding in text.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
