package template

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// Lookup walks a dot-separated path through ctx. Paths with index brackets such
// as "payload.items[0].id" are evaluated as JSONPath. found is false when the
// path is missing or resolves to nil.
func Lookup(path string, ctx map[string]any) (value any, found bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	if strings.Contains(path, "[") {
		return lookupJSONPath(path, ctx)
	}

	var current any = ctx

	for _, segment := range strings.Split(path, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}

		current = next
	}

	return current, current != nil
}

func child(parent any, segment string) (any, bool) {
	switch p := parent.(type) {
	case map[string]any:
		value, ok := p[segment]

		return value, ok
	case []any:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(p) {
			return nil, false
		}

		return p[index], true
	}

	rv := reflect.ValueOf(parent)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		item := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !item.IsValid() {
			return nil, false
		}

		return item.Interface(), true
	}

	return nil, false
}

func lookupJSONPath(path string, ctx map[string]any) (value any, found bool) {
	defer func() {
		if recover() != nil {
			value, found = nil, false
		}
	}()

	result, err := jsonpath.JsonPathLookup(ctx, "$."+path)
	if err != nil {
		return nil, false
	}

	return result, result != nil
}
