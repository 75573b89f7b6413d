package expressions

import (
	"strconv"
	"strings"

	"github.com/rendis/nodegraph/pkg/schema"
)

// Lookup resolves a dot-delimited path against vars. A key containing dots
// is matched directly before the path is split. Numeric segments index into
// arrays. The second return value is false when any segment is missing.
func Lookup(vars map[string]any, path string) (any, bool) {
	if path == "" || vars == nil {
		return nil, false
	}
	if val, ok := vars[path]; ok {
		return val, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current any = vars
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, seg string) (any, bool) {
	switch v := current.(type) {
	case map[string]any:
		val, ok := v[seg]
		return val, ok
	case schema.Vars:
		val, ok := v[seg]
		return val, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case []map[string]any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}

// LookupArray resolves path and returns it as a slice. Absent or non-array
// values yield nil.
func LookupArray(vars map[string]any, path string) []any {
	val, ok := Lookup(vars, path)
	if !ok {
		return nil
	}
	return AsArray(val)
}

// AsArray converts JSON-style array values to []any.
func AsArray(val any) []any {
	switch v := val.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	default:
		return nil
	}
}
