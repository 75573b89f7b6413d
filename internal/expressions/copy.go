package expressions

import (
	"encoding/json"

	"github.com/rendis/nodegraph/pkg/schema"
)

// CopyVars returns a deep copy of vars. Parallel branches start from one so
// that nothing a branch writes is visible to its siblings.
func CopyVars(vars schema.Vars) schema.Vars {
	if vars == nil {
		return schema.Vars{}
	}
	cp := make(schema.Vars, len(vars))
	for k, v := range vars {
		cp[k] = DeepCopy(v)
	}
	return cp
}

// DeepCopy recursively copies maps and slices. Primitives are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = DeepCopy(item)
		}
		return cp
	case schema.Vars:
		return CopyVars(val)
	case []any:
		if val == nil {
			return val
		}
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
