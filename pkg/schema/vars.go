package schema

import "time"

// Reserved context keys written by the engine. They share the namespace with
// user variables.
const (
	VarLoopIndex      = "_loopIndex"
	VarLastHTTPStatus = "_lastHttpStatus"
)

// Vars is the variable context threaded through a graph. Handlers never
// mutate the map they receive; they return a new one.
type Vars map[string]any

// With returns a shallow copy of v with key set to value.
func (v Vars) With(key string, value any) Vars {
	out := make(Vars, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

// TraceEntry records one node visit.
type TraceEntry struct {
	NodeID    string    `json:"nodeId"`
	Type      NodeType  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
