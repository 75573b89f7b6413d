// Package transforms implements the named value transformations used by
// data_transform nodes.
package transforms

import (
	"sort"
	"sync"

	"github.com/rendis/nodegraph/pkg/schema"
)

// Func transforms value. params come from the node config and vars is the
// context the node runs against.
type Func func(value any, params map[string]any, vars schema.Vars) (any, error)

// Registry maps transformation names to implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Returns error on duplicate or empty name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "transformation name and func are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "transformation %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply runs one transformation. Unknown types return value unchanged.
func (r *Registry) Apply(t schema.Transformation, value any, vars schema.Vars) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[t.Type]
	r.mu.RUnlock()
	if !ok {
		return value, nil
	}
	return fn(value, t.Params, vars)
}

// Pipeline folds value through ts in order. A failing step leaves the value
// it received unchanged and is reported through onErr; the fold continues.
func (r *Registry) Pipeline(ts []schema.Transformation, value any, vars schema.Vars, onErr func(index int, t schema.Transformation, err error)) any {
	current := value
	for i, t := range ts {
		next, err := r.Apply(t, current, vars)
		if err != nil {
			if onErr != nil {
				onErr(i, t, err)
			}
			continue
		}
		current = next
	}
	return current
}
