package expressions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Projector applies jq queries to run results and graph contexts.
// Compiled queries are cached and reused across goroutines.
type Projector struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewProjector creates a Projector with an empty query cache.
func NewProjector() *Projector {
	return &Projector{cache: make(map[string]*gojq.Code)}
}

// Project runs query against input. Input is first normalized to plain JSON
// values so that structs, typed maps and integers are accepted. A single
// output is returned directly; several outputs are returned as []any.
func (p *Projector) Project(ctx context.Context, query string, input any) (any, error) {
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq query")
	}

	code, err := p.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	data, err := toJSONValue(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq input is not JSON-compatible: %s", err.Error()).WithCause(err)
	}

	iter := code.RunWithContext(ctx, data)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", query, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"query": query})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (p *Projector) getOrCompile(query string) (*gojq.Code, error) {
	p.mu.RLock()
	if code, ok := p.cache[query]; ok {
		p.mu.RUnlock()
		return code, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if code, ok := p.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": query})
	}

	// No $ENV access from user queries.
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"query": query})
	}

	p.cache[query] = code
	return code, nil
}

// toJSONValue round-trips v through encoding/json so gojq only sees
// map[string]any, []any, float64, string, bool and nil.
func toJSONValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
