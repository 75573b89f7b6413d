// Package validation checks node graphs before they run: the request
// envelope against a JSON schema, each node's config against its kind, and
// the reference graph for dangling ids and cycles.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Warning codes. Warnings never make a graph invalid.
const (
	WarnUnknownNodeType  = "UNKNOWN_NODE_TYPE"
	WarnUnknownTransform = "UNKNOWN_TRANSFORM"
	WarnUnknownOperator  = "UNKNOWN_OPERATOR"
	WarnNoop             = "NOOP_CONFIG"
	WarnHighLoopCap      = "HIGH_LOOP_CAP"
)

// TransformLookup reports whether a transformation name is registered.
// Satisfied by *transforms.Registry.
type TransformLookup interface {
	Has(name string) bool
}

// Validator runs the three validation stages. Structural errors
// short-circuit the rest.
type Validator struct {
	structural *structuralValidator
	transforms TransformLookup
}

// New creates a Validator. transforms may be nil to skip transform name
// checks.
func New(transforms TransformLookup) (*Validator, error) {
	sv, err := newStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{structural: sv, transforms: transforms}, nil
}

// ValidateJSON validates a raw invocation request.
func (v *Validator) ValidateJSON(raw []byte) *schema.ValidationResult {
	result := v.structural.validate(raw)
	if !result.Valid() {
		return result
	}

	nodes, err := toRawNodes(raw)
	if err != nil {
		result.AddError("/nodes", schema.ErrCodeValidation, err.Error())
		return result
	}

	decoded, semantic := v.validateNodes(nodes)
	result.Merge(semantic)
	if result.Valid() {
		result.Merge(validateGraph(decoded))
	}
	return result
}

// Validate validates an already decoded request.
func (v *Validator) Validate(req *schema.ExecuteRequest) *schema.ValidationResult {
	if req == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "request is nil")
		return r
	}
	raw, err := json.Marshal(req)
	if err != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "request is not JSON-encodable: "+err.Error())
		return r
	}
	return v.ValidateJSON(raw)
}

// validateNodes decodes every config and checks ids and references.
func (v *Validator) validateNodes(nodes []rawNode) ([]schema.Node, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	ids := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if prev, dup := ids[n.ID]; dup {
			result.AddError(fmt.Sprintf("/nodes/%d/id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q (first at /nodes/%d)", n.ID, prev))
			continue
		}
		ids[n.ID] = i
	}

	decoded := make([]schema.Node, 0, len(nodes))
	for i, n := range nodes {
		path := fmt.Sprintf("/nodes/%d", i)

		if !n.Type.IsKnown() {
			result.AddWarning(path+"/type", WarnUnknownNodeType,
				fmt.Sprintf("node type %q has no handler and will pass the context through", n.Type))
		}

		cfg, err := schema.DecodeConfig(n.Type, n.Config)
		if err != nil {
			result.AddError(path+"/config", schema.ErrCodeMalformedConfig,
				fmt.Sprintf("invalid %s config: %s", n.Type, err.Error()))
			continue
		}

		for _, ref := range cfg.References() {
			if _, ok := ids[ref.NodeID]; !ok {
				result.AddError(path+"/config/"+ref.Field, schema.ErrCodeNodeNotFound,
					fmt.Sprintf("references unknown node %q", ref.NodeID))
			}
		}

		v.lintConfig(path+"/config", cfg, result)
		decoded = append(decoded, schema.Node{ID: n.ID, Type: n.Type, Name: n.Name, Config: cfg})
	}
	return decoded, result
}

// lintConfig warns about configs that will run as no-ops or behave in ways
// authors rarely intend.
func (v *Validator) lintConfig(path string, cfg schema.NodeConfig, result *schema.ValidationResult) {
	switch c := cfg.(type) {
	case *schema.ConditionConfig:
		if len(c.Conditions) == 0 && c.ElseNodeID == "" {
			result.AddWarning(path, WarnNoop, "condition has no conditions and no elseNodeId")
		}
		lintOperators(path+"/conditions", c.Conditions, result)

	case *schema.FilterConfig:
		lintOperators(path+"/conditions", c.Conditions, result)

	case *schema.LoopConfig:
		if c.ArrayField == "" {
			result.AddWarning(path+"/arrayField", WarnNoop, "loop has no arrayField and will not iterate")
		}
		if c.MaxIterations < 0 {
			result.AddWarning(path+"/maxIterations", WarnNoop,
				fmt.Sprintf("maxIterations %d is negative; the loop body will never run", c.MaxIterations))
		}
		if c.MaxIterations > engine.DefaultMaxIterations {
			result.AddWarning(path+"/maxIterations", WarnHighLoopCap,
				fmt.Sprintf("maxIterations %d exceeds the default cap of %d", c.MaxIterations, engine.DefaultMaxIterations))
		}

	case *schema.ParallelConfig:
		if len(c.Paths) == 0 {
			result.AddWarning(path+"/paths", WarnNoop, "parallel node has no paths")
		}

	case *schema.APICallConfig:
		if c.URL == "" {
			result.AddWarning(path+"/url", WarnNoop, "api_call has no url and will be skipped")
		}

	case *schema.DatabaseQueryConfig:
		switch c.Operation {
		case schema.DBOpList, schema.DBOpFilter, schema.DBOpCreate:
		case schema.DBOpUpdate, schema.DBOpDelete:
			if _, ok := c.Filter["id"]; !ok {
				result.AddWarning(path+"/filter/id", WarnNoop,
					fmt.Sprintf("%s without filter.id will be skipped", c.Operation))
			}
		default:
			result.AddWarning(path+"/operation", WarnNoop,
				fmt.Sprintf("unknown operation %q will be skipped", c.Operation))
		}
		if c.EntityName == "" {
			result.AddWarning(path+"/entityName", WarnNoop, "database_query has no entityName and will be skipped")
		}

	case *schema.DataTransformConfig:
		if v.transforms == nil {
			return
		}
		for i, t := range c.Transformations {
			if !v.transforms.Has(t.Type) {
				result.AddWarning(fmt.Sprintf("%s/transformations/%d/type", path, i), WarnUnknownTransform,
					fmt.Sprintf("transformation %q is unknown and will pass the value through", t.Type))
			}
		}

	case *schema.DelayConfig:
		switch c.Unit {
		case "", schema.UnitSeconds, schema.UnitMinutes, schema.UnitHours:
		default:
			result.AddWarning(path+"/unit", WarnNoop, fmt.Sprintf("unknown unit %q is treated as seconds", c.Unit))
		}
	}
}

var knownOperators = map[string]bool{
	schema.OpEquals:         true,
	schema.OpNotEquals:      true,
	schema.OpGreaterThan:    true,
	schema.OpLessThan:       true,
	schema.OpGreaterOrEqual: true,
	schema.OpLessOrEqual:    true,
	schema.OpContains:       true,
	schema.OpNotContains:    true,
	schema.OpStartsWith:     true,
	schema.OpEndsWith:       true,
}

func lintOperators(path string, conds []schema.Condition, result *schema.ValidationResult) {
	for i, c := range conds {
		if !knownOperators[c.Operator] {
			result.AddWarning(fmt.Sprintf("%s/%d/operator", path, i), WarnUnknownOperator,
				fmt.Sprintf("operator %q never matches", c.Operator))
		}
	}
}

// validateGraph runs the load-time graph checks the executor itself applies.
func validateGraph(nodes []schema.Node) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if _, err := engine.LoadGraph(nodes); err != nil {
		code := schema.ErrorCode(err)
		if code == "" {
			code = schema.ErrCodeValidation
		}
		var msg string
		if nErr, ok := err.(*schema.Error); ok {
			msg = nErr.Message
		} else {
			msg = err.Error()
		}
		result.AddError("/nodes", code, msg)
	}
	return result
}
