package schema

import (
	"context"
	"encoding/json"
	"fmt"
)

// NodeVisitor has one method per node kind. Adding a kind means adding a
// method here, which breaks every visitor until it handles the new kind.
type NodeVisitor interface {
	VisitTrigger(ctx context.Context, n *Node, cfg *TriggerConfig, vars Vars) (Vars, error)
	VisitCondition(ctx context.Context, n *Node, cfg *ConditionConfig, vars Vars) (Vars, error)
	VisitLoop(ctx context.Context, n *Node, cfg *LoopConfig, vars Vars) (Vars, error)
	VisitParallel(ctx context.Context, n *Node, cfg *ParallelConfig, vars Vars) (Vars, error)
	VisitAPICall(ctx context.Context, n *Node, cfg *APICallConfig, vars Vars) (Vars, error)
	VisitDatabaseQuery(ctx context.Context, n *Node, cfg *DatabaseQueryConfig, vars Vars) (Vars, error)
	VisitDataTransform(ctx context.Context, n *Node, cfg *DataTransformConfig, vars Vars) (Vars, error)
	VisitFilter(ctx context.Context, n *Node, cfg *FilterConfig, vars Vars) (Vars, error)
	VisitDelay(ctx context.Context, n *Node, cfg *DelayConfig, vars Vars) (Vars, error)
	VisitOutput(ctx context.Context, n *Node, cfg *OutputConfig, vars Vars) (Vars, error)
	VisitUnknown(ctx context.Context, n *Node, cfg *UnknownConfig, vars Vars) (Vars, error)
}

// NodeConfig is the closed set of per-kind configs. The unexported accept
// method keeps implementations inside this package.
type NodeConfig interface {
	Kind() NodeType
	References() []NodeRef
	accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error)
}

// NodeRef is a child node id embedded in a config, with the config field it
// came from.
type NodeRef struct {
	Field  string
	NodeID string
}

// Condition is one comparison of a context field against a literal.
type Condition struct {
	Field      string `json:"field"`
	Operator   string `json:"operator"`
	Value      any    `json:"value"`
	ThenNodeID string `json:"thenNodeId,omitempty"`
}

// Condition operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "notEquals"
	OpGreaterThan    = "greaterThan"
	OpLessThan       = "lessThan"
	OpGreaterOrEqual = "greaterOrEqual"
	OpLessOrEqual    = "lessOrEqual"
	OpContains       = "contains"
	OpNotContains    = "notContains"
	OpStartsWith     = "startsWith"
	OpEndsWith       = "endsWith"
)

// TriggerConfig carries nothing; trigger nodes mark the entry point.
type TriggerConfig struct{}

func (*TriggerConfig) Kind() NodeType        { return NodeTypeTrigger }
func (*TriggerConfig) References() []NodeRef { return nil }
func (c *TriggerConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitTrigger(ctx, n, c, vars)
}

// ConditionConfig routes to the first matching condition's branch, or to
// ElseNodeID when none match.
type ConditionConfig struct {
	Conditions []Condition `json:"conditions,omitempty"`
	ElseNodeID string      `json:"elseNodeId,omitempty"`
}

func (*ConditionConfig) Kind() NodeType { return NodeTypeCondition }
func (c *ConditionConfig) References() []NodeRef {
	var refs []NodeRef
	for i, cond := range c.Conditions {
		if cond.ThenNodeID != "" {
			refs = append(refs, NodeRef{Field: fmt.Sprintf("conditions[%d].thenNodeId", i), NodeID: cond.ThenNodeID})
		}
	}
	if c.ElseNodeID != "" {
		refs = append(refs, NodeRef{Field: "elseNodeId", NodeID: c.ElseNodeID})
	}
	return refs
}
func (c *ConditionConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitCondition(ctx, n, c, vars)
}

// LoopConfig iterates LoopNodeID over the array at ArrayField.
type LoopConfig struct {
	ArrayField       string `json:"arrayField,omitempty"`
	ItemVariableName string `json:"itemVariableName,omitempty"`
	LoopNodeID       string `json:"loopNodeId,omitempty"`
	MaxIterations    int    `json:"maxIterations,omitempty"`
}

func (*LoopConfig) Kind() NodeType { return NodeTypeLoop }
func (c *LoopConfig) References() []NodeRef {
	if c.LoopNodeID == "" {
		return nil
	}
	return []NodeRef{{Field: "loopNodeId", NodeID: c.LoopNodeID}}
}
func (c *LoopConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitLoop(ctx, n, c, vars)
}

// ParallelPath is one branch of a parallel node.
type ParallelPath struct {
	NodeID string `json:"nodeId"`
}

// ParallelConfig fans out to every path concurrently.
type ParallelConfig struct {
	Paths []ParallelPath `json:"paths,omitempty"`
}

func (*ParallelConfig) Kind() NodeType { return NodeTypeParallel }
func (c *ParallelConfig) References() []NodeRef {
	var refs []NodeRef
	for i, p := range c.Paths {
		if p.NodeID != "" {
			refs = append(refs, NodeRef{Field: fmt.Sprintf("paths[%d].nodeId", i), NodeID: p.NodeID})
		}
	}
	return refs
}
func (c *ParallelConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitParallel(ctx, n, c, vars)
}

// APICallConfig performs one outbound HTTP request.
type APICallConfig struct {
	Method               string            `json:"method,omitempty"`
	URL                  string            `json:"url,omitempty"`
	Headers              map[string]string `json:"headers,omitempty"`
	Body                 any               `json:"body,omitempty"`
	ResponseVariableName string            `json:"responseVariableName,omitempty"`
}

func (*APICallConfig) Kind() NodeType        { return NodeTypeAPICall }
func (*APICallConfig) References() []NodeRef { return nil }
func (c *APICallConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitAPICall(ctx, n, c, vars)
}

// Database operations.
const (
	DBOpList   = "list"
	DBOpFilter = "filter"
	DBOpCreate = "create"
	DBOpUpdate = "update"
	DBOpDelete = "delete"
)

// DatabaseQueryConfig runs one entity operation.
type DatabaseQueryConfig struct {
	EntityName   string         `json:"entityName,omitempty"`
	Operation    string         `json:"operation,omitempty"`
	Filter       map[string]any `json:"filter,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	VariableName string         `json:"variableName,omitempty"`
}

func (*DatabaseQueryConfig) Kind() NodeType        { return NodeTypeDatabaseQuery }
func (*DatabaseQueryConfig) References() []NodeRef { return nil }
func (c *DatabaseQueryConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitDatabaseQuery(ctx, n, c, vars)
}

// Transformation is one step of a data_transform pipeline.
type Transformation struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// DataTransformConfig folds SourceVariable through Transformations.
type DataTransformConfig struct {
	SourceVariable  string           `json:"sourceVariable,omitempty"`
	Transformations []Transformation `json:"transformations,omitempty"`
	OutputVariable  string           `json:"outputVariable,omitempty"`
}

func (*DataTransformConfig) Kind() NodeType        { return NodeTypeDataTransform }
func (*DataTransformConfig) References() []NodeRef { return nil }
func (c *DataTransformConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitDataTransform(ctx, n, c, vars)
}

// FilterConfig keeps the items of ArrayVariable that satisfy every condition.
type FilterConfig struct {
	ArrayVariable  string      `json:"arrayVariable,omitempty"`
	Conditions     []Condition `json:"conditions,omitempty"`
	OutputVariable string      `json:"outputVariable,omitempty"`
}

func (*FilterConfig) Kind() NodeType        { return NodeTypeFilter }
func (*FilterConfig) References() []NodeRef { return nil }
func (c *FilterConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitFilter(ctx, n, c, vars)
}

// Delay units.
const (
	UnitSeconds = "seconds"
	UnitMinutes = "minutes"
	UnitHours   = "hours"
)

// DelayConfig pauses the path for Duration units.
type DelayConfig struct {
	Duration float64 `json:"duration,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

func (*DelayConfig) Kind() NodeType        { return NodeTypeDelay }
func (*DelayConfig) References() []NodeRef { return nil }
func (c *DelayConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitDelay(ctx, n, c, vars)
}

// OutputConfig carries nothing; output nodes mark a terminal.
type OutputConfig struct{}

func (*OutputConfig) Kind() NodeType        { return NodeTypeOutput }
func (*OutputConfig) References() []NodeRef { return nil }
func (c *OutputConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitOutput(ctx, n, c, vars)
}

// UnknownConfig holds the raw config of a node whose type has no handler.
type UnknownConfig struct {
	Raw json.RawMessage
}

func (*UnknownConfig) Kind() NodeType        { return "" }
func (*UnknownConfig) References() []NodeRef { return nil }
func (c *UnknownConfig) accept(ctx context.Context, v NodeVisitor, n *Node, vars Vars) (Vars, error) {
	return v.VisitUnknown(ctx, n, c, vars)
}

// MarshalJSON writes the raw config back unchanged.
func (c *UnknownConfig) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("null"), nil
	}
	return c.Raw, nil
}
