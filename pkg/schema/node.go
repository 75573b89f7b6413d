package schema

import (
	"bytes"
	"context"
	"encoding/json"
)

// NodeType enumerates the kinds of nodes in a graph.
type NodeType string

const (
	NodeTypeTrigger       NodeType = "trigger"
	NodeTypeCondition     NodeType = "condition"
	NodeTypeLoop          NodeType = "loop"
	NodeTypeParallel      NodeType = "parallel"
	NodeTypeAPICall       NodeType = "api_call"
	NodeTypeDatabaseQuery NodeType = "database_query"
	NodeTypeDataTransform NodeType = "data_transform"
	NodeTypeFilter        NodeType = "filter"
	NodeTypeDelay         NodeType = "delay"
	NodeTypeOutput        NodeType = "output"
)

// KnownNodeTypes lists every node type with a dedicated handler.
var KnownNodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeCondition,
	NodeTypeLoop,
	NodeTypeParallel,
	NodeTypeAPICall,
	NodeTypeDatabaseQuery,
	NodeTypeDataTransform,
	NodeTypeFilter,
	NodeTypeDelay,
	NodeTypeOutput,
}

// IsKnown reports whether t has a dedicated handler.
func (t NodeType) IsKnown() bool {
	for _, k := range KnownNodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Node is one vertex of a graph. Config is always non-nil after decoding;
// its concrete type is selected by Type.
type Node struct {
	ID     string     `json:"id"`
	Type   NodeType   `json:"type"`
	Name   string     `json:"name,omitempty"`
	Config NodeConfig `json:"config"`
}

// Accept dispatches the node to the visitor method for its kind.
func (n *Node) Accept(ctx context.Context, v NodeVisitor, vars Vars) (Vars, error) {
	cfg := n.Config
	if cfg == nil {
		cfg = &UnknownConfig{}
	}
	return cfg.accept(ctx, v, n, vars)
}

// References returns the node ids embedded in the node's config.
func (n *Node) References() []NodeRef {
	if n.Config == nil {
		return nil
	}
	return n.Config.References()
}

// UnmarshalJSON decodes the node and its config. A config that cannot be
// decoded into the shape of its kind fails with MALFORMED_CONFIG.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string          `json:"id"`
		Type   NodeType        `json:"type"`
		Name   string          `json:"name,omitempty"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cfg, err := DecodeConfig(raw.Type, raw.Config)
	if err != nil {
		return NewErrorf(ErrCodeMalformedConfig, "invalid %s config: %s", raw.Type, err.Error()).
			WithNode(raw.ID).
			WithCause(err)
	}

	n.ID = raw.ID
	n.Type = raw.Type
	n.Name = raw.Name
	n.Config = cfg
	return nil
}

// DecodeConfig decodes raw into the config struct for the given node type.
// Empty or null configs decode to the zero config, which every handler
// treats as a no-op. Unknown types keep the raw bytes.
func DecodeConfig(t NodeType, raw json.RawMessage) (NodeConfig, error) {
	var cfg NodeConfig
	switch t {
	case NodeTypeTrigger:
		cfg = &TriggerConfig{}
	case NodeTypeCondition:
		cfg = &ConditionConfig{}
	case NodeTypeLoop:
		cfg = &LoopConfig{}
	case NodeTypeParallel:
		cfg = &ParallelConfig{}
	case NodeTypeAPICall:
		cfg = &APICallConfig{}
	case NodeTypeDatabaseQuery:
		cfg = &DatabaseQueryConfig{}
	case NodeTypeDataTransform:
		cfg = &DataTransformConfig{}
	case NodeTypeFilter:
		cfg = &FilterConfig{}
	case NodeTypeDelay:
		cfg = &DelayConfig{}
	case NodeTypeOutput:
		cfg = &OutputConfig{}
	default:
		return &UnknownConfig{Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cfg, nil
	}
	if err := json.Unmarshal(trimmed, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
