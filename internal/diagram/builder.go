package diagram

import (
	"fmt"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Overlay is the outcome of one run, painted over the graph.
type Overlay struct {
	Trace      []schema.TraceEntry
	FailedNode string
	Error      string
}

// OverlayFromRun extracts the overlay of a recorded run.
func OverlayFromRun(run *store.Run) *Overlay {
	if run == nil {
		return nil
	}
	o := &Overlay{Trace: run.Trace}
	if run.Error != nil {
		o.FailedNode = run.Error.NodeID
		o.Error = run.Error.Message
	}
	return o
}

// Build constructs a DiagramModel from a node list. The graph is loaded the
// way the engine loads it, so invalid graphs fail here with the same error.
func Build(title string, nodes []schema.Node, overlay *Overlay) (*DiagramModel, error) {
	g, err := engine.LoadGraph(nodes)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	model := &DiagramModel{Title: title}
	index := make(map[string]*Node, len(g.Order))
	for _, id := range g.Order {
		n := g.Nodes[id]
		node := &Node{
			ID:    id,
			Label: nodeLabel(n),
			Type:  n.Type,
			Kind:  kindOf(n.Type),
		}
		model.Nodes = append(model.Nodes, node)
		index[id] = node
	}
	if overlay != nil {
		applyOverlay(index, overlay)
	}

	model.Edges = buildEdges(g)
	model.Levels = buildLevels(g)
	return model, nil
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeTrigger:
		return NodeKindStart
	case schema.NodeTypeOutput:
		return NodeKindEnd
	case schema.NodeTypeCondition:
		return NodeKindCondition
	case schema.NodeTypeLoop:
		return NodeKindLoop
	case schema.NodeTypeParallel:
		return NodeKindParallel
	case schema.NodeTypeAPICall:
		return NodeKindCall
	case schema.NodeTypeDatabaseQuery:
		return NodeKindQuery
	case schema.NodeTypeDelay:
		return NodeKindWait
	default:
		return NodeKindStep
	}
}

// nodeLabel is the node name, or its id, followed by a summary line.
func nodeLabel(n *schema.Node) string {
	label := n.ID
	if n.Name != "" {
		label = n.Name
	}
	if detail := nodeDetail(n); detail != "" {
		label += "\n" + detail
	}
	return label
}

func nodeDetail(n *schema.Node) string {
	switch cfg := n.Config.(type) {
	case *schema.APICallConfig:
		if cfg.URL == "" {
			return ""
		}
		method := cfg.Method
		if method == "" {
			method = "GET"
		}
		return method + " " + cfg.URL
	case *schema.DatabaseQueryConfig:
		if cfg.EntityName == "" {
			return ""
		}
		return cfg.Operation + " " + cfg.EntityName
	case *schema.DelayConfig:
		return engine.DelayDuration(cfg).String()
	case *schema.UnknownConfig:
		return string(n.Type)
	}
	return ""
}

func applyOverlay(index map[string]*Node, overlay *Overlay) {
	for _, entry := range overlay.Trace {
		node, ok := index[entry.NodeID]
		if !ok {
			continue
		}
		if node.Status == nil {
			node.Status = &StatusOverlay{Status: StatusVisited}
		}
		node.Status.Visits++
	}
	if node, ok := index[overlay.FailedNode]; ok {
		if node.Status == nil {
			node.Status = &StatusOverlay{}
		}
		node.Status.Status = StatusFailed
		node.Status.Error = overlay.Error
	}
}

// buildEdges emits sequence edges between top-level nodes, then every
// reference edge in declaration order.
func buildEdges(g *engine.Graph) []Edge {
	var edges []Edge
	top := g.TopLevel()
	for i := 1; i < len(top); i++ {
		edges = append(edges, Edge{From: top[i-1], To: top[i], Sequence: true})
	}
	for _, id := range g.Order {
		edges = append(edges, branchEdges(g.Nodes[id])...)
	}
	return edges
}

func branchEdges(n *schema.Node) []Edge {
	var edges []Edge
	add := func(to, label string) {
		if to != "" {
			edges = append(edges, Edge{From: n.ID, To: to, Label: label})
		}
	}
	switch cfg := n.Config.(type) {
	case *schema.ConditionConfig:
		for _, c := range cfg.Conditions {
			add(c.ThenNodeID, fmt.Sprintf("%s %s %s", c.Field, c.Operator, expressions.Stringify(c.Value)))
		}
		add(cfg.ElseNodeID, "else")
	case *schema.LoopConfig:
		add(cfg.LoopNodeID, "each "+cfg.ArrayField)
	case *schema.ParallelConfig:
		for i, p := range cfg.Paths {
			add(p.NodeID, fmt.Sprintf("path %d", i+1))
		}
	}
	return edges
}

// buildLevels assigns each node a rank: top-level nodes follow one another,
// and a referenced node sits below every node that references it.
func buildLevels(g *engine.Graph) [][]string {
	rank := make(map[string]int, len(g.Order))
	var place func(id string, r int) int
	place = func(id string, r int) int {
		if cur, ok := rank[id]; ok && cur >= r {
			return deepest(g, id, rank)
		}
		rank[id] = r
		deep := r
		for _, child := range g.Children[id] {
			if d := place(child, r+1); d > deep {
				deep = d
			}
		}
		return deep
	}

	next := 0
	for _, id := range g.TopLevel() {
		next = place(id, next) + 1
	}

	levels := make([][]string, next)
	for _, id := range g.Order {
		r := rank[id]
		levels[r] = append(levels[r], id)
	}
	return levels
}

// deepest returns the largest rank in the subtree under id.
func deepest(g *engine.Graph, id string, rank map[string]int) int {
	deep := rank[id]
	for _, child := range g.Children[id] {
		if d := deepest(g, child, rank); d > deep {
			deep = d
		}
	}
	return deep
}
