package engine

import (
	"fmt"
	"sort"

	"github.com/rendis/nodegraph/pkg/schema"
)

// Graph is the in-memory index of one node list. Built once per execution;
// never mutated afterwards.
type Graph struct {
	Nodes    map[string]*schema.Node
	Order    []string            // node ids in declaration order
	Children map[string][]string // node id → referenced child ids
	Parents  map[string][]string // node id → nodes referencing it
	entry    string
}

// LoadGraph indexes nodes and checks the invariants that must hold before
// any node runs: a non-empty list, unique ids, every embedded reference
// resolvable and no reference cycles. The first node is the entry point.
func LoadGraph(nodes []schema.Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	g := &Graph{
		Nodes:    make(map[string]*schema.Node, len(nodes)),
		Order:    make([]string, 0, len(nodes)),
		Children: make(map[string][]string, len(nodes)),
		Parents:  make(map[string][]string, len(nodes)),
	}

	for i := range nodes {
		// The graph owns copies; callers' nodes stay untouched.
		node := nodes[i]
		n := &node
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty id", i)
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", n.ID)
		}
		if n.Config == nil {
			cfg, err := schema.DecodeConfig(n.Type, nil)
			if err != nil {
				return nil, err
			}
			n.Config = cfg
		}
		g.Nodes[n.ID] = n
		g.Order = append(g.Order, n.ID)
	}
	g.entry = g.Order[0]

	for _, id := range g.Order {
		n := g.Nodes[id]
		for _, ref := range n.References() {
			if _, ok := g.Nodes[ref.NodeID]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound,
					"node %s references unknown node %q in %s", id, ref.NodeID, ref.Field).
					WithNode(id).
					WithDetails(map[string]any{"field": ref.Field, "ref": ref.NodeID})
			}
			g.Children[id] = append(g.Children[id], ref.NodeID)
			g.Parents[ref.NodeID] = append(g.Parents[ref.NodeID], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node references form a cycle through %v", cycle).
			WithDetails(map[string]any{"nodes": cycle})
	}
	return g, nil
}

// Entry returns the entry point node.
func (g *Graph) Entry() *schema.Node { return g.Nodes[g.entry] }

// Node returns the node with the given id or a NODE_NOT_FOUND error.
func (g *Graph) Node(id string) (*schema.Node, error) {
	n, ok := g.Nodes[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "node %q not found", id)
	}
	return n, nil
}

// TopLevel returns the ids run in sequence at the top of the graph: the
// entry point followed, in declaration order, by every node no config
// references. Referenced nodes run only when their parent invokes them.
func (g *Graph) TopLevel() []string {
	out := []string{g.entry}
	for _, id := range g.Order[1:] {
		if len(g.Parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// findCycle runs Kahn's algorithm over the reference edges and returns the
// ids it could not order (the cycle plus anything only reachable through it),
// or nil when acyclic.
func (g *Graph) findCycle() []string {
	inDegree := make(map[string]int, len(g.Nodes))
	for _, id := range g.Order {
		for _, child := range g.Children[id] {
			inDegree[child]++
		}
	}

	queue := make([]string, 0, len(g.Order))
	for _, id := range g.Order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range g.Children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if visited == len(g.Order) {
		return nil
	}

	var cycle []string
	for id, deg := range inDegree {
		if deg > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return cycle
}

// String renders a short summary used in debug logs.
func (g *Graph) String() string {
	return fmt.Sprintf("graph(entry=%s, nodes=%d)", g.entry, len(g.Nodes))
}
