package diagram

import "github.com/rendis/nodegraph/pkg/schema"

// NodeKind classifies a diagram node by the shape it is drawn with.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindCall      NodeKind = "call"
	NodeKindQuery     NodeKind = "query"
	NodeKindStep      NodeKind = "step"
	NodeKindWait      NodeKind = "wait"
)

// Overlay statuses.
const (
	StatusVisited = "visited"
	StatusFailed  = "failed"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents one graph node.
type Node struct {
	ID     string
	Label  string
	Type   schema.NodeType
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what one run did with a node.
type StatusOverlay struct {
	Status string
	Visits int
	Error  string
}

// Edge connects two nodes. Branch edges come from config references;
// sequence edges join consecutive top-level nodes.
type Edge struct {
	From     string
	To       string
	Label    string
	Sequence bool
}
