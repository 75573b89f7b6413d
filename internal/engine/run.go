package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/streaming"
	"github.com/rendis/nodegraph/pkg/schema"
)

// run is the state of one execution. It implements schema.NodeVisitor; the
// handlers live in nodes.go.
type run struct {
	exec  *Executor
	id    string
	graph *Graph
	trace *Trace
}

var _ schema.NodeVisitor = (*run)(nil)

// execute is the dispatcher: look the node up, record the visit, hand the
// node to the handler for its kind.
func (r *run) execute(ctx context.Context, nodeID string, vars schema.Vars) (schema.Vars, error) {
	node, err := r.graph.Node(nodeID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, toSchemaError(err).WithNode(nodeID)
	}

	entry := r.trace.Append(node)
	nodeCtx := logging.WithNodeID(ctx, node.ID)
	logging.LogWith(nodeCtx, r.exec.logger).Debug("dispatch node", slog.String("type", string(node.Type)))
	r.exec.publish(nodeCtx, streaming.StreamEvent{
		RunID:     r.id,
		NodeID:    node.ID,
		EventType: schema.EventNodeVisited,
		Payload:   entry,
	})

	out, err := node.Accept(nodeCtx, r, vars)
	if err != nil {
		nErr := toSchemaError(err)
		if nErr.NodeID == "" {
			nErr.WithNode(node.ID)
		}
		return nil, nErr
	}
	return out, nil
}

func (r *run) log(ctx context.Context) *slog.Logger {
	return logging.LogWith(ctx, r.exec.logger)
}
