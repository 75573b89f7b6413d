package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/validation"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Runner executes a node graph. Satisfied by *engine.Executor.
type Runner interface {
	Execute(ctx context.Context, req schema.ExecuteRequest, opts engine.RunOptions) (*engine.Result, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner    Runner
	Validator *validation.Validator
	Runs      store.RunStore
	Graphs    store.GraphStore
	Projector *expressions.Projector
	Logger    *slog.Logger
	Version   string
	Now       func() time.Time
}

// Server wraps an MCP server with nodegraph tool handlers.
type Server struct {
	runner    Runner
	validator *validation.Validator
	runs      store.RunStore
	graphs    store.GraphStore
	projector *expressions.Projector
	logger    *slog.Logger
	now       func() time.Time
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Projector == nil {
		deps.Projector = expressions.NewProjector()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		runner:    deps.Runner,
		validator: deps.Validator,
		runs:      deps.Runs,
		graphs:    deps.Graphs,
		projector: deps.Projector,
		logger:    logger,
		now:       deps.Now,
	}

	mcpSrv := server.NewMCPServer(
		"nodegraph",
		deps.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("nodegraph executes node graphs: a list of typed nodes whose first element is the entry point, run against a JSON context. Use nodegraph.validate to check a graph, nodegraph.execute to run one, nodegraph.define to save one (optionally on a cron schedule), nodegraph.runs to read run history, and nodegraph.diagram to draw a graph or a run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("nodegraph.execute",
		mcp.WithDescription("Execute a node graph and return the final context and execution log"),
		mcp.WithArray("nodes", mcp.Description("Graph nodes; the first is the entry point. Omit when graph_id is set")),
		mcp.WithObject("initialContext", mcp.Description("Initial context; merged over the saved one when graph_id is set")),
		mcp.WithString("graph_id", mcp.Description("Run a saved graph instead of inline nodes")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the result")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("nodegraph.validate",
		mcp.WithDescription("Validate a node graph without running it"),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes; the first is the entry point")),
		mcp.WithObject("initialContext", mcp.Description("Initial context")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("nodegraph.runs",
		mcp.WithDescription("Read run history: one run by id, or a filtered list"),
		mcp.WithString("run_id", mcp.Description("Return this run")),
		mcp.WithString("graph_id", mcp.Description("Only runs of this saved graph")),
		mcp.WithString("status", mcp.Enum("running", "completed", "failed"), mcp.Description("Only runs in this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to list (default 20)")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the result")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("nodegraph.define",
		mcp.WithDescription("Save a node graph, optionally on a 5-field cron schedule"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Graph name")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes; the first is the entry point")),
		mcp.WithObject("initialContext", mcp.Description("Initial context for every run")),
		mcp.WithString("graph_id", mcp.Description("Replace the graph with this id")),
		mcp.WithString("description", mcp.Description("Graph description")),
		mcp.WithString("schedule", mcp.Description("Cron expression, e.g. \"*/15 * * * *\"")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the schedule is active (default true)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodegraph.diagram",
		mcp.WithDescription("Draw a node graph. Returns ASCII art, Mermaid flowchart syntax, SVG, or a PNG image"),
		mcp.WithArray("nodes", mcp.Description("Graph nodes to draw")),
		mcp.WithString("graph_id", mcp.Description("Draw a saved graph")),
		mcp.WithString("run_id", mcp.Description("Draw the graph of a run, marking the nodes it visited")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "svg", "png"),
			mcp.Description("Output format"),
		),
	)
}
