package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodegraph/internal/diagram"
	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/scheduler"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

const defaultRunLimit = 20

// handleExecute runs inline nodes or a saved graph.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.RunOptions{Source: store.SourceMCP}
	var execReq schema.ExecuteRequest

	if graphID := req.GetString("graph_id", ""); graphID != "" {
		g, err := s.graphs.GetGraph(ctx, graphID)
		if err != nil {
			return errorResult(err), nil
		}
		initial := schema.Vars{}
		for k, v := range g.InitialContext {
			initial[k] = v
		}
		for k, v := range mcp.ParseStringMap(req, "initialContext", nil) {
			initial[k] = v
		}
		execReq = schema.ExecuteRequest{Nodes: g.Nodes, InitialContext: initial}
		opts.GraphID = g.ID
	} else {
		decoded, rejected := s.decodeRequest(req)
		if rejected != nil {
			return rejected, nil
		}
		execReq = *decoded
	}

	res, err := s.runner.Execute(ctx, execReq, opts)
	if err != nil {
		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			return marshalError(runErr.Response()), nil
		}
		return errorResult(err), nil
	}
	return s.project(ctx, req, res.Response())
}

// handleValidate reports every issue in a graph.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := requestJSON(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	result := s.validator.ValidateJSON(raw)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleRuns returns one run or lists run history.
func (s *Server) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.runs.GetRun(ctx, runID)
		if err != nil {
			return errorResult(err), nil
		}
		return s.project(ctx, req, run)
	}

	filter := store.RunFilter{
		GraphID: req.GetString("graph_id", ""),
		Limit:   req.GetInt("limit", defaultRunLimit),
	}
	if st := req.GetString("status", ""); st != "" {
		status := schema.RunStatus(st)
		filter.Status = &status
	}
	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return s.project(ctx, req, map[string]any{"runs": runs})
}

// handleDefine saves a graph after validating it and its schedule.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	decoded, rejected := s.decodeRequest(req)
	if rejected != nil {
		return rejected, nil
	}

	g := &store.Graph{
		ID:             req.GetString("graph_id", ""),
		Name:           name,
		Description:    req.GetString("description", ""),
		Nodes:          decoded.Nodes,
		InitialContext: decoded.InitialContext,
		Schedule:       req.GetString("schedule", ""),
		Enabled:        req.GetBool("enabled", true),
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Schedule != "" {
		next, schedErr := scheduler.NextRun(g.Schedule, s.now())
		if schedErr != nil {
			return errorResult(schedErr), nil
		}
		g.NextRunAt = &next
	}

	if err := s.graphs.SaveGraph(ctx, g); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{
		"id":        g.ID,
		"name":      g.Name,
		"schedule":  g.Schedule,
		"enabled":   g.Enabled,
		"nextRunAt": g.NextRunAt,
	})
}

// handleDiagram draws inline nodes, a saved graph, or the graph of a run
// with its trace overlaid.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	var (
		title   string
		nodes   []schema.Node
		overlay *diagram.Overlay
	)
	switch {
	case req.GetString("run_id", "") != "":
		run, runErr := s.runs.GetRun(ctx, req.GetString("run_id", ""))
		if runErr != nil {
			return errorResult(runErr), nil
		}
		title = "run " + run.ID
		nodes = run.Nodes
		overlay = diagram.OverlayFromRun(run)
	case req.GetString("graph_id", "") != "":
		g, gErr := s.graphs.GetGraph(ctx, req.GetString("graph_id", ""))
		if gErr != nil {
			return errorResult(gErr), nil
		}
		title = g.Name
		nodes = g.Nodes
	default:
		decoded, rejected := s.decodeRequest(req)
		if rejected != nil {
			return rejected, nil
		}
		nodes = decoded.Nodes
	}

	model, err := diagram.Build(title, nodes, overlay)
	if err != nil {
		return errorResult(err), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "svg":
		svg, imgErr := diagram.RenderImage(ctx, model, diagram.FormatSVG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(string(svg)), nil
	case "png":
		png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		caption := title
		if caption == "" {
			caption = "graph diagram"
		}
		return mcp.NewToolResultImage(caption, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, svg, or png"), nil
	}
}

// --- Helpers ---

// requestJSON rebuilds the invocation request from the tool arguments.
func requestJSON(req mcp.CallToolRequest) ([]byte, error) {
	args := req.GetArguments()
	body := map[string]any{"nodes": args["nodes"]}
	if ic, ok := args["initialContext"]; ok {
		body["initialContext"] = ic
	}
	return json.Marshal(body)
}

// decodeRequest validates and decodes the nodes and initialContext
// arguments. On rejection the returned result describes every error.
func (s *Server) decodeRequest(req mcp.CallToolRequest) (*schema.ExecuteRequest, *mcp.CallToolResult) {
	raw, err := requestJSON(req)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if result := s.validator.ValidateJSON(raw); !result.Valid() {
		first := result.Errors[0]
		data, _ := json.Marshal(map[string]any{
			"error":  first.Message,
			"code":   first.Code,
			"issues": result.Errors,
		})
		return nil, mcp.NewToolResultError(string(data))
	}
	var out schema.ExecuteRequest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errorResult(err)
	}
	return &out, nil
}

// project applies the optional query argument to v.
func (s *Server) project(ctx context.Context, req mcp.CallToolRequest, v any) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return marshalResult(v)
	}
	out, err := s.projector.Project(ctx, query, v)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(out)
}

// errorResult converts err into an error tool result carrying its code.
func errorResult(err error) *mcp.CallToolResult {
	resp := schema.ErrorResponse{Error: err.Error()}
	var nErr *schema.Error
	if errors.As(err, &nErr) {
		resp.Error = nErr.Message
		resp.Code = nErr.Code
	}
	return marshalError(resp)
}

func marshalError(resp schema.ErrorResponse) *mcp.CallToolResult {
	data, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError(resp.Error)
	}
	return mcp.NewToolResultError(string(data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
