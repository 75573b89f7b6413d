package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/transforms"
	"github.com/rendis/nodegraph/internal/transport"
	"github.com/rendis/nodegraph/internal/validation"
	"github.com/rendis/nodegraph/pkg/schema"
)

// --- Test helpers ---

type callerFunc func(ctx context.Context, req transport.Request) (*transport.Response, error)

func (f callerFunc) Call(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	registry := transforms.NewDefaultRegistry()

	failing := callerFunc(func(context.Context, transport.Request) (*transport.Response, error) {
		return nil, schema.NewError(schema.ErrCodeTransport, "connection refused")
	})
	exec := engine.NewExecutor(engine.Config{
		HTTP:       failing,
		Entities:   st,
		Runs:       st,
		Transforms: registry,
	})
	v, err := validation.New(registry)
	require.NoError(t, err)

	s := NewServer(ServerDeps{
		Runner:    exec,
		Validator: v,
		Runs:      st,
		Graphs:    st,
		Now:       func() time.Time { return fixedNow },
	})
	return s, st
}

// buildRequest creates a CallToolRequest for testing.
func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// args decodes a JSON object into tool arguments.
func args(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

const uppercaseArgs = `{
	"nodes": [
		{"id": "start", "type": "trigger"},
		{"id": "shout", "type": "data_transform", "config": {
			"sourceVariable": "name",
			"transformations": [{"type": "uppercase"}],
			"outputVariable": "upper"
		}}
	],
	"initialContext": {"name": "ada"}
}`

// --- execute ---

func TestExecuteTool(t *testing.T) {
	s, st := newTestServer(t)

	result, err := s.handleExecute(context.Background(), buildRequest("nodegraph.execute", args(t, uppercaseArgs)))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp schema.ExecuteResponse
	unmarshalResult(t, result, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "ADA", resp.Context["upper"])
	assert.Len(t, resp.ExecutionLog, 2)

	run, err := st.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.SourceMCP, run.Source)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestExecuteToolQuery(t *testing.T) {
	s, _ := newTestServer(t)

	a := args(t, uppercaseArgs)
	a["query"] = ".context.upper"
	result, err := s.handleExecute(context.Background(), buildRequest("nodegraph.execute", a))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, `"ADA"`, extractText(t, result))
}

func TestExecuteToolRejected(t *testing.T) {
	tests := []struct {
		name string
		args string
		code string
	}{
		{"missing nodes", `{}`, schema.ErrCodeValidation},
		{"empty nodes", `{"nodes": []}`, schema.ErrCodeValidation},
		{"malformed config", `{"nodes": [{"id": "d", "type": "delay", "config": {"duration": "soon"}}]}`, schema.ErrCodeMalformedConfig},
		{"dangling reference", `{"nodes": [{"id": "l", "type": "loop", "config": {"arrayField": "xs", "loopNodeId": "nope"}}]}`, schema.ErrCodeNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestServer(t)
			result, err := s.handleExecute(context.Background(), buildRequest("nodegraph.execute", args(t, tt.args)))
			require.NoError(t, err)
			assert.True(t, result.IsError)

			var body map[string]any
			unmarshalResult(t, result, &body)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["issues"])

			runs, err := st.ListRuns(context.Background(), store.RunFilter{})
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestExecuteToolRunFailure(t *testing.T) {
	s, st := newTestServer(t)

	result, err := s.handleExecute(context.Background(), buildRequest("nodegraph.execute", args(t, `{"nodes": [
		{"id": "start", "type": "trigger"},
		{"id": "call", "type": "api_call", "config": {"url": "https://api.example.com/x"}}
	]}`)))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var resp schema.ErrorResponse
	unmarshalResult(t, result, &resp)
	assert.Equal(t, schema.ErrCodeTransport, resp.Code)
	require.NotEmpty(t, resp.RunID)

	run, err := st.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, run.Status)
}

func TestExecuteToolSavedGraph(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	var req schema.ExecuteRequest
	require.NoError(t, json.Unmarshal([]byte(uppercaseArgs), &req))
	require.NoError(t, st.SaveGraph(ctx, &store.Graph{
		ID:             "g1",
		Name:           "shout",
		Nodes:          req.Nodes,
		InitialContext: req.InitialContext,
		Enabled:        true,
	}))

	result, err := s.handleExecute(ctx, buildRequest("nodegraph.execute", map[string]any{
		"graph_id":       "g1",
		"initialContext": map[string]any{"name": "grace"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var resp schema.ExecuteResponse
	unmarshalResult(t, result, &resp)
	assert.Equal(t, "GRACE", resp.Context["upper"])

	run, err := st.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "g1", run.GraphID)

	result, err = s.handleExecute(ctx, buildRequest("nodegraph.execute", map[string]any{"graph_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)
}

// --- validate ---

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleValidate(ctx, buildRequest("nodegraph.validate", args(t, uppercaseArgs)))
	require.NoError(t, err)
	var ok map[string]any
	unmarshalResult(t, result, &ok)
	assert.Equal(t, true, ok["valid"])

	result, err = s.handleValidate(ctx, buildRequest("nodegraph.validate", args(t, `{"nodes": [
		{"id": "start", "type": "trigger"},
		{"id": "start", "type": "output"},
		{"id": "odd", "type": "teleport"}
	]}`)))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var bad struct {
		Valid    bool                     `json:"valid"`
		Errors   []schema.ValidationIssue `json:"errors"`
		Warnings []schema.ValidationIssue `json:"warnings"`
	}
	unmarshalResult(t, result, &bad)
	assert.False(t, bad.Valid)
	require.NotEmpty(t, bad.Errors)
	assert.Contains(t, bad.Errors[0].Message, "duplicate")
	require.NotEmpty(t, bad.Warnings)
	assert.Equal(t, validation.WarnUnknownNodeType, bad.Warnings[0].Code)
}

// --- runs ---

func TestRunsTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	ok, err := s.handleExecute(ctx, buildRequest("nodegraph.execute", args(t, uppercaseArgs)))
	require.NoError(t, err)
	var okResp schema.ExecuteResponse
	unmarshalResult(t, ok, &okResp)

	_, err = s.handleExecute(ctx, buildRequest("nodegraph.execute", args(t, `{"nodes": [
		{"id": "call", "type": "api_call", "config": {"url": "https://api.example.com/x"}}
	]}`)))
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("nodegraph.runs", nil))
		require.NoError(t, err)
		var body struct {
			Runs []store.Run `json:"runs"`
		}
		unmarshalResult(t, result, &body)
		assert.Len(t, body.Runs, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("nodegraph.runs", map[string]any{"status": "failed"}))
		require.NoError(t, err)
		var body struct {
			Runs []store.Run `json:"runs"`
		}
		unmarshalResult(t, result, &body)
		require.Len(t, body.Runs, 1)
		assert.Equal(t, schema.RunStatusFailed, body.Runs[0].Status)
	})

	t.Run("get with query", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("nodegraph.runs", map[string]any{
			"run_id": okResp.RunID,
			"query":  ".context.upper",
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Equal(t, `"ADA"`, extractText(t, result))
	})

	t.Run("unknown run", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("nodegraph.runs", map[string]any{"run_id": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		var resp schema.ErrorResponse
		unmarshalResult(t, result, &resp)
		assert.Equal(t, schema.ErrCodeNotFound, resp.Code)
	})

	t.Run("empty list", func(t *testing.T) {
		result, err := s.handleRuns(ctx, buildRequest("nodegraph.runs", map[string]any{"graph_id": "none"}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"runs": []}`, extractText(t, result))
	})
}

// --- define ---

func TestDefineTool(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	a := args(t, uppercaseArgs)
	a["name"] = "shout"
	a["schedule"] = "*/5 * * * *"
	result, err := s.handleDefine(ctx, buildRequest("nodegraph.define", a))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var body map[string]any
	unmarshalResult(t, result, &body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "2026-03-01T12:05:00Z", body["nextRunAt"])
	assert.Equal(t, true, body["enabled"])

	g, err := st.GetGraph(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "shout", g.Name)
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, "ada", g.InitialContext["name"])
}

func TestDefineToolRejected(t *testing.T) {
	tests := []struct {
		name     string
		extra    map[string]any
		contains string
	}{
		{"missing name", map[string]any{}, "name is required"},
		{"bad schedule", map[string]any{"name": "x", "schedule": "every tuesday"}, schema.ErrCodeInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestServer(t)
			a := args(t, uppercaseArgs)
			for k, v := range tt.extra {
				a[k] = v
			}
			result, err := s.handleDefine(context.Background(), buildRequest("nodegraph.define", a))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tt.contains)

			graphs, err := st.ListGraphs(context.Background(), store.GraphFilter{})
			require.NoError(t, err)
			assert.Empty(t, graphs)
		})
	}
}

// --- diagram ---

func TestDiagramTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	withFormat := func(format string) map[string]any {
		a := args(t, uppercaseArgs)
		a["format"] = format
		return a
	}

	t.Run("ascii", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodegraph.diagram", withFormat("ascii")))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Contains(t, extractText(t, result), "shout")
	})

	t.Run("mermaid", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodegraph.diagram", withFormat("mermaid")))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.True(t, strings.HasPrefix(extractText(t, result), "graph TD"))
	})

	t.Run("png", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodegraph.diagram", withFormat("png")))
		require.NoError(t, err)
		require.False(t, result.IsError)
		require.Len(t, result.Content, 2)
		img, ok := mcp.AsImageContent(result.Content[1])
		require.True(t, ok)
		assert.Equal(t, "image/png", img.MIMEType)
		data, err := base64.StdEncoding.DecodeString(img.Data)
		require.NoError(t, err)
		assert.Equal(t, []byte("\x89PNG"), data[:4])
	})

	t.Run("unknown format", func(t *testing.T) {
		result, err := s.handleDiagram(ctx, buildRequest("nodegraph.diagram", withFormat("gif")))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestDiagramToolRunOverlay(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	ok, err := s.handleExecute(ctx, buildRequest("nodegraph.execute", args(t, uppercaseArgs)))
	require.NoError(t, err)
	var resp schema.ExecuteResponse
	unmarshalResult(t, ok, &resp)

	result, err := s.handleDiagram(ctx, buildRequest("nodegraph.diagram", map[string]any{
		"run_id": resp.RunID,
		"format": "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	text := extractText(t, result)
	assert.Contains(t, text, "class start visited")
	assert.Contains(t, text, "class shout visited")

	result, err = s.handleDiagram(ctx, buildRequest("nodegraph.diagram", map[string]any{
		"run_id": "nope",
		"format": "ascii",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
