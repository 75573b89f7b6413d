// Package engine walks a node graph: it dispatches each node to the handler
// for its kind, threads the variable context through control-flow nodes and
// records the execution trace.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/streaming"
	"github.com/rendis/nodegraph/internal/transforms"
	"github.com/rendis/nodegraph/internal/transport"
	"github.com/rendis/nodegraph/pkg/schema"
)

// DefaultMaxIterations caps a loop node that sets no maxIterations.
const DefaultMaxIterations = 1000

// Default variable names for node outputs.
const (
	DefaultResponseVariable  = "apiResponse"
	DefaultDBResultVariable  = "dbResult"
	DefaultTransformVariable = "transformed"
	DefaultFilterVariable    = "filtered"
	DefaultItemVariable      = "item"
)

// EntityResolver returns the persistence handle for an entity name, or an
// ENTITY_NOT_FOUND error. Satisfied by store.EntityStore.
type EntityResolver interface {
	Entity(ctx context.Context, name string) (store.EntityHandle, error)
}

// RunRecorder persists run history. Satisfied by store.RunStore.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	FinishRun(ctx context.Context, id string, update store.RunUpdate) error
}

// EventPublisher receives live run events. Satisfied by streaming.EventHub.
type EventPublisher interface {
	Publish(ctx context.Context, event streaming.StreamEvent) error
}

// Config holds the executor's collaborators. Only the ones a graph actually
// needs must be set: a graph without api_call nodes runs with a nil HTTP.
type Config struct {
	HTTP       transport.Caller
	Entities   EntityResolver
	Runs       RunRecorder
	Events     EventPublisher
	Transforms *transforms.Registry
	Logger     *slog.Logger
	Now        func() time.Time
}

// RunOptions annotate one execution.
type RunOptions struct {
	RunID   string // generated when empty
	GraphID string
	Source  string
}

// Result is a successful execution.
type Result struct {
	RunID       string              `json:"runId"`
	Context     schema.Vars         `json:"context"`
	Trace       []schema.TraceEntry `json:"executionLog"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt time.Time           `json:"completedAt"`
}

// Response converts the result to the invocation response shape.
func (r *Result) Response() schema.ExecuteResponse {
	return schema.ExecuteResponse{
		Success:      true,
		RunID:        r.RunID,
		Context:      r.Context,
		ExecutionLog: r.Trace,
	}
}

// RunError is a failed execution. Trace holds the entries recorded before
// the failure; it is kept for run history and logs, not for the caller's
// failure response.
type RunError struct {
	RunID string
	Err   *schema.Error
	Trace []schema.TraceEntry
}

func (e *RunError) Error() string { return e.Err.Error() }
func (e *RunError) Unwrap() error { return e.Err }

// Response converts the error to the invocation failure shape.
func (e *RunError) Response() schema.ErrorResponse {
	return schema.ErrorResponse{Error: e.Err.Message, Code: e.Err.Code, RunID: e.RunID}
}

// Executor runs node graphs. Safe for concurrent use; every call owns its
// own context and trace.
type Executor struct {
	http       transport.Caller
	entities   EntityResolver
	runs       RunRecorder
	events     EventPublisher
	transforms *transforms.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Transforms == nil {
		cfg.Transforms = transforms.NewDefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		http:       cfg.HTTP,
		entities:   cfg.Entities,
		runs:       cfg.Runs,
		events:     cfg.Events,
		transforms: cfg.Transforms,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Execute runs req from its first node, then every other node no config
// references, in declaration order, threading the context through them. On
// failure the returned error is a *RunError and no context is returned.
func (e *Executor) Execute(ctx context.Context, req schema.ExecuteRequest, opts RunOptions) (*Result, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = logging.WithRunID(ctx, runID)
	if opts.GraphID != "" {
		ctx = logging.WithGraphID(ctx, opts.GraphID)
	}
	log := logging.LogWith(ctx, e.logger)

	startedAt := e.now().UTC()
	e.recordStart(ctx, &store.Run{
		ID:             runID,
		GraphID:        opts.GraphID,
		Source:         opts.Source,
		Status:         schema.RunStatusRunning,
		Nodes:          req.Nodes,
		InitialContext: req.InitialContext,
		StartedAt:      startedAt,
	})

	graph, err := LoadGraph(req.Nodes)
	if err != nil {
		return nil, e.fail(ctx, runID, err, nil)
	}

	log.Info("run started", slog.String("entry", graph.Entry().ID), slog.Int("nodes", len(graph.Nodes)))
	e.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		EventType: schema.EventRunStarted,
		Payload:   map[string]any{"entry": graph.Entry().ID, "source": opts.Source},
	})

	r := &run{
		exec:  e,
		id:    runID,
		graph: graph,
		trace: newTrace(e.now),
	}
	out := expressions.CopyVars(req.InitialContext)
	for _, id := range graph.TopLevel() {
		out, err = r.execute(ctx, id, out)
		if err != nil {
			return nil, e.fail(ctx, runID, err, r.trace.Entries())
		}
	}

	res := &Result{
		RunID:       runID,
		Context:     out,
		Trace:       r.trace.Entries(),
		StartedAt:   startedAt,
		CompletedAt: e.now().UTC(),
	}
	e.recordFinish(ctx, runID, store.RunUpdate{
		Status:      schema.RunStatusCompleted,
		Context:     res.Context,
		Trace:       res.Trace,
		CompletedAt: res.CompletedAt,
	})
	e.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		EventType: schema.EventRunCompleted,
		Payload:   map[string]any{"visited": len(res.Trace)},
	})
	log.Info("run completed",
		slog.Int("visited", len(res.Trace)),
		slog.Duration("duration", res.CompletedAt.Sub(startedAt)))
	return res, nil
}

func (e *Executor) fail(ctx context.Context, runID string, err error, trace []schema.TraceEntry) *RunError {
	nErr := toSchemaError(err)
	logging.LogWith(ctx, e.logger).Error("run failed",
		slog.String("code", nErr.Code),
		slog.String("node", nErr.NodeID),
		slog.String("error", nErr.Message),
		slog.Int("visited", len(trace)))

	e.recordFinish(ctx, runID, store.RunUpdate{
		Status:      schema.RunStatusFailed,
		Trace:       trace,
		Error:       nErr,
		CompletedAt: e.now().UTC(),
	})
	e.publish(ctx, streaming.StreamEvent{
		RunID:     runID,
		NodeID:    nErr.NodeID,
		EventType: schema.EventRunFailed,
		Payload:   map[string]any{"code": nErr.Code, "error": nErr.Message},
	})
	return &RunError{RunID: runID, Err: nErr, Trace: trace}
}

// Bookkeeping below must not fail the run and must outlive a cancelled ctx.

func (e *Executor) recordStart(ctx context.Context, run *store.Run) {
	if e.runs == nil {
		return
	}
	if err := e.runs.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		logging.LogWith(ctx, e.logger).Warn("record run start", slog.String("error", err.Error()))
	}
}

func (e *Executor) recordFinish(ctx context.Context, runID string, update store.RunUpdate) {
	if e.runs == nil {
		return
	}
	if err := e.runs.FinishRun(context.WithoutCancel(ctx), runID, update); err != nil {
		logging.LogWith(ctx, e.logger).Warn("record run finish", slog.String("error", err.Error()))
	}
}

func (e *Executor) publish(ctx context.Context, evt streaming.StreamEvent) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(context.WithoutCancel(ctx), evt)
}

// toSchemaError maps any failure onto the error taxonomy.
func toSchemaError(err error) *schema.Error {
	var nErr *schema.Error
	if errors.As(err, &nErr) {
		return nErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return schema.NewError(schema.ErrCodeTimeout, "execution deadline exceeded").WithCause(err)
	case errors.Is(err, context.Canceled):
		return schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(err)
	default:
		return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
	}
}
