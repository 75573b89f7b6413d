package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/transport"
	"github.com/rendis/nodegraph/pkg/schema"
)

func (r *run) VisitTrigger(_ context.Context, _ *schema.Node, _ *schema.TriggerConfig, vars schema.Vars) (schema.Vars, error) {
	return vars, nil
}

func (r *run) VisitOutput(_ context.Context, _ *schema.Node, _ *schema.OutputConfig, vars schema.Vars) (schema.Vars, error) {
	return vars, nil
}

// VisitUnknown lets node types added by newer authoring tools pass through.
func (r *run) VisitUnknown(ctx context.Context, n *schema.Node, _ *schema.UnknownConfig, vars schema.Vars) (schema.Vars, error) {
	r.log(ctx).Debug("skipping node of unknown type", slog.String("type", string(n.Type)))
	return vars, nil
}

// VisitCondition follows the first matching condition in list order.
func (r *run) VisitCondition(ctx context.Context, _ *schema.Node, cfg *schema.ConditionConfig, vars schema.Vars) (schema.Vars, error) {
	for i, cond := range cfg.Conditions {
		if !expressions.EvaluateCondition(vars, cond) {
			continue
		}
		r.log(ctx).Debug("condition matched", slog.Int("index", i), slog.String("then", cond.ThenNodeID))
		if cond.ThenNodeID == "" {
			return vars, nil
		}
		return r.execute(ctx, cond.ThenNodeID, vars)
	}
	if cfg.ElseNodeID != "" {
		return r.execute(ctx, cfg.ElseNodeID, vars)
	}
	return vars, nil
}

// VisitLoop runs the body once per item, each iteration starting from the
// context the previous one returned.
func (r *run) VisitLoop(ctx context.Context, _ *schema.Node, cfg *schema.LoopConfig, vars schema.Vars) (schema.Vars, error) {
	items := expressions.LookupArray(vars, cfg.ArrayField)
	limit := cfg.MaxIterations
	if limit == 0 {
		limit = DefaultMaxIterations
	}
	n := max(min(len(items), limit), 0)
	itemVar := cfg.ItemVariableName
	if itemVar == "" {
		itemVar = DefaultItemVariable
	}

	current := vars
	for i := 0; i < n; i++ {
		current = current.With(itemVar, items[i]).With(schema.VarLoopIndex, i)
		if cfg.LoopNodeID == "" {
			continue
		}
		next, err := r.execute(ctx, cfg.LoopNodeID, current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	if n < len(items) {
		r.log(ctx).Debug("loop truncated", slog.Int("items", len(items)), slog.Int("iterations", n))
	}
	return current, nil
}

// VisitParallel runs every path concurrently from its own deep copy of the
// entry context, waits for all of them and returns the entry context. The
// first failing branch cancels its siblings.
func (r *run) VisitParallel(ctx context.Context, _ *schema.Node, cfg *schema.ParallelConfig, vars schema.Vars) (schema.Vars, error) {
	if len(cfg.Paths) == 0 {
		return vars, nil
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, path := range cfg.Paths {
		if path.NodeID == "" {
			continue
		}
		wg.Add(1)
		go func(nodeID string, snapshot schema.Vars) {
			defer wg.Done()
			if _, err := r.execute(branchCtx, nodeID, snapshot); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(path.NodeID, expressions.CopyVars(vars))
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return vars, nil
}

// VisitAPICall performs the request and stores the parsed body and status.
// Any HTTP status is a normal outcome.
func (r *run) VisitAPICall(ctx context.Context, n *schema.Node, cfg *schema.APICallConfig, vars schema.Vars) (schema.Vars, error) {
	if cfg.URL == "" {
		r.log(ctx).Debug("api_call without url, skipping")
		return vars, nil
	}
	if r.exec.http == nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "no HTTP transport configured").WithNode(n.ID)
	}

	url := expressions.Interpolate(cfg.URL, vars)
	resp, err := r.exec.http.Call(ctx, transport.Request{
		Method:  cfg.Method,
		URL:     url,
		Headers: cfg.Headers,
		Body:    cfg.Body,
	})
	if err != nil {
		if schema.ErrorCode(err) == schema.ErrCodeTransport {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeTransport, "%s: %v", url, err).WithCause(err)
	}

	varName := cfg.ResponseVariableName
	if varName == "" {
		varName = DefaultResponseVariable
	}
	r.log(ctx).Debug("api_call completed", slog.String("url", url), slog.Int("status", resp.Status))
	return vars.With(varName, resp.Body).With(schema.VarLastHTTPStatus, resp.Status), nil
}

// VisitDatabaseQuery runs one entity operation and stores its result.
// update and delete without filter.id, and unknown operations, are no-ops.
func (r *run) VisitDatabaseQuery(ctx context.Context, n *schema.Node, cfg *schema.DatabaseQueryConfig, vars schema.Vars) (schema.Vars, error) {
	if cfg.EntityName == "" {
		r.log(ctx).Debug("database_query without entityName, skipping")
		return vars, nil
	}
	if r.exec.entities == nil {
		return nil, schema.NewErrorf(schema.ErrCodeEntityNotFound, "entity %q does not exist: no entity store configured", cfg.EntityName)
	}
	handle, err := r.exec.entities.Entity(ctx, cfg.EntityName)
	if err != nil {
		return nil, err
	}

	var result any
	switch cfg.Operation {
	case schema.DBOpList:
		recs, err := handle.List(ctx)
		if err != nil {
			return nil, err
		}
		result = recordsToArray(recs)

	case schema.DBOpFilter:
		recs, err := handle.Filter(ctx, cfg.Filter)
		if err != nil {
			return nil, err
		}
		result = recordsToArray(recs)

	case schema.DBOpCreate:
		rec, err := handle.Create(ctx, cfg.Data)
		if err != nil {
			return nil, err
		}
		result = map[string]any(rec)

	case schema.DBOpUpdate, schema.DBOpDelete:
		id, ok := filterID(cfg.Filter)
		if !ok {
			r.log(ctx).Debug("database_query without filter.id, skipping", slog.String("operation", cfg.Operation))
			return vars, nil
		}
		if cfg.Operation == schema.DBOpUpdate {
			rec, err := handle.Update(ctx, id, cfg.Data)
			if err != nil {
				return nil, err
			}
			result = map[string]any(rec)
			break
		}
		if err := handle.Delete(ctx, id); err != nil {
			return nil, err
		}
		result = map[string]any{store.FieldID: id, "deleted": true}

	default:
		r.log(ctx).Debug("unknown database operation, skipping", slog.String("operation", cfg.Operation))
		return vars, nil
	}

	varName := cfg.VariableName
	if varName == "" {
		varName = DefaultDBResultVariable
	}
	return vars.With(varName, result), nil
}

// VisitDataTransform folds the source value through the transformations.
func (r *run) VisitDataTransform(ctx context.Context, _ *schema.Node, cfg *schema.DataTransformConfig, vars schema.Vars) (schema.Vars, error) {
	source, _ := expressions.Lookup(vars, cfg.SourceVariable)
	result := r.exec.transforms.Pipeline(cfg.Transformations, source, vars, func(i int, t schema.Transformation, err error) {
		r.log(ctx).Warn("transformation failed, value passed through",
			slog.Int("index", i),
			slog.String("transform", t.Type),
			slog.String("error", err.Error()))
	})

	varName := cfg.OutputVariable
	if varName == "" {
		varName = DefaultTransformVariable
	}
	return vars.With(varName, result), nil
}

// VisitFilter keeps the items for which every condition holds, evaluated
// against the item itself.
func (r *run) VisitFilter(_ context.Context, _ *schema.Node, cfg *schema.FilterConfig, vars schema.Vars) (schema.Vars, error) {
	items := expressions.LookupArray(vars, cfg.ArrayVariable)
	kept := make([]any, 0, len(items))
	for _, item := range items {
		obj, _ := item.(map[string]any)
		if expressions.MatchAll(obj, cfg.Conditions) {
			kept = append(kept, item)
		}
	}

	varName := cfg.OutputVariable
	if varName == "" {
		varName = DefaultFilterVariable
	}
	return vars.With(varName, kept), nil
}

// VisitDelay waits for the configured duration or until ctx is done.
func (r *run) VisitDelay(ctx context.Context, _ *schema.Node, cfg *schema.DelayConfig, vars schema.Vars) (schema.Vars, error) {
	d := DelayDuration(cfg)
	if d <= 0 {
		return vars, nil
	}
	r.log(ctx).Debug("delaying", slog.Duration("duration", d))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return vars, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DelayDuration converts a delay config to a duration. Unknown units count
// as seconds.
func DelayDuration(cfg *schema.DelayConfig) time.Duration {
	unit := time.Second
	switch cfg.Unit {
	case schema.UnitMinutes:
		unit = time.Minute
	case schema.UnitHours:
		unit = time.Hour
	}
	ns := cfg.Duration * float64(unit)
	switch {
	case math.IsNaN(ns) || ns <= 0:
		return 0
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

func recordsToArray(recs []store.Record) []any {
	out := make([]any, len(recs))
	for i, rec := range recs {
		out[i] = map[string]any(rec)
	}
	return out
}

func filterID(filter map[string]any) (string, bool) {
	raw, ok := filter[store.FieldID]
	if !ok || raw == nil {
		return "", false
	}
	id := expressions.Stringify(raw)
	return id, id != ""
}
