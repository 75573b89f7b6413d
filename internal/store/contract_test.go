package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodegraph/pkg/schema"
)

// runStoreContract exercises behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UnknownEntity", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Entity(context.Background(), "Ghost")
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeEntityNotFound, schema.ErrorCode(err))
	})

	t.Run("DefineEntityIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.DefineEntity(ctx, "Order"))
		require.NoError(t, s.DefineEntity(ctx, "Order"))
		require.NoError(t, s.DefineEntity(ctx, "Customer"))

		names, err := s.ListEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Customer", "Order"}, names)

		assert.Error(t, s.DefineEntity(ctx, ""))
	})

	t.Run("EntityCRUD", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.DefineEntity(ctx, "Order"))
		h, err := s.Entity(ctx, "Order")
		require.NoError(t, err)
		assert.Equal(t, "Order", h.Name())

		empty, err := h.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, empty)

		a, err := h.Create(ctx, map[string]any{"status": "open", "total": 10.0, "paid": false})
		require.NoError(t, err)
		require.NotEmpty(t, a[FieldID])
		assert.Equal(t, "open", a["status"])
		assert.NotEmpty(t, a[FieldCreatedAt])

		b, err := h.Create(ctx, map[string]any{"id": "fixed-id", "status": "closed", "total": 25.0, "paid": true})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", b[FieldID])

		all, err := h.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a[FieldID], all[0][FieldID], "list keeps creation order")

		open, err := h.Filter(ctx, map[string]any{"status": "open"})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, a[FieldID], open[0][FieldID])

		byTotal, err := h.Filter(ctx, map[string]any{"total": 25})
		require.NoError(t, err)
		require.Len(t, byTotal, 1)

		paid, err := h.Filter(ctx, map[string]any{"paid": true})
		require.NoError(t, err)
		require.Len(t, paid, 1)
		assert.Equal(t, "fixed-id", paid[0][FieldID])

		byID, err := h.Filter(ctx, map[string]any{"id": "fixed-id"})
		require.NoError(t, err)
		require.Len(t, byID, 1)

		none, err := h.Filter(ctx, map[string]any{"status": "open", "total": 99.0})
		require.NoError(t, err)
		assert.Empty(t, none)

		updated, err := h.Update(ctx, "fixed-id", map[string]any{"status": "archived", "id": "ignored"})
		require.NoError(t, err)
		assert.Equal(t, "archived", updated["status"])
		assert.Equal(t, 25.0, updated["total"], "update merges fields")
		assert.Equal(t, "fixed-id", updated[FieldID])

		require.NoError(t, h.Delete(ctx, "fixed-id"))
		all, err = h.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = h.Update(ctx, "fixed-id", map[string]any{"x": 1})
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
		err = h.Delete(ctx, "fixed-id")
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
	})

	t.Run("EntitiesDoNotShareRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.DefineEntity(ctx, "A"))
		require.NoError(t, s.DefineEntity(ctx, "B"))
		a, _ := s.Entity(ctx, "A")
		b, _ := s.Entity(ctx, "B")

		rec, err := a.Create(ctx, map[string]any{"v": 1.0})
		require.NoError(t, err)

		list, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.Error(t, b.Delete(ctx, rec[FieldID].(string)))
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var n schema.Node
		require.NoError(t, n.UnmarshalJSON([]byte(`{"id":"t","type":"trigger"}`)))

		run := &Run{
			ID:             uuid.New().String(),
			GraphID:        "g1",
			Source:         SourceAPI,
			Status:         schema.RunStatusRunning,
			Nodes:          []schema.Node{n},
			InitialContext: schema.Vars{"x": 1.0},
			StartedAt:      time.Now().UTC(),
		}
		require.NoError(t, s.CreateRun(ctx, run))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusRunning, got.Status)
		assert.Equal(t, 1.0, got.InitialContext["x"])
		require.Len(t, got.Nodes, 1)
		assert.Equal(t, schema.NodeTypeTrigger, got.Nodes[0].Type)
		assert.Nil(t, got.CompletedAt)

		ts := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.FinishRun(ctx, run.ID, RunUpdate{
			Status:  schema.RunStatusFailed,
			Context: schema.Vars{"x": 2.0},
			Trace:   []schema.TraceEntry{{NodeID: "t", Type: schema.NodeTypeTrigger, Timestamp: ts}},
			Error:   schema.NewError(schema.ErrCodeNodeNotFound, "node \"y\" not found").WithNode("y"),
		}))

		got, err = s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusFailed, got.Status)
		assert.Equal(t, 2.0, got.Context["x"])
		require.Len(t, got.Trace, 1)
		assert.Equal(t, "t", got.Trace[0].NodeID)
		require.NotNil(t, got.Error)
		assert.Equal(t, schema.ErrCodeNodeNotFound, got.Error.Code)
		assert.Equal(t, "y", got.Error.NodeID)
		assert.NotNil(t, got.CompletedAt)

		_, err = s.GetRun(ctx, "missing")
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
		err = s.FinishRun(ctx, "missing", RunUpdate{Status: schema.RunStatusCompleted})
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().UTC()

		for i, graph := range []string{"g1", "g2", "g1"} {
			require.NoError(t, s.CreateRun(ctx, &Run{
				ID:        uuid.New().String(),
				GraphID:   graph,
				Status:    schema.RunStatusRunning,
				StartedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, !all[0].StartedAt.Before(all[1].StartedAt))

		g1, err := s.ListRuns(ctx, RunFilter{GraphID: "g1"})
		require.NoError(t, err)
		assert.Len(t, g1, 2)

		running := schema.RunStatusRunning
		page, err := s.ListRuns(ctx, RunFilter{Status: &running, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, all[1].ID, page[0].ID)
	})

	t.Run("GraphLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var n schema.Node
		require.NoError(t, n.UnmarshalJSON([]byte(`{"id":"d","type":"delay","config":{"duration":1}}`)))

		g := &Graph{ID: "nightly", Name: "Nightly", Nodes: []schema.Node{n}, Schedule: "0 2 * * *", Enabled: true}
		require.NoError(t, s.SaveGraph(ctx, g))
		require.NoError(t, s.SaveGraph(ctx, &Graph{ID: "adhoc", Name: "Ad hoc", Nodes: []schema.Node{n}, Enabled: true}))

		got, err := s.GetGraph(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "Nightly", got.Name)
		require.Len(t, got.Nodes, 1)
		cfg, ok := got.Nodes[0].Config.(*schema.DelayConfig)
		require.True(t, ok)
		assert.Equal(t, 1.0, cfg.Duration)

		scheduled, err := s.ListGraphs(ctx, GraphFilter{Scheduled: true})
		require.NoError(t, err)
		require.Len(t, scheduled, 1)
		assert.Equal(t, "nightly", scheduled[0].ID)

		all, err := s.ListGraphs(ctx, GraphFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		last := time.Now().UTC().Truncate(time.Second)
		next := last.Add(time.Hour)
		require.NoError(t, s.UpdateGraphSchedule(ctx, "nightly", ScheduleUpdate{
			LastRunAt: &last, NextRunAt: &next, LastRunStatus: string(schema.RunStatusCompleted),
		}))
		got, err = s.GetGraph(ctx, "nightly")
		require.NoError(t, err)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, next.Equal(*got.NextRunAt))
		assert.Equal(t, "completed", got.LastRunStatus)

		g.Name = "Nightly v2"
		require.NoError(t, s.SaveGraph(ctx, g))
		got, err = s.GetGraph(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, "Nightly v2", got.Name)
		assert.Equal(t, "completed", got.LastRunStatus, "save keeps run bookkeeping")

		disabled := false
		none, err := s.ListGraphs(ctx, GraphFilter{Enabled: &disabled})
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, s.DeleteGraph(ctx, "nightly"))
		_, err = s.GetGraph(ctx, "nightly")
		assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
		assert.Error(t, s.DeleteGraph(ctx, "nightly"))
		assert.Error(t, s.UpdateGraphSchedule(ctx, "nightly", ScheduleUpdate{LastRunStatus: "x"}))
	})
}
