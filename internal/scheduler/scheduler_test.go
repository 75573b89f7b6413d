package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

type mockRunner struct {
	mu    sync.Mutex
	calls []engine.RunOptions
	fail  map[string]bool
	block chan struct{}
}

func (m *mockRunner) Execute(ctx context.Context, req schema.ExecuteRequest, opts engine.RunOptions) (*engine.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	fail := m.fail[opts.GraphID]
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("boom")
	}
	return &engine.Result{RunID: "r", Context: req.InitialContext}, nil
}

func (m *mockRunner) graphIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.calls))
	for i, c := range m.calls {
		ids[i] = c.GraphID
	}
	return ids
}

func saveGraph(t *testing.T, st *store.MemoryStore, g *store.Graph) {
	t.Helper()
	if g.Nodes == nil {
		g.Nodes = []schema.Node{{ID: "start", Type: schema.NodeTypeTrigger, Config: &schema.TriggerConfig{}}}
	}
	require.NoError(t, st.SaveGraph(context.Background(), g))
}

func newTestScheduler(st store.GraphStore, runner GraphRunner) *Scheduler {
	s := New(st, runner, Config{Interval: time.Hour, Concurrency: 2}, nil)
	return s
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("*/5 * * * *")
	assert.NoError(t, err)

	_, err = ParseSchedule("every tuesday")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidSchedule, schema.ErrorCode(err))

	// Seconds field is not accepted.
	_, err = ParseSchedule("0 */5 * * * *")
	assert.Error(t, err)
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	next, err := NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)
}

func TestTick_RunsDueGraphs(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &mockRunner{fail: map[string]bool{"broken": true}}
	s := newTestScheduler(st, runner)
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return now }

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	saveGraph(t, st, &store.Graph{ID: "due", Schedule: "* * * * *", Enabled: true, NextRunAt: &past})
	saveGraph(t, st, &store.Graph{ID: "fresh", Schedule: "0 * * * *", Enabled: true})
	saveGraph(t, st, &store.Graph{ID: "later", Schedule: "* * * * *", Enabled: true, NextRunAt: &future})
	saveGraph(t, st, &store.Graph{ID: "off", Schedule: "* * * * *", Enabled: false})
	saveGraph(t, st, &store.Graph{ID: "manual", Enabled: true})
	saveGraph(t, st, &store.Graph{ID: "broken", Schedule: "* * * * *", Enabled: true})

	started := s.tick(context.Background())
	s.pool.Wait()

	assert.Equal(t, 3, started)
	assert.ElementsMatch(t, []string{"due", "fresh", "broken"}, runner.graphIDs())

	due, err := st.GetGraph(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, string(schema.RunStatusCompleted), due.LastRunStatus)
	require.NotNil(t, due.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC), *due.NextRunAt)
	require.NotNil(t, due.LastRunAt)
	assert.True(t, due.LastRunAt.Equal(now))

	fresh, err := st.GetGraph(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), *fresh.NextRunAt)

	broken, err := st.GetGraph(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, string(schema.RunStatusFailed), broken.LastRunStatus)
}

func TestTick_PassesRunOptions(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &mockRunner{}
	s := newTestScheduler(st, runner)
	saveGraph(t, st, &store.Graph{ID: "g1", Schedule: "* * * * *", Enabled: true})

	s.tick(context.Background())
	s.pool.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	assert.Equal(t, store.SourceSchedule, runner.calls[0].Source)
}

func TestTick_DedupsInFlightGraphs(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &mockRunner{block: make(chan struct{})}
	s := newTestScheduler(st, runner)
	saveGraph(t, st, &store.Graph{ID: "slow", Schedule: "* * * * *", Enabled: true})

	assert.Equal(t, 1, s.tick(context.Background()))
	require.Eventually(t, func() bool { return s.pool.InFlight("slow") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.tick(context.Background()))

	close(runner.block)
	s.pool.Wait()
	assert.Len(t, runner.graphIDs(), 1)
	assert.Equal(t, int64(1), s.Metrics().Skipped)
}

func TestTick_SkipsInvalidSchedule(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &mockRunner{}
	s := newTestScheduler(st, runner)
	saveGraph(t, st, &store.Graph{ID: "bad", Schedule: "whenever", Enabled: true})

	s.tick(context.Background())
	s.pool.Wait()
	assert.Empty(t, runner.graphIDs())
}

func TestStartStop(t *testing.T) {
	st := store.NewMemoryStore()
	runner := &mockRunner{}
	s := newTestScheduler(st, runner)
	saveGraph(t, st, &store.Graph{ID: "g", Schedule: "* * * * *", Enabled: true})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(runner.graphIDs()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
