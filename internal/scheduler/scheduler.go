// Package scheduler runs saved graphs on their cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 4
)

// GraphRunner executes a graph. Satisfied by *engine.Executor.
type GraphRunner interface {
	Execute(ctx context.Context, req schema.ExecuteRequest, opts engine.RunOptions) (*engine.Result, error)
}

// Config configures the Scheduler.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidSchedule, "invalid cron expression %q: %s", expr, err.Error()).WithCause(err)
	}
	return sched, nil
}

// NextRun returns the first activation of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Scheduler polls the graph store and runs enabled graphs whose next run
// time has passed.
type Scheduler struct {
	graphs   store.GraphStore
	runner   GraphRunner
	pool     *runPool
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler.
func New(graphs store.GraphStore, runner GraphRunner, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		graphs:   graphs,
		runner:   runner,
		pool:     newRunPool(cfg.Concurrency),
		interval: cfg.Interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the polling loop. The first tick runs immediately, which
// also picks up graphs whose run was missed while the process was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(schedCtx, s.done)

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick submits every due graph to the pool and returns how many started.
func (s *Scheduler) tick(ctx context.Context) int {
	enabled := true
	graphs, err := s.graphs.ListGraphs(ctx, store.GraphFilter{Scheduled: true, Enabled: &enabled})
	if err != nil {
		s.logger.Error("list scheduled graphs", slog.String("error", err.Error()))
		return 0
	}

	now := s.now().UTC()
	started := 0
	for _, g := range graphs {
		if g.NextRunAt != nil && g.NextRunAt.After(now) {
			continue
		}
		graph := g
		ok, err := s.pool.Submit(ctx, graph.ID, func(ctx context.Context) {
			s.runGraph(ctx, graph, now)
		})
		if err != nil {
			s.logger.Warn("submit scheduled run", slog.String("graph_id", graph.ID), slog.String("error", err.Error()))
			return started
		}
		if ok {
			started++
		}
	}
	return started
}

func (s *Scheduler) runGraph(ctx context.Context, g *store.Graph, now time.Time) {
	ctx = logging.WithGraphID(ctx, g.ID)
	log := logging.LogWith(ctx, s.logger)

	next, err := NextRun(g.Schedule, now)
	if err != nil {
		log.Error("skipping graph with invalid schedule", slog.String("schedule", g.Schedule), slog.String("error", err.Error()))
		return
	}

	log.Info("running scheduled graph", slog.String("name", g.Name))
	status := string(schema.RunStatusCompleted)
	_, runErr := s.runner.Execute(ctx, schema.ExecuteRequest{
		Nodes:          g.Nodes,
		InitialContext: g.InitialContext,
	}, engine.RunOptions{GraphID: g.ID, Source: store.SourceSchedule})
	if runErr != nil {
		status = string(schema.RunStatusFailed)
		log.Warn("scheduled graph failed", slog.String("error", runErr.Error()))
	}

	err = s.graphs.UpdateGraphSchedule(context.WithoutCancel(ctx), g.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
	if err != nil {
		log.Error("update graph schedule", slog.String("error", err.Error()))
	}
}

// Metrics returns the run pool counters.
func (s *Scheduler) Metrics() PoolMetrics { return s.pool.Metrics() }

// Stop cancels the loop and waits for in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.pool.Shutdown()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
