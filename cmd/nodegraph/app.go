package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/streaming"
	"github.com/rendis/nodegraph/internal/transforms"
	"github.com/rendis/nodegraph/internal/transport"
	"github.com/rendis/nodegraph/internal/validation"
)

// app is the wired dependency graph shared by every subcommand.
type app struct {
	cfg       Config
	level     *slog.LevelVar
	logger    *slog.Logger
	store     store.Store
	hub       *streaming.MemoryHub
	validator *validation.Validator
	projector *expressions.Projector
	executor  *engine.Executor
}

func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(logOut, level, cfg.LogFormat)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := defineEntities(ctx, st, cfg.Entities); err != nil {
		st.Close()
		return nil, err
	}

	registry := transforms.NewDefaultRegistry()
	v, err := validation.New(registry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init validator: %w", err)
	}

	httpClient := transport.NewClient(transport.Config{
		Timeout:         cfg.HTTP.Timeout,
		MaxResponseBody: cfg.HTTP.MaxResponseBody,
		Retry: transport.RetryPolicy{
			MaxRetries: cfg.HTTP.MaxRetries,
			Delay:      cfg.HTTP.RetryDelay,
		},
		Breaker: transport.BreakerConfig{
			FailureThreshold: cfg.HTTP.BreakerThreshold,
			Cooldown:         cfg.HTTP.BreakerCooldown,
			HalfOpenMax:      1,
		},
	}, logger)

	hub := streaming.NewMemoryHub()
	exec := engine.NewExecutor(engine.Config{
		HTTP:       httpClient,
		Entities:   st,
		Runs:       st,
		Events:     hub,
		Transforms: registry,
		Logger:     logger,
	})

	return &app{
		cfg:       cfg,
		level:     level,
		logger:    logger,
		store:     st,
		hub:       hub,
		validator: v,
		projector: expressions.NewProjector(),
		executor:  exec,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.inMemory() {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

func defineEntities(ctx context.Context, st store.EntityStore, names []string) error {
	for _, name := range names {
		if err := st.DefineEntity(ctx, name); err != nil {
			return fmt.Errorf("define entity %q: %w", name, err)
		}
	}
	return nil
}

// mustApp loads configuration and wires the app, exiting on failure.
func mustApp(ctx context.Context, logOut io.Writer) *app {
	cfg, err := loadConfig()
	if err != nil {
		fatalf("load config: %v", err)
	}
	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		fatalf("%v", err)
	}
	return a
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
