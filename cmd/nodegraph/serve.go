package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/scheduler"
	"github.com/rendis/nodegraph/internal/server"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "TCP listen address (overrides config)")
	noScheduler := fs.Bool("no-scheduler", false, "do not run scheduled graphs")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx, os.Stderr)
	defer a.Close()
	if *listenAddr != "" {
		a.cfg.ListenAddr = *listenAddr
	}
	if a.cfg.inMemory() {
		a.logger.Warn("using in-memory stores; runs and saved graphs are lost on exit")
	}

	handler := newHandlerSwapper(a.apiHandler(a.cfg.Token))

	if a.cfg.Scheduler.Enabled && !*noScheduler {
		sched := scheduler.New(a.store, a.executor, scheduler.Config{
			Interval:    a.cfg.Scheduler.Interval,
			Concurrency: a.cfg.Scheduler.Concurrency,
		}, a.logger)
		if err := sched.Start(ctx); err != nil {
			fatalf("start scheduler: %v", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				a.logger.Warn("stop scheduler", slog.String("error", err.Error()))
			}
		}()
	}

	if err := writePIDFile(); err != nil {
		a.logger.Warn("write pid file", slog.String("error", err.Error()))
	} else {
		defer os.Remove(pidPath())
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.reload(ctx, handler)
			}
		}
	}()

	if err := server.Serve(ctx, a.cfg.ListenAddr, handler, a.logger); err != nil {
		fatalf("serve: %v", err)
	}
	a.logger.Info("server stopped")
}

func (a *app) apiHandler(token string) http.Handler {
	return server.New(server.Deps{
		Runner:    a.executor,
		Validator: a.validator,
		Store:     a.store,
		Hub:       a.hub,
		Projector: a.projector,
		Logger:    a.logger,
		Token:     token,
	}).Handler()
}

// reload re-reads configuration and applies what can change without a
// restart: log level, API token and new entities.
func (a *app) reload(ctx context.Context, handler *handlerSwapper) {
	next, err := loadConfig()
	if err != nil {
		a.logger.Error("reload config", slog.String("error", err.Error()))
		return
	}
	next.ListenAddr = a.cfg.ListenAddr
	d := diffConfigs(a.cfg, next)

	if d.LogLevelChanged {
		a.level.Set(logging.ParseLevel(next.LogLevel))
		a.cfg.LogLevel = next.LogLevel
	}
	if d.TokenChanged {
		handler.Swap(a.apiHandler(next.Token))
		a.cfg.Token = next.Token
	}
	if len(d.NewEntities) > 0 {
		if err := defineEntities(ctx, a.store, d.NewEntities); err != nil {
			a.logger.Error("define entities", slog.String("error", err.Error()))
		} else {
			a.cfg.Entities = append(a.cfg.Entities, d.NewEntities...)
		}
	}
	if len(d.RestartNeeded) > 0 {
		a.logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
	}
	a.logger.Info("config reloaded",
		slog.Bool("log_level", d.LogLevelChanged),
		slog.Bool("token", d.TokenChanged),
		slog.Int("new_entities", len(d.NewEntities)),
	)
}

func writePIDFile() error {
	if err := os.MkdirAll(nodegraphDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// handlerSwapper lets reload replace the API handler while requests are
// in flight.
type handlerSwapper struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	return &handlerSwapper{handler: h}
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	h.ServeHTTP(w, r)
}

func (s *handlerSwapper) Swap(h http.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

