package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/internal/streaming"
	"github.com/rendis/nodegraph/internal/validation"
	"github.com/rendis/nodegraph/pkg/schema"
)

// maxRequestBody caps every request body the API accepts.
const maxRequestBody = 10 << 20

// Runner executes a node graph. Satisfied by *engine.Executor.
type Runner interface {
	Execute(ctx context.Context, req schema.ExecuteRequest, opts engine.RunOptions) (*engine.Result, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Runner    Runner
	Validator *validation.Validator
	Store     store.Store
	Hub       streaming.EventHub
	Projector *expressions.Projector
	Logger    *slog.Logger

	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// on every route except /healthz.
	Token string

	Now func() time.Time
}

// Server serves the nodegraph JSON API.
type Server struct {
	deps Deps
}

// New creates a Server. Runner, Validator and Store are required.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Projector == nil {
		deps.Projector = expressions.NewProjector()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/validate", s.handleValidate)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleRunEvents)

	mux.HandleFunc("POST /v1/graphs", s.handleSaveGraph)
	mux.HandleFunc("GET /v1/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("DELETE /v1/graphs/{id}", s.handleDeleteGraph)
	mux.HandleFunc("POST /v1/graphs/{id}/run", s.handleRunGraph)

	return s.authenticate(mux)
}

// authenticate rejects requests without the configured bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.deps.Token == "" {
		return next
	}
	want := []byte(s.deps.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="nodegraph"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return Serve(ctx, addr, s.Handler(), s.deps.Logger)
}

// Serve runs h on addr until ctx is cancelled. The handler may be swapped
// underneath by the caller.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
