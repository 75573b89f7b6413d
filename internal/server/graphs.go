package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/scheduler"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

type saveGraphRequest struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Nodes          []schema.Node `json:"nodes"`
	InitialContext schema.Vars   `json:"initialContext"`
	Schedule       string        `json:"schedule"`
	Enabled        *bool         `json:"enabled"`
}

// handleSaveGraph stores a graph, replacing any graph with the same id. The
// nodes must pass validation and the schedule, if any, must parse.
func (s *Server) handleSaveGraph(w http.ResponseWriter, r *http.Request) {
	var body saveGraphRequest
	if !readJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	result := s.deps.Validator.Validate(&schema.ExecuteRequest{Nodes: body.Nodes, InitialContext: body.InitialContext})
	if !result.Valid() {
		writeRejected(w, result)
		return
	}

	g := &store.Graph{
		ID:             body.ID,
		Name:           body.Name,
		Description:    body.Description,
		Nodes:          body.Nodes,
		InitialContext: body.InitialContext,
		Schedule:       body.Schedule,
		Enabled:        body.Enabled == nil || *body.Enabled,
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Schedule != "" {
		next, err := scheduler.NextRun(g.Schedule, s.deps.Now())
		if err != nil {
			writeSchemaError(w, err, "")
			return
		}
		g.NextRunAt = &next
	}

	if err := s.deps.Store.SaveGraph(r.Context(), g); err != nil {
		writeSchemaError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.deps.Store.ListGraphs(r.Context(), store.GraphFilter{
		Scheduled: r.URL.Query().Get("scheduled") == "true",
		Limit:     queryInt(r, "limit", 0),
	})
	if err != nil {
		writeSchemaError(w, err, "")
		return
	}
	if graphs == nil {
		graphs = []*store.Graph{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Store.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSchemaError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteGraph(r.Context(), id); err != nil {
		writeSchemaError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
}

// handleRunGraph runs a saved graph now. A JSON body, if present, is merged
// over the saved initial context.
func (s *Server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Store.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSchemaError(w, err, "")
		return
	}

	initial := schema.Vars{}
	for k, v := range g.InitialContext {
		initial[k] = v
	}
	if r.ContentLength > 0 {
		var overrides schema.Vars
		if !readJSON(w, r, &overrides) {
			return
		}
		for k, v := range overrides {
			initial[k] = v
		}
	}

	s.run(w, r, schema.ExecuteRequest{Nodes: g.Nodes, InitialContext: initial}, engine.RunOptions{
		GraphID: g.ID,
		Source:  store.SourceAPI,
	})
}
