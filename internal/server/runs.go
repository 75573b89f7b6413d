package server

import (
	"net/http"

	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

const defaultRunLimit = 50

// handleListRuns lists run history, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		GraphID: q.Get("graphId"),
		Limit:   queryInt(r, "limit", defaultRunLimit),
		Offset:  queryInt(r, "offset", 0),
	}
	if st := q.Get("status"); st != "" {
		status := schema.RunStatus(st)
		filter.Status = &status
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeSchemaError(w, err, "")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run record. With ?query= the record is projected
// through a jq expression and the result is returned instead.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		writeSchemaError(w, err, id)
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		writeJSON(w, http.StatusOK, run)
		return
	}
	out, err := s.deps.Projector.Project(r.Context(), query, run)
	if err != nil {
		writeSchemaError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
