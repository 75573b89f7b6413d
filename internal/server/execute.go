package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/logging"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/schema"
)

type validationResponse struct {
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

type rejectedResponse struct {
	schema.ErrorResponse
	Issues []schema.ValidationIssue `json:"issues,omitempty"`
}

// writeRejected answers a request that failed validation. The status follows
// the code of the first error.
func writeRejected(w http.ResponseWriter, result *schema.ValidationResult) {
	first := result.Errors[0]
	writeJSON(w, statusFor(first.Code), rejectedResponse{
		ErrorResponse: schema.ErrorResponse{Error: first.Message, Code: first.Code},
		Issues:        result.Errors,
	})
}

// handleExecute validates and runs an invocation request.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req, ok := s.admit(w, raw)
	if !ok {
		return
	}
	s.run(w, r, req, engine.RunOptions{Source: store.SourceAPI})
}

// handleValidate reports every issue in a request without running it.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	result := s.deps.Validator.ValidateJSON(raw)
	writeJSON(w, http.StatusOK, validationResponse{
		Valid:    result.Valid(),
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

// admit validates raw and decodes it. On rejection the response is written
// and ok is false.
func (s *Server) admit(w http.ResponseWriter, raw []byte) (req schema.ExecuteRequest, ok bool) {
	result := s.deps.Validator.ValidateJSON(raw)
	if !result.Valid() {
		writeRejected(w, result)
		return req, false
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeSchemaError(w, err, "")
		return req, false
	}
	return req, true
}

// run executes req and writes the invocation response.
func (s *Server) run(w http.ResponseWriter, r *http.Request, req schema.ExecuteRequest, opts engine.RunOptions) {
	res, err := s.deps.Runner.Execute(r.Context(), req, opts)
	if err != nil {
		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			resp := runErr.Response()
			writeJSON(w, statusFor(resp.Code), resp)
			return
		}
		logging.LogWith(r.Context(), s.deps.Logger).Error("execute", slog.String("error", err.Error()))
		writeSchemaError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, res.Response())
}
