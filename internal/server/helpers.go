package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rendis/nodegraph/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, schema.ErrorResponse{Error: msg})
}

// writeSchemaError writes err with the status its code maps to.
func writeSchemaError(w http.ResponseWriter, err error, runID string) {
	resp := schema.ErrorResponse{Error: err.Error(), RunID: runID}
	var nErr *schema.Error
	if errors.As(err, &nErr) {
		resp.Error = nErr.Message
		resp.Code = nErr.Code
	}
	writeJSON(w, statusFor(resp.Code), resp)
}

// statusFor maps an error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation,
		schema.ErrCodeMalformedConfig,
		schema.ErrCodeCycleDetected,
		schema.ErrCodeInvalidSchedule:
		return http.StatusBadRequest
	case schema.ErrCodeNodeNotFound, schema.ErrCodeEntityNotFound:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeTransport:
		return http.StatusBadGateway
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// readJSON decodes the request body into v, answering 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if schema.ErrorCode(err) == "" {
			err = schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %s", err.Error())
		}
		writeSchemaError(w, err, "")
		return false
	}
	return true
}
