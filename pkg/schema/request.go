package schema

// ExecuteRequest is the invocation payload: the node list, whose first
// element is the entry point, and the initial context.
type ExecuteRequest struct {
	Nodes          []Node `json:"nodes"`
	InitialContext Vars   `json:"initialContext,omitempty"`
}

// ExecuteResponse is returned on success.
type ExecuteResponse struct {
	Success      bool         `json:"success"`
	RunID        string       `json:"runId,omitempty"`
	Context      Vars         `json:"context"`
	ExecutionLog []TraceEntry `json:"executionLog"`
}

// ErrorResponse is returned on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	RunID string `json:"runId,omitempty"`
}
