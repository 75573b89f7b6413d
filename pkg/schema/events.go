package schema

// Event type constants published on the run stream.
const (
	EventRunStarted   = "run_started"
	EventNodeVisited  = "node_visited"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further events follow this status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}
