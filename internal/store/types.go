package store

import (
	"time"

	"github.com/rendis/nodegraph/pkg/schema"
)

// Record is one entity record as a JSON object.
type Record = map[string]any

// Record metadata keys.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Run sources.
const (
	SourceAPI      = "api"
	SourceCLI      = "cli"
	SourceMCP      = "mcp"
	SourceSchedule = "schedule"
)

// Run is the persisted record of one graph execution.
type Run struct {
	ID             string              `json:"id"`
	GraphID        string              `json:"graphId,omitempty"`
	Source         string              `json:"source,omitempty"`
	Status         schema.RunStatus    `json:"status"`
	Nodes          []schema.Node       `json:"nodes"`
	InitialContext schema.Vars         `json:"initialContext,omitempty"`
	Context        schema.Vars         `json:"context,omitempty"`
	Trace          []schema.TraceEntry `json:"executionLog,omitempty"`
	Error          *schema.Error       `json:"error,omitempty"`
	StartedAt      time.Time           `json:"startedAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
}

// RunUpdate is written once when a run reaches a terminal status.
type RunUpdate struct {
	Status      schema.RunStatus
	Context     schema.Vars
	Trace       []schema.TraceEntry
	Error       *schema.Error
	CompletedAt time.Time
}

// RunFilter specifies criteria for listing runs, newest first.
type RunFilter struct {
	GraphID string            `json:"graphId,omitempty"`
	Status  *schema.RunStatus `json:"status,omitempty"`
	Limit   int               `json:"limit,omitempty"`
	Offset  int               `json:"offset,omitempty"`
}

// Graph is a saved node graph, optionally run on a cron schedule.
type Graph struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Nodes          []schema.Node `json:"nodes"`
	InitialContext schema.Vars   `json:"initialContext,omitempty"`
	Schedule       string        `json:"schedule,omitempty"`
	Enabled        bool          `json:"enabled"`
	LastRunAt      *time.Time    `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time    `json:"nextRunAt,omitempty"`
	LastRunStatus  string        `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// GraphFilter specifies criteria for listing graphs.
type GraphFilter struct {
	Scheduled bool  `json:"scheduled,omitempty"`
	Enabled   *bool `json:"enabled,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

// ScheduleUpdate records the outcome of a scheduled run.
type ScheduleUpdate struct {
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}
