package store

import (
	"context"

	"github.com/rendis/nodegraph/pkg/schema"
)

// EntityStore is the persistence collaborator used by database_query nodes.
// Entity returns an ENTITY_NOT_FOUND error for names that were never defined.
type EntityStore interface {
	Entity(ctx context.Context, name string) (EntityHandle, error)
	DefineEntity(ctx context.Context, name string) error
	ListEntities(ctx context.Context) ([]string, error)
}

// EntityHandle performs CRUD on the records of one entity. Records are JSON
// objects carrying their "id" plus createdAt and updatedAt timestamps.
type EntityHandle interface {
	Name() string
	List(ctx context.Context) ([]Record, error)
	Filter(ctx context.Context, criteria map[string]any) ([]Record, error)
	Create(ctx context.Context, data map[string]any) (Record, error)
	Update(ctx context.Context, id string, data map[string]any) (Record, error)
	Delete(ctx context.Context, id string) error
}

// RunStore persists execution history.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// GraphStore persists saved graphs and their schedules.
type GraphStore interface {
	SaveGraph(ctx context.Context, g *Graph) error
	GetGraph(ctx context.Context, id string) (*Graph, error)
	ListGraphs(ctx context.Context, filter GraphFilter) ([]*Graph, error)
	UpdateGraphSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	DeleteGraph(ctx context.Context, id string) error
}

// Store is the full persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	EntityStore
	RunStore
	GraphStore

	Migrate(ctx context.Context) error
	Close() error
}

func entityNotFound(name string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeEntityNotFound, "entity %q does not exist", name)
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}
