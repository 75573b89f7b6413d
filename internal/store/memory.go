package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/pkg/schema"
)

// MemoryStore implements Store in process memory. Each instance owns its
// data; nothing is shared between stores.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*memoryEntity
	runs     map[string]*Run
	runOrder []string
	graphs   map[string]*Graph
	seq      int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*memoryEntity),
		runs:     make(map[string]*Run),
		graphs:   make(map[string]*Graph),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- Entities ---

func (s *MemoryStore) DefineEntity(_ context.Context, name string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "entity name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[name]; !ok {
		s.entities[name] = &memoryEntity{store: s, name: name, records: make(map[string]*memoryRecord)}
	}
	return nil
}

func (s *MemoryStore) ListEntities(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entities))
	for n := range s.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Entity(_ context.Context, name string) (EntityHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[name]
	if !ok {
		return nil, entityNotFound(name)
	}
	return e, nil
}

type memoryRecord struct {
	id        string
	seq       int64
	data      map[string]any
	createdAt time.Time
	updatedAt time.Time
}

func (r *memoryRecord) snapshot() Record {
	rec, _ := expressions.DeepCopy(r.data).(map[string]any)
	if rec == nil {
		rec = Record{}
	}
	withMeta(rec, r.id, r.createdAt, r.updatedAt)
	return rec
}

type memoryEntity struct {
	store   *MemoryStore
	name    string
	records map[string]*memoryRecord
}

func (e *memoryEntity) Name() string { return e.name }

func (e *memoryEntity) List(ctx context.Context) ([]Record, error) {
	return e.Filter(ctx, nil)
}

func (e *memoryEntity) Filter(_ context.Context, criteria map[string]any) ([]Record, error) {
	e.store.mu.RLock()
	defer e.store.mu.RUnlock()

	matched := make([]*memoryRecord, 0, len(e.records))
	for _, r := range e.records {
		if recordMatches(r, criteria) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]Record, len(matched))
	for i, r := range matched {
		out[i] = r.snapshot()
	}
	return out, nil
}

func recordMatches(r *memoryRecord, criteria map[string]any) bool {
	for key, want := range criteria {
		if key == FieldID {
			if r.id != fmt.Sprint(want) {
				return false
			}
			continue
		}
		got, ok := r.data[key]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !fieldEqual(got, want) {
			return false
		}
	}
	return true
}

// fieldEqual compares without string/number coercion, matching SQL equality
// on JSON fields.
func fieldEqual(a, b any) bool {
	if _, isStr := a.(string); isStr {
		return a == b
	}
	if _, isStr := b.(string); isStr {
		return false
	}
	an, aok := expressions.ToNumber(a)
	bn, bok := expressions.ToNumber(b)
	if aok && bok {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}

func (e *memoryEntity) Create(_ context.Context, data map[string]any) (Record, error) {
	id, _ := data[FieldID].(string)
	if id == "" {
		id = uuid.New().String()
	}

	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	if _, exists := e.records[id]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "%s %q already exists", e.name, id)
	}
	now := time.Now().UTC()
	e.store.seq++
	r := &memoryRecord{
		id:        id,
		seq:       e.store.seq,
		data:      expressions.DeepCopy(stripMeta(data)).(map[string]any),
		createdAt: now,
		updatedAt: now,
	}
	e.records[id] = r
	return r.snapshot(), nil
}

func (e *memoryEntity) Update(_ context.Context, id string, data map[string]any) (Record, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	r, ok := e.records[id]
	if !ok {
		return nil, storeNotFound(e.name, id)
	}
	for k, v := range stripMeta(data) {
		r.data[k] = expressions.DeepCopy(v)
	}
	r.updatedAt = time.Now().UTC()
	return r.snapshot(), nil
}

func (e *memoryEntity) Delete(_ context.Context, id string) error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	if _, ok := e.records[id]; !ok {
		return storeNotFound(e.name, id)
	}
	delete(e.records, id)
	return nil
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	cp := *run
	cp.StartedAt = timeOrNow(run.StartedAt)
	cp.InitialContext = expressions.CopyVars(run.InitialContext)
	s.runs[run.ID] = &cp
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	completed := timeOrNow(update.CompletedAt)
	run.Status = update.Status
	run.Context = expressions.CopyVars(update.Context)
	run.Trace = append([]schema.TraceEntry(nil), update.Trace...)
	run.Error = update.Error
	run.CompletedAt = &completed
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if filter.GraphID != "" && run.GraphID != filter.GraphID {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	return paginate(out, filter.Limit, filter.Offset), nil
}

// --- Graphs ---

func (s *MemoryStore) SaveGraph(_ context.Context, g *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.graphs[g.ID]; ok {
		g.CreatedAt = existing.CreatedAt
		g.LastRunAt = existing.LastRunAt
		g.LastRunStatus = existing.LastRunStatus
	} else {
		g.CreatedAt = timeOrNow(g.CreatedAt)
	}
	g.UpdatedAt = now
	cp := *g
	cp.InitialContext = expressions.CopyVars(g.InitialContext)
	s.graphs[g.ID] = &cp
	return nil
}

func (s *MemoryStore) GetGraph(_ context.Context, id string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[id]
	if !ok {
		return nil, storeNotFound("graph", id)
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) ListGraphs(_ context.Context, filter GraphFilter) ([]*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Graph
	for _, g := range s.graphs {
		if filter.Scheduled && g.Schedule == "" {
			continue
		}
		if filter.Enabled != nil && g.Enabled != *filter.Enabled {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, 0), nil
}

func (s *MemoryStore) UpdateGraphSchedule(_ context.Context, id string, update ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[id]
	if !ok {
		return storeNotFound("graph", id)
	}
	if update.LastRunAt != nil {
		t := *update.LastRunAt
		g.LastRunAt = &t
	}
	if update.NextRunAt != nil {
		t := *update.NextRunAt
		g.NextRunAt = &t
	}
	if update.LastRunStatus != "" {
		g.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (s *MemoryStore) DeleteGraph(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graphs[id]; !ok {
		return storeNotFound("graph", id)
	}
	delete(s.graphs, id)
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
