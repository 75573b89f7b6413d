package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodegraph/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/nodegraph.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	nodes, err := json.Marshal(run.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	initial, err := marshalVars(run.InitialContext)
	if err != nil {
		return fmt.Errorf("marshal initial context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_id, source, status, nodes, initial_context, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.GraphID), nullStr(run.Source), string(run.Status),
		string(nodes), initial, timeOrNow(run.StartedAt),
	)
	return err
}

func (s *LibSQLStore) FinishRun(ctx context.Context, id string, update RunUpdate) error {
	vars, err := marshalVars(update.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	trace, err := json.Marshal(update.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	var runErr any
	if update.Error != nil {
		b, err := json.Marshal(update.Error)
		if err != nil {
			return fmt.Errorf("marshal run error: %w", err)
		}
		runErr = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, context = ?, trace = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(update.Status), vars, string(trace), runErr, timeOrNow(update.CompletedAt), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

const runColumns = `id, graph_id, source, status, nodes, initial_context, context, trace, error, started_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		graphID, source               sql.NullString
		initial, vars, trace, errJSON sql.NullString
		status, nodes                 string
		completedAt                   sql.NullTime
	)
	if err := row.Scan(&run.ID, &graphID, &source, &status, &nodes, &initial, &vars, &trace, &errJSON,
		&run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.GraphID = graphID.String
	run.Source = source.String
	run.Status = schema.RunStatus(status)
	if err := json.Unmarshal([]byte(nodes), &run.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := unmarshalNullable(initial, &run.InitialContext); err != nil {
		return nil, fmt.Errorf("unmarshal initial context: %w", err)
	}
	if err := unmarshalNullable(vars, &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := unmarshalNullable(trace, &run.Trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	if errJSON.Valid && errJSON.String != "" {
		run.Error = &schema.Error{}
		if err := json.Unmarshal([]byte(errJSON.String), run.Error); err != nil {
			return nil, fmt.Errorf("unmarshal run error: %w", err)
		}
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Graphs ---

func (s *LibSQLStore) SaveGraph(ctx context.Context, g *Graph) error {
	nodes, err := json.Marshal(g.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	initial, err := marshalVars(g.InitialContext)
	if err != nil {
		return fmt.Errorf("marshal initial context: %w", err)
	}
	now := time.Now().UTC()
	g.CreatedAt = timeOrNow(g.CreatedAt)
	g.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, name, description, nodes, initial_context, schedule, enabled, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   nodes=excluded.nodes, initial_context=excluded.initial_context, schedule=excluded.schedule,
		   enabled=excluded.enabled, next_run_at=excluded.next_run_at, updated_at=excluded.updated_at`,
		g.ID, g.Name, nullStr(g.Description), string(nodes), initial, nullStr(g.Schedule),
		boolInt(g.Enabled), nullTime(g.NextRunAt), g.CreatedAt, g.UpdatedAt,
	)
	return err
}

const graphColumns = `id, name, description, nodes, initial_context, schedule, enabled, last_run_at, next_run_at, last_run_status, created_at, updated_at`

func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*Graph, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+graphColumns+` FROM graphs WHERE id = ?`, id)
	g, err := scanGraph(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	return g, err
}

func (s *LibSQLStore) ListGraphs(ctx context.Context, filter GraphFilter) ([]*Graph, error) {
	var where []string
	var args []any

	if filter.Scheduled {
		where = append(where, "schedule IS NOT NULL AND schedule != ''")
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}

	query := `SELECT ` + graphColumns + ` FROM graphs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	query += limitClause(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var graphs []*Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, rows.Err()
}

func (s *LibSQLStore) UpdateGraphSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE graphs SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

func scanGraph(row rowScanner) (*Graph, error) {
	g := &Graph{}
	var (
		description, initial, schedule, lastStatus sql.NullString
		nodes                                      string
		enabled                                    int
		lastRun, nextRun                           sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.Name, &description, &nodes, &initial, &schedule, &enabled,
		&lastRun, &nextRun, &lastStatus, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Description = description.String
	g.Schedule = schedule.String
	g.LastRunStatus = lastStatus.String
	g.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(nodes), &g.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := unmarshalNullable(initial, &g.InitialContext); err != nil {
		return nil, fmt.Errorf("unmarshal initial context: %w", err)
	}
	if lastRun.Valid {
		g.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		g.NextRunAt = &nextRun.Time
	}
	return g, nil
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func marshalVars(v schema.Vars) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalNullable(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

var _ Store = (*LibSQLStore)(nil)
