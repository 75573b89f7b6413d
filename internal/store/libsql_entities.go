package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodegraph/pkg/schema"
)

// DefineEntity registers an entity name. Defining an existing name is a no-op.
func (s *LibSQLStore) DefineEntity(ctx context.Context, name string) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "entity name is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC(),
	)
	return err
}

// ListEntities returns every defined entity name, sorted.
func (s *LibSQLStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM entities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Entity returns a handle for name.
func (s *LibSQLStore) Entity(ctx context.Context, name string) (EntityHandle, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM entities WHERE name = ?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return nil, entityNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	return &libsqlEntity{db: s.db, name: name}, nil
}

type libsqlEntity struct {
	db   *sql.DB
	name string
}

func (e *libsqlEntity) Name() string { return e.name }

func (e *libsqlEntity) List(ctx context.Context) ([]Record, error) {
	return e.query(ctx, "", nil)
}

// Filter matches records whose fields equal every criterion. The "id" key
// matches the record id; other keys match top-level JSON fields.
func (e *libsqlEntity) Filter(ctx context.Context, criteria map[string]any) ([]Record, error) {
	var where []string
	var args []any

	for _, key := range sortedKeys(criteria) {
		val := criteria[key]
		if key == FieldID {
			where = append(where, "id = ?")
			args = append(args, fmt.Sprint(val))
			continue
		}
		if strings.ContainsAny(key, `"\`) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid filter field %q", key)
		}
		path := `$."` + key + `"`
		switch v := val.(type) {
		case nil:
			where = append(where, "json_extract(data, ?) IS NULL")
			args = append(args, path)
		case bool:
			where = append(where, "json_extract(data, ?) = ?")
			args = append(args, path, boolInt(v))
		case string, float64, float32, int, int64:
			where = append(where, "json_extract(data, ?) = ?")
			args = append(args, path, v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid number for filter field %q", key)
			}
			where = append(where, "json_extract(data, ?) = ?")
			args = append(args, path, f)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal filter value for %q: %w", key, err)
			}
			where = append(where, "json_extract(data, ?) = json(?)")
			args = append(args, path, string(b))
		}
	}

	return e.query(ctx, strings.Join(where, " AND "), args)
}

func (e *libsqlEntity) query(ctx context.Context, where string, args []any) ([]Record, error) {
	query := `SELECT id, data, created_at, updated_at FROM entity_records WHERE entity = ?`
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY created_at, rowid"

	rows, err := e.db.QueryContext(ctx, query, append([]any{e.name}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (e *libsqlEntity) Create(ctx context.Context, data map[string]any) (Record, error) {
	id, _ := data[FieldID].(string)
	if id == "" {
		id = uuid.New().String()
	}
	body, err := json.Marshal(stripMeta(data))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	now := time.Now().UTC()
	_, err = e.db.ExecContext(ctx,
		`INSERT INTO entity_records (id, entity, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, e.name, string(body), now, now,
	)
	if err != nil {
		return nil, err
	}
	return e.get(ctx, id)
}

// Update merges data into the record's existing fields.
func (e *libsqlEntity) Update(ctx context.Context, id string, data map[string]any) (Record, error) {
	current, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := stripMeta(current)
	for k, v := range stripMeta(data) {
		merged[k] = v
	}
	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	res, err := e.db.ExecContext(ctx,
		`UPDATE entity_records SET data = ?, updated_at = ? WHERE id = ? AND entity = ?`,
		string(body), time.Now().UTC(), id, e.name,
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res, e.name, id); err != nil {
		return nil, err
	}
	return e.get(ctx, id)
}

func (e *libsqlEntity) Delete(ctx context.Context, id string) error {
	res, err := e.db.ExecContext(ctx, `DELETE FROM entity_records WHERE id = ? AND entity = ?`, id, e.name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, e.name, id)
}

func (e *libsqlEntity) get(ctx context.Context, id string) (Record, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM entity_records WHERE id = ? AND entity = ?`, id, e.name)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(e.name, id)
	}
	return rec, err
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		id, data             string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec := Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	withMeta(rec, id, createdAt, updatedAt)
	return rec, nil
}
