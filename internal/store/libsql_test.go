package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func TestLibSQLStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestLibSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestLibSQLStore_DataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := "file:" + filepath.Join(dir, "reopen.db")
	ctx := context.Background()

	s, err := NewLibSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.DefineEntity(ctx, "Customer"))
	h, err := s.Entity(ctx, "Customer")
	require.NoError(t, err)
	created, err := h.Create(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewLibSQLStore(path)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Migrate(ctx))

	h2, err := s2.Entity(ctx, "Customer")
	require.NoError(t, err)
	recs, err := h2.Filter(ctx, map[string]any{"id": created["id"]})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Ada", recs[0]["name"])
}

func TestLibSQLStore_FilterRejectsQuotedField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DefineEntity(ctx, "Thing"))
	h, err := s.Entity(ctx, "Thing")
	require.NoError(t, err)

	_, err = h.Filter(ctx, map[string]any{`a"b`: 1.0})
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
-- comment only;
CREATE TABLE a (x INTEGER);

CREATE INDEX i ON a(x);
`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX i")
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)

	bad := fstest.MapFS{"migrations/init.sql": {Data: []byte("SELECT 1;")}}
	_, err = loadMigrations(bad)
	assert.Error(t, err)

	dup := fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/01_b.sql":  {Data: []byte("SELECT 2;")},
	}
	_, err = loadMigrations(dup)
	assert.ErrorContains(t, err, "duplicate")
}
