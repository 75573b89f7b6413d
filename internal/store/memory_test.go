package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_RecordsAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.DefineEntity(ctx, "Doc"))
	h, err := s.Entity(ctx, "Doc")
	require.NoError(t, err)

	data := map[string]any{"tags": []any{"a"}}
	rec, err := h.Create(ctx, data)
	require.NoError(t, err)

	data["tags"].([]any)[0] = "mutated"
	rec["tags"].([]any)[0] = "mutated too"

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []any{"a"}, list[0]["tags"])
}

func TestMemoryStore_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStore()
	b := NewMemoryStore()
	require.NoError(t, a.DefineEntity(ctx, "Only"))

	_, err := b.Entity(ctx, "Only")
	assert.Error(t, err)
}
