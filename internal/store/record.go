package store

import (
	"sort"
	"time"
)

// stripMeta returns a copy of data without the metadata keys.
func stripMeta(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		out[k] = v
	}
	return out
}

func withMeta(rec Record, id string, createdAt, updatedAt time.Time) {
	rec[FieldID] = id
	rec[FieldCreatedAt] = createdAt.UTC().Format(time.RFC3339Nano)
	rec[FieldUpdatedAt] = updatedAt.UTC().Format(time.RFC3339Nano)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
