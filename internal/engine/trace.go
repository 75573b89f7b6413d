package engine

import (
	"sync"
	"time"

	"github.com/rendis/nodegraph/pkg/schema"
)

// Trace is the append-only execution log of one run. Parallel branches
// append concurrently, so every access takes the lock.
type Trace struct {
	mu      sync.Mutex
	entries []schema.TraceEntry
	now     func() time.Time
}

func newTrace(now func() time.Time) *Trace {
	return &Trace{now: now}
}

// Append records a visit of n and returns the entry.
func (t *Trace) Append(n *schema.Node) schema.TraceEntry {
	entry := schema.TraceEntry{
		NodeID:    n.ID,
		Type:      n.Type,
		Timestamp: t.now().UTC(),
	}
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
	return entry
}

// Entries returns a copy of the entries recorded so far.
func (t *Trace) Entries() []schema.TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]schema.TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
