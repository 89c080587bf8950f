package history

import (
	"context"
	"sync"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// DefaultMemoryCapacity bounds the in-memory store.
const DefaultMemoryCapacity = 500

// MemoryStore keeps the most recent records in a ring buffer.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	next    int
	full    bool
}

// NewMemoryStore creates a store holding at most capacity records.
// A non-positive capacity uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{records: make([]Record, capacity)}
}

// RecordRun implements core.RunRecorder.
func (m *MemoryStore) RecordRun(ctx context.Context, run core.RunSummary) error {
	m.add(FromRun(run))
	return nil
}

// RecordBatch implements core.RunRecorder.
func (m *MemoryStore) RecordBatch(ctx context.Context, job core.BatchSummary) error {
	m.add(FromBatch(job))
	return nil
}

func (m *MemoryStore) add(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.next] = r
	m.next = (m.next + 1) % len(m.records)
	if m.next == 0 {
		m.full = true
	}
}

// Recent returns up to limit records, newest first.
func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.records)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.records)) % len(m.records)
		out = append(out, m.records[idx])
	}
	return out, nil
}
