package storage

import (
	"context"
	"sort"
	"sync"

	"cove-indexer/internal/entity"
)

type memRecord struct {
	sortKey int64
	data    []byte
}

// Memory is a process-local Backend used for dry runs and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[entity.Kind]map[string]memRecord
}

// NewMemory constructs an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{items: make(map[entity.Kind]map[string]memRecord)}
}

func (m *Memory) Get(_ context.Context, kind entity.Kind, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.items[kind][id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), rec.data...), true, nil
}

func (m *Memory) Commit(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		bucket, ok := m.items[rec.Kind]
		if !ok {
			bucket = make(map[string]memRecord)
			m.items[rec.Kind] = bucket
		}
		bucket[rec.ID] = memRecord{sortKey: rec.SortKey, data: append([]byte(nil), rec.Data...)}
	}
	return nil
}

func (m *Memory) List(_ context.Context, kind entity.Kind, opts ListOptions) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type row struct {
		id string
		memRecord
	}
	rows := make([]row, 0, len(m.items[kind]))
	for id, rec := range m.items[kind] {
		if rec.sortKey < opts.From || rec.sortKey > opts.To {
			continue
		}
		rows = append(rows, row{id: id, memRecord: rec})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].sortKey != rows[j].sortKey {
			if opts.Desc {
				return rows[i].sortKey > rows[j].sortKey
			}
			return rows[i].sortKey < rows[j].sortKey
		}
		return rows[i].id < rows[j].id
	})

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}

	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		out = append(out, append([]byte(nil), r.data...))
	}
	return out, nil
}

// Len reports the number of stored records of kind.
func (m *Memory) Len(kind entity.Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[kind])
}

// Dump returns every record of kind keyed by id.
func (m *Memory) Dump(kind entity.Kind) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.items[kind]))
	for id, rec := range m.items[kind] {
		out[id] = append([]byte(nil), rec.data...)
	}
	return out
}

func (m *Memory) Close() {}

var _ Backend = (*Memory)(nil)
