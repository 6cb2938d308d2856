package core

import (
	"context"
	"sync"
)

// Store persists rows per table in stable insertion order.
//
// InsertRows must be serialized against InsertRows and DeleteTable on the same
// table, and readers must observe either none or all rows of a batch.
type Store interface {
	// CreateTable provisions storage for a newly registered table.
	CreateTable(ctx context.Context, schema TableSchema) error

	// InsertRows appends rows as one atomically visible batch.
	InsertRows(ctx context.Context, schema TableSchema, rows []StoredRow) error

	CountRows(ctx context.Context, table string) (int64, error)

	// GetPage returns rows [offset, offset+limit) in insertion order and the
	// table's total row count, both read from the same snapshot. An offset
	// past the end yields an empty slice.
	GetPage(ctx context.Context, schema TableSchema, limit, offset int) ([]StoredRow, int64, error)

	GetAll(ctx context.Context, schema TableSchema) ([]StoredRow, error)

	// UniqueKeys returns Value.Key() of every non-null stored value of column.
	UniqueKeys(ctx context.Context, schema TableSchema, column string) (map[string]struct{}, error)

	// DeleteTable removes all rows and the table's storage.
	DeleteTable(ctx context.Context, table string) error
}

// memoryTable holds the rows of one table. The lock is table scoped.
type memoryTable struct {
	mu   sync.RWMutex
	rows []StoredRow
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex // guards the tables map only
	tables map[string]*memoryTable
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

func (m *MemoryStore) table(name string) (*memoryTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[name]
	if !ok {
		return nil, &NotFoundError{Table: name}
	}
	return t, nil
}

func (m *MemoryStore) CreateTable(_ context.Context, schema TableSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[schema.Name]; !ok {
		m.tables[schema.Name] = &memoryTable{}
	}
	return nil
}

func (m *MemoryStore) InsertRows(ctx context.Context, schema TableSchema, rows []StoredRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := m.table(schema.Name)
	if err != nil {
		return err
	}

	batch := make([]StoredRow, len(rows))
	for i, r := range rows {
		batch[i] = cloneRow(r)
	}

	t.mu.Lock()
	t.rows = append(t.rows, batch...)
	t.mu.Unlock()
	return nil
}

func (m *MemoryStore) CountRows(_ context.Context, table string) (int64, error) {
	t, err := m.table(table)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int64(len(t.rows)), nil
}

func (m *MemoryStore) GetPage(_ context.Context, schema TableSchema, limit, offset int) ([]StoredRow, int64, error) {
	t, err := m.table(schema.Name)
	if err != nil {
		return nil, 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := int64(len(t.rows))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.rows) || limit <= 0 {
		return []StoredRow{}, total, nil
	}
	end := min(offset+limit, len(t.rows))

	out := make([]StoredRow, 0, end-offset)
	for _, r := range t.rows[offset:end] {
		out = append(out, cloneRow(r))
	}
	return out, total, nil
}

func (m *MemoryStore) GetAll(_ context.Context, schema TableSchema) ([]StoredRow, error) {
	t, err := m.table(schema.Name)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]StoredRow, len(t.rows))
	for i, r := range t.rows {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func (m *MemoryStore) UniqueKeys(_ context.Context, schema TableSchema, column string) (map[string]struct{}, error) {
	t, err := m.table(schema.Name)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make(map[string]struct{}, len(t.rows))
	for _, r := range t.rows {
		if v, ok := r[column]; ok && !v.IsNull() {
			keys[v.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (m *MemoryStore) DeleteTable(_ context.Context, table string) error {
	m.mu.Lock()
	t, ok := m.tables[table]
	delete(m.tables, table)
	m.mu.Unlock()

	if ok {
		// Wait out an in-flight batch before the rows are released.
		t.mu.Lock()
		t.rows = nil
		t.mu.Unlock()
	}
	return nil
}

func cloneRow(r StoredRow) StoredRow {
	out := make(StoredRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
