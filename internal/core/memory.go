package core

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-process Catalog that preserves creation order.
type MemoryCatalog struct {
	mu      sync.RWMutex
	order   []string
	schemas map[string]TableSchema
}

// NewMemoryCatalog creates an empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{schemas: make(map[string]TableSchema)}
}

func (c *MemoryCatalog) Insert(_ context.Context, schema TableSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.schemas[schema.Name]; ok {
		return ErrTableExists
	}
	c.schemas[schema.Name] = TableSchema{Name: schema.Name, Columns: cloneColumns(schema.Columns)}
	c.order = append(c.order, schema.Name)
	return nil
}

func (c *MemoryCatalog) Get(_ context.Context, name string) (TableSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.schemas[name]
	if !ok {
		return TableSchema{}, &NotFoundError{Table: name}
	}
	return TableSchema{Name: s.Name, Columns: cloneColumns(s.Columns)}, nil
}

func (c *MemoryCatalog) List(_ context.Context) ([]TableSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TableSchema, 0, len(c.order))
	for _, name := range c.order {
		s := c.schemas[name]
		out = append(out, TableSchema{Name: s.Name, Columns: cloneColumns(s.Columns)})
	}
	return out, nil
}

func (c *MemoryCatalog) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.schemas[name]; !ok {
		return &NotFoundError{Table: name}
	}
	delete(c.schemas, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryHistory is an in-process HistoryLog.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []ImportRecord
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Record(_ context.Context, rec ImportRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) List(_ context.Context, table string, limit int) ([]ImportRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ImportRecord, 0)
	for i := len(h.records) - 1; i >= 0; i-- {
		if table != "" && h.records[i].TableName != table {
			continue
		}
		out = append(out, h.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
