package core

import "context"

// HistoryLog records completed imports.
type HistoryLog interface {
	Record(ctx context.Context, rec ImportRecord) error

	// List returns records newest first. An empty table lists every table;
	// a non-positive limit returns all matching records.
	List(ctx context.Context, table string, limit int) ([]ImportRecord, error)
}

// DefaultHistoryLimit caps history listings when the caller gives no limit.
const DefaultHistoryLimit = 50

// History returns recent imports, newest first. An empty table lists
// imports for every table.
func (s *Service) History(ctx context.Context, table string, limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.history.List(ctx, table, limit)
}
