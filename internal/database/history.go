package database

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// History stores completed imports in import_history.
type History struct {
	pool *pgxpool.Pool
}

// NewHistory creates a History over pool.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

func (h *History) Record(ctx context.Context, rec core.ImportRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("import id %q: %w", rec.ID, err)
	}

	_, err = h.pool.Exec(ctx, `
		INSERT INTO import_history
			(id, table_name, file_name, format, rows_imported, rows_rejected, status, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.TableName, rec.FileName, string(rec.Format),
		rec.RowsImported, rec.RowsRejected, string(rec.Status), rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import record: %w", err)
	}
	return nil
}

func (h *History) List(ctx context.Context, table string, limit int) ([]core.ImportRecord, error) {
	query := `
		SELECT id, table_name, file_name, format, rows_imported, rows_rejected, status, duration_ms, created_at
		FROM import_history
		WHERE ($1 = '' OR table_name = $1)
		ORDER BY seq DESC`
	args := []any{table}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list import history: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImportRecord, error) {
		var (
			rec            core.ImportRecord
			id             uuid.UUID
			format, status string
		)
		err := row.Scan(&id, &rec.TableName, &rec.FileName, &format,
			&rec.RowsImported, &rec.RowsRejected, &status, &rec.DurationMs, &rec.CreatedAt)
		rec.ID = id.String()
		rec.Format = core.FileFormat(format)
		rec.Status = core.ImportStatus(status)
		rec.CreatedAt = rec.CreatedAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan import history: %w", err)
	}
	if records == nil {
		records = []core.ImportRecord{}
	}
	return records, nil
}
