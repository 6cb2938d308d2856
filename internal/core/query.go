package core

import (
	"context"
	"fmt"
	"io"
)

// Pagination bounds for Page.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page returns one window of a table in insertion order together with the
// table's total row count. A non-positive limit selects DefaultPageLimit,
// limits above MaxPageLimit are clamped and a negative offset is treated
// as zero. An offset past the end yields an empty page.
func (s *Service) Page(ctx context.Context, table string, limit, offset int) (PageResult, error) {
	schema, err := s.registry.GetSchema(ctx, table)
	if err != nil {
		return PageResult{}, err
	}

	limit, offset = normalizePage(limit, offset)

	rows, total, err := s.store.GetPage(ctx, schema, limit, offset)
	if err != nil {
		return PageResult{}, fmt.Errorf("read page of %s: %w", schema.Name, err)
	}

	return PageResult{Data: rows, Total: total, Limit: limit, Offset: offset}, nil
}

// ExportCSV writes the whole table to w as CSV. The output re-imports with
// an identity mapping to the same rows.
func (s *Service) ExportCSV(ctx context.Context, table string, w io.Writer) error {
	schema, rows, err := s.exportRows(ctx, table)
	if err != nil {
		return err
	}
	return WriteCSV(w, schema, rows)
}

// ExportXLSX writes the whole table to w as a single-sheet workbook.
func (s *Service) ExportXLSX(ctx context.Context, table string, w io.Writer) error {
	schema, rows, err := s.exportRows(ctx, table)
	if err != nil {
		return err
	}
	return WriteXLSX(w, schema, rows)
}

func (s *Service) exportRows(ctx context.Context, table string) (TableSchema, []StoredRow, error) {
	schema, err := s.registry.GetSchema(ctx, table)
	if err != nil {
		return TableSchema{}, nil, err
	}
	rows, err := s.store.GetAll(ctx, schema)
	if err != nil {
		return TableSchema{}, nil, fmt.Errorf("read rows of %s: %w", schema.Name, err)
	}
	return schema, rows, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
