package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var errEmptyFile = errors.New("empty file: no header row")

// ReadCSV parses comma-separated content into a header and data rows.
//
// Fields may be quoted with '"', may contain commas and newlines when quoted,
// and use "" for an embedded quote. A malformed quoted field fails with
// *ParseError. Rows may have differing field counts; the caller decides how
// to treat them. Header names are trimmed and invalid UTF-8 is replaced.
func ReadCSV(r io.Reader) (header []string, rows [][]string, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, nil, &ParseError{Line: pe.Line, Err: pe.Err}
		}
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, &ParseError{Err: errEmptyFile}
	}

	for _, rec := range records {
		sanitizeRecord(rec)
	}

	header = records[0]
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	return header, records[1:], nil
}

// sanitizeRecord replaces invalid UTF-8 sequences in place so that values
// are always storable as text.
func sanitizeRecord(rec []string) {
	for i, f := range rec {
		if !utf8.ValidString(f) {
			rec[i] = strings.ToValidUTF8(f, "\uFFFD")
		}
	}
}

// WriteCSV renders rows under a header of the schema's column names.
//
// Values use their canonical text form and NULL is an empty field. Fields
// containing commas, quotes or newlines are quoted, so ReadCSV of the output
// reproduces the same cells.
func WriteCSV(w io.Writer, schema TableSchema, rows []StoredRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(schema.Columns))
	for _, row := range rows {
		for i, col := range schema.Columns {
			record[i] = row[col.Name].String()
		}

		// A lone empty field would be written as a blank line, which readers
		// skip. Quote it so the row survives.
		if len(record) == 1 && record[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
			continue
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
