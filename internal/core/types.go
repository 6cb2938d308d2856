package core

import (
	"io"
	"time"
)

// ColumnType is the declared type of a table column.
type ColumnType string

const (
	TypeVarchar   ColumnType = "varchar"
	TypeInteger   ColumnType = "integer"
	TypeDecimal   ColumnType = "decimal"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
	TypeBoolean   ColumnType = "boolean"
	TypeText      ColumnType = "text"
)

// ColumnTypes lists every supported column type in declaration order.
var ColumnTypes = []ColumnType{
	TypeVarchar, TypeInteger, TypeDecimal, TypeDate, TypeTimestamp, TypeBoolean, TypeText,
}

// Bounds for varchar max_length.
const (
	MinVarcharLength = 1
	MaxVarcharLength = 1000
)

// MaxTableNameLength matches the PostgreSQL identifier limit.
const MaxTableNameLength = 63

// Column describes one typed column of a table.
type Column struct {
	Name      string     `json:"name"`
	Type      ColumnType `json:"type"`
	Nullable  bool       `json:"nullable"`
	Unique    bool       `json:"unique"`
	MaxLength *int       `json:"max_length,omitempty"` // varchar only
}

// TableSchema is an immutable table definition owned by the Registry.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column returns the column with the given name.
func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declared order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnMapping maps a CSV header to a target column name.
type ColumnMapping map[string]string

// IdentityMapping maps every header to the column of the same name.
func IdentityMapping(headers []string) ColumnMapping {
	m := make(ColumnMapping, len(headers))
	for _, h := range headers {
		m[h] = h
	}
	return m
}

// StoredRow maps column name to typed value. Columns with no value are
// absent or hold a null Value.
type StoredRow map[string]Value

// FileFormat identifies the encoding of an import payload.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// ImportRequest carries one import call.
type ImportRequest struct {
	Table    string
	FileName string
	Mapping  ColumnMapping
	Content  io.Reader
	Size     int64 // Content length if known, 0 otherwise
	DryRun   bool  // Validate only; nothing is persisted or recorded
}

// ImportResult is returned once per import call.
type ImportResult struct {
	Success      bool              `json:"success"`
	RowsImported int               `json:"rows_imported"`
	Errors       []ValidationError `json:"errors"`
	Warnings     []string          `json:"warnings"`
	Message      string            `json:"message"`
	DryRun       bool              `json:"dry_run,omitempty"`
}

// PageResult is a paginated view of a table.
type PageResult struct {
	Data   []StoredRow `json:"data"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ImportStatus summarizes the outcome of a completed import.
type ImportStatus string

const (
	StatusSuccess ImportStatus = "success"
	StatusPartial ImportStatus = "partial"
	StatusFailed  ImportStatus = "failed"
)

// ImportRecord is one entry in the import history.
type ImportRecord struct {
	ID           string       `json:"id"`
	TableName    string       `json:"table_name"`
	FileName     string       `json:"file_name"`
	Format       FileFormat   `json:"format"`
	RowsImported int          `json:"rows_imported"`
	RowsRejected int          `json:"rows_rejected"`
	Status       ImportStatus `json:"status"`
	DurationMs   int64        `json:"duration_ms"`
	CreatedAt    time.Time    `json:"created_at"`
}

// statusFor derives the history status from imported and rejected counts.
func statusFor(imported, rejected int) ImportStatus {
	switch {
	case rejected == 0:
		return StatusSuccess
	case imported > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
