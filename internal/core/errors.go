package core

// errors.go defines the error taxonomy of the import engine.
//
// SchemaError, NotFoundError, MappingError and ParseError abort the whole
// operation. ValidationError is per row and is only ever returned inside an
// ImportResult.

import (
	"errors"
	"fmt"
)

// ErrTableExists is wrapped by the SchemaError returned when a table name
// is already registered.
var ErrTableExists = errors.New("table already exists")

// SchemaError reports an invalid table or column definition.
type SchemaError struct {
	Table  string
	Reason string
	Err    error // Optional cause, e.g. ErrTableExists
}

func (e *SchemaError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("invalid table %q: %s", e.Table, e.Reason)
	}
	return "invalid table: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown table.
type NotFoundError struct {
	Table string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("table not found: %s", e.Table)
}

// MappingError reports a column mapping that cannot be applied to the file
// or the schema. No rows are processed.
type MappingError struct {
	Header string
	Column string
	Reason string
}

func (e *MappingError) Error() string {
	return "invalid column mapping: " + e.Reason
}

// ParseError reports malformed file syntax. No rows are processed.
type ParseError struct {
	Line int // 1-based physical line, 0 if unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid csv at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("invalid csv: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is a per-row rejection. Row is the 1-based index among
// data rows, header excluded.
type ValidationError struct {
	Row          int    `json:"row"`
	Column       string `json:"column,omitempty"`
	Value        string `json:"value,omitempty"`
	Reason       string `json:"error"`
	SuggestedFix string `json:"suggested_fix"`
}

func (e ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Column, e.Reason)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// IsStructural reports whether err aborts an import before any row is
// processed.
func IsStructural(err error) bool {
	var (
		me *MappingError
		pe *ParseError
	)
	return errors.As(err, &me) || errors.As(err, &pe)
}
