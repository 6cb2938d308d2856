package core

// validation.go decides whether one raw cell is acceptable for a column.
//
// Rules are applied in order: empty input against nullability, then type
// coercion. Unique constraints need cross-row knowledge and are applied by
// the import pipeline, not here. Every rejection carries a reason and a
// suggested fix for the user.

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Rejection reasons. These strings are part of the API.
const (
	ReasonRequired     = "required value missing"
	ReasonInteger      = "not a valid integer"
	ReasonDecimal      = "not a valid decimal"
	ReasonBoolean      = "not a valid boolean"
	ReasonDate         = "invalid date format, expected YYYY-MM-DD"
	ReasonTimestamp    = "invalid timestamp format"
	ReasonNULByte      = "contains a NUL character"
	reasonMaxLengthFmt = "exceeds maximum length of %d"
	reasonDuplicateFmt = "duplicate value for unique column %s"
)

// CellError is a rejected cell.
type CellError struct {
	Column string
	Value  string
	Reason string
	Fix    string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("%s: %s", e.Column, e.Reason)
}

// Validate converts raw into a typed Value for col, or returns a *CellError.
// Leading and trailing whitespace is ignored and not stored.
func Validate(col Column, raw string) (Value, error) {
	s := strings.TrimSpace(raw)

	if s == "" {
		if col.Nullable {
			return NullValue(col.Type), nil
		}
		return Value{}, reject(col, raw, ReasonRequired,
			fmt.Sprintf("provide a value for column %s or make the column nullable", col.Name))
	}

	switch col.Type {
	case TypeInteger:
		if v := ToPgInt8(s); v.Valid {
			return Value{Type: col.Type, Data: v}, nil
		}
		return Value{}, reject(col, raw, ReasonInteger,
			"remove non-numeric characters or leave blank if nullable")

	case TypeDecimal:
		if v := ToPgNumeric(s); v.Valid {
			return Value{Type: col.Type, Data: v}, nil
		}
		return Value{}, reject(col, raw, ReasonDecimal,
			"use a plain number such as 1234.56 without currency symbols or thousands separators")

	case TypeBoolean:
		if v := ToPgBool(s); v.Valid {
			return Value{Type: col.Type, Data: v}, nil
		}
		return Value{}, reject(col, raw, ReasonBoolean,
			"use one of true, false, yes, no, 1 or 0")

	case TypeDate:
		if v := ToPgDate(s); v.Valid {
			return Value{Type: col.Type, Data: v}, nil
		}
		return Value{}, reject(col, raw, ReasonDate,
			"reformat the date as YYYY-MM-DD, for example 2024-01-31")

	case TypeTimestamp:
		if v := ToPgTimestamp(s); v.Valid {
			return Value{Type: col.Type, Data: v}, nil
		}
		return Value{}, reject(col, raw, ReasonTimestamp,
			"use an ISO-8601 date-time such as 2024-01-31T14:30:00")

	case TypeVarchar, TypeText:
		if strings.ContainsRune(s, 0) {
			return Value{}, reject(col, raw, ReasonNULByte,
				"remove the NUL (0x00) characters; the file may be UTF-16 or binary")
		}
		if col.Type == TypeVarchar && col.MaxLength != nil && utf8.RuneCountInString(s) > *col.MaxLength {
			return Value{}, reject(col, raw, fmt.Sprintf(reasonMaxLengthFmt, *col.MaxLength),
				fmt.Sprintf("shorten the value to at most %d characters", *col.MaxLength))
		}
		return Value{Type: col.Type, Data: ToPgText(s)}, nil

	default:
		return Value{}, reject(col, raw, fmt.Sprintf("unsupported column type %q", col.Type),
			"recreate the table with a supported column type")
	}
}

// duplicateError builds the rejection for a unique constraint collision.
func duplicateError(col Column, raw string) *CellError {
	return &CellError{
		Column: col.Name,
		Value:  raw,
		Reason: fmt.Sprintf(reasonDuplicateFmt, col.Name),
		Fix:    "remove the duplicate row or change the value so it is unique",
	}
}

func reject(col Column, raw, reason, fix string) *CellError {
	return &CellError{Column: col.Name, Value: raw, Reason: reason, Fix: fix}
}
