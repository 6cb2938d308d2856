package core

// convert.go provides strict conversions between cell text and PostgreSQL
// types.
//
// Each column type accepts one family of textual forms and renders back to a
// single canonical form, so formatting a Value and converting it again yields
// the same Value. That property is what makes CSV export re-importable.
//
// All ToPg* functions return pgtype values with Valid=false for empty or
// invalid input. Input is expected to be trimmed already.

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DateLayout is the only accepted date form and the export form.
const DateLayout = "2006-01-02"

// TimestampLayout is the export form of timestamps. Fractional seconds are
// written only when non-zero.
const TimestampLayout = "2006-01-02T15:04:05.999999"

// minYear is the first year PostgreSQL stores without the BC suffix.
const minYear = 1

// decimalRegex captures sign, integer digits, fraction digits and exponent.
var decimalRegex = regexp.MustCompile(`^([+-]?)(\d*)(?:\.(\d*))?(?:[eE]([+-]?\d+))?$`)

// maxDecimalExponent bounds scientific notation so a short cell cannot
// expand into a huge number.
const maxDecimalExponent = 1000

// timestampLayouts are tried in order. Go accepts fractional seconds after
// the seconds field even when the layout omits them.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	DateLayout,
}

var boolValues = map[string]bool{
	"true": true, "1": true, "yes": true,
	"false": false, "0": false, "no": false,
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty.
func ToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgInt8 converts a base-10 integer with an optional leading minus.
func ToPgInt8(s string) pgtype.Int8 {
	if strings.HasPrefix(s, "+") {
		return pgtype.Int8{Valid: false}
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: i, Valid: true}
}

// ToPgNumeric converts a base-10 real number. Scale is preserved ("1.50"
// keeps two fraction digits) and positive exponents are multiplied out.
func ToPgNumeric(s string) pgtype.Numeric {
	m := decimalRegex.FindStringSubmatch(s)
	if m == nil {
		return pgtype.Numeric{Valid: false}
	}
	sign, intPart, fracPart, expPart := m[1], m[2], m[3], m[4]
	if intPart == "" && fracPart == "" {
		return pgtype.Numeric{Valid: false}
	}

	exp := -len(fracPart)
	if expPart != "" {
		e, err := strconv.Atoi(expPart)
		if err != nil || e > maxDecimalExponent || e < -maxDecimalExponent {
			return pgtype.Numeric{Valid: false}
		}
		exp += e
	}

	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}
	if exp > 0 {
		n.Mul(n, pow10(exp))
		exp = 0
	}
	if sign == "-" {
		n.Neg(n)
	}
	return pgtype.Numeric{Int: n, Exp: int32(exp), Valid: true}
}

// ToPgBool accepts true/false, 1/0 and yes/no in any case.
func ToPgBool(s string) pgtype.Bool {
	b, ok := boolValues[strings.ToLower(s)]
	if !ok {
		return pgtype.Bool{Valid: false}
	}
	return pgtype.Bool{Bool: b, Valid: true}
}

// ToPgDate converts a YYYY-MM-DD date.
func ToPgDate(s string) pgtype.Date {
	t, err := time.Parse(DateLayout, s)
	if err != nil || t.Year() < minYear {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgTimestamp converts an ISO-8601 style date-time. Offsets are applied
// and the result is stored as UTC wall time truncated to microseconds, the
// precision of a PostgreSQL timestamp.
func ToPgTimestamp(s string) pgtype.Timestamp {
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC().Truncate(time.Microsecond)
		if t.Year() < minYear {
			break
		}
		return pgtype.Timestamp{Time: t, Valid: true}
	}
	return pgtype.Timestamp{Valid: false}
}

// FormatNumeric renders n in plain decimal notation without exponent.
func FormatNumeric(n pgtype.Numeric) string {
	if !n.Valid {
		return ""
	}
	if n.NaN {
		return "NaN"
	}
	if n.Int == nil {
		return ""
	}

	digits := new(big.Int).Abs(n.Int).String()
	switch {
	case n.Exp > 0:
		digits += strings.Repeat("0", int(n.Exp))
	case n.Exp < 0:
		scale := int(-n.Exp)
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if n.Int.Sign() < 0 {
		digits = "-" + digits
	}
	return digits
}

// FormatTimestamp renders t in the export form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Value is a typed cell. Data holds the pgtype value matching Type:
// pgtype.Int8, pgtype.Numeric, pgtype.Bool, pgtype.Date, pgtype.Timestamp
// or pgtype.Text. A nil Data is NULL.
type Value struct {
	Type ColumnType
	Data any
}

// NullValue returns the NULL value of type t.
func NullValue(t ColumnType) Value {
	return Value{Type: t}
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool {
	switch d := v.Data.(type) {
	case nil:
		return true
	case pgtype.Int8:
		return !d.Valid
	case pgtype.Numeric:
		return !d.Valid
	case pgtype.Bool:
		return !d.Valid
	case pgtype.Date:
		return !d.Valid
	case pgtype.Timestamp:
		return !d.Valid
	case pgtype.Text:
		return !d.Valid
	default:
		return false
	}
}

// String returns the canonical text form. NULL renders as "".
func (v Value) String() string {
	if v.IsNull() {
		return ""
	}
	switch d := v.Data.(type) {
	case pgtype.Int8:
		return strconv.FormatInt(d.Int64, 10)
	case pgtype.Numeric:
		return FormatNumeric(d)
	case pgtype.Bool:
		return strconv.FormatBool(d.Bool)
	case pgtype.Date:
		return d.Time.Format(DateLayout)
	case pgtype.Timestamp:
		return FormatTimestamp(d.Time)
	case pgtype.Text:
		return d.String
	default:
		return fmt.Sprint(v.Data)
	}
}

// Key returns the comparison key used for unique constraints. Decimals are
// compared by numeric value, so 1.5 and 1.50 collide.
func (v Value) Key() string {
	if n, ok := v.Data.(pgtype.Numeric); ok && n.Valid && n.Int != nil && !n.NaN {
		r := new(big.Rat).SetInt(n.Int)
		if n.Exp > 0 {
			r.Mul(r, new(big.Rat).SetInt(pow10(int(n.Exp))))
		} else if n.Exp < 0 {
			r.Quo(r, new(big.Rat).SetInt(pow10(int(-n.Exp))))
		}
		return r.RatString()
	}
	return v.String()
}

// SQLValue returns the value to hand to pgx, nil for NULL.
func (v Value) SQLValue() any {
	if v.IsNull() {
		return nil
	}
	return v.Data
}

// MarshalJSON writes numbers and booleans as JSON literals and everything
// else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	switch v.Data.(type) {
	case pgtype.Int8, pgtype.Numeric, pgtype.Bool:
		return []byte(v.String()), nil
	default:
		return json.Marshal(v.String())
	}
}
