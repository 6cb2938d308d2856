package core

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHeader []string
		wantRows   [][]string
	}{
		{
			name:       "simple",
			input:      "id,email\n1,a@x.com\n2,b@x.com\n",
			wantHeader: []string{"id", "email"},
			wantRows:   [][]string{{"1", "a@x.com"}, {"2", "b@x.com"}},
		},
		{
			name:       "no trailing newline",
			input:      "a,b\n1,2",
			wantHeader: []string{"a", "b"},
			wantRows:   [][]string{{"1", "2"}},
		},
		{
			name:       "quoted comma",
			input:      "name,city\n\"Doe, Jane\",Oslo\n",
			wantHeader: []string{"name", "city"},
			wantRows:   [][]string{{"Doe, Jane", "Oslo"}},
		},
		{
			name:       "quoted newline",
			input:      "note\n\"line1\nline2\"\n",
			wantHeader: []string{"note"},
			wantRows:   [][]string{{"line1\nline2"}},
		},
		{
			name:       "escaped quote",
			input:      "q\n\"say \"\"hi\"\"\"\n",
			wantHeader: []string{"q"},
			wantRows:   [][]string{{`say "hi"`}},
		},
		{
			name:       "CRLF line endings",
			input:      "a,b\r\n1,2\r\n",
			wantHeader: []string{"a", "b"},
			wantRows:   [][]string{{"1", "2"}},
		},
		{
			name:       "header trimmed",
			input:      " id , email \n1,x\n",
			wantHeader: []string{"id", "email"},
			wantRows:   [][]string{{"1", "x"}},
		},
		{
			name:       "ragged rows allowed",
			input:      "a,b,c\n1,2\n1,2,3,4\n",
			wantHeader: []string{"a", "b", "c"},
			wantRows:   [][]string{{"1", "2"}, {"1", "2", "3", "4"}},
		},
		{
			name:       "header only",
			input:      "a,b\n",
			wantHeader: []string{"a", "b"},
			wantRows:   nil,
		},
		{
			name:       "invalid utf8 replaced",
			input:      "a\nx\xffy\n",
			wantHeader: []string{"a"},
			wantRows:   [][]string{{"x�y"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, rows, err := ReadCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadCSV error: %v", err)
			}
			if !reflect.DeepEqual(header, tt.wantHeader) {
				t.Errorf("header = %q, want %q", header, tt.wantHeader)
			}
			if len(rows) != len(tt.wantRows) {
				t.Fatalf("got %d rows, want %d", len(rows), len(tt.wantRows))
			}
			for i := range rows {
				if !reflect.DeepEqual(rows[i], tt.wantRows[i]) {
					t.Errorf("row %d = %q, want %q", i, rows[i], tt.wantRows[i])
				}
			}
		})
	}
}

func TestReadCSV_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int // -1 accepts any positive line
	}{
		{name: "unterminated quote", input: "a,b\n1,\"oops\n", wantLine: -1},
		{name: "bare quote in field", input: "a,b\n1,x\"y\n", wantLine: 2},
		{name: "text after closing quote", input: "a\n\"x\"y\n", wantLine: 2},
		{name: "empty input", input: "", wantLine: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(tt.input))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if tt.wantLine < 0 {
				if pe.Line <= 0 {
					t.Errorf("Line = %d, want a positive line", pe.Line)
				}
			} else if pe.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", pe.Line, tt.wantLine)
			}
			if !IsStructural(err) {
				t.Error("ParseError should be structural")
			}
		})
	}
}

func TestWriteCSV_Quoting(t *testing.T) {
	schema := TableSchema{Name: "t", Columns: []Column{
		{Name: "id", Type: TypeInteger},
		{Name: "note", Type: TypeText, Nullable: true},
	}}
	rows := []StoredRow{
		mustRow(t, schema, "1", "plain"),
		mustRow(t, schema, "2", "a,b"),
		mustRow(t, schema, "3", `say "hi"`),
		mustRow(t, schema, "4", "two\nlines"),
		mustRow(t, schema, "5", ""),
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, schema, rows); err != nil {
		t.Fatalf("WriteCSV error: %v", err)
	}

	want := "id,note\n1,plain\n2,\"a,b\"\n3,\"say \"\"hi\"\"\"\n4,\"two\nlines\"\n5,\n"
	if buf.String() != want {
		t.Errorf("WriteCSV =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestWriteCSV_SingleNullColumn(t *testing.T) {
	schema := TableSchema{Name: "t", Columns: []Column{{Name: "v", Type: TypeText, Nullable: true}}}
	rows := []StoredRow{mustRow(t, schema, "x"), mustRow(t, schema, ""), mustRow(t, schema, "y")}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, schema, rows); err != nil {
		t.Fatalf("WriteCSV error: %v", err)
	}

	_, got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read back %d rows, want 3: %q", len(got), got)
	}
	if got[1][0] != "" {
		t.Errorf("null row read back as %q", got[1][0])
	}
}

// TestExportImportRoundTrip checks that exporting a table and importing the
// file into an identical table reproduces every row.
func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Options{})

	cols := []Column{
		{Name: "id", Type: TypeInteger, Unique: true},
		{Name: "price", Type: TypeDecimal, Nullable: true},
		{Name: "active", Type: TypeBoolean, Nullable: true},
		{Name: "born", Type: TypeDate, Nullable: true},
		{Name: "seen", Type: TypeTimestamp, Nullable: true},
		{Name: "code", Type: TypeVarchar, MaxLength: intPtr(20), Nullable: true},
		{Name: "note", Type: TypeText, Nullable: true},
	}
	for _, name := range []string{"src", "dst"} {
		if _, err := svc.CreateTable(ctx, name, cols); err != nil {
			t.Fatalf("CreateTable(%s) error: %v", name, err)
		}
	}

	input := "id,price,active,born,seen,code,note\n" +
		"1,1.50,yes,2024-01-31,2024-01-31 10:00:00,A1,\"comma, inside\"\n" +
		"2,-0.001,0,,2024-02-01T00:00:00.5Z,,\"quote \"\"here\"\"\"\n" +
		"3,,,1999-12-31,,\"multi\nline\",\n" +
		"4,1e2,TRUE,2000-02-29,2024-03-01T12:00:00+01:00,ÅÄÖ,plain\n"

	res, err := svc.ImportCSV(ctx, ImportRequest{Table: "src", Content: strings.NewReader(input)})
	if err != nil {
		t.Fatalf("import src error: %v", err)
	}
	if res.RowsImported != 4 || len(res.Errors) != 0 {
		t.Fatalf("import src = %d rows, errors %v", res.RowsImported, res.Errors)
	}

	var exported bytes.Buffer
	if err := svc.ExportCSV(ctx, "src", &exported); err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	first := exported.String()

	res, err = svc.ImportCSV(ctx, ImportRequest{Table: "dst", Content: strings.NewReader(first)})
	if err != nil {
		t.Fatalf("import dst error: %v", err)
	}
	if res.RowsImported != 4 || len(res.Errors) != 0 {
		t.Fatalf("import dst = %d rows, errors %v", res.RowsImported, res.Errors)
	}

	src, _ := svc.Page(ctx, "src", 100, 0)
	dst, _ := svc.Page(ctx, "dst", 100, 0)
	if !reflect.DeepEqual(rowStrings(src.Data, cols), rowStrings(dst.Data, cols)) {
		t.Errorf("round trip changed rows:\nsrc %v\ndst %v", src.Data, dst.Data)
	}

	var again bytes.Buffer
	if err := svc.ExportCSV(ctx, "dst", &again); err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	if again.String() != first {
		t.Errorf("second export differs:\n%q\n%q", first, again.String())
	}
}

// TestExportImportRoundTrip_ColumnNames checks that every column name the
// registry accepts survives an export and identity re-import.
func TestExportImportRoundTrip_ColumnNames(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Options{})

	cols := []Column{
		{Name: "Customer Name", Type: TypeText},
		{Name: "unit price ($)", Type: TypeDecimal, Nullable: true},
		{Name: "a,b", Type: TypeInteger, Nullable: true},
		{Name: `say "hi"`, Type: TypeText, Nullable: true},
	}
	for _, name := range []string{"src", "dst"} {
		if _, err := svc.CreateTable(ctx, name, cols); err != nil {
			t.Fatalf("CreateTable(%s) error: %v", name, err)
		}
	}

	if _, err := svc.CreateTable(ctx, "padded", []Column{{Name: " id", Type: TypeInteger}}); err == nil {
		t.Fatal("CreateTable accepted a column name with surrounding whitespace")
	}

	input := "Customer Name,unit price ($),\"a,b\",\"say \"\"hi\"\"\"\nAcme,9.99,3,hello\n"
	res, err := svc.ImportCSV(ctx, ImportRequest{Table: "src", Content: strings.NewReader(input)})
	if err != nil {
		t.Fatalf("import src error: %v", err)
	}
	if res.RowsImported != 1 {
		t.Fatalf("import src = %d rows, errors %v", res.RowsImported, res.Errors)
	}

	var exported bytes.Buffer
	if err := svc.ExportCSV(ctx, "src", &exported); err != nil {
		t.Fatalf("ExportCSV error: %v", err)
	}
	res, err = svc.ImportCSV(ctx, ImportRequest{Table: "dst", Content: strings.NewReader(exported.String())})
	if err != nil {
		t.Fatalf("re-import error: %v", err)
	}
	if res.RowsImported != 1 || len(res.Errors) != 0 {
		t.Fatalf("re-import = %d rows, errors %v", res.RowsImported, res.Errors)
	}

	src, _ := svc.Page(ctx, "src", 10, 0)
	dst, _ := svc.Page(ctx, "dst", 10, 0)
	if !reflect.DeepEqual(rowStrings(src.Data, cols), rowStrings(dst.Data, cols)) {
		t.Errorf("round trip changed rows:\nsrc %v\ndst %v", src.Data, dst.Data)
	}
}

// mustRow validates raw values against schema columns in order.
func mustRow(t *testing.T, schema TableSchema, raw ...string) StoredRow {
	t.Helper()
	row := make(StoredRow, len(raw))
	for i, col := range schema.Columns {
		v, err := Validate(col, raw[i])
		if err != nil {
			t.Fatalf("Validate(%s, %q): %v", col.Name, raw[i], err)
		}
		row[col.Name] = v
	}
	return row
}

// rowStrings renders rows as canonical text with a NULL marker.
func rowStrings(rows []StoredRow, cols []Column) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, len(cols))
		for j, c := range cols {
			if r[c.Name].IsNull() {
				out[i][j] = "<null>"
			} else {
				out[i][j] = r[c.Name].String()
			}
		}
	}
	return out
}
