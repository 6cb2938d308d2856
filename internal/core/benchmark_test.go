package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkToPgNumeric benchmarks decimal conversion, the hot path for any
// decimal column.
func BenchmarkToPgNumeric(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"1.50",
		"0.000001",
		"1.5e3",
		"99999999999999999999.99",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ToPgNumeric(tc)
		}
	}
}

// BenchmarkToPgTimestamp benchmarks layout probing for timestamp columns.
func BenchmarkToPgTimestamp(b *testing.B) {
	testCases := []string{
		"2024-01-15T10:30:00Z",   // first layout
		"2024-01-15 10:30:00",    // later layout
		"2024-01-15",             // last layout
		"not a timestamp at all", // every layout fails
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ToPgTimestamp(tc)
		}
	}
}

// ============================================================================
// Validation Benchmarks
// ============================================================================

func BenchmarkValidate(b *testing.B) {
	cols := []Column{
		{Name: "id", Type: TypeInteger},
		{Name: "email", Type: TypeVarchar, MaxLength: intPtr(100)},
		{Name: "joined", Type: TypeDate},
		{Name: "amount", Type: TypeDecimal},
		{Name: "active", Type: TypeBoolean},
	}
	raw := []string{"1001", "john@example.com", "2024-01-15", "1234.56", "yes"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j, col := range cols {
			_, _ = Validate(col, raw[j])
		}
	}
}

// ============================================================================
// CSV Parsing Benchmarks
// ============================================================================

func BenchmarkReadCSV(b *testing.B) {
	for _, rows := range []int{100, 1000} {
		data := generateTestCSV(rows)
		b.Run(fmt.Sprintf("rows=%d", rows), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, _, _ = ReadCSV(bytes.NewReader(data))
			}
		})
	}
}

// ============================================================================
// Import Benchmarks
// ============================================================================

// BenchmarkImportCSV measures the whole pipeline into a memory store. Each
// iteration imports into a fresh table so unique keys do not accumulate.
func BenchmarkImportCSV(b *testing.B) {
	for _, workers := range []int{1, 4} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			data := generateTestCSV(5000)
			ctx := context.Background()
			svc := NewService(Options{Workers: workers})

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				table := fmt.Sprintf("bench_%d", i)
				if _, err := svc.CreateTable(ctx, table, benchColumns()); err != nil {
					b.Fatal(err)
				}
				b.StartTimer()

				res, err := svc.ImportCSV(ctx, ImportRequest{Table: table, Content: bytes.NewReader(data)})
				if err != nil {
					b.Fatal(err)
				}
				if res.RowsImported != 5000 {
					b.Fatalf("RowsImported = %d", res.RowsImported)
				}
			}
		})
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func benchColumns() []Column {
	return []Column{
		{Name: "ID", Type: TypeInteger, Unique: true},
		{Name: "Name", Type: TypeVarchar, MaxLength: intPtr(100)},
		{Name: "Email", Type: TypeText},
		{Name: "Date", Type: TypeDate},
		{Name: "Amount", Type: TypeDecimal},
		{Name: "Status", Type: TypeBoolean},
	}
}

// generateTestCSV generates CSV data with the specified number of rows.
func generateTestCSV(rows int) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	// Header
	_ = w.Write([]string{"ID", "Name", "Email", "Date", "Amount", "Status"})

	// Data rows
	for i := 0; i < rows; i++ {
		_ = w.Write([]string{
			fmt.Sprint(1000 + i),
			"John Doe",
			"john@example.com",
			"2024-01-15",
			"1234.56",
			"true",
		})
	}
	w.Flush()

	return buf.Bytes()
}
