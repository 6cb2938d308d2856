// Package core provides the business logic for defining tables at runtime,
// importing CSV files into them and reading the data back out.
//
// This package is the heart of the service, containing all domain logic
// independent of any transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Architecture
//
// The package is organized around these concepts:
//
//   - Registry: owns table definitions ([TableSchema]) and persists them
//     through a [Catalog].
//   - Validator: [Validate] turns one raw cell into a typed [Value] or a
//     [CellError] carrying a reason and a suggested fix.
//   - Ingestion: [Service.ImportCSV] parses a file, resolves the header to
//     column mapping, validates rows in parallel and persists accepted rows
//     as one batch.
//   - Store: [Store] keeps rows per table in insertion order. [MemoryStore]
//     lives in process; a PostgreSQL implementation lives in package database.
//   - Query/Export: [Service.Page], [Service.ExportCSV] and
//     [Service.ExportXLSX] read stored rows back.
//
// # Creating a table
//
//	maxLen := 50
//	schema, err := svc.CreateTable(ctx, "users", []core.Column{
//	    {Name: "id", Type: core.TypeInteger, Unique: true},
//	    {Name: "email", Type: core.TypeVarchar, MaxLength: &maxLen, Nullable: true},
//	})
//
// # Importing
//
// Imports are request/response. The flow is:
//
//  1. The reader is wrapped with BOM skipping and UTF-8 sanitization
//  2. The CSV is parsed strictly; malformed quoting fails with [ParseError]
//  3. The mapping is checked against the header and schema ([MappingError])
//  4. Rows are type-checked in parallel, then a single pass applies unique
//     constraints in row order
//  5. Accepted rows are written as one batch that readers see atomically
//
// Rejected rows never abort the import; they come back in
// [ImportResult.Errors] sorted by row.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - SCH001-SCH002: Table definition errors
//   - TBL001: Unknown table
//   - MAP001: Column mapping errors
//   - RATE001: Request throttling
//   - FILE001-FILE005: File errors (size, format, empty)
//   - IMP001-IMP003: Import errors (busy, cancelled, timeout)
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
package core
