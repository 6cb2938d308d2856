package core

// ingest.go is the import pipeline shared by CSV and XLSX uploads.
//
// Flow: acquire an import slot, resolve the schema, parse the payload,
// resolve the header mapping, validate rows in parallel, then under the
// table lock run the unique pass in row order and persist the accepted
// rows as one batch. Parse and mapping problems abort before any row is
// looked at; row problems are collected into the ImportResult.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvschema/internal/logging"
	"github.com/JonMunkholm/csvschema/internal/metrics"
)

// validateChunkSize is the number of rows one validation task handles.
const validateChunkSize = 512

// Warning texts returned in ImportResult.Warnings.
const (
	warnNoDataRows   = "file contains no data rows"
	warnUnmappedFmt  = "column %s has no mapped header and will be left empty"
	warnUnusedKeyFmt = "mapping for %q ignored: header not present in file"
)

// parseFunc reads a payload into a header and data rows.
type parseFunc func(io.Reader) (header []string, rows [][]string, err error)

// ImportCSV imports comma-separated content into an existing table.
//
// A nil mapping maps every header to the column of the same name. The
// returned error is non-nil only when nothing was imported because of a
// precondition: unknown table, malformed file, invalid mapping, no import
// slot, or a storage failure.
func (s *Service) ImportCSV(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	return s.runImport(ctx, req, FormatCSV, ReadCSV)
}

// ImportXLSX imports the first sheet of a workbook into an existing table.
// It follows the same rules as ImportCSV.
func (s *Service) ImportXLSX(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	return s.runImport(ctx, req, FormatXLSX, ReadXLSX)
}

func (s *Service) runImport(ctx context.Context, req ImportRequest, format FileFormat, parse parseFunc) (*ImportResult, error) {
	start := s.clock.Now()
	log := logging.WithFields(ctx,
		"table", req.Table,
		"file", req.FileName,
		"format", format,
		"dry_run", req.DryRun,
	)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var counter *CountingReader
	fail := func(reason string, err error) (*ImportResult, error) {
		metrics.RecordImportFailure(string(format), reason)
		attrs := []any{"reason", reason, "error", err}
		if counter != nil {
			attrs = append(attrs, "bytes", counter.BytesRead, "progress", counter.Progress())
		}
		// Malformed files and bad mappings are client errors.
		if IsStructural(err) {
			log.Info("import rejected", attrs...)
		} else {
			log.Warn("import aborted", attrs...)
		}
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return fail("limit", err)
	}
	defer s.limiter.Release()
	metrics.ImportsInFlight.Inc()
	defer metrics.ImportsInFlight.Dec()

	schema, err := s.registry.GetSchema(ctx, req.Table)
	if err != nil {
		return fail(failureReason(err), err)
	}

	if req.Content == nil {
		return fail("parse", &ParseError{Err: errEmptyFile})
	}
	var content io.Reader
	content, counter = WrapForImport(req.Content, req.Size)
	header, records, err := parse(content)
	if err != nil {
		return fail(failureReason(err), err)
	}

	mapping := req.Mapping
	if mapping == nil {
		mapping = IdentityMapping(header)
	}
	plan, err := resolveMapping(schema, header, mapping)
	if err != nil {
		return fail("mapping", err)
	}

	outcomes, err := s.validateRows(ctx, plan, records, len(header))
	if err != nil {
		return fail(failureReason(err), err)
	}

	staged, rowErrs, err := s.commit(ctx, schema, outcomes, req.DryRun)
	if err != nil {
		return fail(failureReason(err), err)
	}

	sort.SliceStable(rowErrs, func(i, j int) bool { return rowErrs[i].Row < rowErrs[j].Row })

	warnings := plan.warnings
	if len(records) == 0 {
		warnings = append(warnings, warnNoDataRows)
	}

	result := &ImportResult{
		Success:      len(rowErrs) == 0,
		RowsImported: staged,
		Errors:       rowErrs,
		Warnings:     warnings,
		Message:      resultMessage(staged, len(records), req.DryRun),
		DryRun:       req.DryRun,
	}

	elapsed := s.clock.Since(start)
	status := statusFor(staged, len(rowErrs))
	if req.DryRun {
		metrics.RecordImport(string(format), "dry_run", staged, len(rowErrs), elapsed)
	} else {
		metrics.RecordImport(string(format), string(status), staged, len(rowErrs), elapsed)
		s.recordHistory(ctx, log, ImportRecord{
			ID:           uuid.NewString(),
			TableName:    schema.Name,
			FileName:     req.FileName,
			Format:       format,
			RowsImported: staged,
			RowsRejected: len(rowErrs),
			Status:       status,
			DurationMs:   elapsed.Milliseconds(),
			CreatedAt:    s.clock.Now().UTC(),
		})
	}

	log.Info("import completed",
		"rows", len(records),
		"imported", staged,
		"rejected", len(rowErrs),
		"bytes", counter.BytesRead,
		"duration", elapsed.Round(time.Millisecond),
	)
	return result, nil
}

// commit runs the unique pass and persists the accepted rows while holding
// the table lock, so concurrent imports into one table cannot both accept
// the same unique value.
func (s *Service) commit(ctx context.Context, schema TableSchema, outcomes []rowOutcome, dryRun bool) (int, []ValidationError, error) {
	unlock := s.locks.lock(schema.Name)
	defer unlock()

	// The table may have been dropped, or dropped and recreated with other
	// columns, while rows were validated.
	current, err := s.registry.GetSchema(ctx, schema.Name)
	if err != nil {
		return 0, nil, err
	}
	if !reflect.DeepEqual(current, schema) {
		return 0, nil, &NotFoundError{Table: schema.Name}
	}

	staged, rowErrs, err := s.applyUnique(ctx, schema, outcomes)
	if err != nil {
		return 0, nil, err
	}

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if !dryRun && len(staged) > 0 {
		if err := s.store.InsertRows(ctx, schema, staged); err != nil {
			return 0, nil, fmt.Errorf("insert rows into %s: %w", schema.Name, err)
		}
	}
	return len(staged), rowErrs, nil
}

func (s *Service) recordHistory(ctx context.Context, log *slog.Logger, rec ImportRecord) {
	// Rows are already committed; a history failure is logged, not returned.
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record import history", "import_id", rec.ID, "error", err)
	}
}

func resultMessage(imported, total int, dryRun bool) string {
	rejected := total - imported
	switch {
	case dryRun && rejected == 0:
		return fmt.Sprintf("All %d rows are valid", total)
	case dryRun:
		return fmt.Sprintf("%d of %d rows are valid; %d would be rejected", imported, total, rejected)
	case rejected == 0:
		return fmt.Sprintf("Imported %d rows", imported)
	default:
		return fmt.Sprintf("Imported %d of %d rows; %d rejected", imported, total, rejected)
	}
}

// failureReason classifies an aborting error for metrics.
func failureReason(err error) string {
	var (
		nf *NotFoundError
		pe *ParseError
		me *MappingError
	)
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &me):
		return "mapping"
	case errors.Is(err, ErrTooManyImports):
		return "limit"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "storage"
	}
}

// ----------------------------------------------------------------------------
// Mapping
// ----------------------------------------------------------------------------

// planColumn binds a file column to its target schema column.
type planColumn struct {
	index  int
	header string
	column Column
}

// mappingPlan is a resolved, validated mapping for one file.
type mappingPlan struct {
	targets  []planColumn // file order
	unset    []Column     // nullable schema columns with no header
	warnings []string
}

// resolveMapping checks header and mapping against the schema. Every header
// must map to a distinct existing column, and every column without a header
// must be nullable.
func resolveMapping(schema TableSchema, header []string, mapping ColumnMapping) (mappingPlan, error) {
	plan := mappingPlan{warnings: []string{}}

	seenHeader := make(map[string]bool, len(header))
	usedBy := make(map[string]string, len(header))

	for i, h := range header {
		if h == "" {
			return plan, &MappingError{Reason: fmt.Sprintf("header in column %d is blank", i+1)}
		}
		if seenHeader[h] {
			return plan, &MappingError{Header: h, Reason: fmt.Sprintf("header %q appears more than once", h)}
		}
		seenHeader[h] = true

		target, ok := mapping[h]
		if !ok {
			return plan, &MappingError{Header: h, Reason: fmt.Sprintf("header %q is not mapped to a column", h)}
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return plan, &MappingError{Header: h, Reason: fmt.Sprintf("header %q maps to an empty column name", h)}
		}
		col, ok := schema.Column(target)
		if !ok {
			return plan, &MappingError{Header: h, Column: target,
				Reason: fmt.Sprintf("header %q maps to unknown column %q", h, target)}
		}
		if prev, dup := usedBy[target]; dup {
			return plan, &MappingError{Header: h, Column: target,
				Reason: fmt.Sprintf("headers %q and %q both map to column %q", prev, h, target)}
		}
		usedBy[target] = h

		plan.targets = append(plan.targets, planColumn{index: i, header: h, column: col})
	}

	// Keys for headers absent from the file are tolerated but their targets
	// must still name real columns.
	extra := make([]string, 0)
	for key := range mapping {
		if !seenHeader[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		target := strings.TrimSpace(mapping[key])
		if _, ok := schema.Column(target); !ok {
			return plan, &MappingError{Header: key, Column: target,
				Reason: fmt.Sprintf("mapping for %q targets unknown column %q", key, target)}
		}
		plan.warnings = append(plan.warnings, fmt.Sprintf(warnUnusedKeyFmt, key))
	}

	for _, col := range schema.Columns {
		if _, ok := usedBy[col.Name]; ok {
			continue
		}
		if !col.Nullable {
			return plan, &MappingError{Column: col.Name,
				Reason: fmt.Sprintf("column %s is required but no header maps to it", col.Name)}
		}
		plan.unset = append(plan.unset, col)
		plan.warnings = append(plan.warnings, fmt.Sprintf(warnUnmappedFmt, col.Name))
	}

	return plan, nil
}

// ----------------------------------------------------------------------------
// Row validation
// ----------------------------------------------------------------------------

// rowOutcome is the result of validating one data row. Exactly one of row
// and err is set.
type rowOutcome struct {
	row StoredRow
	err *ValidationError
}

// validateRows type-checks every record in parallel. Results are indexed by
// record position so no ordering is lost.
func (s *Service) validateRows(ctx context.Context, plan mappingPlan, records [][]string, width int) ([]rowOutcome, error) {
	outcomes := make([]rowOutcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for start := 0; start < len(records); start += validateChunkSize {
		end := min(start+validateChunkSize, len(records))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				outcomes[i] = validateRow(plan, records[i], width, i+1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// validateRow checks the mapped cells of one record in file order and stops
// at the first failing cell.
func validateRow(plan mappingPlan, rec []string, width, rowNum int) rowOutcome {
	if len(rec) > width {
		return rowOutcome{err: &ValidationError{
			Row:          rowNum,
			Reason:       fmt.Sprintf("row has %d fields, expected %d", len(rec), width),
			SuggestedFix: "remove the extra fields or quote values that contain commas",
		}}
	}

	row := make(StoredRow, len(plan.targets)+len(plan.unset))
	for _, t := range plan.targets {
		raw := ""
		if t.index < len(rec) {
			raw = rec[t.index]
		}
		v, err := Validate(t.column, raw)
		if err != nil {
			var ce *CellError
			if errors.As(err, &ce) {
				return rowOutcome{err: &ValidationError{
					Row:          rowNum,
					Column:       ce.Column,
					Value:        ce.Value,
					Reason:       ce.Reason,
					SuggestedFix: ce.Fix,
				}}
			}
			return rowOutcome{err: &ValidationError{Row: rowNum, Column: t.column.Name, Reason: err.Error()}}
		}
		row[t.column.Name] = v
	}
	for _, col := range plan.unset {
		row[col.Name] = NullValue(col.Type)
	}
	return rowOutcome{row: row}
}

// applyUnique walks outcomes in row order and rejects rows whose unique
// values collide with stored rows or with rows accepted earlier in the
// batch. NULL never collides.
func (s *Service) applyUnique(ctx context.Context, schema TableSchema, outcomes []rowOutcome) ([]StoredRow, []ValidationError, error) {
	var uniqueCols []Column
	for _, c := range schema.Columns {
		if c.Unique {
			uniqueCols = append(uniqueCols, c)
		}
	}

	seen := make(map[string]map[string]struct{}, len(uniqueCols))
	for _, c := range uniqueCols {
		keys, err := s.store.UniqueKeys(ctx, schema, c.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("load unique keys for %s.%s: %w", schema.Name, c.Name, err)
		}
		seen[c.Name] = keys
	}

	staged := make([]StoredRow, 0, len(outcomes))
	rowErrs := make([]ValidationError, 0)

rows:
	for i, o := range outcomes {
		if o.err != nil {
			rowErrs = append(rowErrs, *o.err)
			continue
		}

		for _, c := range uniqueCols {
			v := o.row[c.Name]
			if v.IsNull() {
				continue
			}
			if _, dup := seen[c.Name][v.Key()]; dup {
				ce := duplicateError(c, v.String())
				rowErrs = append(rowErrs, ValidationError{
					Row:          i + 1,
					Column:       ce.Column,
					Value:        ce.Value,
					Reason:       ce.Reason,
					SuggestedFix: ce.Fix,
				})
				continue rows
			}
		}

		for _, c := range uniqueCols {
			if v := o.row[c.Name]; !v.IsNull() {
				seen[c.Name][v.Key()] = struct{}{}
			}
		}
		staged = append(staged, o.row)
	}

	return staged, rowErrs, nil
}
