package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps rows in one physical table per registered table under the
// userdata schema. Column i of the definition is stored as c<i>, so user
// column names never reach SQL. row_id preserves insertion order.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateTable(ctx context.Context, schema core.TableSchema) error {
	defs := make([]string, 0, len(schema.Columns)+1)
	defs = append(defs, "row_id BIGSERIAL PRIMARY KEY")
	for i, col := range schema.Columns {
		def := physicalColumn(i) + " " + sqlType(col)
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		dataTable(schema.Name), strings.Join(defs, ",\n\t"))
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", schema.Name, err)
	}
	return nil
}

// InsertRows copies the batch in a single transaction. The advisory lock
// serializes writers to one table across processes.
func (s *Store) InsertRows(ctx context.Context, schema core.TableSchema, rows []core.StoredRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schema.Name); err != nil {
		return fmt.Errorf("lock table %s: %w", schema.Name, err)
	}

	cols := make([]string, len(schema.Columns))
	for i := range schema.Columns {
		cols[i] = physicalColumn(i)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{dataSchema, schema.Name},
		cols,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			vals := make([]any, len(schema.Columns))
			for j, col := range schema.Columns {
				vals[j] = rows[i][col.Name].SQLValue()
			}
			return vals, nil
		}),
	)
	if err != nil {
		return s.tableError(schema.Name, "copy rows into", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+dataTable(table)).Scan(&n)
	if err != nil {
		return 0, s.tableError(table, "count rows of", err)
	}
	return n, nil
}

// GetPage reads the count and the window in one REPEATABLE READ
// transaction so a concurrent insert cannot land between them.
func (s *Store) GetPage(ctx context.Context, schema core.TableSchema, limit, offset int) ([]core.StoredRow, int64, error) {
	if offset < 0 {
		offset = 0
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("begin page read: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM "+dataTable(schema.Name)).Scan(&total); err != nil {
		return nil, 0, s.tableError(schema.Name, "count rows of", err)
	}
	if limit <= 0 {
		return []core.StoredRow{}, total, nil
	}

	query := selectRows(schema) + " LIMIT $1 OFFSET $2"
	rows, err := s.queryRows(ctx, tx, schema, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit page read: %w", err)
	}
	return rows, total, nil
}

func (s *Store) GetAll(ctx context.Context, schema core.TableSchema) ([]core.StoredRow, error) {
	return s.queryRows(ctx, s.pool, schema, selectRows(schema))
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) UniqueKeys(ctx context.Context, schema core.TableSchema, column string) (map[string]struct{}, error) {
	idx := -1
	for i, c := range schema.Columns {
		if c.Name == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("table %s has no column %q", schema.Name, column)
	}
	col := schema.Columns[idx]

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %[1]s::text FROM %[2]s WHERE %[1]s IS NOT NULL",
		physicalColumn(idx), dataTable(schema.Name)))
	if err != nil {
		return nil, s.tableError(schema.Name, "read keys of", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var raw pgtype.Text
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		v, err := decodeValue(col, raw)
		if err != nil {
			return nil, err
		}
		keys[v.Key()] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, s.tableError(schema.Name, "read keys of", err)
	}
	return keys, nil
}

func (s *Store) DeleteTable(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+dataTable(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

func (s *Store) queryRows(ctx context.Context, q querier, schema core.TableSchema, query string, args ...any) ([]core.StoredRow, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, s.tableError(schema.Name, "read rows of", err)
	}
	defer rows.Close()

	out := make([]core.StoredRow, 0)
	raw := make([]pgtype.Text, len(schema.Columns))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(core.StoredRow, len(schema.Columns))
		for i, col := range schema.Columns {
			v, err := decodeValue(col, raw[i])
			if err != nil {
				return nil, err
			}
			row[col.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.tableError(schema.Name, "read rows of", err)
	}
	return out, nil
}

// tableError turns a missing physical table into *core.NotFoundError.
func (s *Store) tableError(table, op string, err error) error {
	if hasCode(err, codeUndefinedTable) {
		return &core.NotFoundError{Table: table}
	}
	return fmt.Errorf("%s table %s: %w", op, table, err)
}

// selectRows reads every column as text in insertion order.
func selectRows(schema core.TableSchema) string {
	cols := make([]string, len(schema.Columns))
	for i := range schema.Columns {
		cols[i] = physicalColumn(i) + "::text"
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY row_id",
		strings.Join(cols, ", "), dataTable(schema.Name))
}

// decodeValue rebuilds a typed value from its PostgreSQL text output.
func decodeValue(col core.Column, raw pgtype.Text) (core.Value, error) {
	if !raw.Valid {
		return core.NullValue(col.Type), nil
	}
	switch col.Type {
	case core.TypeVarchar, core.TypeText:
		return core.Value{Type: col.Type, Data: raw}, nil
	}

	lenient := col
	lenient.Nullable = true
	v, err := core.Validate(lenient, raw.String)
	if err != nil {
		var ce *core.CellError
		if errors.As(err, &ce) {
			return core.Value{}, fmt.Errorf("stored value %q in column %s: %s", raw.String, col.Name, ce.Reason)
		}
		return core.Value{}, err
	}
	return v, nil
}

func physicalColumn(i int) string {
	return fmt.Sprintf("c%d", i)
}

func sqlType(col core.Column) string {
	switch col.Type {
	case core.TypeInteger:
		return "BIGINT"
	case core.TypeDecimal:
		return "NUMERIC"
	case core.TypeBoolean:
		return "BOOLEAN"
	case core.TypeDate:
		return "DATE"
	case core.TypeTimestamp:
		return "TIMESTAMP"
	case core.TypeVarchar:
		if col.MaxLength != nil {
			return fmt.Sprintf("VARCHAR(%d)", *col.MaxLength)
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}
