package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvschema/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog stores table definitions in table_schemas.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a Catalog over pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) Insert(ctx context.Context, schema core.TableSchema) error {
	cols, err := json.Marshal(schema.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}

	_, err = c.pool.Exec(ctx,
		`INSERT INTO table_schemas (name, columns) VALUES ($1, $2)`,
		schema.Name, cols)
	if hasCode(err, codeUniqueViolation) {
		return core.ErrTableExists
	}
	if err != nil {
		return fmt.Errorf("insert table schema: %w", err)
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, name string) (core.TableSchema, error) {
	var raw []byte
	err := c.pool.QueryRow(ctx,
		`SELECT columns FROM table_schemas WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.TableSchema{}, &core.NotFoundError{Table: name}
	}
	if err != nil {
		return core.TableSchema{}, fmt.Errorf("get table schema: %w", err)
	}
	return decodeSchema(name, raw)
}

func (c *Catalog) List(ctx context.Context) ([]core.TableSchema, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT name, columns FROM table_schemas ORDER BY created_seq`)
	if err != nil {
		return nil, fmt.Errorf("list table schemas: %w", err)
	}
	defer rows.Close()

	schemas := make([]core.TableSchema, 0)
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan table schema: %w", err)
		}
		schema, err := decodeSchema(name, raw)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

func (c *Catalog) Delete(ctx context.Context, name string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM table_schemas WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete table schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NotFoundError{Table: name}
	}
	return nil
}

func decodeSchema(name string, raw []byte) (core.TableSchema, error) {
	var cols []core.Column
	if err := json.Unmarshal(raw, &cols); err != nil {
		return core.TableSchema{}, fmt.Errorf("decode columns of %s: %w", name, err)
	}
	return core.TableSchema{Name: name, Columns: cols}, nil
}
