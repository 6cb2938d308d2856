package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var tableNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Catalog persists table definitions. Implementations return *NotFoundError
// for unknown names and ErrTableExists when inserting a duplicate name.
type Catalog interface {
	Insert(ctx context.Context, schema TableSchema) error
	Get(ctx context.Context, name string) (TableSchema, error)
	List(ctx context.Context) ([]TableSchema, error) // creation order
	Delete(ctx context.Context, name string) error
}

// Registry owns table definitions. Creating a table provisions its storage
// and dropping it cascades to the stored rows.
type Registry struct {
	catalog Catalog
	store   Store

	mu sync.Mutex // serializes create/drop
}

// NewRegistry creates a registry over catalog whose tables live in store.
func NewRegistry(catalog Catalog, store Store) *Registry {
	return &Registry{catalog: catalog, store: store}
}

// CreateTable validates and registers a new table.
func (r *Registry) CreateTable(ctx context.Context, name string, columns []Column) (TableSchema, error) {
	schema := TableSchema{Name: name, Columns: cloneColumns(columns)}
	if err := ValidateSchema(schema); err != nil {
		return TableSchema{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.catalog.Insert(ctx, schema); err != nil {
		if errors.Is(err, ErrTableExists) {
			return TableSchema{}, &SchemaError{Table: name, Reason: "a table with this name already exists", Err: ErrTableExists}
		}
		return TableSchema{}, fmt.Errorf("register table %s: %w", name, err)
	}

	if err := r.store.CreateTable(ctx, schema); err != nil {
		if delErr := r.catalog.Delete(ctx, name); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return TableSchema{}, fmt.Errorf("provision table %s: %w", name, err)
	}

	return schema, nil
}

// GetSchema returns the definition of name or *NotFoundError.
func (r *Registry) GetSchema(ctx context.Context, name string) (TableSchema, error) {
	return r.catalog.Get(ctx, name)
}

// ListTables returns table names in creation order.
func (r *Registry) ListTables(ctx context.Context) ([]string, error) {
	schemas, err := r.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	return names, nil
}

// DropTable removes the table and all of its rows.
func (r *Registry) DropTable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.catalog.Get(ctx, name); err != nil {
		return err
	}
	if err := r.store.DeleteTable(ctx, name); err != nil {
		return fmt.Errorf("delete rows of %s: %w", name, err)
	}
	return r.catalog.Delete(ctx, name)
}

// ValidateSchema checks a table definition and returns a *SchemaError
// describing the first problem found.
func ValidateSchema(s TableSchema) error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Name,
			validation.Required.Error("table name must not be empty"),
			validation.Length(1, MaxTableNameLength).Error(fmt.Sprintf("table name must be at most %d characters", MaxTableNameLength)),
			validation.Match(tableNameRegex).Error("table name must start with a letter or underscore and contain only letters, digits and underscores"),
		),
		validation.Field(&s.Columns,
			validation.Required.Error("table must have at least one column"),
			validation.Skip,
		),
	)
	if err != nil {
		return &SchemaError{Table: s.Name, Reason: firstReason(err)}
	}

	seen := make(map[string]bool, len(s.Columns))
	for i, col := range s.Columns {
		if err := col.Validate(); err != nil {
			label := col.Name
			if strings.TrimSpace(label) == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			return &SchemaError{Table: s.Name, Reason: fmt.Sprintf("column %s: %s", label, firstReason(err))}
		}
		if seen[col.Name] {
			return &SchemaError{Table: s.Name, Reason: fmt.Sprintf("duplicate column name %q", col.Name)}
		}
		seen[col.Name] = true
	}
	return nil
}

// Validate checks a single column definition.
func (c Column) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name,
			validation.By(columnName),
		),
		validation.Field(&c.Type,
			validation.Required.Error("type is required"),
			validation.In(columnTypeValues()...).Error("unsupported type, expected one of "+columnTypeList()),
		),
		validation.Field(&c.MaxLength,
			validation.When(c.Type == TypeVarchar,
				validation.NotNil.Error("varchar columns require max_length"),
				validation.Required.Error(fmt.Sprintf("max_length must be between %d and %d", MinVarcharLength, MaxVarcharLength)),
				validation.Min(MinVarcharLength).Error(fmt.Sprintf("max_length must be between %d and %d", MinVarcharLength, MaxVarcharLength)),
				validation.Max(MaxVarcharLength).Error(fmt.Sprintf("max_length must be between %d and %d", MinVarcharLength, MaxVarcharLength)),
			).Else(
				validation.Nil.Error("max_length is only allowed for varchar columns"),
			),
		),
	)
}

// columnName rejects blank names and names with surrounding whitespace,
// which no trimmed CSV header can match.
func columnName(value interface{}) error {
	s, _ := value.(string)
	switch {
	case strings.TrimSpace(s) == "":
		return errors.New("column name must not be blank")
	case strings.TrimSpace(s) != s:
		return errors.New("column name must not start or end with whitespace")
	}
	return nil
}

func columnTypeValues() []interface{} {
	out := make([]interface{}, len(ColumnTypes))
	for i, t := range ColumnTypes {
		out[i] = t
	}
	return out
}

func columnTypeList() string {
	names := make([]string, len(ColumnTypes))
	for i, t := range ColumnTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// firstReason flattens an ozzo error into one message, preferring a
// deterministic field order.
func firstReason(err error) string {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	for _, key := range []string{"name", "type", "max_length", "columns"} {
		if e, ok := errs[key]; ok && e != nil {
			return e.Error()
		}
	}
	return err.Error()
}

func cloneColumns(columns []Column) []Column {
	out := make([]Column, len(columns))
	for i, c := range columns {
		out[i] = c
		if c.MaxLength != nil {
			n := *c.MaxLength
			out[i].MaxLength = &n
		}
	}
	return out
}
