// Package introspection reads table metadata for one Postgres schema from
// information_schema: tables, columns, primary keys, unique and foreign key
// constraints, and enum labels.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Column represents a table column.
type Column struct {
	Name string
	// Type is information_schema data_type, except arrays which carry the
	// element udt name with a "[]" suffix ("_int4[]").
	Type          string
	UDTName       string
	Nullable      bool
	DefaultValue  string
	HasDefault    bool
	Primary       bool
	Unique        bool
	AutoIncrement bool
	Foreign       bool
	EnumValues    []string
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	ConstraintName   string
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
	OrdinalPosition  int
}

// Table represents a base table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Schema is the introspected content of one database schema.
type Schema struct {
	Name   string
	Tables []Table
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options tunes an introspection run.
type Options struct {
	// Concurrency bounds how many tables load at once. Zero means 4.
	Concurrency int
	// Logger receives soft failures. Nil uses slog.Default.
	Logger *slog.Logger
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return 4
	}
	return o.Concurrency
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// IntrospectSchema loads every base table of schemaName. Any failed catalog
// query fails the whole run.
func IntrospectSchema(ctx context.Context, db Queryer, schemaName string, opts Options) (*Schema, error) {
	return introspect(ctx, db, schemaName, opts, nil)
}

// SoftFailure is a catalog query failure IntrospectSchemaSoft swallowed.
type SoftFailure struct {
	Stage string
	Table string
	Err   error
}

// IntrospectSchemaSoft loads the schema like IntrospectSchema but replaces
// every failed catalog query with an empty list and logs it. A failure to
// list tables yields a schema with no tables, so the engine can start with
// zero models. The swallowed failures are returned for metrics.
func IntrospectSchemaSoft(ctx context.Context, db Queryer, schemaName string, opts Options) (*Schema, []SoftFailure) {
	var (
		mu       sync.Mutex
		failures []SoftFailure
	)
	logger := opts.logger()
	// With a soft handler introspect reports every failure through it.
	schema, _ := introspect(ctx, db, schemaName, opts, func(stage, table string, err error) {
		logger.Warn("introspection query failed, continuing with empty result",
			slog.String("stage", stage),
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		mu.Lock()
		failures = append(failures, SoftFailure{Stage: stage, Table: table, Err: err})
		mu.Unlock()
	})
	return schema, failures
}

type softHandler func(stage, table string, err error)

func introspect(ctx context.Context, db Queryer, schemaName string, opts Options, soft softHandler) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.schema", schemaName),
	)
	defer span.End()

	schema := &Schema{Name: schemaName, Tables: []Table{}}

	names, err := getTables(ctx, db, schemaName)
	if err != nil {
		recordSpanError(span, err)
		if soft == nil {
			return nil, fmt.Errorf("failed to get tables: %w", err)
		}
		soft("tables", "", err)
		return schema, nil
	}

	enums, err := getEnumValues(ctx, db, schemaName)
	if err != nil {
		if soft == nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get enum values: %w", err)
		}
		soft("enums", "", err)
		enums = map[string][]string{}
	}

	tables := make([]Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	for i, name := range names {
		g.Go(func() error {
			table, err := loadTable(gctx, db, schemaName, name, enums, soft)
			if err != nil {
				return err
			}
			tables[i] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	schema.Tables = tables
	span.SetAttributes(attribute.Int("db.table_count", len(tables)))
	return schema, nil
}

func loadTable(ctx context.Context, db Queryer, schemaName, tableName string, enums map[string][]string, soft softHandler) (Table, error) {
	ctx, span := startSpan(ctx, "introspection.table",
		attribute.String("db.schema", schemaName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	table := Table{Name: tableName}
	fail := func(stage string, err error) error {
		recordSpanError(span, err)
		if soft == nil {
			return fmt.Errorf("failed to get %s for %s: %w", stage, tableName, err)
		}
		soft(stage, tableName, err)
		return nil
	}

	columns, err := getColumns(ctx, db, schemaName, tableName)
	if err != nil {
		if ferr := fail("columns", err); ferr != nil {
			return Table{}, ferr
		}
		columns = []Column{}
	}

	primaryKeys, err := getPrimaryKeys(ctx, db, schemaName, tableName)
	if err != nil {
		if ferr := fail("primary keys", err); ferr != nil {
			return Table{}, ferr
		}
		primaryKeys = map[string]bool{}
	}

	uniques, err := getUniqueColumns(ctx, db, schemaName, tableName)
	if err != nil {
		if ferr := fail("unique columns", err); ferr != nil {
			return Table{}, ferr
		}
		uniques = map[string]bool{}
	}

	foreignKeys, err := getForeignKeys(ctx, db, schemaName, tableName)
	if err != nil {
		if ferr := fail("foreign keys", err); ferr != nil {
			return Table{}, ferr
		}
		foreignKeys = []ForeignKey{}
	}

	foreign := make(map[string]bool, len(foreignKeys))
	for _, fk := range foreignKeys {
		foreign[fk.ColumnName] = true
	}

	for i := range columns {
		col := &columns[i]
		if autoIncrement, ok := primaryKeys[col.Name]; ok {
			col.Primary = true
			col.AutoIncrement = autoIncrement
		}
		col.Unique = uniques[col.Name]
		col.Foreign = foreign[col.Name]
		if values, ok := enums[col.UDTName]; ok {
			col.EnumValues = values
		}
	}

	table.Columns = columns
	table.ForeignKeys = foreignKeys
	return table, nil
}

func getTables(ctx context.Context, db Queryer, schemaName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, tablesQuery, schemaName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func getColumns(ctx context.Context, db Queryer, schemaName, tableName string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns := []Column{}
	for rows.Next() {
		var (
			name, dataType, udtName, isNullable string
			columnDefault                       sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &udtName, &isNullable, &columnDefault); err != nil {
			return nil, err
		}
		colType := dataType
		if strings.EqualFold(dataType, "ARRAY") {
			colType = udtName + "[]"
		}
		columns = append(columns, Column{
			Name:         name,
			Type:         colType,
			UDTName:      udtName,
			Nullable:     !strings.EqualFold(isNullable, "NO"),
			DefaultValue: columnDefault.String,
			HasDefault:   columnDefault.Valid,
		})
	}
	return columns, rows.Err()
}

// getPrimaryKeys maps each key column to its auto-increment flag.
func getPrimaryKeys(ctx context.Context, db Queryer, schemaName, tableName string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, primaryKeysQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	keys := make(map[string]bool)
	for rows.Next() {
		var name string
		var autoIncrement bool
		if err := rows.Scan(&name, &autoIncrement); err != nil {
			return nil, err
		}
		keys[name] = autoIncrement
	}
	return keys, rows.Err()
}

func getUniqueColumns(ctx context.Context, db Queryer, schemaName, tableName string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, uniqueColumnsQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	uniques := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		uniques[name] = true
	}
	return uniques, rows.Err()
}

func getForeignKeys(ctx context.Context, db Queryer, schemaName, tableName string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, foreignKeysQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	fks := []ForeignKey{}
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintName, &fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.OrdinalPosition); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func getEnumValues(ctx context.Context, db Queryer, schemaName string) (map[string][]string, error) {
	rows, err := db.QueryContext(ctx, enumValuesQuery, schemaName)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	enums := make(map[string][]string)
	for rows.Next() {
		var typeName, label string
		if err := rows.Scan(&typeName, &label); err != nil {
			return nil, err
		}
		enums[typeName] = append(enums[typeName], label)
	}
	return enums, rows.Err()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("pg-engine/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
