package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/filter"
	"pg-engine/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrUnknownColumn reports a write naming a column the table lacks.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrUnknownRelation reports an include naming an undeclared alias.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrInvalidPredicate wraps where-compilation failures.
	ErrInvalidPredicate = errors.New("invalid predicate")
	// ErrNoValues reports an update without columns to set.
	ErrNoValues = errors.New("no values to write")
)

// Table implements Model for one database table. The zero value is not
// usable; instances come from NewTable.
type Table struct {
	meta    *Meta
	catalog Catalog
	exec    dbexec.QueryExecutor
	filters filter.Set
	effects *Effects
}

var _ Model = (*Table)(nil)

// NewTable binds metadata to an executor. catalog resolves relation
// targets for includes and may be nil when no includes are used.
func NewTable(meta *Meta, catalog Catalog, exec dbexec.QueryExecutor, filters filter.Set, effects *Effects) *Table {
	return &Table{
		meta:    meta,
		catalog: catalog,
		exec:    exec,
		filters: filters,
		effects: effects,
	}
}

func (t *Table) Meta() *Meta         { return t.meta }
func (t *Table) Filters() filter.Set { return t.filters }

func (t *Table) from() string {
	return sqlutil.QualifiedTable(t.meta.Schema, t.meta.Table)
}

func (t *Table) returning() string {
	return "RETURNING " + strings.Join(selectList(t.meta.Columns), ", ")
}

func (t *Table) where(pred filter.Predicate) (sq.Sqlizer, error) {
	cond, err := filter.BuildWhere(pred, t.meta.ColumnTypes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPredicate, err)
	}
	return cond, nil
}

// Find returns the rows matching opts.
func (t *Table) Find(ctx context.Context, opts FindOptions) (rows []Row, err error) {
	ctx, span := t.startSpan(ctx, "model.find")
	defer func() { t.endSpan(span, err) }()

	rows, err = t.find(ctx, opts)
	if err == nil && len(opts.Include) > 0 {
		err = t.attachIncludes(ctx, rows, opts.Include)
	}
	if err != nil {
		return nil, t.effects.after(ctx, t.meta.Table, OpSelect, nil, err)
	}
	if err = t.effects.after(ctx, t.meta.Table, OpSelect, rows, nil); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Table) find(ctx context.Context, opts FindOptions) ([]Row, error) {
	builder := sq.Select(selectList(t.meta.Columns)...).
		From(t.from()).
		PlaceholderFormat(sq.Dollar)

	cond, err := t.where(opts.Where)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		builder = builder.Where(cond)
	}
	orderBy, err := t.orderBy(opts.OrderBy)
	if err != nil {
		return nil, err
	}
	if len(orderBy) > 0 {
		builder = builder.OrderBy(orderBy...)
	}
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}
	return t.query(ctx, builder)
}

// orderBy defaults to the identifier so pages are stable.
func (t *Table) orderBy(fields []string) ([]string, error) {
	if len(fields) == 0 {
		if t.meta.Identifier == "" {
			return nil, nil
		}
		return []string{sqlutil.QuoteIdentifier(t.meta.Identifier)}, nil
	}
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		name, dir := field, "ASC"
		if strings.HasPrefix(field, "-") {
			name, dir = field[1:], "DESC"
		}
		if _, ok := t.meta.Column(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		out = append(out, sqlutil.QuoteIdentifier(name)+" "+dir)
	}
	return out, nil
}

// FindOne returns the first matching row or nil.
func (t *Table) FindOne(ctx context.Context, where filter.Predicate, include []string) (Row, error) {
	rows, err := t.Find(ctx, FindOptions{Where: where, Limit: 1, Include: include})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of rows matching where.
func (t *Table) Count(ctx context.Context, where filter.Predicate) (count int64, err error) {
	ctx, span := t.startSpan(ctx, "model.count")
	defer func() { t.endSpan(span, err) }()

	builder := sq.Select("COUNT(*)").From(t.from()).PlaceholderFormat(sq.Dollar)
	cond, err := t.where(where)
	if err != nil {
		return 0, err
	}
	if cond != nil {
		builder = builder.Where(cond)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := t.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, t.effects.after(ctx, t.meta.Table, OpSelect, nil, err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, err
		}
	}
	return count, rows.Err()
}

// Create inserts one row and returns it as stored.
func (t *Table) Create(ctx context.Context, values map[string]any) (row Row, err error) {
	ctx, span := t.startSpan(ctx, "model.create")
	defer func() { t.endSpan(span, err) }()

	encoded, err := t.encode(values)
	if err != nil {
		return nil, err
	}

	var builder sq.Sqlizer
	if len(encoded) == 0 {
		builder = sq.Expr(fmt.Sprintf("INSERT INTO %s DEFAULT VALUES %s", t.from(), t.returning()))
	} else {
		builder = sq.Insert(t.from()).
			SetMap(encoded).
			Suffix(t.returning()).
			PlaceholderFormat(sq.Dollar)
	}

	rows, err := t.query(ctx, builder)
	if err != nil {
		return nil, t.effects.after(ctx, t.meta.Table, OpInsert, nil, err)
	}
	if err = t.effects.after(ctx, t.meta.Table, OpInsert, rows, nil); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Update sets values on every row matching where and returns the updated
// rows.
func (t *Table) Update(ctx context.Context, where filter.Predicate, values map[string]any) (rows []Row, err error) {
	ctx, span := t.startSpan(ctx, "model.update")
	defer func() { t.endSpan(span, err) }()

	encoded, err := t.encode(values)
	if err != nil {
		return nil, err
	}
	if len(encoded) == 0 {
		return nil, ErrNoValues
	}
	builder := sq.Update(t.from()).
		SetMap(encoded).
		Suffix(t.returning()).
		PlaceholderFormat(sq.Dollar)
	cond, err := t.where(where)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		builder = builder.Where(cond)
	}

	rows, err = t.query(ctx, builder)
	if err != nil {
		return nil, t.effects.after(ctx, t.meta.Table, OpUpdate, nil, err)
	}
	if err = t.effects.after(ctx, t.meta.Table, OpUpdate, rows, nil); err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes every row matching where and returns the removed rows.
func (t *Table) Delete(ctx context.Context, where filter.Predicate) (rows []Row, err error) {
	ctx, span := t.startSpan(ctx, "model.delete")
	defer func() { t.endSpan(span, err) }()

	builder := sq.Delete(t.from()).
		Suffix(t.returning()).
		PlaceholderFormat(sq.Dollar)
	cond, err := t.where(where)
	if err != nil {
		return nil, err
	}
	if cond != nil {
		builder = builder.Where(cond)
	}

	rows, err = t.query(ctx, builder)
	if err != nil {
		return nil, t.effects.after(ctx, t.meta.Table, OpDelete, nil, err)
	}
	if err = t.effects.after(ctx, t.meta.Table, OpDelete, rows, nil); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Table) encode(values map[string]any) (map[string]any, error) {
	encoded := make(map[string]any, len(values))
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		col, ok := t.meta.Column(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, key)
		}
		encoded[sqlutil.QuoteIdentifier(key)] = encodeValue(col, values[key])
	}
	return encoded, nil
}

func (t *Table) query(ctx context.Context, builder sq.Sqlizer) ([]Row, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := t.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows, t.meta)
}

func (t *Table) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("pg-engine/model").Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", t.meta.Table),
	))
}

func (t *Table) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
