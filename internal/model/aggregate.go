package model

import (
	"context"
	"fmt"

	"pg-engine/internal/filter"
	"pg-engine/internal/sqltype"
	"pg-engine/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

type aggregateColumn struct {
	fn     string
	column string
}

// Aggregate computes COUNT(*) and the requested per-column aggregates in a
// single query. Sum and Avg accept numeric columns only.
func (t *Table) Aggregate(ctx context.Context, where filter.Predicate, req AggregateRequest) (res AggregateResult, err error) {
	ctx, span := t.startSpan(ctx, "model.aggregate")
	defer func() { t.endSpan(span, err) }()

	var columns []aggregateColumn
	add := func(fn string, names []string, numeric bool) error {
		for _, name := range names {
			col, ok := t.meta.Column(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
			}
			if numeric && sqltype.Classify(col.Type) != sqltype.FamilyNumber {
				return fmt.Errorf("%s(%s): column is not numeric", fn, name)
			}
			columns = append(columns, aggregateColumn{fn: fn, column: name})
		}
		return nil
	}
	if err := add("sum", req.Sum, true); err != nil {
		return res, err
	}
	if err := add("avg", req.Avg, true); err != nil {
		return res, err
	}
	if err := add("min", req.Min, false); err != nil {
		return res, err
	}
	if err := add("max", req.Max, false); err != nil {
		return res, err
	}

	selects := make([]string, 0, len(columns)+1)
	selects = append(selects, "COUNT(*)")
	for _, c := range columns {
		selects = append(selects, fmt.Sprintf("%s(%s)", c.fn, sqlutil.QuoteIdentifier(c.column)))
	}
	builder := sq.Select(selects...).From(t.from()).PlaceholderFormat(sq.Dollar)
	cond, err := t.where(where)
	if err != nil {
		return res, err
	}
	if cond != nil {
		builder = builder.Where(cond)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return res, err
	}

	rows, err := t.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return res, t.effects.after(ctx, t.meta.Table, OpSelect, nil, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return res, rows.Err()
	}
	values := make([]any, len(columns))
	dests := make([]any, len(columns)+1)
	dests[0] = &res.Count
	for i := range values {
		dests[i+1] = &values[i]
	}
	if err := rows.Scan(dests...); err != nil {
		return res, err
	}

	for i, c := range columns {
		target := res.bucket(c.fn)
		col, _ := t.meta.Column(c.column)
		target[c.column] = convertValue(col.Type, values[i])
	}
	return res, rows.Err()
}

func (r *AggregateResult) bucket(fn string) map[string]any {
	var m *map[string]any
	switch fn {
	case "sum":
		m = &r.Sum
	case "avg":
		m = &r.Avg
	case "min":
		m = &r.Min
	default:
		m = &r.Max
	}
	if *m == nil {
		*m = map[string]any{}
	}
	return *m
}
