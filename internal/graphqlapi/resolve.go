package graphqlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/filter"
	"pg-engine/internal/logging"
	"pg-engine/internal/model"
	"pg-engine/internal/validation"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/jackc/pgx/v5/pgconn"
)

// errUnfiltered refuses bulk mutations with an empty where.
var errUnfiltered = errors.New("refusing to touch every row: where must not be empty")

func asRow(source any) model.Row {
	switch v := source.(type) {
	case model.Row:
		return v
	case map[string]any:
		return v
	}
	return nil
}

// rowOrNil keeps a missing row a true nil so the field resolves to null.
func rowOrNil(row model.Row) any {
	if row == nil {
		return nil
	}
	return row
}

func resolveColumn(column string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		row := asRow(p.Source)
		if row == nil {
			return nil, nil
		}
		return row[column], nil
	}
}

// model returns the table model bound to the transaction of the request
// when there is one.
func (b *builder) model(ctx context.Context, table string) (model.Model, error) {
	m, ok := b.cfg.Engine.Model(table, dbexec.ForContext(ctx, b.cfg.Executor))
	if !ok {
		return nil, fmt.Errorf("model %s not found", table)
	}
	return m, nil
}

// resolveRelation reads a relation preloaded by the parent query, or
// fetches it for this row when the parent was itself a relation.
func (b *builder) resolveRelation(rel model.Relation) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		row := asRow(p.Source)
		if row == nil {
			return nil, nil
		}
		if loaded, ok := row[rel.Alias]; ok {
			if r, isRow := loaded.(model.Row); isRow {
				return rowOrNil(r), nil
			}
			return loaded, nil
		}

		key := row[rel.FromColumn]
		if key == nil {
			if rel.Type == model.RelationArray {
				return []model.Row{}, nil
			}
			return nil, nil
		}
		m, err := b.model(p.Context, rel.ToTable)
		if err != nil {
			return nil, err
		}
		where := filter.Predicate{rel.ToColumn: map[string]any{filter.OpEq: key}}
		if rel.Type == model.RelationObject {
			found, err := m.FindOne(p.Context, where, nil)
			if err != nil {
				return nil, b.publicError(p.Context, err, "%s relation failed to load", rel.Alias)
			}
			return rowOrNil(found), nil
		}
		found, err := m.Find(p.Context, model.FindOptions{Where: where})
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s relation failed to load", rel.Alias)
		}
		return found, nil
	}
}

func (b *builder) resolveList(table string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		where, err := predicateArg(p.Args, "where")
		if err != nil {
			return nil, err
		}
		opts := model.FindOptions{
			Where:   where,
			Limit:   b.cfg.DefaultLimit,
			Include: b.selectedRelations(p, table),
		}
		if limit, ok := p.Args["limit"].(int); ok {
			opts.Limit = limit
		}
		if offset, ok := p.Args["offset"].(int); ok {
			opts.Offset = offset
		}
		opts.OrderBy = stringList(p.Args["order_by"])

		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		rows, err := m.Find(p.Context, opts)
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s entities failed to be fetched", table)
		}
		return rows, nil
	}
}

func (b *builder) resolveByPK(table, identifier string) graphql.FieldResolveFn {
	arg := b.names[table].field(identifier)
	return func(p graphql.ResolveParams) (any, error) {
		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		where := filter.Predicate{identifier: map[string]any{filter.OpEq: p.Args[arg]}}
		row, err := m.FindOne(p.Context, where, b.selectedRelations(p, table))
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s entity failed to be fetched", table)
		}
		return rowOrNil(row), nil
	}
}

func (b *builder) resolveAggregate(table string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		where, err := predicateArg(p.Args, "where")
		if err != nil {
			return nil, err
		}
		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		res, err := m.Aggregate(p.Context, where, model.AggregateRequest{
			Count: true,
			Sum:   stringList(p.Args["sum"]),
			Avg:   stringList(p.Args["avg"]),
			Min:   stringList(p.Args["min"]),
			Max:   stringList(p.Args["max"]),
		})
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s aggregate failed", table)
		}
		return map[string]any{
			"count": res.Count,
			"sum":   res.Sum,
			"avg":   res.Avg,
			"min":   res.Min,
			"max":   res.Max,
		}, nil
	}
}

// mutation marks the request transaction failed when fn errors so the
// whole operation rolls back.
func (b *builder) mutation(fn graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		out, err := fn(p)
		if err != nil {
			if scope := dbexec.TxScopeFromContext(p.Context); scope != nil {
				scope.MarkFailed()
			}
		}
		return out, err
	}
}

func (b *builder) resolveInsert(table string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		values, err := b.payload(table, "object", p.Args["object"], true)
		if err != nil {
			return nil, err
		}
		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		row, err := m.Create(p.Context, values)
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s entity failed to be created", table)
		}
		return rowOrNil(row), nil
	}
}

// resolveUpdate updates the rows matching where, or the single row named
// by the identifier argument when identifier is set.
func (b *builder) resolveUpdate(table, identifier string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		where, err := b.mutationWhere(p, table, identifier)
		if err != nil {
			return nil, err
		}
		values, err := b.payload(table, "_set", p.Args["_set"], false)
		if err != nil {
			return nil, err
		}
		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		rows, err := m.Update(p.Context, where, values)
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s entities failed to be updated", table)
		}
		return statementResult(rows, identifier), nil
	}
}

func (b *builder) resolveDelete(table, identifier string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		where, err := b.mutationWhere(p, table, identifier)
		if err != nil {
			return nil, err
		}
		m, err := b.model(p.Context, table)
		if err != nil {
			return nil, err
		}
		rows, err := m.Delete(p.Context, where)
		if err != nil {
			return nil, b.publicError(p.Context, err, "%s entities failed to be deleted", table)
		}
		return statementResult(rows, identifier), nil
	}
}

func (b *builder) mutationWhere(p graphql.ResolveParams, table, identifier string) (filter.Predicate, error) {
	if identifier != "" {
		arg := b.names[table].field(identifier)
		return filter.Predicate{identifier: map[string]any{filter.OpEq: p.Args[arg]}}, nil
	}
	where, err := predicateArg(p.Args, "where")
	if err != nil {
		return nil, err
	}
	if len(where) == 0 {
		return nil, errUnfiltered
	}
	return where, nil
}

// statementResult is the row list of a bulk statement, or the single row
// (null when nothing matched) of a by-pk statement.
func statementResult(rows []model.Row, identifier string) any {
	if identifier == "" {
		if rows == nil {
			return []model.Row{}
		}
		return rows
	}
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// payload validates a mutation object against the insert or update schema
// of the table, dropping unknown keys and filling defaults.
func (b *builder) payload(table, arg string, raw any, insert bool) (map[string]any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", arg)
	}
	schemas, ok := b.cfg.Engine.Schemas().Model(table)
	if !ok {
		return obj, nil
	}
	schema := schemas.Update
	if insert {
		schema = schemas.Insert
	}
	cleaned, err := schema.Validate(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", arg, err)
	}
	values, ok := cleaned.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", arg)
	}
	return values, nil
}

// selectedRelations lists the relation aliases selected directly under the
// current field so the query can preload them with one IN query each.
func (b *builder) selectedRelations(p graphql.ResolveParams, table string) []string {
	names := b.names[table]
	seen := map[string]bool{}
	var aliases []string
	var walk func(set *ast.SelectionSet)
	walk = func(set *ast.SelectionSet) {
		if set == nil {
			return
		}
		for _, sel := range set.Selections {
			switch s := sel.(type) {
			case *ast.Field:
				if s.Name == nil {
					continue
				}
				if alias, ok := names.relationAlias(s.Name.Value); ok && !seen[alias] {
					seen[alias] = true
					aliases = append(aliases, alias)
				}
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				if s.Name == nil {
					continue
				}
				if frag, ok := p.Info.Fragments[s.Name.Value].(*ast.FragmentDefinition); ok {
					walk(frag.SelectionSet)
				}
			}
		}
	}
	for _, field := range p.Info.FieldASTs {
		walk(field.SelectionSet)
	}
	return aliases
}

func predicateArg(args map[string]any, name string) (filter.Predicate, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", name)
	}
	return filter.Predicate(obj), nil
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// publicError passes request-caused failures through and replaces the rest
// with a message naming the table and operation.
func (b *builder) publicError(ctx context.Context, err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23502", "22P02":
			if pgErr.Detail != "" {
				return errors.New(pgErr.Detail)
			}
			return errors.New(pgErr.Message)
		}
	}
	var verr *validation.Error
	switch {
	case errors.As(err, &verr),
		errors.Is(err, model.ErrUnknownColumn),
		errors.Is(err, model.ErrUnknownRelation),
		errors.Is(err, model.ErrInvalidPredicate),
		errors.Is(err, model.ErrNoValues):
		return err
	}
	logging.FromContext(ctx).Error("graphql operation failed", slog.String("error", err.Error()))
	return fmt.Errorf(format, args...)
}
