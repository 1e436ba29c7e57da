// Package registry holds one model per introspected table together with
// its relations, and hands out request-scoped model instances.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/filter"
	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
)

// Relations maps a table name to the relations declared on it.
type Relations map[string][]model.Relation

// Registry is built once at startup and read-only while serving.
type Registry struct {
	schema  string
	order   []string
	metas   map[string]*model.Meta
	effects map[string]*model.Effects
	dropped []model.Relation
}

var _ model.Catalog = (*Registry)(nil)

// Build creates a registry ordered by table name. Relations whose target
// table or columns do not exist are dropped and logged.
func Build(schema *introspection.Schema, relations Relations, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		metas:   make(map[string]*model.Meta),
		effects: make(map[string]*model.Effects),
	}
	if schema == nil {
		return r
	}
	r.schema = schema.Name

	tables := make(map[string]introspection.Table, len(schema.Tables))
	for _, table := range schema.Tables {
		tables[table.Name] = table
		r.order = append(r.order, table.Name)
	}
	sort.Strings(r.order)

	for _, name := range r.order {
		table := tables[name]
		meta := &model.Meta{
			Schema:     schema.Name,
			Table:      name,
			Columns:    table.Columns,
			Relations:  make(map[string]model.Relation),
			Identifier: introspection.Identifier(table),
		}
		for _, rel := range relations[name] {
			if rel.FromTable == "" {
				rel.FromTable = name
			}
			if reason := checkRelation(table, tables, rel); reason != "" {
				logger.Warn("dropping relation",
					slog.String("table", name),
					slog.String("alias", rel.Alias),
					slog.String("reason", reason),
				)
				r.dropped = append(r.dropped, rel)
				continue
			}
			meta.Relations[rel.Alias] = rel
		}
		r.metas[name] = meta
	}
	return r
}

func checkRelation(from introspection.Table, tables map[string]introspection.Table, rel model.Relation) string {
	target, ok := tables[rel.ToTable]
	if !ok {
		return fmt.Sprintf("unknown table %q", rel.ToTable)
	}
	if _, ok := from.Column(rel.FromColumn); !ok {
		return fmt.Sprintf("unknown column %q", rel.FromColumn)
	}
	if _, ok := target.Column(rel.ToColumn); !ok {
		return fmt.Sprintf("unknown column %s.%s", rel.ToTable, rel.ToColumn)
	}
	if _, clash := from.Column(rel.Alias); clash {
		return fmt.Sprintf("alias %q shadows a column", rel.Alias)
	}
	return ""
}

// Schema returns the database schema the registry was built from.
func (r *Registry) Schema() string { return r.schema }

// Tables returns the table names in registry order.
func (r *Registry) Tables() []string {
	return append([]string(nil), r.order...)
}

// Meta implements model.Catalog.
func (r *Registry) Meta(table string) (*model.Meta, bool) {
	m, ok := r.metas[table]
	return m, ok
}

// Metas returns the metadata of every table in registry order.
func (r *Registry) Metas() []*model.Meta {
	out := make([]*model.Meta, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.metas[name])
	}
	return out
}

// Dropped lists the relations rejected by Build.
func (r *Registry) Dropped() []model.Relation {
	return r.dropped
}

// SetIdentifier overrides the resolved identifier column of a table. An
// empty column removes the identifier.
func (r *Registry) SetIdentifier(table, column string) error {
	meta, ok := r.metas[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if column != "" {
		if _, ok := meta.Column(column); !ok {
			return fmt.Errorf("table %s has no column %q", table, column)
		}
	}
	meta.Identifier = column
	return nil
}

// SetEffects attaches effect hooks to a table.
func (r *Registry) SetEffects(table string, effects *model.Effects) {
	r.effects[table] = effects
}

// Model returns a request-scoped model bound to exec and the route's
// filters. All instances of a table share its metadata.
func (r *Registry) Model(table string, exec dbexec.QueryExecutor, filters filter.Set) (model.Model, bool) {
	meta, ok := r.metas[table]
	if !ok {
		return nil, false
	}
	return model.NewTable(meta, r, exec, filters, r.effects[table]), true
}
