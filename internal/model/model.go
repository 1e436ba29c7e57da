// Package model is the data access layer: one Table per database table,
// sharing immutable metadata, with request-scoped instances that carry the
// executor and the filters registered for the current route.
package model

import (
	"context"
	"sort"

	"pg-engine/internal/filter"
	"pg-engine/internal/introspection"
)

// RelationType says whether a relation resolves to one row or a list.
type RelationType string

const (
	RelationObject RelationType = "object"
	RelationArray  RelationType = "array"
)

// Relation links a column of one table to a column of another. Relations
// come from the relations file or from foreign keys.
type Relation struct {
	Alias      string       `json:"alias"`
	FromTable  string       `json:"from_table"`
	FromColumn string       `json:"from_column"`
	ToTable    string       `json:"to_table"`
	ToColumn   string       `json:"to_column"`
	Type       RelationType `json:"type"`
}

// Meta is the shared, read-only description of a table.
type Meta struct {
	Schema    string
	Table     string
	Columns   []introspection.Column
	Relations map[string]Relation
	// Identifier is the column addressed by /{id} routes; empty when the
	// table has no single-column key.
	Identifier string
}

// Column looks up a column by name.
func (m *Meta) Column(name string) (introspection.Column, bool) {
	for _, col := range m.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return introspection.Column{}, false
}

// ColumnNames returns the column names in table order.
func (m *Meta) ColumnNames() []string {
	names := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		names[i] = col.Name
	}
	return names
}

// ColumnTypes indexes column types for the where compiler.
func (m *Meta) ColumnTypes() filter.ColumnTypes {
	return filter.TypesOf(m.Columns)
}

// RelationAliases returns the relation aliases sorted.
func (m *Meta) RelationAliases() []string {
	aliases := make([]string, 0, len(m.Relations))
	for alias := range m.Relations {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Catalog resolves table metadata by name. Includes use it to reach the
// target table of a relation.
type Catalog interface {
	Meta(table string) (*Meta, bool)
}

// Row is one result row keyed by column name. Included relations appear
// under their alias.
type Row map[string]any

// FindOptions narrows a Find.
type FindOptions struct {
	Where  filter.Predicate
	Limit  int
	Offset int
	// OrderBy lists column names; a leading "-" sorts descending.
	OrderBy []string
	// Include lists relation aliases to attach to every row.
	Include []string
}

// AggregateRequest selects the aggregate functions to compute.
type AggregateRequest struct {
	Count bool
	Sum   []string
	Avg   []string
	Min   []string
	Max   []string
}

// AggregateResult holds aggregate values keyed by column.
type AggregateResult struct {
	Count int64          `json:"count"`
	Sum   map[string]any `json:"sum,omitempty"`
	Avg   map[string]any `json:"avg,omitempty"`
	Min   map[string]any `json:"min,omitempty"`
	Max   map[string]any `json:"max,omitempty"`
}

// Model is the operation surface handlers and resolvers work against.
type Model interface {
	Meta() *Meta
	Filters() filter.Set
	Find(ctx context.Context, opts FindOptions) ([]Row, error)
	// FindOne returns nil without error when nothing matches.
	FindOne(ctx context.Context, where filter.Predicate, include []string) (Row, error)
	Count(ctx context.Context, where filter.Predicate) (int64, error)
	Create(ctx context.Context, values map[string]any) (Row, error)
	Update(ctx context.Context, where filter.Predicate, values map[string]any) ([]Row, error)
	Delete(ctx context.Context, where filter.Predicate) ([]Row, error)
	Aggregate(ctx context.Context, where filter.Predicate, req AggregateRequest) (AggregateResult, error)
}
