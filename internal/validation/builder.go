package validation

import (
	"sort"
	"strings"

	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
	"pg-engine/internal/naming"
	"pg-engine/internal/sqltype"
)

// ColumnValidator maps a column to its validator. In strict mode a
// nullable column becomes nullable and optional; path parameters build
// non-strict and keep the bare type. Arrays wrap the element validator and
// are nullable-optional whenever the column is nullable.
func ColumnValidator(col introspection.Column, strict bool) *Schema {
	var base *Schema
	switch sqltype.Classify(col.Type) {
	case sqltype.FamilyNumber:
		base = Number()
	case sqltype.FamilyString:
		base = String()
		base.Format = stringFormat(col.Type)
	case sqltype.FamilyBoolean:
		base = Boolean()
	default:
		base = Any()
	}
	if len(col.EnumValues) > 0 && !sqltype.IsArray(col.Type) {
		base = String()
		base.Enum = append([]string(nil), col.EnumValues...)
	}

	if sqltype.IsArray(col.Type) {
		arr := ArrayOf(base)
		if col.Nullable {
			return arr.AsNullable().AsOptional()
		}
		return arr
	}
	if col.Nullable && strict {
		return base.AsNullable().AsOptional()
	}
	return base
}

func stringFormat(colType string) string {
	t := strings.ToLower(sqltype.ElementType(colType))
	switch {
	case t == "uuid":
		return "uuid"
	case t == "date":
		return "date"
	case strings.HasPrefix(t, "timestamp"):
		return "date-time"
	}
	return ""
}

// ModelOptions are the per-route inputs to schema derivation.
type ModelOptions struct {
	Pagination bool
	FilterKeys []string
}

// ModelSchemas are the schemas derived for one table.
type ModelSchemas struct {
	Table string

	Entity            *Schema
	Insert            *Schema
	Update            *Schema
	Response          *Schema
	QueryParams       *Schema
	PathParams        *Schema // nil when the table has no identifier
	StatementResponse *Schema
}

// Named returns the schemas under their component names.
func (m *ModelSchemas) Named() map[string]*Schema {
	out := map[string]*Schema{}
	for _, s := range []*Schema{m.Entity, m.Insert, m.Update, m.Response, m.QueryParams, m.PathParams, m.StatementResponse} {
		if s != nil {
			out[s.Ref] = s
		}
	}
	return out
}

// BuildEntity derives the entity schema of a table: one property per
// column in column order.
func BuildEntity(meta *model.Meta) *Schema {
	entity := Object()
	entity.Ref = naming.SchemaRef(meta.Table, naming.RefEntity)
	for _, col := range meta.Columns {
		entity.Set(col.Name, ColumnValidator(col, true))
	}
	return entity
}

func buildInsert(meta *model.Meta) *Schema {
	body := Object()
	body.Ref = naming.SchemaRef(meta.Table, naming.RefInsertBody)
	for _, col := range meta.Columns {
		v := ColumnValidator(col, true)
		if col.HasDefault || col.AutoIncrement {
			v = v.AsOptional()
		}
		body.Set(col.Name, v)
	}
	return body
}

func buildUpdate(meta *model.Meta) *Schema {
	body := Object()
	body.Ref = naming.SchemaRef(meta.Table, naming.RefUpdateBody)
	for _, col := range meta.Columns {
		body.Set(col.Name, ColumnValidator(col, true).AsOptional())
	}
	return body
}

func buildQueryParams(meta *model.Meta, opts ModelOptions) *Schema {
	q := Object()
	q.Set("page", Number().WithMin(1).WithDefault(int64(1)))
	q.Set("view", Number().WithMin(0).AsOptional())
	for _, col := range meta.Columns {
		q.Set(col.Name, ColumnValidator(col, true).AsOptional())
	}
	if len(meta.Relations) > 0 {
		include := String().AsOptional()
		include.Description = "Comma separated relation aliases: " + strings.Join(meta.RelationAliases(), ", ")
		q.Set("include", include)
	}
	for _, key := range opts.FilterKeys {
		q.Set(key, Any().AsOptional())
	}
	q = q.Coercing()
	q.Ref = naming.SchemaRef(meta.Table, naming.RefQueryParams)
	return q
}

func buildPathParams(meta *model.Meta) *Schema {
	if meta.Identifier == "" {
		return nil
	}
	col, ok := meta.Column(meta.Identifier)
	if !ok {
		return nil
	}
	p := Object().Set(meta.Identifier, ColumnValidator(col, false)).Coercing()
	p.Ref = naming.SchemaRef(meta.Table, naming.RefPathParams)
	return p
}

func buildResponse(table string, entity *Schema, pagination bool) *Schema {
	var resp *Schema
	if !pagination {
		resp = ArrayOf(entity.AsOptional())
	} else {
		resp = Object().
			Set("page", Number()).
			Set("view", Number()).
			Set("total", Number()).
			Set("limit", Number()).
			Set("skip", Number()).
			Set("per_page", Number()).
			Set("results", ArrayOf(entity.AsOptional()))
	}
	resp.Ref = naming.SchemaRef(table, naming.RefResponse)
	return resp
}

func buildStatementResponse(table string, entity *Schema) *Schema {
	resp := ArrayOf(entity.AsOptional())
	resp.Ref = naming.SchemaRef(table, naming.RefStatementResponse)
	return resp
}

// Set holds the schemas of every model plus the auth schemas.
type Set struct {
	models map[string]*ModelSchemas
	order  []string
	Auth   *AuthSchemas
}

// Build derives the schemas of every model. Entity schemas are built
// first; relations then extend them in two full sweeps, each embedding a
// copy of the related entity as it stands at that moment, so nesting
// stops after two levels. Response schemas are built last and reference
// the extended entities.
func Build(metas []*model.Meta, options func(table string) ModelOptions) *Set {
	set := &Set{models: make(map[string]*ModelSchemas, len(metas))}
	for _, meta := range metas {
		set.order = append(set.order, meta.Table)
		set.models[meta.Table] = &ModelSchemas{
			Table:  meta.Table,
			Entity: BuildEntity(meta),
		}
	}

	for sweep := 0; sweep < 2; sweep++ {
		for _, meta := range metas {
			extendRelations(set.models[meta.Table].Entity, meta, set.models)
		}
	}

	for _, meta := range metas {
		opts := ModelOptions{Pagination: true}
		if options != nil {
			opts = options(meta.Table)
		}
		ms := set.models[meta.Table]
		ms.Insert = buildInsert(meta)
		ms.Update = buildUpdate(meta)
		ms.QueryParams = buildQueryParams(meta, opts)
		ms.PathParams = buildPathParams(meta)
		ms.Response = buildResponse(meta.Table, ms.Entity, opts.Pagination)
		ms.StatementResponse = buildStatementResponse(meta.Table, ms.Entity)
	}
	return set
}

func extendRelations(entity *Schema, meta *model.Meta, models map[string]*ModelSchemas) {
	for _, alias := range meta.RelationAliases() {
		rel := meta.Relations[alias]
		target, ok := models[rel.ToTable]
		if !ok {
			continue
		}
		related := target.Entity.Clone()
		if rel.Type == model.RelationArray {
			entity.Set(alias, ArrayOf(related.AsOptional()).AsOptional().AsNullable())
			continue
		}
		entity.Set(alias, related.AsOptional().AsNullable())
	}
}

// Model returns the schemas of a table.
func (s *Set) Model(table string) (*ModelSchemas, bool) {
	m, ok := s.models[table]
	return m, ok
}

// Components returns every named schema, for the OpenAPI document.
func (s *Set) Components() map[string]*Schema {
	out := map[string]*Schema{}
	for _, table := range s.order {
		for name, schema := range s.models[table].Named() {
			out[name] = schema
		}
	}
	if s.Auth != nil {
		for name, schema := range s.Auth.Named() {
			out[name] = schema
		}
	}
	return out
}

// ComponentNames returns the component names sorted.
func (s *Set) ComponentNames() []string {
	comps := s.Components()
	names := make([]string, 0, len(comps))
	for name := range comps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
