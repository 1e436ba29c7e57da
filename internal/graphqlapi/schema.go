// Package graphqlapi serves the registry as a GraphQL schema: one object
// type per table, list, by-pk and aggregate queries, and insert, update
// and delete mutations over the same models the REST routes use.
package graphqlapi

import (
	"errors"
	"fmt"
	"log/slog"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
	"pg-engine/internal/naming"
	"pg-engine/internal/scalars"
	"pg-engine/internal/sqltype"

	"github.com/graphql-go/graphql"
)

// Config carries the inputs of BuildSchema.
type Config struct {
	Engine *engine.Engine
	// Executor runs queries outside mutation transactions.
	Executor dbexec.QueryExecutor
	// DefaultLimit caps list queries that pass no limit; 0 leaves them open.
	DefaultLimit int
	Naming       naming.Config
	Logger       *slog.Logger
}

// tableNames are the GraphQL names derived for one table.
type tableNames struct {
	typeName string
	query    string
	// columns maps field name to column name, in column order.
	columns   []fieldBinding
	relations []fieldBinding
}

type fieldBinding struct {
	field  string
	source string
}

type builder struct {
	cfg    Config
	logger *slog.Logger
	namer  *naming.Namer

	names map[string]*tableNames
	types map[string]*graphql.Object

	json        *graphql.Scalar
	bigInt      *graphql.Scalar
	decimal     *graphql.Scalar
	date        *graphql.Scalar
	dateTime    *graphql.Scalar
	nonNegative *graphql.Scalar
	aggregate   *graphql.Object
}

// ErrNoTables is returned by BuildSchema for an empty registry.
var ErrNoTables = errors.New("no tables to expose over GraphQL")

// BuildSchema derives the GraphQL schema of every table in the registry.
func BuildSchema(cfg Config) (graphql.Schema, error) {
	if cfg.Engine == nil {
		return graphql.Schema{}, errors.New("graphql schema requires an engine")
	}
	if cfg.Executor == nil {
		return graphql.Schema{}, errors.New("graphql schema requires a query executor")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &builder{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "graphql")),
		namer:       naming.New(cfg.Naming, logger),
		names:       map[string]*tableNames{},
		types:       map[string]*graphql.Object{},
		json:        scalars.JSON(),
		bigInt:      scalars.BigInt(),
		decimal:     scalars.Decimal(),
		date:        scalars.Date(),
		dateTime:    scalars.DateTime(),
		nonNegative: scalars.NonNegativeInt(),
	}

	metas := cfg.Engine.Registry().Metas()
	if len(metas) == 0 {
		return graphql.Schema{}, ErrNoTables
	}
	for _, meta := range metas {
		b.registerNames(meta)
	}
	for _, meta := range metas {
		b.types[meta.Table] = b.objectType(meta)
	}
	b.aggregate = b.aggregateType()

	queries := graphql.Fields{}
	mutations := graphql.Fields{}
	for _, meta := range metas {
		b.addQueries(queries, meta)
		b.addMutations(mutations, meta)
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queries}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutations}),
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("build graphql schema: %w", err)
	}
	b.logger.Info("graphql schema built",
		slog.Int("types", len(b.types)),
		slog.Int("queries", len(queries)),
		slog.Int("mutations", len(mutations)),
	)
	return schema, nil
}

// registerNames resolves every name of a table up front. Columns register
// before relations so an alias yields to a column of the same name.
func (b *builder) registerNames(meta *model.Meta) {
	names := &tableNames{
		typeName: b.namer.RegisterType(meta.Table),
		query:    b.namer.RegisterQueryField(meta.Table),
	}
	for _, col := range meta.Columns {
		field := b.namer.RegisterColumnField(names.typeName, col.Name)
		names.columns = append(names.columns, fieldBinding{field: field, source: col.Name})
	}
	for _, alias := range meta.RelationAliases() {
		field := b.namer.RegisterRelationField(names.typeName, alias)
		names.relations = append(names.relations, fieldBinding{field: field, source: alias})
	}
	b.names[meta.Table] = names
}

// field returns the field name of a column.
func (n *tableNames) field(column string) string {
	for _, col := range n.columns {
		if col.source == column {
			return col.field
		}
	}
	return column
}

// relationAlias maps a selected field name back to its relation alias.
func (n *tableNames) relationAlias(field string) (string, bool) {
	for _, rel := range n.relations {
		if rel.field == field {
			return rel.source, true
		}
	}
	return "", false
}

func (b *builder) objectType(meta *model.Meta) *graphql.Object {
	names := b.names[meta.Table]
	return graphql.NewObject(graphql.ObjectConfig{
		Name:        names.typeName,
		Description: fmt.Sprintf("A row of %s.%s.", meta.Schema, meta.Table),
		// Relations point at types that may not exist yet.
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{}
			for _, binding := range names.columns {
				col, _ := meta.Column(binding.source)
				fields[binding.field] = &graphql.Field{
					Type:    b.columnOutput(col),
					Resolve: resolveColumn(col.Name),
				}
			}
			for _, binding := range names.relations {
				rel := meta.Relations[binding.source]
				target, ok := b.types[rel.ToTable]
				if !ok {
					continue
				}
				var out graphql.Output = target
				if rel.Type == model.RelationArray {
					out = graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(target)))
				}
				fields[binding.field] = &graphql.Field{
					Type:    out,
					Resolve: b.resolveRelation(rel),
				}
			}
			return fields
		}),
	})
}

func (b *builder) aggregateType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name:        "AggregateResult",
		Description: "Row count and per-column aggregates keyed by column name.",
		Fields: graphql.Fields{
			"count": &graphql.Field{Type: graphql.NewNonNull(b.bigInt)},
			"sum":   &graphql.Field{Type: b.json},
			"avg":   &graphql.Field{Type: b.json},
			"min":   &graphql.Field{Type: b.json},
			"max":   &graphql.Field{Type: b.json},
		},
	})
}

// columnScalar maps a column to its GraphQL scalar, ignoring array-ness
// and nullability.
func (b *builder) columnScalar(col introspection.Column) *graphql.Scalar {
	switch sqltype.MapToGraphQL(col.Type) {
	case sqltype.TypeInt:
		return graphql.Int
	case sqltype.TypeBigInt:
		return b.bigInt
	case sqltype.TypeFloat:
		return graphql.Float
	case sqltype.TypeDecimal:
		return b.decimal
	case sqltype.TypeBoolean:
		return graphql.Boolean
	case sqltype.TypeDate:
		return b.date
	case sqltype.TypeDateTime:
		return b.dateTime
	case sqltype.TypeJSON:
		return b.json
	default:
		return graphql.String
	}
}

func (b *builder) columnOutput(col introspection.Column) graphql.Output {
	var out graphql.Output = b.columnScalar(col)
	if sqltype.IsArray(col.Type) {
		out = graphql.NewList(out)
	}
	if !col.Nullable {
		out = graphql.NewNonNull(out)
	}
	return out
}

func (b *builder) addQueries(fields graphql.Fields, meta *model.Meta) {
	names := b.names[meta.Table]
	object := b.types[meta.Table]

	fields[names.query] = &graphql.Field{
		Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(object))),
		Description: fmt.Sprintf("Rows of %s matching where.", meta.Table),
		Args: graphql.FieldConfigArgument{
			"where":    &graphql.ArgumentConfig{Type: b.json},
			"limit":    &graphql.ArgumentConfig{Type: b.nonNegative},
			"offset":   &graphql.ArgumentConfig{Type: b.nonNegative},
			"order_by": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
		},
		Resolve: b.resolveList(meta.Table),
	}

	if meta.Identifier != "" {
		fields[names.query+"_by_pk"] = &graphql.Field{
			Type:    object,
			Args:    b.identifierArgs(meta),
			Resolve: b.resolveByPK(meta.Table, meta.Identifier),
		}
	}

	fields[names.query+"_aggregate"] = &graphql.Field{
		Type: graphql.NewNonNull(b.aggregate),
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: b.json},
			"sum":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"avg":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"min":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
			"max":   &graphql.ArgumentConfig{Type: graphql.NewList(graphql.NewNonNull(graphql.String))},
		},
		Resolve: b.resolveAggregate(meta.Table),
	}
}

func (b *builder) addMutations(fields graphql.Fields, meta *model.Meta) {
	names := b.names[meta.Table]
	object := b.types[meta.Table]
	rows := graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(object)))
	required := graphql.NewNonNull(b.json)

	fields["insert_"+names.query] = &graphql.Field{
		Type: object,
		Args: graphql.FieldConfigArgument{
			"object": &graphql.ArgumentConfig{Type: required},
		},
		Resolve: b.mutation(b.resolveInsert(meta.Table)),
	}
	fields["update_"+names.query] = &graphql.Field{
		Type: rows,
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: required},
			"_set":  &graphql.ArgumentConfig{Type: required},
		},
		Resolve: b.mutation(b.resolveUpdate(meta.Table, "")),
	}
	fields["delete_"+names.query] = &graphql.Field{
		Type: rows,
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: required},
		},
		Resolve: b.mutation(b.resolveDelete(meta.Table, "")),
	}

	if meta.Identifier == "" {
		return
	}
	updateArgs := b.identifierArgs(meta)
	updateArgs["_set"] = &graphql.ArgumentConfig{Type: required}
	fields["update_"+names.query+"_by_pk"] = &graphql.Field{
		Type:    object,
		Args:    updateArgs,
		Resolve: b.mutation(b.resolveUpdate(meta.Table, meta.Identifier)),
	}
	fields["delete_"+names.query+"_by_pk"] = &graphql.Field{
		Type:    object,
		Args:    b.identifierArgs(meta),
		Resolve: b.mutation(b.resolveDelete(meta.Table, meta.Identifier)),
	}
}

// identifierArgs is the single required argument carrying the identifier
// column, named like its field.
func (b *builder) identifierArgs(meta *model.Meta) graphql.FieldConfigArgument {
	col, _ := meta.Column(meta.Identifier)
	return graphql.FieldConfigArgument{
		b.names[meta.Table].field(meta.Identifier): &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.columnScalar(col))},
	}
}
