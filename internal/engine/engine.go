// Package engine is the context object of a running API: the model
// registry, the derived validation schemas and one ApiRoute per table.
// It is built once at startup and read-only afterward.
package engine

import (
	"fmt"
	"log/slog"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/filter"
	"pg-engine/internal/model"
	"pg-engine/internal/naming"
	"pg-engine/internal/registry"
	"pg-engine/internal/validation"
)

// NoIdentifier in ModelOptions.Identifier removes the /{id} routes.
const NoIdentifier = "-"

// Route is the generated HTTP surface of one table.
type Route struct {
	// Path is the kebab-cased table name with a leading slash.
	Path       string
	Table      string
	Meta       *model.Meta
	Schemas    *validation.ModelSchemas
	Filters    filter.Set
	Pagination bool
	Handlers   HTTPHandlers
}

// Identifier is the column addressed by /{id}, or empty.
func (r *Route) Identifier() string {
	return r.Meta.Identifier
}

// Tag is the OpenAPI tag of the route.
func (r *Route) Tag() string {
	return naming.Title(r.Table)
}

// Engine holds everything the HTTP layers need.
type Engine struct {
	registry *registry.Registry
	options  Options
	schemas  *validation.Set
	routes   []*Route
	byPath   map[string]*Route
	byTable  map[string]*Route
}

// New applies the model options to the registry, derives the schemas and
// builds the routes. Options naming unknown tables are skipped with a
// warning; an unknown identifier column is an error.
func New(reg *registry.Registry, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	for table, mo := range opts.Models {
		if _, ok := reg.Meta(table); !ok {
			logger.Warn("model options name an unknown table", slog.String("table", table))
			continue
		}
		switch mo.Identifier {
		case "":
		case NoIdentifier:
			_ = reg.SetIdentifier(table, "")
		default:
			if err := reg.SetIdentifier(table, mo.Identifier); err != nil {
				return nil, fmt.Errorf("model options: %w", err)
			}
		}
		if mo.Effects != nil {
			reg.SetEffects(table, mo.Effects)
		}
	}

	e := &Engine{
		registry: reg,
		options:  opts,
		byPath:   make(map[string]*Route),
		byTable:  make(map[string]*Route),
	}

	e.schemas = validation.Build(reg.Metas(), func(table string) validation.ModelOptions {
		mo := opts.modelOptions(table)
		return validation.ModelOptions{Pagination: *mo.Pagination, FilterKeys: mo.Filters.Keys()}
	})

	authMeta, hasAuthTable := reg.Meta(opts.Auth.Table)
	if opts.Auth.Enabled && !hasAuthTable {
		return nil, fmt.Errorf("auth table %q not found", opts.Auth.Table)
	}
	e.schemas.Auth = validation.BuildAuth(authMeta, opts.Auth.fields())

	for _, meta := range reg.Metas() {
		path := "/" + naming.Kebab(meta.Table)
		if existing, taken := e.byPath[path]; taken {
			logger.Warn("route path already taken; skipping table",
				slog.String("path", path),
				slog.String("table", meta.Table),
				slog.String("owner", existing.Table),
			)
			continue
		}
		mo := opts.modelOptions(meta.Table)
		schemas, _ := e.schemas.Model(meta.Table)
		route := &Route{
			Path:       path,
			Table:      meta.Table,
			Meta:       meta,
			Schemas:    schemas,
			Filters:    mo.Filters,
			Pagination: *mo.Pagination,
			Handlers:   mo.HTTPHandlers,
		}
		e.routes = append(e.routes, route)
		e.byPath[path] = route
		e.byTable[meta.Table] = route
	}

	logger.Info("engine built",
		slog.Int("routes", len(e.routes)),
		slog.Int("dropped_relations", len(reg.Dropped())),
		slog.Bool("auth", opts.Auth.Enabled),
	)
	return e, nil
}

// Options returns the options with defaults applied.
func (e *Engine) Options() Options { return e.options }

// Registry returns the model registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Schemas returns the derived validation schemas.
func (e *Engine) Schemas() *validation.Set { return e.schemas }

// Routes returns the routes in registry order.
func (e *Engine) Routes() []*Route {
	return append([]*Route(nil), e.routes...)
}

// Route looks a route up by path ("/order-items").
func (e *Engine) Route(path string) (*Route, bool) {
	r, ok := e.byPath[path]
	return r, ok
}

// RouteFor looks a route up by table name.
func (e *Engine) RouteFor(table string) (*Route, bool) {
	r, ok := e.byTable[table]
	return r, ok
}

// Model returns a request-scoped model of a table carrying the filters of
// its route.
func (e *Engine) Model(table string, exec dbexec.QueryExecutor) (model.Model, bool) {
	var filters filter.Set
	if r, ok := e.byTable[table]; ok {
		filters = r.Filters
	}
	return e.registry.Model(table, exec, filters)
}

// AuthModel returns the model of the auth table.
func (e *Engine) AuthModel(exec dbexec.QueryExecutor) (model.Model, bool) {
	return e.Model(e.options.Auth.Table, exec)
}
