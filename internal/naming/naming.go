// Package naming derives every public name the engine exposes from a table
// or column name: route paths, schema refs, OpenAPI tags and GraphQL names.
package naming

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
)

var graphQLNamePattern = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// Config holds inflection overrides. Plural maps singular to plural and
// Singular the reverse, e.g. {"person": "people"} and {"data": "datum"}.
type Config struct {
	PluralOverrides   map[string]string `yaml:"plural_overrides" mapstructure:"plural_overrides"`
	SingularOverrides map[string]string `yaml:"singular_overrides" mapstructure:"singular_overrides"`
}

func DefaultConfig() Config {
	return Config{PluralOverrides: map[string]string{}, SingularOverrides: map[string]string{}}
}

// Namer derives GraphQL names from table and column names. Type names are
// singular PascalCase; query and field names keep the SQL spelling so the
// where vocabulary matches column names verbatim. A Namer serves one schema
// build.
type Namer struct {
	config Config
	logger *slog.Logger
	scopes *scopes
}

func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{config: cfg, logger: logger, scopes: newScopes(logger)}
}

func Default() *Namer {
	return New(DefaultConfig(), nil)
}

func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	return inflection.Plural(word)
}

func (n *Namer) Singularize(word string) string {
	if override, ok := n.config.SingularOverrides[word]; ok {
		return override
	}
	return inflection.Singular(word)
}

// TypeName singularizes the last word of a table name and PascalCases the
// result: "order_items" -> "OrderItem".
func (n *Namer) TypeName(tableName string) string {
	parts := strings.Split(tableName, "_")
	parts[len(parts)-1] = n.Singularize(parts[len(parts)-1])
	name := sanitize(Pascal(strings.Join(parts, "_")))
	if isReservedTypeName(name) {
		return n.suffixed(name, "reserved word")
	}
	return name
}

// RegisterType claims the type name of a table.
func (n *Namer) RegisterType(tableName string) string {
	return n.scopes.claim(scopeTypes, n.TypeName(tableName), "table:"+tableName)
}

// RegisterQueryField claims the root query field of a table. Names shaped
// like generated root fields are suffixed with "_".
func (n *Namer) RegisterQueryField(tableName string) string {
	name := n.fieldName(tableName)
	if clashesWithRootField(name) {
		name = n.suffixed(name, "generated root field")
	}
	return n.scopes.claim(scopeQueries, name, "table:"+tableName)
}

// RegisterColumnField claims a column field on a type. Columns register
// before relations so aliases yield to them.
func (n *Namer) RegisterColumnField(typeName, columnName string) string {
	return n.scopes.claim(fieldScope(typeName), n.fieldName(columnName), "column:"+columnName)
}

// RegisterRelationField claims a relation alias on a type. An alias equal
// to a column name becomes "<alias>Rel".
func (n *Namer) RegisterRelationField(typeName, alias string) string {
	name := n.fieldName(alias)
	if n.scopes.taken(fieldScope(typeName), name) {
		name += "Rel"
	}
	return n.scopes.claim(fieldScope(typeName), name, "relation:"+alias)
}

func (n *Namer) fieldName(raw string) string {
	name := sanitize(raw)
	if isReservedFieldName(name) {
		return n.suffixed(name, "reserved word")
	}
	return name
}

func (n *Namer) suffixed(name, reason string) string {
	renamed := name + "_"
	n.logger.Warn("GraphQL name conflicts with "+reason+", auto-suffixed",
		slog.String("original", name),
		slog.String("renamed", renamed),
	)
	return renamed
}

// sanitize replaces characters GraphQL names cannot hold. Postgres allows
// quoted identifiers with spaces or dashes.
func sanitize(name string) string {
	if graphQLNamePattern.MatchString(name) {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
