// Package sqlutil quotes Postgres identifiers and literals.
package sqlutil

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteIdentifier quotes a single identifier (table, column, schema) with
// double quotes, escaping embedded quotes and dropping NUL bytes.
func QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QualifiedTable quotes schema and table as "schema"."table". An empty
// schema yields just the quoted table.
func QualifiedTable(schema, table string) string {
	if schema == "" {
		return QuoteIdentifier(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
