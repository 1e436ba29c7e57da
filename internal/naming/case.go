package naming

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Schema ref suffixes, one per derived schema kind.
const (
	RefEntity            = ""
	RefResponse          = "Response"
	RefQueryParams       = "QueryParams"
	RefStatementResponse = "StatementResponse"
	RefPathParams        = "PathParams"
	RefInsertBody        = "InsertBody"
	RefUpdateBody        = "UpdateBody"
)

var titleCaser = cases.Title(language.Und)

// Kebab lowercases a table name and swaps underscores for dashes.
// It is the route path segment of a table: "order_items" -> "order-items".
func Kebab(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// Camel lowercases the first word and title-cases the rest:
// "order_items" -> "orderItems".
func Camel(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for i, part := range parts {
		if i == 0 {
			b.WriteString(strings.ToLower(part))
			continue
		}
		b.WriteString(titleWord(part))
	}
	return b.String()
}

// Pascal title-cases every word: "order_items" -> "OrderItems".
func Pascal(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(titleWord(part))
	}
	return b.String()
}

// Title renders a table name as a human tag: "order_items" -> "Order Items".
func Title(name string) string {
	parts := strings.Split(name, "_")
	for i, part := range parts {
		parts[i] = titleWord(part)
	}
	return strings.Join(parts, " ")
}

// SchemaRef names a derived schema: SchemaRef("order_items", RefResponse)
// is "orderItemsResponseSchema".
func SchemaRef(table, kind string) string {
	return Camel(table) + kind + "Schema"
}

func titleWord(word string) string {
	if word == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(word))
}
