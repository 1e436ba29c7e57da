package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/introspection"
	"pg-engine/internal/sqltype"
	"pg-engine/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// selectList renders the column list for SELECT and RETURNING. Arrays are
// read through to_jsonb so they decode like json columns.
func selectList(columns []introspection.Column) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		quoted := sqlutil.QuoteIdentifier(col.Name)
		if sqltype.IsArray(col.Type) {
			out[i] = fmt.Sprintf("to_jsonb(%s) AS %s", quoted, quoted)
			continue
		}
		out[i] = quoted
	}
	return out
}

func scanRows(rows dbexec.Rows, meta *Meta) ([]Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types := make([]string, len(names))
	for i, name := range names {
		if col, ok := meta.Column(name); ok {
			types[i] = col.Type
		}
	}

	results := []Row{}
	for rows.Next() {
		values := make([]any, len(names))
		valuePtrs := make([]any, len(names))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(names))
		for i, name := range names {
			row[name] = convertValue(types[i], values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// convertValue turns a driver value into its JSON-friendly form.
func convertValue(colType string, val any) any {
	if val == nil {
		return nil
	}
	decodeJSON := sqltype.IsArray(colType) || isJSONType(colType)
	switch v := val.(type) {
	case []byte:
		if decodeJSON {
			return decodeJSONText(v)
		}
		return string(v)
	case string:
		if decodeJSON {
			return decodeJSONText([]byte(v))
		}
		return v
	default:
		return v
	}
}

func decodeJSONText(raw []byte) any {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

func isJSONType(colType string) bool {
	t := strings.ToLower(colType)
	return t == "json" || t == "jsonb"
}

// encodeValue prepares a write argument for a column. json values are sent
// as text and array values as a Postgres array literal cast to the column
// element type.
func encodeValue(col introspection.Column, value any) any {
	if value == nil {
		return nil
	}
	if sqltype.IsArray(col.Type) {
		items, ok := toSlice(value)
		if !ok {
			return value
		}
		elem := sqlutil.QuoteIdentifier(sqltype.ElementType(col.Type))
		return sq.Expr("?::"+elem+"[]", arrayLiteral(items))
	}
	if isJSONType(col.Type) {
		switch value.(type) {
		case string, []byte:
			return value
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return value
		}
		return string(encoded)
	}
	return value
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

// arrayLiteral renders items as a Postgres array literal: {"a","b",NULL}.
func arrayLiteral(items []any) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if item == nil {
			b.WriteString("NULL")
			continue
		}
		var s string
		switch v := item.(type) {
		case string:
			s = v
		case bool:
			s = strconv.FormatBool(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = fmt.Sprint(v)
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
