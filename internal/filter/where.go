package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"pg-engine/internal/introspection"
	"pg-engine/internal/sqltype"
	"pg-engine/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Operators of the predicate vocabulary.
const (
	OpEq           = "_eq"
	OpNeq          = "_neq"
	OpLt           = "_lt"
	OpLte          = "_lte"
	OpGt           = "_gt"
	OpGte          = "_gte"
	OpIn           = "_in"
	OpNotIn        = "_nin"
	OpAny          = "_any"
	OpNotAny       = "_nany"
	OpAll          = "_all"
	OpIs           = "_is"
	OpIsNot        = "_is_not"
	OpLike         = "_like"
	OpILike        = "_ilike"
	OpContains     = "_contains"
	OpContainedIn  = "_contained_in"
	OpKeyExists    = "_key_exists"
	OpKeyExistsAny = "_key_exists_any"
	OpKeyExistsAll = "_key_exists_all"
	OpTextSearch   = "_text_search"
	OpInArray      = "_in_array"
	OpNotInArray   = "_nin_array"

	OpAnd = "_and"
	OpOr  = "_or"
)

var operators = map[string]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	OpIn: true, OpNotIn: true, OpAny: true, OpNotAny: true, OpAll: true,
	OpIs: true, OpIsNot: true, OpLike: true, OpILike: true,
	OpContains: true, OpContainedIn: true,
	OpKeyExists: true, OpKeyExistsAny: true, OpKeyExistsAll: true,
	OpTextSearch: true, OpInArray: true, OpNotInArray: true,
}

func knownOperator(op string) bool {
	return operators[op]
}

// Operators lists the column operators in a stable order.
func Operators() []string {
	ops := make([]string, 0, len(operators))
	for op := range operators {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// ColumnTypes maps column names to their SQL type as introspected.
type ColumnTypes map[string]string

// TypesOf indexes introspected columns by name.
func TypesOf(columns []introspection.Column) ColumnTypes {
	types := make(ColumnTypes, len(columns))
	for _, col := range columns {
		types[col.Name] = col.Type
	}
	return types
}

// BuildWhere compiles a predicate into a squirrel condition. It returns a
// nil Sqlizer for an empty predicate. Keys are visited in sorted order so
// the same predicate always renders the same SQL.
func BuildWhere(pred Predicate, columns ColumnTypes) (sq.Sqlizer, error) {
	if len(pred) == 0 {
		return nil, nil
	}
	conditions, err := buildConditions(pred, columns)
	if err != nil {
		return nil, err
	}
	switch len(conditions) {
	case 0:
		return nil, nil
	case 1:
		return conditions[0], nil
	default:
		return sq.And(conditions), nil
	}
}

func buildConditions(pred map[string]any, columns ColumnTypes) ([]sq.Sqlizer, error) {
	keys := make([]string, 0, len(pred))
	for key := range pred {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]sq.Sqlizer, 0, len(keys))
	for _, key := range keys {
		value := pred[key]
		switch key {
		case OpAnd, OpOr:
			cond, err := buildCombinator(key, value, columns)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				conditions = append(conditions, cond)
			}
		default:
			colType, ok := columns[key]
			if !ok {
				return nil, fmt.Errorf("unknown column: %s", key)
			}
			colConditions, err := buildColumn(key, colType, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, colConditions...)
		}
	}
	return conditions, nil
}

func buildCombinator(key string, value any, columns ColumnTypes) (sq.Sqlizer, error) {
	items, ok := toSlice(value)
	if !ok {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	parts := make([]sq.Sqlizer, 0, len(items))
	for _, item := range items {
		itemMap, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s array items must be objects", key)
		}
		conds, err := buildConditions(itemMap, columns)
		if err != nil {
			return nil, err
		}
		if len(conds) == 1 {
			parts = append(parts, conds[0])
		} else if len(conds) > 1 {
			parts = append(parts, sq.And(conds))
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	if key == OpOr {
		return sq.Or(parts), nil
	}
	return sq.And(parts), nil
}

func buildColumn(name, colType string, value any) ([]sq.Sqlizer, error) {
	opMap, ok := operatorMap(value)
	if !ok {
		return []sq.Sqlizer{eq(name, colType, value)}, nil
	}

	ops := make([]string, 0, len(opMap))
	for op := range opMap {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	conditions := make([]sq.Sqlizer, 0, len(ops))
	for _, op := range ops {
		cond, err := buildOperator(name, colType, op, opMap[op])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// operatorMap reports whether value is an operator object: a map whose
// keys all start with an underscore. Any other map is a json value compared
// for equality.
func operatorMap(value any) (map[string]any, bool) {
	m, ok := asMap(value)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if !strings.HasPrefix(key, "_") {
			return nil, false
		}
	}
	return m, true
}

func buildOperator(name, colType, op string, value any) (sq.Sqlizer, error) {
	col := sqlutil.QuoteIdentifier(name)
	switch op {
	case OpEq:
		return eq(name, colType, value), nil
	case OpNeq:
		if value == nil {
			return sq.NotEq{col: nil}, nil
		}
		return sq.NotEq{col: scalarArg(colType, value)}, nil
	case OpLt:
		return sq.Lt{col: value}, nil
	case OpLte:
		return sq.LtOrEq{col: value}, nil
	case OpGt:
		return sq.Gt{col: value}, nil
	case OpGte:
		return sq.GtOrEq{col: value}, nil
	case OpIn, OpAny:
		items, err := list(op, value)
		if err != nil {
			return nil, err
		}
		return sq.Eq{col: items}, nil
	case OpNotIn:
		items, err := list(op, value)
		if err != nil {
			return nil, err
		}
		return sq.NotEq{col: items}, nil
	case OpNotAny:
		items, err := list(op, value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return sq.Expr("(1=0)"), nil
		}
		parts := make(sq.Or, 0, len(items))
		for _, item := range items {
			parts = append(parts, sq.Expr(col+" <> ?", item))
		}
		return parts, nil
	case OpAll:
		items, err := list(op, value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return sq.Expr("(1=1)"), nil
		}
		parts := make(sq.And, 0, len(items))
		for _, item := range items {
			parts = append(parts, sq.Expr(col+" = ?", item))
		}
		return parts, nil
	case OpIs, OpIsNot:
		keyword, err := isKeyword(value)
		if err != nil {
			return nil, err
		}
		verb := "IS"
		if op == OpIsNot {
			verb = "IS NOT"
		}
		return sq.Expr(fmt.Sprintf("%s %s %s", col, verb, keyword)), nil
	case OpLike:
		return sq.Expr(col+" LIKE ?", value), nil
	case OpILike:
		return sq.Expr(col+" ILIKE ?", value), nil
	case OpContains, OpContainedIn:
		symbol := "@>"
		if op == OpContainedIn {
			symbol = "<@"
		}
		return containment(col, colType, symbol, value)
	case OpKeyExists:
		return sq.Expr(col+" ?? ?", value), nil
	case OpKeyExistsAny, OpKeyExistsAll:
		items, err := list(op, value)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			if op == OpKeyExistsAny {
				return sq.Expr("(1=0)"), nil
			}
			return sq.Expr("(1=1)"), nil
		}
		symbol := "??|"
		if op == OpKeyExistsAll {
			symbol = "??&"
		}
		return sq.Expr(fmt.Sprintf("%s %s ARRAY[%s]", col, symbol, sq.Placeholders(len(items))), items...), nil
	case OpTextSearch:
		if strings.EqualFold(colType, "tsvector") {
			return sq.Expr(col+" @@ to_tsquery(?)", value), nil
		}
		return sq.Expr("to_tsvector("+col+") @@ to_tsquery(?)", value), nil
	case OpInArray:
		return sq.Expr("? = ANY("+col+")", value), nil
	case OpNotInArray:
		return sq.Expr("? <> ALL("+col+")", value), nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func eq(name, colType string, value any) sq.Sqlizer {
	col := sqlutil.QuoteIdentifier(name)
	if value == nil {
		return sq.Eq{col: nil}
	}
	return sq.Eq{col: scalarArg(colType, value)}
}

// scalarArg prepares a comparison argument. json values are sent as their
// text encoding; everything else goes to the driver unchanged.
func scalarArg(colType string, value any) any {
	if !isJSON(colType) {
		return value
	}
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

func containment(col, colType, symbol string, value any) (sq.Sqlizer, error) {
	if sqltype.IsArray(colType) {
		items, err := list(symbol, value)
		if err != nil {
			return nil, err
		}
		elem := sqlutil.QuoteIdentifier(sqltype.ElementType(colType))
		return sq.Expr(fmt.Sprintf("%s %s ARRAY[%s]::%s[]", col, symbol, placeholders(len(items)), elem), items...), nil
	}
	if isJSON(colType) {
		return sq.Expr(fmt.Sprintf("%s %s ?::jsonb", col, symbol), scalarArg(colType, value)), nil
	}
	return sq.Expr(fmt.Sprintf("%s %s ?", col, symbol), value), nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return sq.Placeholders(n)
}

func isJSON(colType string) bool {
	t := strings.ToLower(colType)
	return t == "json" || t == "jsonb"
}

func isKeyword(value any) (string, error) {
	if value == nil {
		return "NULL", nil
	}
	switch v := value.(type) {
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		switch strings.ToLower(v) {
		case "null":
			return "NULL", nil
		case "true":
			return "TRUE", nil
		case "false":
			return "FALSE", nil
		case "unknown":
			return "UNKNOWN", nil
		}
	}
	return "", fmt.Errorf("_is expects null, true, false or unknown, got %v", value)
}

func list(op string, value any) ([]any, error) {
	if s, ok := value.(string); ok {
		return splitList(s), nil
	}
	items, ok := toSlice(value)
	if !ok {
		return nil, fmt.Errorf("%s expects a list", op)
	}
	return items, nil
}

func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []Predicate:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case Predicate:
		return v, true
	case map[string]any:
		return v, true
	}
	return nil, false
}
