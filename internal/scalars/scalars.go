// Package scalars defines the custom GraphQL scalars used for Postgres
// column types that have no faithful built-in counterpart.
package scalars

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// NonNegativeInt backs limit and offset arguments.
func NonNegativeInt() *graphql.Scalar {
	coerce := func(value interface{}) interface{} {
		n, ok := toInt64(value)
		if !ok || n < 0 || n > math.MaxInt32 {
			return nil
		}
		return int(n)
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:         "NonNegativeInt",
		Description:  "An integer greater than or equal to zero.",
		Serialize:    coerce,
		ParseValue:   coerce,
		ParseLiteral: func(valueAST ast.Value) interface{} { return coerce(literalValue(valueAST)) },
	})
}

// JSON carries arbitrary JSON values: jsonb columns, where predicates and
// mutation payloads. Values stay structured on both sides.
func JSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON value.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return decodeJSONText(string(v))
			case json.RawMessage:
				return decodeJSONText(string(v))
			default:
				return v
			}
		},
		ParseValue: func(value interface{}) interface{} {
			return value
		},
		ParseLiteral: literalValue,
	})
}

// BigInt carries int8 columns as strings so values above 2^53 survive
// JSON clients.
func BigInt() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "BigInt",
		Description: "64-bit integer value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			n, ok := toInt64(value)
			if !ok {
				return nil
			}
			return strconv.FormatInt(n, 10)
		},
		ParseValue: func(value interface{}) interface{} {
			n, ok := toInt64(value)
			if !ok {
				return nil
			}
			return n
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			n, ok := toInt64(literalValue(valueAST))
			if !ok {
				return nil
			}
			return n
		},
	})
}

// Decimal carries numeric and money columns as strings.
func Decimal() *graphql.Scalar {
	toDecimal := func(value interface{}) interface{} {
		switch v := value.(type) {
		case []byte:
			return validDecimal(string(v))
		case string:
			return validDecimal(v)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return fmt.Sprintf("%v", v)
		default:
			return nil
		}
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Decimal",
		Description: "Fixed-point decimal value serialized as a string.",
		Serialize:   toDecimal,
		ParseValue:  toDecimal,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.StringValue:
				return validDecimal(v.Value)
			case *ast.IntValue:
				return v.Value
			case *ast.FloatValue:
				return v.Value
			default:
				return nil
			}
		},
	})
}

// Date carries date columns as YYYY-MM-DD.
func Date() *graphql.Scalar {
	return temporal("Date", "Date value serialized as YYYY-MM-DD.", "2006-01-02")
}

// DateTime carries timestamp and time columns as RFC 3339 strings.
func DateTime() *graphql.Scalar {
	return temporal("DateTime", "Timestamp serialized as RFC 3339.", time.RFC3339Nano)
}

func temporal(name, description, layout string) *graphql.Scalar {
	parse := func(s string) interface{} {
		for _, l := range []string{layout, time.RFC3339Nano, "2006-01-02", "15:04:05"} {
			if _, err := time.Parse(l, s); err == nil {
				return s
			}
		}
		return nil
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        name,
		Description: description,
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case time.Time:
				return v.UTC().Format(layout)
			case *time.Time:
				if v == nil {
					return nil
				}
				return v.UTC().Format(layout)
			case string:
				return v
			case []byte:
				return string(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				return parse(s)
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parse(sv.Value)
			}
			return nil
		},
	})
}

// literalValue converts an inline GraphQL literal into plain Go values.
func literalValue(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	case *ast.IntValue:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
		return v.Value
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return v.Value
	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			out = append(out, literalValue(item))
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = literalValue(field.Value)
		}
		return out
	default:
		return nil
	}
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func validDecimal(s string) interface{} {
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return nil
	}
	return s
}

func decodeJSONText(s string) interface{} {
	var out interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}
