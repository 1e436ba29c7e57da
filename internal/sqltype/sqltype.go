// Package sqltype classifies Postgres column types. The validation schema
// builder and the GraphQL layer both read types through it so a column has
// the same shape on every surface.
package sqltype

import "strings"

// Family is the validator kind of a column type.
type Family int

const (
	// FamilyAny is the fallback for json and unrecognized types.
	FamilyAny Family = iota
	// FamilyNumber covers integer, fixed-point and floating-point types.
	FamilyNumber
	// FamilyString covers character, temporal and uuid types.
	FamilyString
	// FamilyBoolean covers bool.
	FamilyBoolean
)

func (f Family) String() string {
	switch f {
	case FamilyNumber:
		return "number"
	case FamilyString:
		return "string"
	case FamilyBoolean:
		return "boolean"
	default:
		return "any"
	}
}

var numberPrefixes = []string{
	"int", "smallint", "numeric", "float", "decimal", "double",
	"money", "serial", "bigserial", "bigint", "real",
}

var stringFragments = []string{"char", "text", "time", "date", "uuid"}

// IsArray reports whether a column type is an array: a "[]" suffix as
// produced by introspection, or the bare catalog type ARRAY.
func IsArray(sqlType string) bool {
	return strings.Contains(sqlType, "[]") || sqlType == "ARRAY"
}

// ElementType strips the array marker and the udt underscore prefix:
// "_int4[]" -> "int4". Non-array types are returned lowercased.
func ElementType(sqlType string) string {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if !IsArray(sqlType) {
		return t
	}
	t = strings.TrimSuffix(t, "[]")
	return strings.TrimPrefix(t, "_")
}

// Classify maps a column type to its family. Numeric prefixes win over
// string fragments, so "interval" and "integer" are numbers while
// "timestamp with time zone" is a string. The mapping is total.
func Classify(sqlType string) Family {
	t := ElementType(sqlType)
	for _, p := range numberPrefixes {
		if strings.HasPrefix(t, p) {
			return FamilyNumber
		}
	}
	for _, f := range stringFragments {
		if strings.Contains(t, f) {
			return FamilyString
		}
	}
	if strings.HasPrefix(t, "bool") {
		return FamilyBoolean
	}
	return FamilyAny
}

// GraphQLType is the GraphQL scalar used for a column.
type GraphQLType int

const (
	TypeString GraphQLType = iota
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeJSON
)

// MapToGraphQL converts a column type to its GraphQL scalar. Array types
// map to their element scalar; callers wrap the list themselves.
func MapToGraphQL(sqlType string) GraphQLType {
	t := ElementType(sqlType)
	if idx := strings.Index(t, "("); idx != -1 {
		t = t[:idx]
	}
	switch t {
	case "int2", "int4", "smallint", "integer", "int", "serial", "serial4", "smallserial":
		return TypeInt
	case "int8", "bigint", "bigserial", "serial8":
		return TypeBigInt
	case "float4", "float8", "real", "double precision":
		return TypeFloat
	case "numeric", "decimal", "money":
		return TypeDecimal
	case "bool", "boolean":
		return TypeBoolean
	case "date":
		return TypeDate
	case "json", "jsonb":
		return TypeJSON
	}
	if strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "time") {
		return TypeDateTime
	}
	switch Classify(t) {
	case FamilyString:
		return TypeString
	case FamilyNumber:
		return TypeFloat
	case FamilyBoolean:
		return TypeBoolean
	default:
		return TypeJSON
	}
}

// String returns the GraphQL scalar type name for schema generation.
func (t GraphQLType) String() string {
	switch t {
	case TypeInt:
		return "Int"
	case TypeBigInt:
		return "BigInt"
	case TypeFloat:
		return "Float"
	case TypeDecimal:
		return "Decimal"
	case TypeBoolean:
		return "Boolean"
	case TypeDate:
		return "Date"
	case TypeDateTime:
		return "DateTime"
	case TypeJSON:
		return "JSON"
	default:
		return "String"
	}
}
