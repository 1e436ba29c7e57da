package sqltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		sqlType  string
		expected Family
	}{
		{"integer", FamilyNumber},
		{"int4", FamilyNumber},
		{"smallint", FamilyNumber},
		{"bigint", FamilyNumber},
		{"numeric", FamilyNumber},
		{"double precision", FamilyNumber},
		{"real", FamilyNumber},
		{"money", FamilyNumber},
		{"bigserial", FamilyNumber},
		{"interval", FamilyNumber},
		{"character varying", FamilyString},
		{"text", FamilyString},
		{"timestamp with time zone", FamilyString},
		{"date", FamilyString},
		{"uuid", FamilyString},
		{"boolean", FamilyBoolean},
		{"json", FamilyAny},
		{"jsonb", FamilyAny},
		{"USER-DEFINED", FamilyAny},
		{"bytea", FamilyAny},
		{"", FamilyAny},
		{"_int4[]", FamilyNumber},
		{"_text[]", FamilyString},
		{"_bool[]", FamilyBoolean},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.sqlType))
		})
	}
}

func TestIsArrayAndElementType(t *testing.T) {
	assert.True(t, IsArray("_int4[]"))
	assert.True(t, IsArray("ARRAY"))
	assert.False(t, IsArray("integer"))
	assert.False(t, IsArray("array_name"))

	assert.Equal(t, "int4", ElementType("_int4[]"))
	assert.Equal(t, "text", ElementType("TEXT"))
}

func TestMapToGraphQL(t *testing.T) {
	tests := []struct {
		sqlType  string
		expected string
	}{
		{"integer", "Int"},
		{"smallint", "Int"},
		{"bigint", "BigInt"},
		{"int8", "BigInt"},
		{"numeric", "Decimal"},
		{"numeric(10,2)", "Decimal"},
		{"double precision", "Float"},
		{"boolean", "Boolean"},
		{"date", "Date"},
		{"timestamp with time zone", "DateTime"},
		{"time without time zone", "DateTime"},
		{"jsonb", "JSON"},
		{"character varying", "String"},
		{"uuid", "String"},
		{"_int4[]", "Int"},
		{"USER-DEFINED", "JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.sqlType, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapToGraphQL(tt.sqlType).String())
		})
	}
}

func TestFamilyString(t *testing.T) {
	assert.Equal(t, "number", FamilyNumber.String())
	assert.Equal(t, "any", Family(42).String())
}
