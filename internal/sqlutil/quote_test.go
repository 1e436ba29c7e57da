package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", `"users"`},
		{"Order Items", `"Order Items"`},
		{`we"ird`, `"we""ird"`},
		{"", `""`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQualifiedTable(t *testing.T) {
	assert.Equal(t, `"public"."users"`, QualifiedTable("public", "users"))
	assert.Equal(t, `"users"`, QualifiedTable("", "users"))
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `'it''s'`, QuoteString("it's"))
	assert.Equal(t, `''`, QuoteString(""))
}
