// Package validation derives request and response schemas from table
// metadata. Schemas render to kin-openapi schemas, which both check
// decoded JSON and query values and feed the OpenAPI document.
package validation

import (
	"maps"
	"slices"
)

// Kind is the value shape a schema accepts.
type Kind int

const (
	KindAny Kind = iota
	KindNumber
	KindString
	KindBoolean
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Schema describes one value. Objects keep their properties in insertion
// order so rendered documents and validation issues are stable.
type Schema struct {
	Kind     Kind
	Optional bool
	Nullable bool
	// Coerce converts query-string text to the schema kind before checks.
	Coerce bool

	Items      *Schema
	properties map[string]*Schema
	order      []string

	Minimum   *float64
	MinLength *int
	Default   any
	Enum      []string
	Format    string
	// Prefix requires string values to start with it and carry more text.
	Prefix string

	// Ref names the component this schema is registered under; JSON Schema
	// rendering emits a $ref for it when nested.
	Ref         string
	Description string
}

func Any() *Schema     { return &Schema{Kind: KindAny} }
func Number() *Schema  { return &Schema{Kind: KindNumber} }
func String() *Schema  { return &Schema{Kind: KindString} }
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }

// ArrayOf accepts a list whose items match item.
func ArrayOf(item *Schema) *Schema {
	return &Schema{Kind: KindArray, Items: item}
}

// Object creates an empty object schema.
func Object() *Schema {
	return &Schema{Kind: KindObject, properties: map[string]*Schema{}}
}

// Set adds or replaces a property, keeping its first position.
func (s *Schema) Set(name string, prop *Schema) *Schema {
	if s.properties == nil {
		s.properties = map[string]*Schema{}
	}
	if _, exists := s.properties[name]; !exists {
		s.order = append(s.order, name)
	}
	s.properties[name] = prop
	return s
}

// Property returns a property schema.
func (s *Schema) Property(name string) (*Schema, bool) {
	p, ok := s.properties[name]
	return p, ok
}

// Properties returns the property names in order.
func (s *Schema) Properties() []string {
	return slices.Clone(s.order)
}

// Clone deep-copies the schema tree.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = s.Items.Clone()
	if s.properties != nil {
		out.properties = make(map[string]*Schema, len(s.properties))
		for name, prop := range s.properties {
			out.properties[name] = prop.Clone()
		}
	}
	out.order = slices.Clone(s.order)
	out.Enum = slices.Clone(s.Enum)
	if s.Minimum != nil {
		v := *s.Minimum
		out.Minimum = &v
	}
	if s.MinLength != nil {
		v := *s.MinLength
		out.MinLength = &v
	}
	return &out
}

// AsOptional returns a copy that may be absent.
func (s *Schema) AsOptional() *Schema {
	out := s.shallow()
	out.Optional = true
	return out
}

// AsNullable returns a copy that accepts null.
func (s *Schema) AsNullable() *Schema {
	out := s.shallow()
	out.Nullable = true
	return out
}

// WithMin returns a copy with a numeric lower bound.
func (s *Schema) WithMin(min float64) *Schema {
	out := s.shallow()
	out.Minimum = &min
	return out
}

// WithMinLength returns a copy with a string length lower bound.
func (s *Schema) WithMinLength(n int) *Schema {
	out := s.shallow()
	out.MinLength = &n
	return out
}

// WithDefault returns a copy that fills value in when absent.
func (s *Schema) WithDefault(value any) *Schema {
	out := s.shallow()
	out.Default = value
	out.Optional = true
	return out
}

// Coercing returns a deep copy with coercion enabled throughout.
func (s *Schema) Coercing() *Schema {
	out := s.Clone()
	out.setCoerce()
	return out
}

func (s *Schema) setCoerce() {
	s.Coerce = true
	if s.Items != nil {
		s.Items.setCoerce()
	}
	for _, p := range s.properties {
		p.setCoerce()
	}
}

func (s *Schema) shallow() *Schema {
	out := *s
	if s.properties != nil {
		out.properties = maps.Clone(s.properties)
		out.order = slices.Clone(s.order)
	}
	return &out
}
