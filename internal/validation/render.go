package validation

import (
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"
)

// RefPrefix is where named schemas live in the OpenAPI document.
const RefPrefix = "#/components/schemas/"

// OpenAPI renders the schema for the OpenAPI document. Nested schemas
// that carry a Ref are emitted as references.
func (s *Schema) OpenAPI() *openapi3.Schema {
	r := renderer{docs: true}
	return r.schema(s)
}

// SchemaRef points at the component the schema is registered under, or
// inlines it when it has no name.
func (s *Schema) SchemaRef() *openapi3.SchemaRef {
	r := renderer{docs: true}
	return r.ref(s)
}

// renderer converts schemas to openapi3. The docs mode emits references
// and documentation fields; the validation mode inlines everything and
// records where each rendered node came from.
type renderer struct {
	docs   bool
	origin map[*openapi3.Schema]*Schema
}

func (r *renderer) ref(s *Schema) *openapi3.SchemaRef {
	value := r.schema(s)
	if !r.docs || s.Ref == "" {
		return openapi3.NewSchemaRef("", value)
	}
	ref := openapi3.NewSchemaRef(RefPrefix+s.Ref, value)
	if s.Nullable {
		// OpenAPI 3.0 ignores siblings of $ref; allOf keeps nullable.
		return openapi3.NewSchemaRef("", &openapi3.Schema{
			AllOf:    openapi3.SchemaRefs{ref},
			Nullable: true,
		})
	}
	return ref
}

func (r *renderer) schema(s *Schema) *openapi3.Schema {
	var out *openapi3.Schema
	switch s.Kind {
	case KindNumber:
		out = openapi3.NewFloat64Schema()
	case KindString:
		out = openapi3.NewStringSchema()
	case KindBoolean:
		out = openapi3.NewBoolSchema()
	case KindArray:
		out = openapi3.NewArraySchema()
		if s.Items != nil {
			out.Items = r.ref(s.Items)
		} else {
			out.Items = openapi3.NewSchemaRef("", openapi3.NewSchema())
		}
	case KindObject:
		out = openapi3.NewObjectSchema()
		if out.Properties == nil {
			out.Properties = openapi3.Schemas{}
		}
		for _, name := range s.order {
			prop := s.properties[name]
			out.Properties[name] = r.ref(prop)
			if !prop.Optional && prop.Default == nil {
				out.Required = append(out.Required, name)
			}
		}
	default:
		out = openapi3.NewSchema()
	}

	out.Nullable = s.Nullable
	if s.Minimum != nil {
		v := *s.Minimum
		out.Min = &v
	}
	if s.MinLength != nil && *s.MinLength > 0 {
		out.MinLength = uint64(*s.MinLength)
	}
	for _, e := range s.Enum {
		out.Enum = append(out.Enum, e)
	}
	if s.Prefix != "" {
		out.Pattern = "^" + regexp.QuoteMeta(s.Prefix) + ".+"
	}
	// Formats are documentation only; Postgres parses wider literals.
	if r.docs {
		out.Default = s.Default
		out.Format = s.Format
		out.Description = s.Description
	}
	if r.origin != nil {
		r.origin[out] = s
	}
	return out
}
