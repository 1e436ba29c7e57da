package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Issue is one validation failure at a dotted path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error collects every issue found in one value.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		if issue.Path == "" {
			parts[i] = issue.Message
			continue
		}
		parts[i] = issue.Path + ": " + issue.Message
	}
	return strings.Join(parts, "; ")
}

// Validate checks value and returns it normalized: coerced scalars,
// defaults filled in and unknown object keys dropped. The error is an
// *Error listing every issue, ordered by path.
func (s *Schema) Validate(value any) (any, error) {
	out := s.normalize(value)

	r := renderer{origin: map[*openapi3.Schema]*Schema{}}
	err := r.schema(s).VisitJSON(out, openapi3.MultiErrors())
	if err == nil {
		return out, nil
	}
	var issues []Issue
	r.collect(err, &issues)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return nil, &Error{Issues: issues}
}

// normalize shapes value for the schema without judging it: numbers
// become int64 when integral, coercing schemas parse query text, objects
// lose unknown keys and gain defaults. Values that cannot be shaped pass
// through for VisitJSON to reject.
func (s *Schema) normalize(value any) any {
	if value == nil {
		return nil
	}
	switch s.Kind {
	case KindNumber:
		return s.number(value)
	case KindString:
		if s.Coerce {
			switch x := value.(type) {
			case float64, int, int64, bool, json.Number:
				return fmt.Sprint(x)
			}
		}
	case KindBoolean:
		if str, ok := value.(string); ok && s.Coerce {
			if b, err := strconv.ParseBool(strings.TrimSpace(str)); err == nil {
				return b
			}
		}
	case KindArray:
		return s.array(value)
	case KindObject:
		return s.object(value)
	default:
		if n, ok := value.(json.Number); ok {
			return s.number(n)
		}
	}
	return value
}

func (s *Schema) number(value any) any {
	switch x := value.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return integral(f)
		}
		return x.String()
	case float64:
		return integral(x)
	case string:
		if !s.Coerce {
			return x
		}
		text := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return integral(f)
		}
	}
	return value
}

func integral(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func (s *Schema) array(value any) any {
	var items []any
	switch x := value.(type) {
	case []any:
		items = x
	case []string:
		items = make([]any, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case string:
		if !s.Coerce {
			return value
		}
		items = []any{x}
	default:
		return value
	}
	out := make([]any, len(items))
	for i, item := range items {
		if s.Items == nil {
			out[i] = item
			continue
		}
		out[i] = s.Items.normalize(item)
	}
	return out
}

func (s *Schema) object(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(s.order))
	for _, name := range s.order {
		prop := s.properties[name]
		raw, present := m[name]
		switch {
		case present:
			out[name] = prop.normalize(raw)
		case prop.Default != nil:
			out[name] = prop.Default
		}
	}
	return out
}

func (r *renderer) collect(err error, issues *[]Issue) {
	switch e := err.(type) {
	case openapi3.MultiError:
		for _, inner := range e {
			r.collect(inner, issues)
		}
	case *openapi3.SchemaError:
		*issues = append(*issues, Issue{Path: issuePath(e.JSONPointer()), Message: r.message(e)})
	default:
		*issues = append(*issues, Issue{Message: err.Error()})
	}
}

func (r *renderer) message(e *openapi3.SchemaError) string {
	src, ok := r.origin[e.Schema]
	if !ok {
		return e.Reason
	}
	switch e.SchemaField {
	case "required":
		return "Required"
	case "nullable":
		return fmt.Sprintf("Expected %s, received null", src.Kind)
	case "type":
		return fmt.Sprintf("Expected %s, received %s", src.Kind, received(e.Value))
	case "minimum":
		if src.Minimum != nil {
			return fmt.Sprintf("Number must be greater than or equal to %v", *src.Minimum)
		}
	case "minLength":
		if src.MinLength != nil {
			return fmt.Sprintf("String must contain at least %d character(s)", *src.MinLength)
		}
	case "pattern":
		if src.Prefix != "" {
			return fmt.Sprintf("Expected %q followed by a value", src.Prefix)
		}
	case "enum":
		return "Expected one of " + strings.Join(src.Enum, ", ")
	}
	return e.Reason
}

func received(value any) string {
	switch x := value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", x)
	}
}

// issuePath turns a JSON pointer into the dotted form, with array
// indexes in brackets.
func issuePath(pointer []string) string {
	var b strings.Builder
	for _, seg := range pointer {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
