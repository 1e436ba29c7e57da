// Package filter turns request query parameters into a predicate and
// compiles predicates to SQL.
//
// A route registers an ordered Set of filters. Compile walks the set, hands
// each filter whose key appears in the query its value, and shallow-merges
// the fragment it returns into an accumulator. Query keys without a
// registered filter never reach the predicate.
package filter

import (
	"fmt"
	"maps"
	"strings"

	"pg-engine/internal/result"
)

// Predicate is the where-object vocabulary: column name to either a bare
// value (equality) or an operator map, plus the _and/_or combinators.
type Predicate map[string]any

// Clone returns a shallow copy.
func (p Predicate) Clone() Predicate {
	out := make(Predicate, len(p))
	maps.Copy(out, p)
	return out
}

// Func computes a predicate fragment for one query value. query is the
// raw request query and acc the predicate accumulated so far; acc is a copy
// and may be read freely.
type Func func(value any, query map[string]any, acc Predicate) (Predicate, error)

// Filter binds a query key to the function that handles it.
type Filter struct {
	Key   string
	Apply Func
}

// Set is an ordered list of filters.
type Set []Filter

// Keys returns the registered query keys in registration order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for _, f := range s {
		keys = append(keys, f.Key)
	}
	return keys
}

// Compile builds the predicate for query. A failing or panicking filter
// aborts compilation; callers decide whether to fall back to an empty
// predicate with OrEmpty.
func Compile(filters Set, query map[string]any) (res result.Result[Predicate]) {
	defer func() {
		if r := recover(); r != nil {
			res = result.Fail[Predicate](fmt.Errorf("filter panicked: %v", r))
		}
	}()

	acc := Predicate{}
	for _, f := range filters {
		value, ok := query[f.Key]
		if !ok || f.Apply == nil {
			continue
		}
		fragment, err := f.Apply(value, query, acc.Clone())
		if err != nil {
			return result.Fail[Predicate](fmt.Errorf("filter %s: %w", f.Key, err))
		}
		maps.Copy(acc, fragment)
	}
	return result.Ok(acc)
}

// listOperators take a sequence; a comma separated query string is split.
var listOperators = map[string]bool{
	OpIn: true, OpNotIn: true, OpAny: true, OpNotAny: true, OpAll: true,
	OpKeyExistsAny: true, OpKeyExistsAll: true,
}

// Column returns a filter function mapping the query value onto
// {column: {op: value}}. An empty op means equality.
func Column(column, op string) Func {
	return func(value any, _ map[string]any, _ Predicate) (Predicate, error) {
		if op == "" || op == OpEq {
			return Predicate{column: value}, nil
		}
		if !knownOperator(op) {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		if s, ok := value.(string); ok && listOperators[op] {
			value = splitList(s)
		}
		return Predicate{column: map[string]any{op: value}}, nil
	}
}

// Spec declares a filter without code, as read from the models file.
type Spec struct {
	Key      string `yaml:"key"`
	Column   string `yaml:"column"`
	Operator string `yaml:"operator"`
}

// FromSpecs builds a Set from declarative specs. The column defaults to
// the key.
func FromSpecs(specs []Spec) (Set, error) {
	set := make(Set, 0, len(specs))
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, fmt.Errorf("filter spec without key")
		}
		column := spec.Column
		if column == "" {
			column = spec.Key
		}
		if spec.Operator != "" && spec.Operator != OpEq && !knownOperator(spec.Operator) {
			return nil, fmt.Errorf("filter %s: unknown operator %q", spec.Key, spec.Operator)
		}
		set = append(set, Filter{Key: spec.Key, Apply: Column(column, spec.Operator)})
	}
	return set, nil
}

func splitList(s string) []any {
	if strings.TrimSpace(s) == "" {
		return []any{}
	}
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
