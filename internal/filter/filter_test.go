package filter

import (
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_RegisteredKeysOnly(t *testing.T) {
	filters := Set{
		{Key: "name", Apply: Column("name", OpILike)},
		{Key: "age", Apply: Column("age", OpGte)},
	}
	query := map[string]any{"name": "%ann%", "page": "2", "unrelated": "x"}

	pred, err := Compile(filters, query).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, Predicate{"name": map[string]any{"_ilike": "%ann%"}}, pred)
}

func TestCompile_MergesFragmentsInOrder(t *testing.T) {
	var seen Predicate
	filters := Set{
		{Key: "a", Apply: func(v any, _ map[string]any, _ Predicate) (Predicate, error) {
			return Predicate{"x": v}, nil
		}},
		{Key: "b", Apply: func(v any, _ map[string]any, acc Predicate) (Predicate, error) {
			seen = acc
			return Predicate{"x": v, "y": 1}, nil
		}},
	}

	pred := Compile(filters, map[string]any{"a": "first", "b": "second"}).OrEmpty()
	assert.Equal(t, Predicate{"x": "second", "y": 1}, pred)
	assert.Equal(t, Predicate{"x": "first"}, seen)
}

func TestCompile_AccumulatorIsACopy(t *testing.T) {
	filters := Set{
		{Key: "a", Apply: Column("a", "")},
		{Key: "b", Apply: func(_ any, _ map[string]any, acc Predicate) (Predicate, error) {
			acc["a"] = "tampered"
			return nil, nil
		}},
	}
	pred := Compile(filters, map[string]any{"a": 1, "b": 2}).OrEmpty()
	assert.Equal(t, Predicate{"a": 1}, pred)
}

func TestCompile_ErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	filters := Set{
		{Key: "a", Apply: func(any, map[string]any, Predicate) (Predicate, error) { return nil, boom }},
	}
	res := Compile(filters, map[string]any{"a": 1})
	require.False(t, res.IsOk())
	assert.ErrorIs(t, res.Err(), boom)
	assert.Empty(t, res.OrEmpty())
}

func TestCompile_PanicBecomesError(t *testing.T) {
	filters := Set{
		{Key: "a", Apply: func(any, map[string]any, Predicate) (Predicate, error) { panic("bad filter") }},
	}
	res := Compile(filters, map[string]any{"a": 1})
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "bad filter")
}

func TestColumn_SplitsListOperators(t *testing.T) {
	pred, err := Column("id", OpIn)("1, 2,3", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Predicate{"id": map[string]any{"_in": []any{"1", "2", "3"}}}, pred)

	_, err = Column("id", "_between")("1", nil, nil)
	assert.Error(t, err)
}

func TestFromSpecs(t *testing.T) {
	set, err := FromSpecs([]Spec{
		{Key: "q", Column: "title", Operator: OpILike},
		{Key: "status"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "status"}, set.Keys())

	pred := Compile(set, map[string]any{"q": "%go%", "status": "open"}).OrEmpty()
	assert.Equal(t, Predicate{
		"title":  map[string]any{"_ilike": "%go%"},
		"status": "open",
	}, pred)

	_, err = FromSpecs([]Spec{{Column: "x"}})
	assert.Error(t, err)
	_, err = FromSpecs([]Spec{{Key: "x", Operator: "_nope"}})
	assert.Error(t, err)
}

var testColumns = ColumnTypes{
	"id":     "integer",
	"name":   "character varying",
	"tags":   "_text[]",
	"meta":   "jsonb",
	"search": "tsvector",
	"body":   "text",
	"active": "boolean",
}

func render(t *testing.T, pred Predicate) (string, []any) {
	t.Helper()
	cond, err := BuildWhere(pred, testColumns)
	require.NoError(t, err)
	require.NotNil(t, cond)
	sql, args, err := sq.Select("*").From("t").Where(cond).PlaceholderFormat(sq.Dollar).ToSql()
	require.NoError(t, err)
	return sql, args
}

func TestBuildWhere_Operators(t *testing.T) {
	tests := []struct {
		name     string
		pred     Predicate
		wantSQL  string
		wantArgs []any
	}{
		{"bare value", Predicate{"id": 1}, `SELECT * FROM t WHERE "id" = $1`, []any{1}},
		{"null", Predicate{"name": nil}, `SELECT * FROM t WHERE "name" IS NULL`, nil},
		{"neq", Predicate{"id": map[string]any{"_neq": 2}}, `SELECT * FROM t WHERE "id" <> $1`, []any{2}},
		{"range", Predicate{"id": map[string]any{"_gt": 1, "_lte": 9}},
			`SELECT * FROM t WHERE ("id" > $1 AND "id" <= $2)`, []any{1, 9}},
		{"in", Predicate{"id": map[string]any{"_in": []any{1, 2}}}, `SELECT * FROM t WHERE "id" IN ($1,$2)`, []any{1, 2}},
		{"empty in", Predicate{"id": map[string]any{"_in": []any{}}}, `SELECT * FROM t WHERE (1=0)`, nil},
		{"nin", Predicate{"id": map[string]any{"_nin": []any{1, 2}}}, `SELECT * FROM t WHERE "id" NOT IN ($1,$2)`, []any{1, 2}},
		{"nany", Predicate{"id": map[string]any{"_nany": []any{1, 2}}},
			`SELECT * FROM t WHERE ("id" <> $1 OR "id" <> $2)`, []any{1, 2}},
		{"all", Predicate{"id": map[string]any{"_all": []any{3}}}, `SELECT * FROM t WHERE ("id" = $1)`, []any{3}},
		{"is", Predicate{"active": map[string]any{"_is": "unknown"}}, `SELECT * FROM t WHERE "active" IS UNKNOWN`, nil},
		{"is not", Predicate{"active": map[string]any{"_is_not": nil}}, `SELECT * FROM t WHERE "active" IS NOT NULL`, nil},
		{"ilike", Predicate{"name": map[string]any{"_ilike": "%a%"}}, `SELECT * FROM t WHERE "name" ILIKE $1`, []any{"%a%"}},
		{"array contains", Predicate{"tags": map[string]any{"_contains": []any{"a", "b"}}},
			`SELECT * FROM t WHERE "tags" @> ARRAY[$1,$2]::"text"[]`, []any{"a", "b"}},
		{"json contained in", Predicate{"meta": map[string]any{"_contained_in": map[string]any{"k": 1}}},
			`SELECT * FROM t WHERE "meta" <@ $1::jsonb`, []any{`{"k":1}`}},
		{"key exists", Predicate{"meta": map[string]any{"_key_exists": "k"}}, `SELECT * FROM t WHERE "meta" ? $1`, []any{"k"}},
		{"key exists any", Predicate{"meta": map[string]any{"_key_exists_any": []any{"a", "b"}}},
			`SELECT * FROM t WHERE "meta" ?| ARRAY[$1,$2]`, []any{"a", "b"}},
		{"key exists all", Predicate{"meta": map[string]any{"_key_exists_all": []any{"a"}}},
			`SELECT * FROM t WHERE "meta" ?& ARRAY[$1]`, []any{"a"}},
		{"tsvector search", Predicate{"search": map[string]any{"_text_search": "go & sql"}},
			`SELECT * FROM t WHERE "search" @@ to_tsquery($1)`, []any{"go & sql"}},
		{"text search", Predicate{"body": map[string]any{"_text_search": "go"}},
			`SELECT * FROM t WHERE to_tsvector("body") @@ to_tsquery($1)`, []any{"go"}},
		{"in array", Predicate{"tags": map[string]any{"_in_array": "a"}}, `SELECT * FROM t WHERE $1 = ANY("tags")`, []any{"a"}},
		{"nin array", Predicate{"tags": map[string]any{"_nin_array": "a"}}, `SELECT * FROM t WHERE $1 <> ALL("tags")`, []any{"a"}},
		{"json equality", Predicate{"meta": map[string]any{"k": true}}, `SELECT * FROM t WHERE "meta" = $1`, []any{`{"k":true}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := render(t, tt.pred)
			assert.Equal(t, tt.wantSQL, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestBuildWhere_Combinators(t *testing.T) {
	sql, args := render(t, Predicate{
		"_or": []any{
			map[string]any{"id": 1},
			Predicate{"name": "ann", "active": true},
		},
		"body": map[string]any{"_like": "x%"},
	})
	assert.Equal(t, `SELECT * FROM t WHERE (("id" = $1 OR ("active" = $2 AND "name" = $3)) AND "body" LIKE $4)`, sql)
	assert.Equal(t, []any{1, true, "ann", "x%"}, args)
}

func TestBuildWhere_Errors(t *testing.T) {
	_, err := BuildWhere(Predicate{"missing": 1}, testColumns)
	assert.EqualError(t, err, "unknown column: missing")

	_, err = BuildWhere(Predicate{"id": map[string]any{"_between": 1}}, testColumns)
	assert.ErrorContains(t, err, "unknown operator")

	_, err = BuildWhere(Predicate{"_and": "nope"}, testColumns)
	assert.ErrorContains(t, err, "_and must be an array")

	_, err = BuildWhere(Predicate{"active": map[string]any{"_is": "maybe"}}, testColumns)
	assert.Error(t, err)
}

func TestBuildWhere_EmptyPredicate(t *testing.T) {
	cond, err := BuildWhere(Predicate{}, testColumns)
	require.NoError(t, err)
	assert.Nil(t, cond)
}
