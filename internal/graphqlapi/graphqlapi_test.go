package graphqlapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
	"pg-engine/internal/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usersSelect = `SELECT "id", "email", "password" FROM "public"."users"`
	postsSelect = `SELECT "id", "author_id", "title" FROM "public"."posts"`
)

func testSchema() *introspection.Schema {
	return &introspection.Schema{
		Name: "public",
		Tables: []introspection.Table{
			{
				Name: "users",
				Columns: []introspection.Column{
					{Name: "id", Type: "integer", Primary: true, AutoIncrement: true, HasDefault: true},
					{Name: "email", Type: "text", Unique: true},
					{Name: "password", Type: "text"},
				},
			},
			{
				Name: "posts",
				Columns: []introspection.Column{
					{Name: "id", Type: "integer", Primary: true, AutoIncrement: true, HasDefault: true},
					{Name: "author_id", Type: "integer", Nullable: true, Foreign: true},
					{Name: "title", Type: "text"},
				},
			},
		},
	}
}

type fixture struct {
	schema graphql.Schema
	db     dbexec.TxBeginner
	mock   sqlmock.Sqlmock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := registry.Build(testSchema(), registry.Relations{
		"posts": {{Alias: "author", FromColumn: "author_id", ToTable: "users", ToColumn: "id", Type: model.RelationObject}},
		"users": {{Alias: "posts", FromColumn: "id", ToTable: "posts", ToColumn: "author_id", Type: model.RelationArray}},
	}, logger)
	eng, err := engine.New(reg, engine.Options{}, logger)
	require.NoError(t, err)

	schema, err := BuildSchema(Config{
		Engine:       eng,
		Executor:     dbexec.NewStandardExecutor(db),
		DefaultLimit: 50,
		Logger:       logger,
	})
	require.NoError(t, err)
	return fixture{schema: schema, db: db, mock: mock}
}

func (f fixture) run(query string) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:        f.schema,
		RequestString: query,
		Context:       context.Background(),
	})
}

func TestBuildSchema_Fields(t *testing.T) {
	f := newFixture(t)

	queries := f.schema.QueryType().Fields()
	for _, name := range []string{"users", "users_by_pk", "users_aggregate", "posts", "posts_by_pk", "posts_aggregate"} {
		assert.Contains(t, queries, name)
	}
	mutations := f.schema.MutationType().Fields()
	for _, name := range []string{"insert_posts", "update_posts", "update_posts_by_pk", "delete_posts", "delete_posts_by_pk"} {
		assert.Contains(t, mutations, name)
	}

	post, ok := f.schema.Type("Post").(*graphql.Object)
	require.True(t, ok)
	assert.Contains(t, post.Fields(), "author")
	assert.Equal(t, "Int!", post.Fields()["id"].Type.String())
	assert.Equal(t, "Int", post.Fields()["author_id"].Type.String())
	user, ok := f.schema.Type("User").(*graphql.Object)
	require.True(t, ok)
	assert.Equal(t, "[Post!]!", user.Fields()["posts"].Type.String())
}

func TestBuildSchema_RequiresEngine(t *testing.T) {
	_, err := BuildSchema(Config{})
	assert.Error(t, err)
}

func TestList_PreloadsSelectedRelations(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect+` WHERE "title" ILIKE $1 ORDER BY "id" LIMIT 50`)).
		WithArgs("%go%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).
			AddRow(int64(1), int64(7), "go tips").
			AddRow(int64(2), nil, "go again"))
	f.mock.ExpectQuery(regexp.QuoteMeta(usersSelect + ` WHERE "id" IN ($1)`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password"}).AddRow(int64(7), "a@b.c", "x"))

	res := f.run(`{ posts(where: {title: {_ilike: "%go%"}}) { id title author { email } } }`)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]any)
	posts := data["posts"].([]any)
	require.Len(t, posts, 2)
	first := posts[0].(map[string]any)
	assert.Equal(t, "go tips", first["title"])
	assert.Equal(t, map[string]any{"email": "a@b.c"}, first["author"])
	assert.Nil(t, posts[1].(map[string]any)["author"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestList_NestedRelationFetchedPerRow(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect+` ORDER BY "id" LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).AddRow(int64(1), int64(7), "t"))
	f.mock.ExpectQuery(regexp.QuoteMeta(usersSelect + ` WHERE "id" IN ($1)`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password"}).AddRow(int64(7), "a@b.c", "x"))
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` WHERE "author_id" = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).
			AddRow(int64(1), int64(7), "t").
			AddRow(int64(3), int64(7), "u"))

	res := f.run(`{ posts(limit: 1) { author { posts { id } } } }`)
	require.Empty(t, res.Errors)
	posts := res.Data.(map[string]any)["posts"].([]any)
	author := posts[0].(map[string]any)["author"].(map[string]any)
	assert.Len(t, author["posts"], 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestByPK_Missing(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(usersSelect + ` WHERE "id" = $1`)).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password"}))

	res := f.run(`{ users_by_pk(id: 9) { email } }`)
	require.Empty(t, res.Errors)
	assert.Nil(t, res.Data.(map[string]any)["users_by_pk"])
}

func TestAggregate(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*), max("id") FROM "public"."posts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(int64(4), int64(12)))

	res := f.run(`{ posts_aggregate(max: ["id"]) { count max } }`)
	require.Empty(t, res.Errors)
	agg := res.Data.(map[string]any)["posts_aggregate"].(map[string]any)
	assert.Equal(t, "4", agg["count"])
	assert.NotNil(t, agg["max"])
}

func TestInsert_ValidatesPayload(t *testing.T) {
	f := newFixture(t)
	res := f.run(`mutation { insert_posts(object: {author_id: 1}) { id } }`)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0].Message, "title")
}

func TestInsert_DatabaseErrorHidden(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts"`)).
		WillReturnError(errors.New("connection reset"))

	res := f.run(`mutation { insert_posts(object: {title: "t"}) { id } }`)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "posts entity failed to be created", res.Errors[0].Message)
}

func TestBulkMutationsNeedWhere(t *testing.T) {
	f := newFixture(t)
	res := f.run(`mutation { delete_posts(where: {}) { id } }`)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0].Message, "where must not be empty")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateByPK(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public"."posts" SET "title" = $1 WHERE "id" = $2 RETURNING`)).
		WithArgs("new", 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).AddRow(int64(3), nil, "new"))

	res := f.run(`mutation { update_posts_by_pk(id: 3, _set: {title: "new"}) { id title } }`)
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]any{"id": 3, "title": "new"}, res.Data.(map[string]any)["update_posts_by_pk"])
}

func TestSDL(t *testing.T) {
	f := newFixture(t)
	sdl, err := SDL(f.schema)
	require.NoError(t, err)
	assert.Contains(t, sdl, "type Post")
	assert.Contains(t, sdl, "scalar JSON")
	assert.Contains(t, sdl, "posts_by_pk(id: Int!): Post")

	path := filepath.Join(t.TempDir(), "out", "schema.graphql")
	require.NoError(t, WriteSDL(f.schema, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sdl, string(data))
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandler_DepthLimit(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(HandlerConfig{Schema: f.schema, MaxDepth: 2})

	rr := post(h, `{"query":"{ posts { author { posts { id } } } }"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "exceeds the limit of 2")
}

func TestHandler_MutationCommits(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(HandlerConfig{Schema: f.schema, DB: f.db})

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts" ("title") VALUES ($1) RETURNING`)).
		WithArgs("t").
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).AddRow(int64(5), nil, "t"))
	f.mock.ExpectCommit()

	rr := post(h, `{"query":"mutation { insert_posts(object: {title: \"t\"}) { id } }"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id": 5`)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandler_MutationRollsBack(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(HandlerConfig{Schema: f.schema, DB: f.db})

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts"`)).WillReturnError(errors.New("boom"))
	f.mock.ExpectRollback()

	rr := post(h, `{"query":"mutation { insert_posts(object: {title: \"t\"}) { id } }"}`)
	assert.Contains(t, rr.Body.String(), "failed to be created")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandler_QueryRunsOutsideTransaction(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(HandlerConfig{Schema: f.schema, DB: f.db})
	f.mock.ExpectQuery(regexp.QuoteMeta(usersSelect)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password"}))

	rr := post(h, `{"query":"{ users { id } }"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAnalyze(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(
		`{"query":"query A { posts { id } } mutation B { delete_posts(where: {id: {_eq: 1}}) { id } }","operationName":"B"}`))
	op, err := analyze(req)
	require.NoError(t, err)
	assert.Equal(t, "B", op.Name)
	assert.Equal(t, "mutation", op.Type)
	assert.Equal(t, 2, op.Depth)
	assert.Equal(t, 2, op.Fields)
	assert.NotEmpty(t, op.Hash)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "operationName")

	req = httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"query A { a } query B { b }"}`))
	_, err = analyze(req)
	assert.ErrorContains(t, err, "operationName is required")

	req = httptest.NewRequest(http.MethodGet, "/graphql?query=%7Busers%7Bid%7D%7D", nil)
	op, err = analyze(req)
	require.NoError(t, err)
	assert.Equal(t, "query", op.Type)
	assert.Equal(t, anonymousOperation, op.Name)
}

func TestMeasure_FragmentCycle(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(
		`{"query":"{ posts { ...F } } fragment F on Post { id ...F }"}`))
	op, err := analyze(req)
	require.NoError(t, err)
	assert.Equal(t, 2, op.Depth)
	assert.Equal(t, 2, op.Fields)
}
