package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"pg-engine/internal/auth"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/engine"
	"pg-engine/internal/filter"
	"pg-engine/internal/introspection"
	"pg-engine/internal/middleware"
	"pg-engine/internal/model"
	"pg-engine/internal/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	usersSelect = `SELECT "id", "email", "password" FROM "public"."users"`
	postsSelect = `SELECT "id", "author_id", "title" FROM "public"."posts"`
)

var postColumns = []string{"id", "author_id", "title"}

type staticVerifier map[string]auth.Identity

func (v staticVerifier) Verify(_ context.Context, token string) auth.Identity {
	return v[token]
}

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
				ForeignKeys: []introspection.ForeignKey{
					{ConstraintName: "posts_author_id_fkey", ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
				},
			},
		},
	}
}

type fixture struct {
	mux  *http.ServeMux
	mock sqlmock.Sqlmock
}

func newFixture(t *testing.T, opts engine.Options, withAuth bool) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	exec := dbexec.NewStandardExecutor(db)

	reg := registry.Build(testSchema(), registry.Relations{
		"posts": {{Alias: "author", FromColumn: "author_id", ToTable: "users", ToColumn: "id", Type: model.RelationObject}},
	}, logger)
	opts.Auth.Enabled = withAuth
	eng, err := engine.New(reg, opts, logger)
	require.NoError(t, err)

	cfg := Config{
		Engine:   eng,
		Executor: exec,
		Verifier: staticVerifier{"good": {"id": float64(1), "role": "admin"}},
	}
	if withAuth {
		signer, err := auth.NewSigner(
			auth.TokenConfig{Secret: []byte("access-secret"), ExpiresIn: time.Minute},
			auth.TokenConfig{Secret: []byte("refresh-secret"), ExpiresIn: time.Hour},
		)
		require.NoError(t, err)
		users, ok := eng.AuthModel(exec)
		require.True(t, ok)
		cfg.Auth = auth.NewService(users, signer, auth.Options{BcryptCost: bcrypt.MinCost})
		cfg.Verifier = signer
	}

	h, err := NewHandler(cfg)
	require.NoError(t, err)
	mux := http.NewServeMux()
	require.NoError(t, h.Register(mux))
	return fixture{mux: mux, mock: mock}
}

func (f fixture) do(t *testing.T, method, target, body string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	var decoded map[string]any
	if bytes.HasPrefix(bytes.TrimSpace(rr.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	}
	return rr, decoded
}

func postFilters() filter.Set {
	return filter.Set{{Key: "q", Apply: filter.Column("title", filter.OpILike)}}
}

func TestList_Paginated(t *testing.T) {
	f := newFixture(t, engine.Options{
		Pagination: true,
		Models:     map[string]engine.ModelOptions{"posts": {Filters: postFilters()}},
	}, false)

	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "public"."posts" WHERE "title" ILIKE $1`)).
		WithArgs("%hel%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` WHERE "title" ILIKE $1 ORDER BY "id" LIMIT 5 OFFSET 5`)).
		WithArgs("%hel%").
		WillReturnRows(sqlmock.NewRows(postColumns).
			AddRow(int64(6), int64(1), "hello").
			AddRow(int64(7), nil, "help"))

	rr, body := f.do(t, http.MethodGet, "/api/v1/posts?page=2&view=5&q=%25hel%25", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(5), body["view"])
	assert.Equal(t, float64(7), body["total"])
	assert.Equal(t, float64(5), body["skip"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(5), body["per_page"])
	assert.Len(t, body["results"], 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestList_PaginationFailureIsSoft(t *testing.T) {
	f := newFixture(t, engine.Options{Pagination: true}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "public"."posts"`)).
		WillReturnError(errors.New("connection reset"))

	rr, body := f.do(t, http.MethodGet, "/api/v1/posts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), body["total"])
	assert.Equal(t, float64(10), body["per_page"])
	assert.Equal(t, []any{}, body["results"])
}

func TestList_UnpaginatedWithInclude(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` ORDER BY "id"`)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(1), int64(3), "hello"))
	f.mock.ExpectQuery(regexp.QuoteMeta(usersSelect + ` WHERE "id" IN ($1) ORDER BY "id"`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password"}).AddRow(int64(3), "ann@example.com", "x"))

	rr, _ := f.do(t, http.MethodGet, "/api/v1/posts?include=author", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	author, ok := rows[0]["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ann@example.com", author["email"])
}

func TestList_UnknownIncludeIsBadRequest(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(1), nil, "hello"))

	rr, body := f.do(t, http.MethodGet, "/api/v1/posts?include=comments", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Bad Request", body["error"])
}

func TestList_InvalidQuery(t *testing.T) {
	f := newFixture(t, engine.Options{Pagination: true}, false)
	rr, body := f.do(t, http.MethodGet, "/api/v1/posts?page=0", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["message"], "page")
}

func TestList_StrictFilters(t *testing.T) {
	failing := filter.Set{{Key: "q", Apply: func(any, map[string]any, filter.Predicate) (filter.Predicate, error) {
		return nil, errors.New("bad filter")
	}}}
	f := newFixture(t, engine.Options{
		StrictFilters: true,
		Models:        map[string]engine.ModelOptions{"posts": {Filters: failing}},
	}, false)
	rr, body := f.do(t, http.MethodGet, "/api/v1/posts?q=x", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["message"], "bad filter")

	lenient := newFixture(t, engine.Options{
		Models: map[string]engine.ModelOptions{"posts": {Filters: failing}},
	}, false)
	lenient.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` ORDER BY "id"`)).
		WillReturnRows(sqlmock.NewRows(postColumns))
	rr, _ = lenient.do(t, http.MethodGet, "/api/v1/posts?q=x", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestGetByID(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` WHERE "id" = $1 ORDER BY "id" LIMIT 1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(4), nil, "found"))
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect + ` WHERE "id" = $1 ORDER BY "id" LIMIT 1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(postColumns))

	rr, body := f.do(t, http.MethodGet, "/api/v1/posts/4", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "found", body["title"])

	rr, body = f.do(t, http.MethodGet, "/api/v1/posts/5", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "posts entity not found", body["message"])

	rr, _ = f.do(t, http.MethodGet, "/api/v1/posts/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts" ("author_id","title") VALUES ($1,$2) RETURNING "id", "author_id", "title"`)).
		WithArgs(int64(1), "hello").
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(9), int64(1), "hello"))

	rr, body := f.do(t, http.MethodPost, "/api/v1/posts", `{"author_id": 1, "title": "hello", "ignored": true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, float64(9), body["id"])

	rr, body = f.do(t, http.MethodPost, "/api/v1/posts", `{"author_id": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["message"], "title")

	rr, _ = f.do(t, http.MethodPost, "/api/v1/posts", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreate_BigintKeepsPrecision(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts" ("author_id","title") VALUES ($1,$2) RETURNING`)).
		WithArgs(int64(9007199254740993), "big").
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(10), int64(9007199254740993), "big"))

	rr, _ := f.do(t, http.MethodPost, "/api/v1/posts", `{"author_id": 9007199254740993, "title": "big"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"author_id":9007199254740993`)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreate_DatabaseErrors(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	insert := regexp.QuoteMeta(`INSERT INTO "public"."posts"`)
	f.mock.ExpectQuery(insert).WillReturnError(&pgconn.PgError{Code: "23503", Detail: "Key (author_id)=(99) is not present"})
	f.mock.ExpectQuery(insert).WillReturnError(errors.New("connection reset"))

	rr, body := f.do(t, http.MethodPost, "/api/v1/posts", `{"author_id": 99, "title": "x"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Key (author_id)=(99) is not present", body["message"])

	rr, body = f.do(t, http.MethodPost, "/api/v1/posts", `{"author_id": 1, "title": "x"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity failed to be created", body["message"])
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t, engine.Options{
		Models: map[string]engine.ModelOptions{"posts": {Filters: postFilters()}},
	}, false)

	f.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public"."posts" SET "title" = $1 WHERE "id" = $2 RETURNING`)).
		WithArgs("renamed", int64(3)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(3), nil, "renamed"))
	rr, _ := f.do(t, http.MethodPut, "/api/v1/posts/3", `{"title": "renamed"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `[{"id":3,"author_id":null,"title":"renamed"}]`, rr.Body.String())

	f.mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "public"."posts" WHERE "title" ILIKE $1 RETURNING`)).
		WithArgs("draft%").
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(1), nil, "draft 1").AddRow(int64(2), nil, "draft 2"))
	rr, _ = f.do(t, http.MethodDelete, "/api/v1/posts?q=draft%25", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	f.mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "public"."posts" WHERE "id" = $1 RETURNING`)).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(postColumns))
	rr, body := f.do(t, http.MethodDelete, "/api/v1/posts/8", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity/-ies failed to be deleted", body["message"])

	f.mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "public"."posts" WHERE "id" = $1 RETURNING`)).
		WillReturnError(errors.New("connection reset"))
	rr, body = f.do(t, http.MethodDelete, "/api/v1/posts/8", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity/-ies failed to be deleted", body["message"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEmptyStatementResults(t *testing.T) {
	f := newFixture(t, engine.Options{
		Models: map[string]engine.ModelOptions{"posts": {Filters: postFilters()}},
	}, false)

	f.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public"."posts" SET "title" = $1 WHERE "title" ILIKE $2 RETURNING`)).
		WithArgs("renamed", "none%").
		WillReturnRows(sqlmock.NewRows(postColumns))
	rr, body := f.do(t, http.MethodPut, "/api/v1/posts?q=none%25", `{"title": "renamed"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity/-ies failed to be updated", body["message"])

	f.mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "public"."posts" WHERE "title" ILIKE $1 RETURNING`)).
		WithArgs("none%").
		WillReturnRows(sqlmock.NewRows(postColumns))
	rr, body = f.do(t, http.MethodDelete, "/api/v1/posts?q=none%25", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity/-ies failed to be deleted", body["message"])

	f.mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "public"."posts" SET "title" = $1 WHERE "id" = $2 RETURNING`)).
		WithArgs("renamed", int64(9)).
		WillReturnRows(sqlmock.NewRows(postColumns))
	rr, body = f.do(t, http.MethodPut, "/api/v1/posts/9", `{"title": "renamed"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "posts entity/-ies failed to be updated", body["message"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBulkWithoutFilter(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM "public"."posts" RETURNING`)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(1), nil, "a"))
	rr, _ := f.do(t, http.MethodDelete, "/api/v1/posts", "")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NoError(t, f.mock.ExpectationsWereMet())

	guarded := newFixture(t, engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {HTTPHandlers: engine.HTTPHandlers{
			Put:    engine.HandlerConfig{RejectUnfilteredBulk: true},
			Delete: engine.HandlerConfig{RejectUnfilteredBulk: true},
		}},
	}}, false)
	rr, _ = guarded.do(t, http.MethodDelete, "/api/v1/posts", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = guarded.do(t, http.MethodPut, "/api/v1/posts", `{"title": "all"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouteAuthAndAccess(t *testing.T) {
	f := newFixture(t, engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {HTTPHandlers: engine.HTTPHandlers{
			Get: engine.HandlerConfig{Auth: true},
			Post: engine.HandlerConfig{
				Auth: true,
				CanAccess: func(_ context.Context, user auth.Identity, _ *http.Request) (bool, error) {
					return user["role"] == "editor", nil
				},
			},
		}},
	}}, false)

	rr, _ := f.do(t, http.MethodGet, "/api/v1/posts", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect)).WillReturnRows(sqlmock.NewRows(postColumns))
	rr, _ = f.do(t, http.MethodGet, "/api/v1/posts", "", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, body := f.do(t, http.MethodPost, "/api/v1/posts", `{"title":"x"}`, "Authorization", "Bearer good")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "Access to this resource is restricted", body["message"])
}

func TestFormatters(t *testing.T) {
	f := newFixture(t, engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {HTTPHandlers: engine.HTTPHandlers{Post: engine.HandlerConfig{
			BodyFormatter: func(body map[string]any, _ auth.Identity) (map[string]any, error) {
				body["title"] = strings.ToUpper(body["title"].(string))
				return body, nil
			},
			ResponseFormatter: func(data any, _ auth.Identity) (any, error) {
				return nil, errors.New("formatter broke")
			},
		}}},
	}}, false)

	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."posts" ("title") VALUES ($1)`)).
		WithArgs("LOUD").
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(int64(1), nil, "LOUD"))

	rr, body := f.do(t, http.MethodPost, "/api/v1/posts", `{"title":"loud"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "LOUD", body["title"])
}

func TestRegister_RequiresVerifierForAuthRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	eng, err := engine.New(registry.Build(testSchema(), nil, logger), engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {HTTPHandlers: engine.HTTPHandlers{Get: engine.HandlerConfig{Auth: true}}},
	}}, logger)
	require.NoError(t, err)
	h, err := NewHandler(Config{Engine: eng, Executor: dbexec.NewStandardExecutor(db)})
	require.NoError(t, err)
	assert.Error(t, h.Register(http.NewServeMux()))
}

func TestDisableAPIHandlers(t *testing.T) {
	f := newFixture(t, engine.Options{DisableAPIHandlers: true}, false)
	rr, _ := f.do(t, http.MethodGet, "/api/v1/posts", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuthEndpoints(t *testing.T) {
	f := newFixture(t, engine.Options{}, true)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "password"}).AddRow(int64(1), "ann@example.com", string(hash))
	}
	findByEmail := regexp.QuoteMeta(usersSelect + ` WHERE "email" = $1 ORDER BY "id" LIMIT 1`)

	f.mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "public"."users" ("email","password") VALUES ($1,$2)`)).
		WithArgs("ann@example.com", sqlmock.AnyArg()).
		WillReturnRows(userRows())
	rr, body := f.do(t, http.MethodPost, "/api/v1/auth/register", `{"email":"ann@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, auth.RegisteredMessage, body["message"])

	f.mock.ExpectQuery(findByEmail).WithArgs("ann@example.com").WillReturnRows(userRows())
	rr, body = f.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid credentials", body["message"])

	f.mock.ExpectQuery(findByEmail).WithArgs("ann@example.com").WillReturnRows(userRows())
	rr, body = f.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	f.mock.ExpectQuery(findByEmail).WithArgs("ann@example.com").WillReturnRows(userRows())
	rr, body = f.do(t, http.MethodPost, "/api/v1/auth/refresh-token", `{"refresh_token":"`+refresh+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, body["access_token"])

	rr, body = f.do(t, http.MethodPost, "/api/v1/auth/refresh-token", `{"refresh_token":"`+access+`"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Refresh token is invalid", body["message"])

	rr, _ = f.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ann@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestClientError(t *testing.T) {
	assert.Nil(t, clientError(nil))
	assert.Nil(t, clientError(errors.New("boom")))
	assert.Equal(t, http.StatusConflict, clientError(&pgconn.PgError{Code: "23505", Message: "duplicate"}).status)
	assert.Equal(t, http.StatusBadRequest, clientError(&pgconn.PgError{Code: "22P02", Message: "invalid input"}).status)
	assert.Equal(t, http.StatusBadRequest, clientError(model.ErrNoValues).status)
	assert.Nil(t, clientError(&pgconn.PgError{Code: "57014"}))
}

func TestErrorBodyShape(t *testing.T) {
	f := newFixture(t, engine.Options{}, false)
	f.mock.ExpectQuery(regexp.QuoteMeta(postsSelect)).WillReturnRows(sqlmock.NewRows(postColumns))
	rr, _ := f.do(t, http.MethodGet, "/api/v1/posts/999", "")

	var body middleware.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, middleware.ErrorBody{StatusCode: 404, Error: "Not Found", Message: "posts entity not found"}, body)
}
