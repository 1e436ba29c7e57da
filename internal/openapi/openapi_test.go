package openapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pg-engine/internal/engine"
	"pg-engine/internal/introspection"
	"pg-engine/internal/model"
	"pg-engine/internal/registry"
	"pg-engine/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	schema := &introspection.Schema{
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
	reg := registry.Build(schema, registry.Relations{
		"posts": {{Alias: "author", FromColumn: "author_id", ToTable: "users", ToColumn: "id", Type: model.RelationObject}},
	}, logger)
	eng, err := engine.New(reg, opts, logger)
	require.NoError(t, err)
	return eng
}

// roundTrip normalizes the document to plain JSON values.
func roundTrip(t *testing.T, doc Document) map[string]any {
	t.Helper()
	data, err := json.Marshal(doc.T)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func dig(t *testing.T, v any, keys ...string) any {
	t.Helper()
	for _, k := range keys {
		m, ok := v.(map[string]any)
		require.True(t, ok, "expected object at %q", k)
		v, ok = m[k]
		require.True(t, ok, "missing key %q", k)
	}
	return v
}

func TestBuild_InfoAndComponents(t *testing.T) {
	eng := testEngine(t, engine.Options{Pagination: true})
	doc := roundTrip(t, Build(eng, Info{
		Title:        "pg-engine",
		Description:  "Generated REST API",
		Version:      "1.0.0",
		ContactEmail: "ops@example.com",
	}))

	assert.Equal(t, Version, doc["openapi"])
	assert.Equal(t, "pg-engine", dig(t, doc, "info", "title"))
	assert.Equal(t, "ops@example.com", dig(t, doc, "info", "contact", "email"))
	assert.NotContains(t, dig(t, doc, "info", "contact"), "name")

	schemas := dig(t, doc, "components", "schemas").(map[string]any)
	for _, name := range eng.Schemas().ComponentNames() {
		assert.Contains(t, schemas, name)
	}
	assert.Contains(t, schemas, "postsInsertBodySchema")
	assert.Contains(t, schemas, "errorSchema")
	assert.Equal(t, "bearer", dig(t, doc, "components", "securitySchemes", bearerScheme, "scheme"))
}

func TestBuild_RoutePaths(t *testing.T) {
	eng := testEngine(t, engine.Options{Pagination: true})
	doc := roundTrip(t, Build(eng, Info{Title: "t"}))

	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/v1/posts")
	assert.Contains(t, paths, "/api/v1/posts/{id}")
	assert.Contains(t, paths, "/api/v1/users")
	assert.NotContains(t, paths, "/api/v1/auth/login")

	list := dig(t, paths, "/api/v1/posts", "get").(map[string]any)
	assert.Equal(t, []any{"Posts"}, list["tags"])
	assert.Equal(t, validation.RefPrefix+"postsResponseSchema", dig(t, list, "responses", "200", "content", "application/json", "schema", "$ref"))

	names := map[string]bool{}
	for _, p := range list["parameters"].([]any) {
		param := p.(map[string]any)
		assert.Equal(t, "query", param["in"])
		names[param["name"].(string)] = true
	}
	assert.True(t, names["page"])
	assert.True(t, names["title"])

	create := dig(t, paths, "/api/v1/posts", "post")
	assert.Equal(t, validation.RefPrefix+"postsInsertBodySchema", dig(t, create, "requestBody", "content", "application/json", "schema", "$ref"))
	assert.Equal(t, validation.RefPrefix+"postsSchema", dig(t, create, "responses", "201", "content", "application/json", "schema", "$ref"))

	update := dig(t, paths, "/api/v1/posts/{id}", "put")
	assert.Equal(t, validation.RefPrefix+"postsUpdateBodySchema", dig(t, update, "requestBody", "content", "application/json", "schema", "$ref"))
	assert.Equal(t, validation.RefPrefix+"postsStatementResponseSchema", dig(t, update, "responses", "200", "content", "application/json", "schema", "$ref"))

	byID := dig(t, paths, "/api/v1/posts/{id}", "get").(map[string]any)
	params := byID["parameters"].([]any)
	require.Len(t, params, 1)
	assert.Equal(t, "path", params[0].(map[string]any)["in"])
	assert.Equal(t, true, params[0].(map[string]any)["required"])
}

func TestBuild_DocumentValidates(t *testing.T) {
	eng := testEngine(t, engine.Options{
		Pagination: true,
		Auth:       engine.AuthOptions{Enabled: true},
		Models: map[string]engine.ModelOptions{
			"posts": {HTTPHandlers: engine.HTTPHandlers{Delete: engine.HandlerConfig{Auth: true}}},
		},
	})
	doc := Build(eng, Info{Title: "pg-engine", Version: "1.0.0"})
	require.NoError(t, doc.Validate(context.Background()))

	author := dig(t, roundTrip(t, doc), "components", "schemas", "postsSchema", "properties", "author").(map[string]any)
	assert.Equal(t, true, author["nullable"])
	assert.Equal(t, []any{map[string]any{"$ref": validation.RefPrefix + "usersSchema"}}, author["allOf"])
}

func TestBuild_NoIdentifierRoutes(t *testing.T) {
	eng := testEngine(t, engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {Identifier: engine.NoIdentifier},
	}})
	doc := roundTrip(t, Build(eng, Info{Title: "t"}))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/v1/posts")
	assert.NotContains(t, paths, "/api/v1/posts/{id}")
}

func TestBuild_SecurityFollowsHandlerAuth(t *testing.T) {
	eng := testEngine(t, engine.Options{Models: map[string]engine.ModelOptions{
		"posts": {HTTPHandlers: engine.HTTPHandlers{Post: engine.HandlerConfig{Auth: true}}},
	}})
	doc := roundTrip(t, Build(eng, Info{Title: "t"}))

	create := dig(t, doc, "paths", "/api/v1/posts", "post").(map[string]any)
	assert.Contains(t, create, "security")
	list := dig(t, doc, "paths", "/api/v1/posts", "get").(map[string]any)
	assert.NotContains(t, list, "security")
}

func TestBuild_AuthPaths(t *testing.T) {
	eng := testEngine(t, engine.Options{Auth: engine.AuthOptions{Enabled: true}})
	doc := roundTrip(t, Build(eng, Info{Title: "t"}))

	login := dig(t, doc, "paths", "/api/v1/auth/login", "post")
	assert.Equal(t, validation.RefPrefix+validation.LoginRequestBodySchema,
		dig(t, login, "requestBody", "content", "application/json", "schema", "$ref"))
	assert.Equal(t, validation.RefPrefix+validation.LoginResponseSchema,
		dig(t, login, "responses", "200", "content", "application/json", "schema", "$ref"))

	register := dig(t, doc, "paths", "/api/v1/auth/register", "post")
	assert.Contains(t, dig(t, register, "responses"), "201")

	refresh := dig(t, doc, "paths", "/api/v1/auth/refresh-token", "post")
	assert.Equal(t, validation.RefPrefix+validation.RefreshTokenSchema,
		dig(t, refresh, "requestBody", "content", "application/json", "schema", "$ref"))

	var tagNames []string
	for _, tag := range doc["tags"].([]any) {
		tagNames = append(tagNames, tag.(map[string]any)["name"].(string))
	}
	assert.Contains(t, tagNames, "Auth")
}

func TestBuild_DisabledHandlersKeepComponents(t *testing.T) {
	eng := testEngine(t, engine.Options{DisableAPIHandlers: true})
	doc := Build(eng, Info{Title: "t"})
	assert.Empty(t, doc.PathNames())
	assert.NotEmpty(t, dig(t, roundTrip(t, doc), "components", "schemas"))
}

func TestHandlerAndWriteFile(t *testing.T) {
	eng := testEngine(t, engine.Options{})
	doc := Build(eng, Info{Title: "pg-engine", Version: "1.0.0"})

	rec := httptest.NewRecorder()
	Handler(doc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/swagger/json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	var served map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &served))
	assert.Equal(t, Version, served["openapi"])

	path := filepath.Join(t.TempDir(), "engine.swagger.json")
	require.NoError(t, WriteFile(doc, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "pg-engine", dig(t, written, "info", "title"))

	assert.Contains(t, doc.Summary(), "/api/v1/users")
}
