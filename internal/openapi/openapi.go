// Package openapi renders the OpenAPI 3.0 document of the generated REST
// API from the engine routes and their derived schemas.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"pg-engine/internal/engine"
	"pg-engine/internal/middleware"
	"pg-engine/internal/validation"

	"github.com/getkin/kin-openapi/openapi3"
)

// Version is the OpenAPI version of the rendered document.
const Version = "3.0.3"

const (
	bearerScheme = "bearerAuth"
	errorSchema  = "errorSchema"
)

// Info is the document info block.
type Info struct {
	Title        string
	Description  string
	Version      string
	ContactName  string
	ContactEmail string
}

// Document is a rendered OpenAPI document.
type Document struct {
	*openapi3.T
}

// Build renders the document of every route and auth endpoint the engine
// serves.
func Build(eng *engine.Engine, info Info) Document {
	opts := eng.Options()
	schemas := eng.Schemas()

	components := openapi3.Schemas{}
	for name, s := range schemas.Components() {
		components[name] = openapi3.NewSchemaRef("", s.OpenAPI())
	}
	components[errorSchema] = openapi3.NewSchemaRef("", errorBody())

	doc := &openapi3.T{
		OpenAPI: Version,
		Info: &openapi3.Info{
			Title:       info.Title,
			Description: info.Description,
			Version:     info.Version,
		},
		Servers: openapi3.Servers{{URL: "/"}},
		Tags:    tags(eng),
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: components,
			SecuritySchemes: openapi3.SecuritySchemes{
				bearerScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
	}
	if info.ContactName != "" || info.ContactEmail != "" {
		doc.Info.Contact = &openapi3.Contact{Name: info.ContactName, Email: info.ContactEmail}
	}

	if !opts.DisableAPIHandlers {
		for _, route := range eng.Routes() {
			addRoute(doc.Paths, opts.Prefix(), route)
		}
	}
	if opts.Auth.Enabled && schemas.Auth != nil {
		addAuth(doc.Paths, opts.AuthPrefix(), schemas.Auth)
	}
	return Document{T: doc}
}

func errorBody() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("statusCode", openapi3.NewFloat64Schema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	s.Required = []string{"statusCode", "error", "message"}
	return s
}

// Handler serves doc as JSON.
func Handler(doc Document) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, doc.T)
	})
}

// WriteFile writes doc as indented JSON to path.
func WriteFile(doc Document, path string) error {
	data, err := json.MarshalIndent(doc.T, "", "  ")
	if err != nil {
		return fmt.Errorf("encode openapi document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write openapi document: %w", err)
	}
	return nil
}

func tags(eng *engine.Engine) openapi3.Tags {
	var out openapi3.Tags
	seen := map[string]bool{}
	for _, route := range eng.Routes() {
		if seen[route.Tag()] {
			continue
		}
		seen[route.Tag()] = true
		out = append(out, &openapi3.Tag{Name: route.Tag()})
	}
	if eng.Options().Auth.Enabled {
		out = append(out, &openapi3.Tag{Name: "Auth"})
	}
	return out
}

func addRoute(paths *openapi3.Paths, prefix string, route *engine.Route) {
	s := route.Schemas
	base := prefix + route.Path
	table := route.Table

	paths.Set(base, &openapi3.PathItem{
		Get: operation(route, engine.VerbGet, "List "+table,
			queryParameters(s.QueryParams), nil, http.StatusOK, s.Response),
		Post: operation(route, engine.VerbPost, "Create a "+table+" entity",
			nil, s.Insert, http.StatusCreated, s.Entity),
		Put: operation(route, engine.VerbPut, "Update the "+table+" entities matching the query",
			queryParameters(s.QueryParams), s.Update, http.StatusOK, s.StatementResponse),
		Delete: operation(route, engine.VerbDelete, "Delete the "+table+" entities matching the query",
			queryParameters(s.QueryParams), nil, http.StatusOK, s.StatementResponse),
	})

	if route.Identifier() == "" || s.PathParams == nil {
		return
	}
	params := pathParameters(s.PathParams)
	paths.Set(base+"/{id}", &openapi3.PathItem{
		Get: operation(route, engine.VerbGet, "Fetch a "+table+" entity by "+route.Identifier(),
			params, nil, http.StatusOK, s.Entity),
		Put: operation(route, engine.VerbPut, "Update a "+table+" entity by "+route.Identifier(),
			params, s.Update, http.StatusOK, s.StatementResponse),
		Delete: operation(route, engine.VerbDelete, "Delete a "+table+" entity by "+route.Identifier(),
			params, nil, http.StatusOK, s.StatementResponse),
	})
}

func operation(route *engine.Route, verb engine.Verb, summary string, params openapi3.Parameters, body *validation.Schema, status int, response *validation.Schema) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:       []string{route.Tag()},
		Summary:    summary,
		Parameters: params,
		Responses:  responses(status, response),
	}
	if body != nil {
		op.RequestBody = requestBody(body)
	}
	if route.Handlers.For(verb).Auth {
		op.Security = openapi3.NewSecurityRequirements().
			With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	}
	return op
}

func requestBody(body *validation.Schema) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(body.SchemaRef()),
	}
}

func responses(status int, schema *validation.Schema) *openapi3.Responses {
	success := openapi3.NewResponse().WithDescription(http.StatusText(status))
	if schema != nil {
		success.WithJSONSchemaRef(schema.SchemaRef())
	}
	opts := []openapi3.NewResponsesOption{
		openapi3.WithStatus(status, &openapi3.ResponseRef{Value: success}),
	}
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		resp := openapi3.NewResponse().
			WithDescription(http.StatusText(code)).
			WithJSONSchemaRef(openapi3.NewSchemaRef(validation.RefPrefix+errorSchema, errorBody()))
		opts = append(opts, openapi3.WithStatus(code, &openapi3.ResponseRef{Value: resp}))
	}
	return openapi3.NewResponses(opts...)
}

func queryParameters(s *validation.Schema) openapi3.Parameters {
	if s == nil {
		return nil
	}
	params := make(openapi3.Parameters, 0, len(s.Properties()))
	for _, name := range s.Properties() {
		prop, _ := s.Property(name)
		param := openapi3.NewQueryParameter(name).
			WithRequired(!prop.Optional && prop.Default == nil).
			WithSchema(prop.Clone().OpenAPI())
		param.Description = prop.Description
		params = append(params, &openapi3.ParameterRef{Value: param})
	}
	return params
}

// pathParameters maps the identifier schema onto the {id} segment.
func pathParameters(s *validation.Schema) openapi3.Parameters {
	names := s.Properties()
	if len(names) == 0 {
		return nil
	}
	prop, _ := s.Property(names[0])
	param := openapi3.NewPathParameter("id").
		WithDescription("Value of " + names[0]).
		WithSchema(prop.Clone().OpenAPI())
	return openapi3.Parameters{{Value: param}}
}

func addAuth(paths *openapi3.Paths, prefix string, a *validation.AuthSchemas) {
	endpoint := func(summary string, body, response *validation.Schema, status int) *openapi3.PathItem {
		op := &openapi3.Operation{
			Tags:      []string{"Auth"},
			Summary:   summary,
			Responses: responses(status, response),
		}
		if body != nil {
			op.RequestBody = requestBody(body)
		}
		return &openapi3.PathItem{Post: op}
	}

	if a.Login != nil {
		paths.Set(prefix+"/login",
			endpoint("Exchange credentials for a token pair", a.Login, a.LoginResponse, http.StatusOK))
	}
	if a.Register != nil {
		paths.Set(prefix+"/register",
			endpoint("Register a user", a.Register, a.RegisterResponse, http.StatusCreated))
	}
	paths.Set(prefix+"/refresh-token",
		endpoint("Exchange a refresh token for a new token pair", a.RefreshToken, a.RefreshResponse, http.StatusOK))
}

// PathNames lists the documented paths sorted, for logging.
func (d Document) PathNames() []string {
	out := make([]string, 0, d.Paths.Len())
	for p := range d.Paths.Map() {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Summary is a short description of the document for startup logs.
func (d Document) Summary() string {
	names := d.PathNames()
	return fmt.Sprintf("%d paths: %s", len(names), strings.Join(names, ", "))
}
