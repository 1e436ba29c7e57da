package engine

import (
	"context"
	"net/http"
	"strings"

	"pg-engine/internal/auth"
	"pg-engine/internal/filter"
	"pg-engine/internal/model"
	"pg-engine/internal/validation"
)

// Verb is an HTTP verb a route serves.
type Verb string

const (
	VerbGet    Verb = "get"
	VerbPost   Verb = "post"
	VerbPut    Verb = "put"
	VerbDelete Verb = "delete"
)

// Formatter rewrites validated input before it reaches the model. A
// returned error falls back to the unformatted input.
type Formatter func(input map[string]any, user auth.Identity) (map[string]any, error)

// ResponseFormatter rewrites a handler result before it is written. A
// returned error falls back to the unformatted result.
type ResponseFormatter func(data any, user auth.Identity) (any, error)

// AccessFunc decides whether an authenticated caller may use a route.
type AccessFunc func(ctx context.Context, user auth.Identity, r *http.Request) (bool, error)

// IncludeFunc lists relation aliases to load on GET requests.
type IncludeFunc func(r *http.Request, user auth.Identity) []string

// HandlerConfig customizes one verb of a route.
type HandlerConfig struct {
	// Auth requires a valid bearer token.
	Auth bool
	// CanAccess runs after the token check; false answers 403.
	CanAccess AccessFunc

	QueryFormatter    Formatter
	ParamsFormatter   Formatter
	BodyFormatter     Formatter
	ResponseFormatter ResponseFormatter

	// Include applies to GET.
	Include IncludeFunc
	// RejectUnfilteredBulk answers 400 to PUT and DELETE without an {id}
	// whose predicate is empty.
	RejectUnfilteredBulk bool
}

// HTTPHandlers holds the per-verb configuration of a route.
type HTTPHandlers struct {
	Get    HandlerConfig
	Post   HandlerConfig
	Put    HandlerConfig
	Delete HandlerConfig
}

// For returns the configuration of one verb.
func (h HTTPHandlers) For(v Verb) HandlerConfig {
	switch v {
	case VerbGet:
		return h.Get
	case VerbPost:
		return h.Post
	case VerbPut:
		return h.Put
	case VerbDelete:
		return h.Delete
	}
	return HandlerConfig{}
}

// ModelOptions customize the route of one table.
type ModelOptions struct {
	// Identifier overrides the column addressed by /{id}; "-" removes the
	// identifier routes.
	Identifier string
	Filters    filter.Set
	// Pagination overrides Options.Pagination when set.
	Pagination   *bool
	HTTPHandlers HTTPHandlers
	Effects      *model.Effects
}

// AuthOptions configure the auth routes and schemas.
type AuthOptions struct {
	Enabled          bool
	URL              string
	Table            string
	PrimaryKeys      []string
	IdentityField    string
	CredentialsField string
}

// Options configure an Engine.
type Options struct {
	APIPrefix          string
	DisableAPIHandlers bool
	// Pagination is the default for models that do not set it.
	Pagination      bool
	DefaultPageSize int
	// StrictFilters answers 400 when a filter fails instead of running the
	// query with an empty predicate.
	StrictFilters bool
	Auth          AuthOptions
	Models        map[string]ModelOptions
}

// Defaults applied by withDefaults.
const (
	DefaultAPIPrefix = "api/v1"
	DefaultAuthURL   = "/auth"
)

func (o Options) withDefaults() Options {
	if o.APIPrefix == "" {
		o.APIPrefix = DefaultAPIPrefix
	}
	if o.Auth.URL == "" {
		o.Auth.URL = DefaultAuthURL
	}
	if o.Auth.Table == "" {
		o.Auth.Table = "users"
	}
	if o.Auth.PrimaryKeys == nil {
		o.Auth.PrimaryKeys = []string{"id"}
	}
	if o.Auth.IdentityField == "" {
		o.Auth.IdentityField = "email"
	}
	if o.Auth.CredentialsField == "" {
		o.Auth.CredentialsField = "password"
	}
	return o
}

// modelOptions returns the options of a table with the engine defaults
// applied.
func (o Options) modelOptions(table string) ModelOptions {
	opts := o.Models[table]
	if opts.Pagination == nil {
		p := o.Pagination
		opts.Pagination = &p
	}
	return opts
}

// Prefix returns the API prefix as an absolute path without a trailing
// slash: "api/v1" becomes "/api/v1".
func (o Options) Prefix() string {
	return joinPath(o.APIPrefix)
}

// AuthPrefix returns the mount point of the auth routes.
func (o Options) AuthPrefix() string {
	return joinPath(o.APIPrefix, o.Auth.URL)
}

func (a AuthOptions) fields() validation.AuthFields {
	return validation.AuthFields{
		IdentityField:    a.IdentityField,
		CredentialsField: a.CredentialsField,
		PrimaryKeys:      a.PrimaryKeys,
	}
}

func joinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}
