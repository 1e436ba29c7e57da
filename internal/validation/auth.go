package validation

import (
	"slices"

	"pg-engine/internal/model"
)

// Auth schema component names.
const (
	AuthHeaderSchema           = "authSchema"
	LoginRequestBodySchema     = "loginRequestBodySchema"
	RegisterRequestBodySchema  = "registerRequestBodySchema"
	RefreshTokenSchema         = "refreshTokenSchema"
	LoginResponseSchema        = "loginResponseSchema"
	RefreshTokenResponseSchema = "refreshTokenResponseSchema"
	RegisterResponseSchema     = "registerResponseSchema"
)

// AuthFields names the columns the auth module reads.
type AuthFields struct {
	IdentityField    string
	CredentialsField string
	PrimaryKeys      []string
}

// AuthSchemas validate the auth endpoints. Login and Register are nil when
// the auth table or its identity/credential columns are missing.
type AuthSchemas struct {
	Header           *Schema
	Login            *Schema
	Register         *Schema
	RefreshToken     *Schema
	LoginResponse    *Schema
	RefreshResponse  *Schema
	RegisterResponse *Schema
}

// BuildAuth derives the auth schemas from the auth table metadata.
func BuildAuth(meta *model.Meta, fields AuthFields) *AuthSchemas {
	header := Object().Set("authorization", &Schema{Kind: KindString, Prefix: "Bearer "})
	header.Ref = AuthHeaderSchema

	refresh := Object().Set("refresh_token", String().WithMinLength(4))
	refresh.Ref = RefreshTokenSchema

	a := &AuthSchemas{
		Header:           header,
		RefreshToken:     refresh,
		LoginResponse:    tokenPair(LoginResponseSchema),
		RefreshResponse:  tokenPair(RefreshTokenResponseSchema),
		RegisterResponse: named(Object().Set("message", String()), RegisterResponseSchema),
	}
	if meta == nil {
		return a
	}

	identity, okIdentity := meta.Column(fields.IdentityField)
	credentials, okCredentials := meta.Column(fields.CredentialsField)
	if okIdentity && okCredentials {
		a.Login = named(Object().
			Set(identity.Name, ColumnValidator(identity, true)).
			Set(credentials.Name, ColumnValidator(credentials, true)), LoginRequestBodySchema)
	}

	register := Object()
	for _, col := range meta.Columns {
		if slices.Contains(fields.PrimaryKeys, col.Name) {
			continue
		}
		v := ColumnValidator(col, true)
		if col.HasDefault || col.AutoIncrement {
			v = v.AsOptional()
		}
		register.Set(col.Name, v)
	}
	a.Register = named(register, RegisterRequestBodySchema)
	return a
}

func tokenPair(name string) *Schema {
	return named(Object().
		Set("access_token", String()).
		Set("refresh_token", String()), name)
}

func named(s *Schema, name string) *Schema {
	s.Ref = name
	return s
}

// Named returns the auth schemas under their component names.
func (a *AuthSchemas) Named() map[string]*Schema {
	out := map[string]*Schema{}
	for _, s := range []*Schema{a.Header, a.Login, a.Register, a.RefreshToken, a.LoginResponse, a.RefreshResponse, a.RegisterResponse} {
		if s != nil {
			out[s.Ref] = s
		}
	}
	return out
}
