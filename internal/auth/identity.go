// Package auth issues and verifies the access/refresh token pair and
// implements the login, register and refresh-token flows over the auth
// table.
package auth

import (
	"context"
	"strings"
)

// Identity is a verified token payload: the user row without its
// credentials plus the registered JWT claims. A nil Identity is the single
// unauthenticated signal.
type Identity map[string]any

// Verifier turns a bearer token into an Identity. Every failure yields nil.
type Verifier interface {
	Verify(ctx context.Context, token string) Identity
}

type identityKey struct{}

// WithIdentity stores the caller identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity, or nil.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value.
func BearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
