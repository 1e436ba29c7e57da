package middleware

import (
	"log/slog"
	"net/http"

	"pg-engine/internal/auth"
	"pg-engine/internal/logging"
	"pg-engine/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequireAuth rejects requests without a valid bearer token with 401 and
// stores the verified identity on the request context.
func RequireAuth(verifier auth.Verifier, metrics *observability.SecurityMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.Pattern
			if endpoint == "" {
				endpoint = r.URL.Path
			}

			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				metrics.RecordUnauthorizedAttempt(r.Context(), endpoint, "missing_token")
				logging.FromContext(r.Context()).Warn("authentication failed: missing bearer token",
					slog.String("endpoint", endpoint),
					slog.String("remote_addr", r.RemoteAddr),
				)
				unauthorized(w)
				return
			}

			identity := verifier.Verify(r.Context(), token)
			if identity == nil {
				metrics.RecordUnauthorizedAttempt(r.Context(), endpoint, "invalid_token")
				logging.FromContext(r.Context()).Warn("authentication failed: invalid token",
					slog.String("endpoint", endpoint),
					slog.String("remote_addr", r.RemoteAddr),
				)
				unauthorized(w)
				return
			}

			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(attribute.Bool("auth.authenticated", true))
				if sub, ok := identity["sub"].(string); ok {
					span.SetAttributes(attribute.String("auth.subject", sub))
				}
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteError(w, http.StatusUnauthorized, "")
}
