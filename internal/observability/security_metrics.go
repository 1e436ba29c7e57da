package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics holds metrics for the auth routes and the route gate.
// A nil *SecurityMetrics is valid and records nothing.
type SecurityMetrics struct {
	loginAttempts         metric.Int64Counter
	authFailures          metric.Int64Counter
	authSuccesses         metric.Int64Counter
	tokenRefreshes        metric.Int64Counter
	registrations         metric.Int64Counter
	unauthorizedAttempts  metric.Int64Counter
	tokenValidationErrors metric.Int64Counter
}

// InitSecurityMetrics initializes security-specific metrics
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter("pg-engine/security")

	loginAttempts, err := meter.Int64Counter(
		"security.login.attempts.total",
		metric.WithDescription("Total number of login attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	authFailures, err := meter.Int64Counter(
		"security.auth.failures.total",
		metric.WithDescription("Total number of rejected login or refresh requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failures counter: %w", err)
	}

	authSuccesses, err := meter.Int64Counter(
		"security.auth.successes.total",
		metric.WithDescription("Total number of issued token pairs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth successes counter: %w", err)
	}

	tokenRefreshes, err := meter.Int64Counter(
		"security.token.refreshes.total",
		metric.WithDescription("Total number of refresh token requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token refreshes counter: %w", err)
	}

	registrations, err := meter.Int64Counter(
		"security.registrations.total",
		metric.WithDescription("Total number of registration requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registrations counter: %w", err)
	}

	unauthorizedAttempts, err := meter.Int64Counter(
		"security.unauthorized.attempts.total",
		metric.WithDescription("Total number of requests rejected by the route gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unauthorized attempts counter: %w", err)
	}

	tokenValidationErrors, err := meter.Int64Counter(
		"security.token.validation_errors.total",
		metric.WithDescription("Total number of token validation errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validation errors counter: %w", err)
	}

	return &SecurityMetrics{
		loginAttempts:         loginAttempts,
		authFailures:          authFailures,
		authSuccesses:         authSuccesses,
		tokenRefreshes:        tokenRefreshes,
		registrations:         registrations,
		unauthorizedAttempts:  unauthorizedAttempts,
		tokenValidationErrors: tokenValidationErrors,
	}, nil
}

// RecordLoginAttempt records a login attempt
func (m *SecurityMetrics) RecordLoginAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1)
}

// RecordTokenRefresh records a refresh token request
func (m *SecurityMetrics) RecordTokenRefresh(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokenRefreshes.Add(ctx, 1)
}

// RecordRegistration records a registration request and whether a row was created
func (m *SecurityMetrics) RecordRegistration(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordAuthFailure records a rejected auth request
func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordAuthSuccess records an issued token pair
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordUnauthorizedAttempt records a request rejected by the route gate
func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.unauthorizedAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordTokenValidationError records a token validation error
func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.tokenValidationErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_type", errorType),
	))
}
