package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"pg-engine/internal/filter"
	"pg-engine/internal/logging"
	"pg-engine/internal/model"
	"pg-engine/internal/observability"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used when none is configured.
const DefaultBcryptCost = 12

// Error is an auth flow rejection carrying its HTTP status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Auth flow rejections.
var (
	ErrInvalidCredentials  = &Error{Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	ErrAccessRestricted    = &Error{Status: http.StatusForbidden, Message: "Access to this resource is restricted"}
	ErrInvalidRefreshToken = &Error{Status: http.StatusBadRequest, Message: "Refresh token is invalid"}
	ErrUserNotFound        = &Error{Status: http.StatusNotFound, Message: "User not found"}
	ErrNotRegistered       = &Error{Status: http.StatusInternalServerError, Message: "User was not registered"}
	ErrPasswordTooLong     = &Error{Status: http.StatusBadRequest, Message: "Password is too long"}
)

// RegisteredMessage is the register response message.
const RegisteredMessage = "User registration completed"

// ShouldLoginFunc gates login and refresh beyond credential checks, e.g.
// on an account-verified flag.
type ShouldLoginFunc func(ctx context.Context, user model.Row) (bool, error)

// Options configure the auth flows.
type Options struct {
	IdentityField    string
	CredentialsField string
	BcryptCost       int
	// Include lists relations loaded with the user and signed into tokens.
	Include     []string
	ShouldLogin ShouldLoginFunc
	Metrics     *observability.SecurityMetrics
}

// Service runs login, register and refresh against the auth table.
type Service struct {
	users  model.Model
	signer *Signer
	opts   Options
}

// NewService fills option defaults: identity "email", credentials
// "password", bcrypt cost 12 and a ShouldLogin that always allows.
func NewService(users model.Model, signer *Signer, opts Options) *Service {
	if opts.IdentityField == "" {
		opts.IdentityField = "email"
	}
	if opts.CredentialsField == "" {
		opts.CredentialsField = "password"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = DefaultBcryptCost
	}
	if opts.ShouldLogin == nil {
		opts.ShouldLogin = func(context.Context, model.Row) (bool, error) { return true, nil }
	}
	return &Service{users: users, signer: signer, opts: opts}
}

// Signer returns the token signer.
func (s *Service) Signer() *Signer { return s.signer }

// Table names the auth table.
func (s *Service) Table() string { return s.users.Meta().Table }

// Login checks identity and password and signs a token pair for the user
// without its credentials column.
func (s *Service) Login(ctx context.Context, body map[string]any) (TokenPair, error) {
	s.opts.Metrics.RecordLoginAttempt(ctx)
	identity := body[s.opts.IdentityField]
	password, _ := body[s.opts.CredentialsField].(string)

	user, err := s.users.FindOne(ctx, filter.Predicate{
		s.opts.IdentityField: map[string]any{filter.OpEq: identity},
	}, s.opts.Include)
	if err != nil {
		return TokenPair{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		s.opts.Metrics.RecordAuthFailure(ctx, "login", "unknown_identity")
		return TokenPair{}, ErrInvalidCredentials
	}
	hash, _ := user[s.opts.CredentialsField].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		s.opts.Metrics.RecordAuthFailure(ctx, "login", "credentials_mismatch")
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(ctx, "login", user)
}

// Register hashes the password and creates the user.
func (s *Service) Register(ctx context.Context, body map[string]any) error {
	password, _ := body[s.opts.CredentialsField].(string)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		s.opts.Metrics.RecordRegistration(ctx, false)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return ErrPasswordTooLong
		}
		return fmt.Errorf("hash password: %w", err)
	}

	values := maps.Clone(body)
	values[s.opts.CredentialsField] = string(hash)
	user, err := s.users.Create(ctx, values)
	if err != nil {
		s.opts.Metrics.RecordRegistration(ctx, false)
		return fmt.Errorf("create user: %w", err)
	}
	if user == nil {
		s.opts.Metrics.RecordRegistration(ctx, false)
		return ErrNotRegistered
	}
	s.opts.Metrics.RecordRegistration(ctx, true)
	logging.FromContext(ctx).Info("user registered",
		slog.String("table", s.Table()),
		slog.Any(s.opts.IdentityField, user[s.opts.IdentityField]),
	)
	return nil
}

// Refresh verifies a refresh token, reloads the user it names and signs a
// new pair.
func (s *Service) Refresh(ctx context.Context, token string) (TokenPair, error) {
	s.opts.Metrics.RecordTokenRefresh(ctx)
	claims := s.signer.VerifyRefresh(token)
	if claims == nil || claims[s.opts.IdentityField] == nil {
		s.opts.Metrics.RecordAuthFailure(ctx, "refresh-token", "invalid_token")
		return TokenPair{}, ErrInvalidRefreshToken
	}

	user, err := s.users.FindOne(ctx, filter.Predicate{
		s.opts.IdentityField: claims[s.opts.IdentityField],
	}, s.opts.Include)
	if err != nil {
		return TokenPair{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		s.opts.Metrics.RecordAuthFailure(ctx, "refresh-token", "unknown_identity")
		return TokenPair{}, ErrUserNotFound
	}
	return s.issue(ctx, "refresh-token", user)
}

func (s *Service) issue(ctx context.Context, endpoint string, user model.Row) (TokenPair, error) {
	ok, err := s.opts.ShouldLogin(ctx, user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("should login: %w", err)
	}
	if !ok {
		s.opts.Metrics.RecordAuthFailure(ctx, endpoint, "login_restricted")
		return TokenPair{}, ErrAccessRestricted
	}

	payload := maps.Clone(map[string]any(user))
	delete(payload, s.opts.CredentialsField)
	pair, err := s.signer.Sign(payload)
	if err != nil {
		return TokenPair{}, err
	}
	s.opts.Metrics.RecordAuthSuccess(ctx, endpoint)
	return pair, nil
}
