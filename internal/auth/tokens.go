package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig configures one token kind.
type TokenConfig struct {
	Secret    []byte
	ExpiresIn time.Duration
	// Algorithm is HS256, HS384 or HS512; empty means HS256.
	Algorithm string
}

// TokenPair is the login and refresh response body.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ErrUnsupportedAlgorithm reports a signing algorithm outside the HMAC family.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

func signingMethod(name string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
}

type tokenKind struct {
	secret    []byte
	expiresIn time.Duration
	method    *jwt.SigningMethodHMAC
}

func newTokenKind(name string, cfg TokenConfig) (tokenKind, error) {
	if len(cfg.Secret) == 0 {
		return tokenKind{}, fmt.Errorf("%s token secret is empty", name)
	}
	if cfg.ExpiresIn <= 0 {
		return tokenKind{}, fmt.Errorf("%s token lifetime must be positive", name)
	}
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return tokenKind{}, fmt.Errorf("%s token: %w", name, err)
	}
	return tokenKind{secret: cfg.Secret, expiresIn: cfg.ExpiresIn, method: method}, nil
}

// Signer signs and verifies the shared-secret token pair. It is also the
// access-token Verifier when no external issuer is configured.
type Signer struct {
	access  tokenKind
	refresh tokenKind
	now     func() time.Time
}

var _ Verifier = (*Signer)(nil)

// NewSigner validates both token configurations.
func NewSigner(access, refresh TokenConfig) (*Signer, error) {
	a, err := newTokenKind("access", access)
	if err != nil {
		return nil, err
	}
	r, err := newTokenKind("refresh", refresh)
	if err != nil {
		return nil, err
	}
	return &Signer{access: a, refresh: r, now: time.Now}, nil
}

// Sign issues an access and a refresh token carrying payload.
func (s *Signer) Sign(payload map[string]any) (TokenPair, error) {
	access, err := s.sign(s.access, payload)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(s.refresh, payload)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Signer) sign(kind tokenKind, payload map[string]any) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{}
	maps.Copy(claims, payload)
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(kind.expiresIn).Unix()
	return jwt.NewWithClaims(kind.method, claims).SignedString(kind.secret)
}

// Verify checks an access token.
func (s *Signer) Verify(_ context.Context, token string) Identity {
	return s.verify(s.access, token)
}

// VerifyRefresh checks a refresh token.
func (s *Signer) VerifyRefresh(token string) Identity {
	return s.verify(s.refresh, token)
}

func (s *Signer) verify(kind tokenKind, token string) Identity {
	if token == "" {
		return nil
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return kind.secret, nil
	},
		jwt.WithValidMethods([]string{kind.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return Identity(claims)
}
