package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "local-key"

type testIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

// newTestIssuer serves discovery and a single-key JWKS over TLS.
func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := &testIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{
			"issuer":                                issuer.server.URL,
			"jwks_uri":                              issuer.server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"kid": testKeyID,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	issuer.server = httptest.NewTLSServer(mux)
	t.Cleanup(issuer.server.Close)
	return issuer
}

func (i *testIssuer) mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(i.key)
	require.NoError(t, err)
	return signed
}

func (i *testIssuer) claims(audience string, expiresIn time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   i.server.URL,
		"sub":   "user-1",
		"aud":   []string{audience},
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
		"nbf":   now.Add(-time.Minute).Unix(),
		"roles": []string{"editor"},
	}
}

func writeTestJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func TestOIDCVerifier_Verify(t *testing.T) {
	issuer := newTestIssuer(t)
	ctx := context.Background()

	verifier, err := NewOIDCVerifier(ctx, OIDCConfig{
		IssuerURL:     issuer.server.URL,
		Audience:      "pg-engine",
		SkipTLSVerify: true,
	}, nil, nil)
	require.NoError(t, err)

	identity := verifier.Verify(ctx, issuer.mint(t, issuer.claims("pg-engine", time.Hour)))
	require.NotNil(t, identity)
	assert.Equal(t, "user-1", identity["sub"])
	assert.ElementsMatch(t, []any{"editor"}, identity["roles"])

	t.Run("wrong audience", func(t *testing.T) {
		assert.Nil(t, verifier.Verify(ctx, issuer.mint(t, issuer.claims("other", time.Hour))))
	})
	t.Run("expired", func(t *testing.T) {
		assert.Nil(t, verifier.Verify(ctx, issuer.mint(t, issuer.claims("pg-engine", -time.Hour))))
	})
	t.Run("foreign key", func(t *testing.T) {
		other := newTestIssuer(t)
		claims := issuer.claims("pg-engine", time.Hour)
		assert.Nil(t, verifier.Verify(ctx, other.mint(t, claims)))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, verifier.Verify(ctx, ""))
	})
}

func TestNewOIDCVerifier_RejectsUntrustedCertificate(t *testing.T) {
	issuer := newTestIssuer(t)
	_, err := NewOIDCVerifier(context.Background(), OIDCConfig{
		IssuerURL: issuer.server.URL,
		Audience:  "pg-engine",
	}, nil, nil)
	require.Error(t, err)
}

func TestValidateTimeClaims_SkewAndFormats(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	skew := time.Minute

	assert.NoError(t, validateTimeClaims(map[string]any{"exp": float64(now.Add(30 * time.Second).Unix())}, skew, now))
	assert.NoError(t, validateTimeClaims(map[string]any{"exp": float64(now.Add(-30 * time.Second).Unix())}, skew, now))
	assert.Error(t, validateTimeClaims(map[string]any{"exp": float64(now.Add(-2 * time.Minute).Unix())}, skew, now))
	assert.Error(t, validateTimeClaims(map[string]any{"nbf": json.Number("1700000300")}, skew, now))
	assert.NoError(t, validateTimeClaims(map[string]any{"nbf": "1700000030"}, skew, now))
	assert.NoError(t, validateTimeClaims(map[string]any{"exp": float64(0)}, 0, now))
}
