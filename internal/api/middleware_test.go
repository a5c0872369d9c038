package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, kid string, key *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenVerifierJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits int32
	server := newJWKSServer(t, "k1", &key.PublicKey, &hits)

	verifier, err := NewTokenVerifier(AuthOptions{JWKSURL: server.URL, Audience: "wallet", Issuer: "https://auth.example"})
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub": "seller-a",
		"aud": "wallet",
		"iss": "https://auth.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	subject, err := verifier.Verify(t.Context(), signRS256(t, key, "k1", claims))
	require.NoError(t, err)
	assert.Equal(t, "seller-a", subject)

	_, err = verifier.Verify(t.Context(), signRS256(t, key, "k1", claims))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "keys are cached")

	claims["aud"] = "someone-else"
	_, err = verifier.Verify(t.Context(), signRS256(t, key, "k1", claims))
	assert.Error(t, err)

	claims["aud"] = "wallet"
	_, err = verifier.Verify(t.Context(), signRS256(t, key, "unknown-kid", claims))
	assert.Error(t, err)
}

func TestTokenVerifierRejectsHMACWhenOnlyJWKSConfigured(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits int32
	server := newJWKSServer(t, "k1", &key.PublicKey, &hits)

	verifier, err := NewTokenVerifier(AuthOptions{JWKSURL: server.URL})
	require.NoError(t, err)

	_, err = verifier.Verify(t.Context(), signHS256(t, "any-secret", "seller-a"))
	assert.Error(t, err)
}

func TestTokenVerifierHMAC(t *testing.T) {
	verifier, err := NewTokenVerifier(AuthOptions{HMACSecret: testSecret})
	require.NoError(t, err)

	subject, err := verifier.Verify(t.Context(), signHS256(t, testSecret, "seller-a"))
	require.NoError(t, err)
	assert.Equal(t, "seller-a", subject)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "seller-a", "exp": time.Now().Add(-time.Minute).Unix()})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = verifier.Verify(t.Context(), signed)
	assert.Error(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()})
	signed, err = noSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = verifier.Verify(t.Context(), signed)
	assert.Error(t, err)
}

func TestNewTokenVerifierRequiresAKeySource(t *testing.T) {
	_, err := NewTokenVerifier(AuthOptions{})
	assert.Error(t, err)
}

func TestAuthMiddlewareStoresAccountID(t *testing.T) {
	verifier, err := NewTokenVerifier(AuthOptions{HMACSecret: testSecret})
	require.NoError(t, err)

	var seen string
	handler := AuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAccountID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, testSecret, "seller-z"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seller-z", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalAuthMiddlewareRejectsWhenUnconfigured(t *testing.T) {
	handler := InternalAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Internal-API-Key", "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
