package auth

import (
	"context"
	"ms-roster/internal/config"
	"ms-roster/internal/logger"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoOperator() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(OperatorID(r.Context())))
	})
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractTokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Token abc")
	_, err = ExtractTokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "bearer abc")
	tok, err := ExtractTokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestHMACMiddleware(t *testing.T) {
	v, err := NewVerifier(context.Background(), config.AuthConfig{JWTSecret: "s3cret"})
	require.NoError(t, err)
	h := Middleware(v, logger.NewNopLogger())(echoOperator())

	token, err := IssueToken("s3cret", "operator-7", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator-7", rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHMACVerifierRejects(t *testing.T) {
	v := NewHMACVerifier("s3cret")

	wrongKey, err := IssueToken("other", "operator-7", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), wrongKey)
	assert.Error(t, err)

	expired, err := IssueToken("s3cret", "operator-7", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.Error(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), noExp)
	assert.Error(t, err)
}

func TestAnonymousWhenUnconfigured(t *testing.T) {
	v, err := NewVerifier(context.Background(), config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, v)

	rec := httptest.NewRecorder()
	Middleware(v, logger.NewNopLogger())(echoOperator()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
