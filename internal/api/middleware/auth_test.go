package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushgate/pushgate/internal/api/middleware"
	"github.com/pushgate/pushgate/internal/auth"
	"github.com/pushgate/pushgate/internal/tenant"
)

const (
	testIssuer = "https://auth.acme.test"
	testSecret = "acme-shared-secret"
)

func createTestAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	secret := testSecret
	dir := tenant.NewInMemoryDirectory()
	dir.AddTenant(&tenant.Tenant{
		ID:           "tnt_acme",
		Issuer:       testIssuer,
		Audience:     "pushgate",
		Algorithm:    tenant.AlgorithmHS256,
		SharedSecret: &secret,
	})
	dir.AddApplication(&tenant.Application{ID: "app_acme", TenantID: "tnt_acme"})
	return auth.NewAuthenticator(auth.AuthenticatorConfig{Directory: dir})
}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":    testIssuer,
		"aud":    "pushgate",
		"sub":    "user-1",
		"app_id": "app_acme",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuth_ValidToken(t *testing.T) {
	authMiddleware := middleware.Auth(createTestAuthenticator(t), zerolog.Nop())

	var identity *auth.Identity
	handler := authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = middleware.GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testSecret))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, identity)
	assert.Equal(t, "tnt_acme", identity.TenantID)
	assert.Equal(t, "app_acme", identity.ApplicationID)
	assert.Equal(t, "user-1", identity.UserID)
}

func TestAuth_LowercaseScheme(t *testing.T) {
	handler := middleware.Auth(createTestAuthenticator(t), zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app_acme", middleware.GetApplicationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "bearer "+signToken(t, validClaims(), testSecret))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsWithUniformProblem(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	unknownIssuer := validClaims()
	unknownIssuer["iss"] = "https://evil.test"

	tests := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{"missing header", func(*testing.T) string { return "" }},
		{"no bearer prefix", func(*testing.T) string { return "token123" }},
		{"basic auth", func(*testing.T) string { return "Basic dXNlcjpwYXNz" }},
		{"empty bearer", func(*testing.T) string { return "Bearer " }},
		{"garbage token", func(*testing.T) string { return "Bearer not.a.jwt" }},
		{"wrong secret", func(t *testing.T) string { return "Bearer " + signToken(t, validClaims(), "other") }},
		{"expired", func(t *testing.T) string { return "Bearer " + signToken(t, expired, testSecret) }},
		{"unknown issuer", func(t *testing.T) string { return "Bearer " + signToken(t, unknownIssuer, testSecret) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := middleware.Auth(createTestAuthenticator(t), zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "invalid or missing credentials")
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuth_LogsCause(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	handler := middleware.Auth(createTestAuthenticator(t), log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+signToken(t, expired, testSecret))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, buf.String(), `"auth_error"`)
	assert.NotContains(t, rec.Body.String(), "expired")
}

// unreachableDirectory fails every lookup the way a lost database connection does.
type unreachableDirectory struct{}

func (unreachableDirectory) FindByIssuer(context.Context, string) (*tenant.Tenant, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func (unreachableDirectory) FindApplication(context.Context, string) (*tenant.Application, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestAuth_DirectoryFailureIsServerError(t *testing.T) {
	var buf bytes.Buffer
	authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{Directory: unreachableDirectory{}})

	called := false
	handler := middleware.Auth(authenticator, zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testSecret))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, auth.IsCredentialError(auth.ErrMissingToken))
	assert.True(t, auth.IsCredentialError(fmt.Errorf("%w: kid %q", auth.ErrKeyNotFound, "k9")))
	assert.False(t, auth.IsCredentialError(errors.New("finding tenant: connection refused")))
}

func TestGetIdentity_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)

	assert.Nil(t, middleware.GetIdentity(req.Context()))
	assert.Empty(t, middleware.GetApplicationID(req.Context()))
}
