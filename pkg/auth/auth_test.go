package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlaspay/concierge/pkg/config"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(config.AuthConfig{
		APIKeys: map[string]string{
			"key-admin":  RoleAdmin,
			"key-tenant": RoleTenant,
		},
		JWTSecret: "test-secret",
	})
}

func echoIdentity(t *testing.T, got **Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAcceptsAPIKey(t *testing.T) {
	a := newTestAuthenticator()

	var got *Identity
	req := httptest.NewRequest("POST", "/api/v1/chat", nil)
	req.Header.Set("X-API-Key", "key-tenant")
	rec := httptest.NewRecorder()
	a.Middleware(echoIdentity(t, &got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, RoleTenant, got.Role)
}

func TestMiddlewareRejectsBadCredentials(t *testing.T) {
	a := newTestAuthenticator()
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Unknown API key.
	req := httptest.NewRequest("POST", "/api/v1/chat", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")

	// No credentials at all.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/chat", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed Authorization header.
	req = httptest.NewRequest("POST", "/api/v1/chat", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTRoundTrip(t *testing.T) {
	a := newTestAuthenticator()

	signed, err := a.IssueToken("ops-user", RoleAdmin)
	require.NoError(t, err)

	identity, err := a.VerifyToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "ops-user", identity.Subject)
	assert.Equal(t, RoleAdmin, identity.Role)

	var got *Identity
	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	a.Middleware(echoIdentity(t, &got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-user", got.Subject)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	a := newTestAuthenticator()
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	signed, err := a.IssueToken("ops-user", RoleAdmin)
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.VerifyToken(signed)
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	a := newTestAuthenticator()
	handler := a.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.Header.Set("X-API-Key", "key-admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.Header.Set("X-API-Key", "key-tenant")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDisabledAuthPassesThrough(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{})
	require.False(t, a.Enabled())

	var got *Identity
	rec := httptest.NewRecorder()
	a.Middleware(echoIdentity(t, &got)).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/chat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleAdmin, got.Role)
}
