package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdesk/opsdesk/internal/domain"
)

// staticValidator implements TokenValidator for testing.
type staticValidator struct {
	userID     int64
	role       domain.Role
	firstLogin bool
	err        error
}

func (v *staticValidator) ValidateToken(_ context.Context, _ string) (int64, domain.Role, bool, error) {
	return v.userID, v.role, v.firstLogin, v.err
}

func protectedStack(v TokenValidator, allowedPaths ...string) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return AuthMiddleware(v)(FirstLoginMiddleware(allowedPaths...)(handler))
}

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	handler := protectedStack(&staticValidator{userID: 1, role: domain.RoleAdmin})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFirstLoginMiddleware_BlocksProtectedRoutes(t *testing.T) {
	validator := &staticValidator{userID: 7, role: domain.RoleReporter, firstLogin: true}
	handler := protectedStack(validator, "/api/v1/auth/change-password", "/api/v1/me")

	rec := doRequest(t, handler, "/api/v1/incidents")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "password change required")
}

func TestFirstLoginMiddleware_AllowsProvisioningRoutes(t *testing.T) {
	validator := &staticValidator{userID: 7, role: domain.RoleReporter, firstLogin: true}
	handler := protectedStack(validator, "/api/v1/auth/change-password", "/api/v1/me")

	for _, path := range []string{"/api/v1/auth/change-password", "/api/v1/me"} {
		rec := doRequest(t, handler, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestFirstLoginMiddleware_PassesCompletedAccounts(t *testing.T) {
	validator := &staticValidator{userID: 7, role: domain.RoleReporter}
	handler := protectedStack(validator, "/api/v1/auth/change-password")

	rec := doRequest(t, handler, "/api/v1/incidents")
	assert.Equal(t, http.StatusOK, rec.Code)
}
