package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protected(secret string) http.Handler {
	return AdminJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok || claims.Subject != "admin" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminJWTAcceptsValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/security/summary", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "sekrit", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()

	protected("sekrit").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminJWTRejections(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"no secret configured", "", "Bearer whatever"},
		{"missing header", "sekrit", ""},
		{"wrong scheme", "sekrit", "Basic abc"},
		{"bad signature", "sekrit", "Bearer " + func() string {
			t2 := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
			s, _ := t2.SignedString([]byte("other-secret"))
			return s
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/security/summary", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected(tt.secret).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAdminJWTRejectsExpired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/security/summary", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "sekrit", time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()

	protected("sekrit").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
