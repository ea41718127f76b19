package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedAdminToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "admin-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAdminJWTRejections(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header func(t *testing.T) string
	}{
		{"no configured secret locks", "", func(t *testing.T) string { return "Bearer " + signedAdminToken(t, "secret") }},
		{"missing header", "secret", func(*testing.T) string { return "" }},
		{"not a bearer token", "secret", func(*testing.T) string { return "Basic abc" }},
		{"wrong signing secret", "secret", func(t *testing.T) string { return "Bearer " + signedAdminToken(t, "wrong") }},
		{"garbage token", "secret", func(*testing.T) string { return "Bearer not.a.jwt" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mw := AdminJWT(tc.secret)
			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if h := tc.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()

			mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if code := errorCode(t, rec); code != "authentication" {
				t.Fatalf("expected authentication envelope, got %q", code)
			}
		})
	}
}

func TestAdminJWTValidTokenCarriesClaims(t *testing.T) {
	mw := AdminJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "secret"))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok || claims.Subject != "admin-user" {
			t.Fatalf("expected admin claims in context, got ok=%v subject=%q", ok, claims.Subject)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected handler to run with 200, got called=%v status=%d", called, rec.Code)
	}
}
