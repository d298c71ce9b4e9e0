package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authedRequest(t *testing.T, a *Authenticator, uid string, admin bool) *http.Request {
	t.Helper()
	tok, err := a.SignToken(uid, uid+"@lab.edu", admin, time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodDelete, "/api/studies/s1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestRequireAuth(t *testing.T) {
	a := NewAuthenticator("test-secret")
	handler := a.WithAuth(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserFromContext(r.Context())
		if !ok || uid != "u1" {
			t.Fatalf("context uid = %q, %v", uid, ok)
		}
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, a, "u1", false))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/studies", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/studies", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	a := NewAuthenticator("test-secret")
	handler := a.WithAuth(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, a, "admin", true))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, a, "ra", false))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin: status %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/studies/s1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d, want 401", rec.Code)
	}
}
