package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pyroalert/authcore"
)

type fakeVerifier map[string]*authcore.AccessClaims

func (f fakeVerifier) VerifyAccessToken(_ context.Context, token string) (*authcore.AccessClaims, error) {
	c, ok := f[token]
	if !ok {
		return nil, authcore.ErrInvalidToken
	}
	return c, nil
}

var verifier = fakeVerifier{
	"viewer-token": {UserID: "u1", Email: "u1@example.com", Role: "viewer", Scope: []string{"read"}},
	"admin-token":  {UserID: "a1", Email: "admin@example.com", Role: "admin", Scope: []string{"read", "write"}},
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal missing from context")
		}
		w.Header().Set("X-User", p.UserID)
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestAuthenticate(t *testing.T) {
	h := Authenticate(verifier)(okHandler(t))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dTE6cHc=", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer viewer-token", http.StatusOK},
		{"lowercase scheme", "bearer viewer-token", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, tc.header)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusOK {
				if rec.Header().Get("X-User") != "u1" {
					t.Fatalf("expected principal u1")
				}
				return
			}
			if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), `Bearer error="invalid_token"`) {
				t.Fatalf("unexpected challenge %q", rec.Header().Get("WWW-Authenticate"))
			}
			if code := decodeError(t, rec); code != "invalid_token" {
				t.Fatalf("expected invalid_token, got %q", code)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	h := Authenticate(verifier)(RequireScope("read", "write")(okHandler(t)))

	rec := serve(h, "Bearer viewer-token")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "insufficient_scope" {
		t.Fatalf("expected insufficient_scope, got %q", code)
	}
	if !strings.Contains(rec.Header().Get("WWW-Authenticate"), `scope="read write"`) {
		t.Fatalf("expected required scope in challenge, got %q", rec.Header().Get("WWW-Authenticate"))
	}

	if rec := serve(h, "Bearer admin-token"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := Authenticate(verifier)(RequireRole("admin", "operator")(okHandler(t)))

	if rec := serve(h, "Bearer viewer-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec := serve(h, "Bearer admin-token"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGuardsWithoutAuthenticate(t *testing.T) {
	h := RequireScope("read")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	if rec := serve(h, "Bearer viewer-token"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPrincipalHasScope(t *testing.T) {
	p := &Principal{Scope: []string{"read", "write"}}
	if !p.HasScope("read") || !p.HasScope() || p.HasScope("admin") {
		t.Fatalf("unexpected HasScope results")
	}
	var nilP *Principal
	if nilP.HasScope("read") {
		t.Fatalf("nil principal must not have scopes")
	}
}
