package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pyroalert/authcore"
)

// TokenVerifier verifies access tokens. *authcore.Engine implements it.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*authcore.AccessClaims, error)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   string
	Scope  []string
}

// HasScope reports whether every scope in want was granted.
func (p *Principal) HasScope(want ...string) bool {
	if p == nil {
		return false
	}
	for _, w := range want {
		found := false
		for _, s := range p.Scope {
			if s == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Authenticate.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p in ctx. Tests and internal callers use it to bypass
// token verification.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Authenticate rejects requests without a valid bearer access token.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeChallenge(w, http.StatusUnauthorized, "invalid_token", "Access token verification unavailable", "")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeChallenge(w, http.StatusUnauthorized, "invalid_token", "Missing bearer token", "")
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				writeChallenge(w, http.StatusUnauthorized, "invalid_token", "Access token is invalid or expired", "")
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{
				UserID: claims.UserID,
				Email:  claims.Email,
				Role:   claims.Role,
				Scope:  claims.Scope,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope must run after Authenticate.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	required := strings.Join(scopes, " ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeChallenge(w, http.StatusUnauthorized, "invalid_token", "Missing bearer token", "")
				return
			}
			if !p.HasScope(scopes...) {
				writeChallenge(w, http.StatusForbidden, "insufficient_scope", "Token lacks the required scope", required)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeChallenge(w, http.StatusUnauthorized, "invalid_token", "Missing bearer token", "")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeChallenge(w, http.StatusForbidden, "insufficient_scope", "Role not permitted", "")
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeChallenge(w http.ResponseWriter, status int, code, description, scope string) {
	challenge := `Bearer error="` + code + `", error_description="` + description + `"`
	if scope != "" {
		challenge += `, scope="` + scope + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
