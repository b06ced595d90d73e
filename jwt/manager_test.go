package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHSManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "pyroalert",
	}, WithClock(now))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssueAndVerify(t *testing.T) {
	m := newHSManager(t, time.Now)

	token, expiresIn, err := m.Issue(Subject{ID: "u1", Email: "u1@example.com", Role: "viewer"}, []string{"read", "write"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expiresIn != 900 {
		t.Fatalf("expected expires_in 900, got %d", expiresIn)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" || claims.Role != "viewer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := strings.Join(claims.Scopes(), ","); got != "read,write" {
		t.Fatalf("unexpected scopes %q", got)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != 15*time.Minute {
		t.Fatalf("exp-iat mismatch: %v", claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	}
}

func TestVerifyExpired(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	issuer := newHSManager(t, func() time.Time { return issuedAt })
	token, _, err := issuer.Issue(Subject{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := newHSManager(t, time.Now).Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	m := newHSManager(t, time.Now)
	token, _, _ := m.Issue(Subject{ID: "u1"}, nil)

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "pyroalert",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.Verify(tampered); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for tampered signature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	m := newHSManager(t, time.Now)

	for _, tc := range []string{"", "garbage", "a.b.c", "a.b"} {
		if _, err := m.Verify(tc); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Verify(%q): expected ErrTokenMalformed, got %v", tc, err)
		}
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m := newHSManager(t, time.Now)

	claims := Claims{TokenType: "refresh_token", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "pyroalert",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	m := newHSManager(t, time.Now)

	claims := Claims{TokenType: TokenType, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "someone-else",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := m.Verify(token); err == nil {
		t.Fatal("expected wrong issuer to be rejected")
	}
}

func TestEd25519KeyRotation(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)

	oldManager, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    oldPriv,
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	oldToken, _, err := oldManager.Issue(Subject{ID: "u1"}, []string{"read"})
	if err != nil {
		t.Fatalf("issue old: %v", err)
	}

	rotated, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    newPriv,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}
	if _, err := rotated.Verify(oldToken); err != nil {
		t.Fatalf("old token should verify after rotation: %v", err)
	}

	newToken, _, _ := rotated.Issue(Subject{ID: "u1"}, nil)
	if _, err := oldManager.Verify(newToken); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("unknown kid should be malformed, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret}); err == nil {
		t.Fatal("expected zero TTL to be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: testSecret}); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
	if _, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		KeyID:         "k9",
		VerifyKeys:    map[string][]byte{"k1": testSecret},
	}); err == nil {
		t.Fatal("expected KeyID outside VerifyKeys to be rejected")
	}
}
