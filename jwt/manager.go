package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used to sign access tokens.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType is the value of the token_type claim on every access token.
const TokenType = "access_token"

const minHMACKeyBytes = 32

var (
	ErrTokenExpired     = errors.New("jwt: token expired")
	ErrTokenMalformed   = errors.New("jwt: token malformed")
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
)

// Config describes how access tokens are signed and validated. It is read
// once by NewManager; the key material is never looked up again.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys maps kid to verification key. When set, tokens must carry a
	// kid present in the map, which allows old keys to keep verifying after
	// KeyID moves on.
	VerifyKeys map[string][]byte
}

// Subject is the identity embedded in an access token.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// Claims is the decoded payload of a verified access token.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Scopes splits the space separated scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Manager issues and verifies access tokens. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config  Config
	signKey interface{}
	method  jwt.SigningMethod
	now     func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: access TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key map contains empty kid")
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	m := &Manager{config: cfg, now: time.Now}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACKeyBytes)
		}
		for kid, key := range cfg.VerifyKeys {
			if len(key) < minHMACKeyBytes {
				return nil, fmt.Errorf("jwt: hs256 verify key %q is too short", kid)
			}
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("jwt: invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured access token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.AccessTTL
}

// Issue signs a new access token for subject with the given scope and
// returns it together with its lifetime in seconds.
func (m *Manager) Issue(subject Subject, scope []string) (string, int64, error) {
	if subject.ID == "" {
		return "", 0, errors.New("jwt: subject id is required")
	}

	now := m.now()
	claims := Claims{
		Email:     subject.Email,
		Role:      subject.Role,
		Scope:     strings.Join(scope, " "),
		TokenType: TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			ID:        uuid.NewString(),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.config.AccessTTL / time.Second), nil
}

// Verify checks signature, expiry and claims of token. The returned error
// is always one of ErrTokenExpired, ErrTokenMalformed or ErrSignatureInvalid.
func (m *Manager) Verify(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != TokenType || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)

	if len(m.config.VerifyKeys) > 0 {
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errUnknownKey
		}
		return m.verifyKey(key)
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errUnknownKey
	}

	if m.config.SigningMethod == MethodEd25519 {
		if len(m.config.PublicKey) > 0 {
			return parseEdPublicKey(m.config.PublicKey)
		}
		return m.signKey.(ed25519.PrivateKey).Public(), nil
	}
	return m.config.PrivateKey, nil
}

func (m *Manager) verifyKey(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodEd25519 {
		return parseEdPublicKey(key)
	}
	return key, nil
}

var errUnknownKey = errors.New("unknown kid")

// classify folds the parser's error tree into the three public outcomes.
// Signature problems are checked first so a forged token that is also
// expired never reports as merely expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, errUnknownKey):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
