package authcore

import (
	"errors"
	"regexp"
	"time"

	"github.com/pyroalert/authcore/credential"
)

// Config is read once by Builder.Build and treated as immutable afterwards.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	RateLimit RateLimitConfig
	Scope     ScopeConfig
	Account   AccountConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures opaque refresh tokens.
type RefreshConfig struct {
	TTL                 time.Duration
	ClientID            string
	RevokeFamilyOnReuse bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig configures TOTP and recovery codes.
type TwoFactorConfig struct {
	Issuer            string
	RecoveryCodeCount int
	// EnforceReplayProtection rejects a login code whose time step is not
	// newer than the last accepted one.
	EnforceReplayProtection bool
	MaxAttempts             int
	Cooldown                time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls failed-login throttling. It needs a Redis client.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
}

/*
====================================
SCOPE CONFIG
====================================
*/

// ScopeConfig controls grant scopes. An empty Allowed list accepts any
// syntactically valid scope token.
type ScopeConfig struct {
	Default []string
	Allowed []string
}

/*
====================================
ACCOUNT / AUDIT / METRICS
====================================
*/

// AccountConfig controls self registration.
type AccountConfig struct {
	RegistrationEnabled bool
	DefaultRole         string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration that only lacks signing keys.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
		},
		Refresh: RefreshConfig{
			TTL:      30 * 24 * time.Hour,
			ClientID: "default",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            "PyroAlert",
			RecoveryCodeCount: 10,
			MaxAttempts:       5,
			Cooldown:          time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			MaxLoginAttempts: 10,
			LoginCooldown:    15 * time.Minute,
		},
		Scope: ScopeConfig{
			Default: []string{"read", "write"},
		},
		Account: AccountConfig{
			RegistrationEnabled: true,
			DefaultRole:         string(credential.RoleViewer),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// scope-token from RFC 6749 section 3.3.
var scopeTokenPattern = regexp.MustCompile(`^[\x21\x23-\x5B\x5D-\x7E]+$`)

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Scope.Default = append([]string(nil), cfg.Scope.Default...)
	out.Scope.Allowed = append([]string(nil), cfg.Scope.Allowed...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks that c can build an Engine.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Two-factor
	if c.TwoFactor.Issuer == "" {
		return errors.New("TwoFactor Issuer must be set")
	}
	if c.TwoFactor.RecoveryCodeCount < 1 || c.TwoFactor.RecoveryCodeCount > 32 {
		return errors.New("TwoFactor RecoveryCodeCount must be within [1, 32]")
	}
	if c.TwoFactor.MaxAttempts < 1 {
		return errors.New("TwoFactor MaxAttempts must be >= 1")
	}
	if c.TwoFactor.Cooldown <= 0 {
		return errors.New("TwoFactor Cooldown must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts < 1 {
			return errors.New("RateLimit MaxLoginAttempts must be >= 1")
		}
		if c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0")
		}
	}

	// Scope
	if len(c.Scope.Default) == 0 {
		return errors.New("Scope Default must not be empty")
	}
	for _, s := range append(append([]string(nil), c.Scope.Default...), c.Scope.Allowed...) {
		if !scopeTokenPattern.MatchString(s) {
			return errors.New("Scope contains an invalid scope token")
		}
	}
	if len(c.Scope.Allowed) > 0 && !subsetOf(c.Scope.Default, c.Scope.Allowed) {
		return errors.New("Scope Default must be a subset of Scope Allowed")
	}

	// Account
	if !credential.Role(c.Account.DefaultRole).Valid() {
		return errors.New("Account DefaultRole must be admin, operator or viewer")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
