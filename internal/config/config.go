// Package config loads process configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pyroalert/authcore"
	"github.com/pyroalert/authcore/internal/logging"
)

// Config holds everything cmd/authcore needs to start.
type Config struct {
	// HTTPAddr is the listen address (e.g. :4000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RequestTimeout bounds each HTTP request (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Off unless the
	// service sits behind a proxy that sets them.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`
	// CORSAllowedOrigins is a comma-separated origin list; empty disables CORS.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// JWTSecret is the HS256 key, at least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTSigningMethod is hs256 or ed25519.
	JWTSigningMethod string `mapstructure:"JWT_SIGNING_METHOD"`
	// JWTPrivateKey is a PEM-encoded ed25519 key or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is a PEM-encoded ed25519 key or a path to one.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTKeyID     string `mapstructure:"JWT_KEY_ID"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTExpiresIn is the access token lifetime in seconds.
	JWTExpiresIn int `mapstructure:"JWT_EXPIRES_IN"`

	RefreshTokenExpiresDays    int  `mapstructure:"REFRESH_TOKEN_EXPIRES_DAYS"`
	RefreshRevokeFamilyOnReuse bool `mapstructure:"REFRESH_REVOKE_FAMILY_ON_REUSE"`

	// AppName is the TOTP issuer shown in authenticator apps.
	AppName             string `mapstructure:"APP_NAME"`
	RegistrationEnabled bool   `mapstructure:"REGISTRATION_ENABLED"`
	MaxLoginAttempts    int    `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	LoginIPThrottle     bool   `mapstructure:"LOGIN_IP_THROTTLE"`

	// StorageDriver is redis or postgres.
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`

	// KafkaBrokers is a comma-separated broker list; empty disables the
	// Kafka audit sink.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	AuditEnabled    bool   `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled  bool   `mapstructure:"METRICS_ENABLED"`
}

// Load reads the .env file at path (".env" when empty; a missing default file
// is ignored), then overlays the environment. Env vars win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && explicit {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":4000")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_SIGNING_METHOD", "hs256")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ISSUER", "authcore")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_EXPIRES_IN", 900)
	v.SetDefault("REFRESH_TOKEN_EXPIRES_DAYS", 30)
	v.SetDefault("REFRESH_REVOKE_FAMILY_ON_REUSE", false)
	v.SetDefault("APP_NAME", "PyroAlert")
	v.SetDefault("REGISTRATION_ENABLED", true)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 10)
	v.SetDefault("LOGIN_IP_THROTTLE", false)
	v.SetDefault("STORAGE_DRIVER", "redis")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "authcore-audit")
	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch cfg.StorageDriver {
	case "redis":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORAGE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("config: unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.JWTExpiresIn <= 0 {
		return nil, errors.New("config: JWT_EXPIRES_IN must be > 0")
	}
	if cfg.RefreshTokenExpiresDays <= 0 {
		return nil, errors.New("config: REFRESH_TOKEN_EXPIRES_DAYS must be > 0")
	}
	if _, err := time.ParseDuration(cfg.RequestTimeout); err != nil {
		return nil, fmt.Errorf("config: invalid REQUEST_TIMEOUT: %w", err)
	}

	return &cfg, nil
}

// Timeout parses RequestTimeout. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// CORSOrigins returns the configured origins.
func (c *Config) CORSOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// KafkaBrokerList returns Kafka broker addresses. Empty means the Kafka audit
// sink is off.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Engine converts c into an authcore.Config. Signing keys are resolved here
// and the result is validated.
func (c *Config) Engine() (authcore.Config, error) {
	out := authcore.DefaultConfig()

	out.JWT.AccessTTL = time.Duration(c.JWTExpiresIn) * time.Second
	out.JWT.SigningMethod = strings.ToLower(c.JWTSigningMethod)
	out.JWT.Issuer = c.JWTIssuer
	out.JWT.Audience = c.JWTAudience
	out.JWT.KeyID = c.JWTKeyID

	switch out.JWT.SigningMethod {
	case "hs256":
		if c.JWTSecret == "" {
			return authcore.Config{}, errors.New("config: JWT_SECRET must be set for hs256")
		}
		out.JWT.PrivateKey = []byte(c.JWTSecret)
	case "ed25519":
		priv, err := readKey(c.JWTPrivateKey)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
		}
		pub, err := readKey(c.JWTPublicKey)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
		}
		out.JWT.PrivateKey = priv
		out.JWT.PublicKey = pub
	}

	out.Refresh.TTL = time.Duration(c.RefreshTokenExpiresDays) * 24 * time.Hour
	out.Refresh.RevokeFamilyOnReuse = c.RefreshRevokeFamilyOnReuse

	out.TwoFactor.Issuer = c.AppName
	out.Account.RegistrationEnabled = c.RegistrationEnabled
	out.RateLimit.MaxLoginAttempts = c.MaxLoginAttempts
	out.RateLimit.EnableIPThrottle = c.LoginIPThrottle

	out.Audit.Enabled = c.AuditEnabled
	out.Metrics.Enabled = c.MetricsEnabled
	out.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	if err := out.Validate(); err != nil {
		return authcore.Config{}, fmt.Errorf("config: %w", err)
	}
	return out, nil
}

// readKey accepts inline PEM, a file path or base64 of a raw key.
func readKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("must be set for ed25519")
	}
	if strings.Contains(value, "-----BEGIN") {
		return []byte(strings.ReplaceAll(value, `\n`, "\n")), nil
	}
	if raw, err := os.ReadFile(value); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.New("not PEM, base64 or a readable file")
	}
	return raw, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
