package authcore

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore/credential"
	internalaudit "github.com/pyroalert/authcore/internal/audit"
	"github.com/pyroalert/authcore/internal/rate"
	"github.com/pyroalert/authcore/jwt"
	"github.com/pyroalert/authcore/password"
	"github.com/pyroalert/authcore/refresh"
	"github.com/pyroalert/authcore/tokenstore"
)

const dummyPassword = "authcore-timing-equalizer"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users  credential.Store
	tokens refresh.Store

	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used by the rate limiters and, unless
// other stores are given, by the user and token stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user store.
func (b *Builder) WithCredentialStore(store credential.Store) *Builder {
	b.users = store
	return b
}

// WithTokenStore sets the refresh token store.
func (b *Builder) WithTokenStore(store refresh.Store) *Builder {
	b.tokens = store
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the time source of every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	users, tokens := b.users, b.tokens
	if b.redis != nil {
		if (users == nil || tokens == nil) && shardedRedis(b.redis) {
			return nil, ErrRedisTopology
		}
		if users == nil {
			users = credential.NewRedisStore(b.redis, "")
		}
		if tokens == nil {
			tokens = tokenstore.NewRedisStore(b.redis, "")
		}
	}
	if users == nil || tokens == nil {
		return nil, ErrMissingStore
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:  cfg,
		users:   users,
		store:   tokens,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
		totp:    newTOTPManager(cfg.TwoFactor.Issuer),
	}

	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:        cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:           cfg.RateLimit.LoginCooldown,
			MaxSecondFactorAttempts: cfg.TwoFactor.MaxAttempts,
			SecondFactorCooldown:    cfg.TwoFactor.Cooldown,
		})
	} else {
		logger.Warn("no redis client configured, login and second factor throttling disabled")
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	dummy, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	}, jwt.WithClock(now))
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	rm, err := refresh.NewManager(tokens, refresh.Config{
		TTL:                 cfg.Refresh.TTL,
		ClientID:            cfg.Refresh.ClientID,
		RevokeFamilyOnReuse: cfg.Refresh.RevokeFamilyOnReuse,
	}, refresh.WithClock(now), refresh.WithReuseHook(engine.auditRefreshReuse))
	if err != nil {
		return nil, err
	}
	engine.refresh = rm

	b.built = true

	return engine, nil
}

func shardedRedis(client redis.UniversalClient) bool {
	switch client.(type) {
	case *redis.ClusterClient, *redis.Ring:
		return true
	}
	return false
}
