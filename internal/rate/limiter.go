package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxLoginAttempts = 10
	defaultLoginCooldown    = 15 * time.Minute
	defaultMaxFactorFails   = 5
	defaultFactorCooldown   = time.Minute
)

// Config holds limiter budgets. Zero values fall back to defaults.
type Config struct {
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldown           time.Duration
	MaxSecondFactorAttempts int
	SecondFactorCooldown    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = defaultMaxLoginAttempts
	}
	if c.LoginCooldown <= 0 {
		c.LoginCooldown = defaultLoginCooldown
	}
	if c.MaxSecondFactorAttempts <= 0 {
		c.MaxSecondFactorAttempts = defaultMaxFactorFails
	}
	if c.SecondFactorCooldown <= 0 {
		c.SecondFactorCooldown = defaultFactorCooldown
	}
	return c
}

// Limiter counts failures in Redis. Only failures are counted; a success
// resets the login counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by redisClient.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg.withDefaults(),
	}
}

// CheckLogin returns ErrRateLimited when the login key, or the IP when IP
// throttling is on, has used its failure budget.
func (l *Limiter) CheckLogin(ctx context.Context, loginKey, ip string) error {
	if err := l.check(ctx, loginKeyKey(loginKey), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.check(ctx, loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// RecordLoginFailure counts one failed password check.
func (l *Limiter) RecordLoginFailure(ctx context.Context, loginKey, ip string) error {
	if _, err := l.increment(ctx, loginKeyKey(loginKey), l.config.LoginCooldown); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.increment(ctx, loginIPKey(ip), l.config.LoginCooldown); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the failure counter of loginKey. The IP counter is kept
// so one good account cannot launder a sprayed IP.
func (l *Limiter) ResetLogin(ctx context.Context, loginKey string) error {
	if err := l.redis.Del(ctx, loginKeyKey(loginKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckSecondFactor returns ErrRateLimited once userID has failed
// MaxSecondFactorAttempts times in the current window.
func (l *Limiter) CheckSecondFactor(ctx context.Context, userID string) error {
	count, err := l.get(ctx, secondFactorKey(userID))
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxSecondFactorAttempts) {
		return ErrRateLimited
	}
	return nil
}

// RecordSecondFactorFailure counts one failed TOTP or recovery code.
func (l *Limiter) RecordSecondFactorFailure(ctx context.Context, userID string) error {
	_, err := l.increment(ctx, secondFactorKey(userID), l.config.SecondFactorCooldown)
	return err
}

// ResetSecondFactor clears the failure counter of userID.
func (l *Limiter) ResetSecondFactor(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, secondFactorKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginFailures returns the current failure count for loginKey.
func (l *Limiter) LoginFailures(ctx context.Context, loginKey string) (int, error) {
	count, err := l.get(ctx, loginKeyKey(loginKey))
	return int(count), err
}

func (l *Limiter) check(ctx context.Context, key string, max int) error {
	count, err := l.get(ctx, key)
	if err != nil {
		return err
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) get(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func (l *Limiter) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed window: the TTL is set by the first hit only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func loginKeyKey(loginKey string) string { return "al:" + loginKey }
func loginIPKey(ip string) string        { return "ali:" + ip }
func secondFactorKey(userID string) string {
	return "a2f:" + userID
}
