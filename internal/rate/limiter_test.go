package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, New(rdb, cfg)
}

func TestLoginBudget(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "u1@example.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected %v", i, err)
		}
		if err := l.RecordLoginFailure(ctx, "u1@example.com", ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := l.CheckLogin(ctx, "u1@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckLogin(ctx, "other@example.com", ""); err != nil {
		t.Fatalf("other key must not be limited: %v", err)
	}

	if err := l.ResetLogin(ctx, "u1@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := l.LoginFailures(ctx, "u1@example.com"); n != 0 {
		t.Fatalf("expected 0 failures after reset, got %d", n)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxLoginAttempts: 1, LoginCooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "k", "")
	if err := l.CheckLogin(ctx, "k", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.CheckLogin(ctx, "k", ""); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestIPThrottle(t *testing.T) {
	_, l := newTestLimiter(t, Config{EnableIPThrottle: true, MaxLoginAttempts: 2})
	ctx := context.Background()

	_ = l.RecordLoginFailure(ctx, "a@example.com", "10.0.0.1")
	_ = l.RecordLoginFailure(ctx, "b@example.com", "10.0.0.1")
	if err := l.CheckLogin(ctx, "c@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP limit, got %v", err)
	}
	if err := l.CheckLogin(ctx, "c@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("other IP must pass: %v", err)
	}
}

func TestSecondFactorBudget(t *testing.T) {
	_, l := newTestLimiter(t, Config{})
	ctx := context.Background()

	for i := 0; i < defaultMaxFactorFails; i++ {
		if err := l.CheckSecondFactor(ctx, "u1"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		_ = l.RecordSecondFactorFailure(ctx, "u1")
	}
	if err := l.CheckSecondFactor(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	_ = l.ResetSecondFactor(ctx, "u1")
	if err := l.CheckSecondFactor(ctx, "u1"); err != nil {
		t.Fatalf("expected reset, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	mr, l := newTestLimiter(t, Config{})
	mr.Close()
	if err := l.CheckLogin(context.Background(), "k", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
