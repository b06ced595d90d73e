package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pyroalert/authcore/credential"
	"github.com/pyroalert/authcore/tokenstore"
)

const (
	testEmail    = "u1@example.com"
	testPassword = "Passw0rd!"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// Aligned to a TOTP step boundary.
	return &testClock{now: time.Unix(1_700_000_010, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()

	b := New().WithConfig(cfg).WithRedis(rdb).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, mr: mr, rdb: rdb, clock: clock}
}

func (te *testEngine) register(t *testing.T, email, password string) *UserInfo {
	t.Helper()
	user, err := te.Register(context.Background(), RegisterRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func (te *testEngine) login(t *testing.T, email, password, code string) *TokenResponse {
	t.Helper()
	resp, err := te.Grant(context.Background(), GrantRequest{
		GrantType: GrantTypePassword,
		Username:  email,
		Password:  password,
		TOTPCode:  code,
	})
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	return resp
}

// enableTwoFactor runs setup and confirmation and returns the secret and the
// recovery codes.
func (te *testEngine) enableTwoFactor(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := te.BeginTwoFactorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	codes, err := te.ConfirmTwoFactorSetup(ctx, userID, te.currentCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("confirm setup: %v", err)
	}
	return setup.Secret, codes
}

func (te *testEngine) currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := te.totp.codeAt(secret, te.clock.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

// wrongCode returns a six digit code that is valid at none of the accepted
// steps around now.
func (te *testEngine) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := te.totp.codeAt(secret, te.clock.Now().Add(off))
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		valid[code] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatalf("no wrong code candidate")
	return ""
}

func TestBuildRequiresStores(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	if err != ErrMissingStore {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err != ErrBuilderUsed {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuildRejectsShardedRedisForStores(t *testing.T) {
	cluster := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:1"}})
	defer cluster.Close()
	ring := redis.NewRing(&redis.RingOptions{Addrs: map[string]string{"a": "127.0.0.1:1"}})
	defer ring.Close()

	for name, client := range map[string]redis.UniversalClient{"cluster": cluster, "ring": ring} {
		if _, err := New().WithConfig(testConfig()).WithRedis(client).Build(); !errors.Is(err, ErrRedisTopology) {
			t.Fatalf("%s: expected ErrRedisTopology, got %v", name, err)
		}
	}

	// Rate limiting only uses single-key commands, so a cluster is fine
	// once the stores live elsewhere.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	engine, err := New().WithConfig(testConfig()).
		WithRedis(cluster).
		WithCredentialStore(credential.NewRedisStore(rdb, "")).
		WithTokenStore(tokenstore.NewRedisStore(rdb, "")).
		Build()
	if err != nil {
		t.Fatalf("build with explicit stores: %v", err)
	}
	engine.Close()
}

func TestBuildRejectsShortSigningKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.JWT.PrivateKey = []byte("short")
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); err == nil {
		t.Fatalf("expected config validation error")
	}
}

func TestPingReportsStoreOutage(t *testing.T) {
	te := newTestEngine(t, nil)
	if err := te.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	te.mr.Close()
	if err := te.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure after redis shutdown")
	}
}
