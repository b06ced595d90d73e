package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroalert/authcore"
	promexport "github.com/pyroalert/authcore/metrics/export/prometheus"
)

const (
	testEmail    = "u1@example.com"
	testPassword = "Passw0rd!"
)

type testServer struct {
	*httptest.Server
	engine *authcore.Engine
	mr     *miniredis.Miniredis
}

func newTestServer(t *testing.T, mutate func(*authcore.Config), opts ...func(*Deps)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcore.New().WithConfig(cfg).WithRedis(rdb).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	deps := Deps{
		Engine:      engine,
		Metrics:     promexport.NewPrometheusExporter(engine).Handler(),
		CORSOrigins: []string{"https://app.example.com"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := New(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, engine: engine, mr: mr}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func (ts *testServer) register(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    testEmail,
		"password": testPassword,
		"name":     "User One",
	})
	require.Equal(t, http.StatusCreated, resp.status)
	user := resp.body["user"].(map[string]any)
	return user["id"].(string)
}

func (ts *testServer) login(t *testing.T, code string) response {
	t.Helper()
	body := map[string]string{
		"grant_type": "password",
		"username":   testEmail,
		"password":   testPassword,
	}
	if code != "" {
		body["totp_code"] = code
	}
	return ts.do(t, http.MethodPost, "/oauth/token", "", body)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
	assert.NotEmpty(t, resp.body["time"])

	ts.mr.Close()
	resp = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
}

func TestPasswordAndRefreshGrant(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)

	login := ts.login(t, "")
	require.Equal(t, http.StatusOK, login.status)
	assert.Equal(t, "no-store", login.header.Get("Cache-Control"))
	assert.Equal(t, "Bearer", login.body["token_type"])
	assert.EqualValues(t, 900, login.body["expires_in"])
	assert.Equal(t, "read write", login.body["scope"])
	user := login.body["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])
	assert.Equal(t, false, user["twoFactorEnabled"])

	first := login.body["refresh_token"].(string)
	refreshed := ts.do(t, http.MethodPost, "/oauth/token", "", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first,
	})
	require.Equal(t, http.StatusOK, refreshed.status)
	assert.NotEqual(t, first, refreshed.body["refresh_token"])

	replay := ts.do(t, http.MethodPost, "/oauth/token", "", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first,
	})
	assert.Equal(t, http.StatusUnauthorized, replay.status)
	assert.Equal(t, CodeInvalidGrant, replay.body["error"])
}

func TestTokenEndpointAcceptsFormBodies(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)

	form := url.Values{
		"grant_type": {"password"},
		"username":   {testEmail},
		"password":   {testPassword},
		"scope":      {"read"},
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp := ts.send(t, req)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "read", resp.body["scope"])
}

func TestTokenEndpointErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)

	cases := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"missing grant type", map[string]string{"username": testEmail}, http.StatusBadRequest, CodeInvalidRequest},
		{"unsupported grant", map[string]string{"grant_type": "client_credentials"}, http.StatusBadRequest, CodeUnsupportedGrantType},
		{"wrong password", map[string]string{"grant_type": "password", "username": testEmail, "password": "nope-nope"}, http.StatusUnauthorized, CodeInvalidGrant},
		{"unknown user", map[string]string{"grant_type": "password", "username": "ghost@example.com", "password": testPassword}, http.StatusUnauthorized, CodeInvalidGrant},
		{"missing refresh token", map[string]string{"grant_type": "refresh_token"}, http.StatusBadRequest, CodeInvalidRequest},
		{"bad scope", map[string]string{"grant_type": "password", "username": testEmail, "password": testPassword, "scope": "read \"x\""}, http.StatusBadRequest, CodeInvalidScope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/oauth/token", "", tc.body)
			assert.Equal(t, tc.status, resp.status)
			assert.Equal(t, tc.code, resp.body["error"])
			assert.NotEmpty(t, resp.body["error_description"])
		})
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/oauth/token", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp := ts.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, CodeInvalidRequest, resp.body["error"])
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	big := `{"grant_type":"password","username":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/oauth/token", strings.NewReader(big))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp := ts.send(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.status)
}

func TestTwoFactorLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)
	access := ts.login(t, "").body["access_token"].(string)

	unauth := ts.do(t, http.MethodPost, "/2fa/setup", "", nil)
	require.Equal(t, http.StatusUnauthorized, unauth.status)
	assert.Contains(t, unauth.header.Get("WWW-Authenticate"), `error="invalid_token"`)

	setup := ts.do(t, http.MethodPost, "/2fa/setup", access, nil)
	require.Equal(t, http.StatusOK, setup.status)
	secret := setup.body["secret"].(string)
	assert.True(t, strings.HasPrefix(setup.body["otpauthUri"].(string), "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(setup.body["qrImage"].(string), "data:image/png;base64,"))

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	verify := ts.do(t, http.MethodPost, "/2fa/verify", access, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, verify.status)
	recovery := verify.body["recoveryCodes"].([]any)
	assert.Len(t, recovery, 10)

	status := ts.do(t, http.MethodGet, "/2fa/status", access, nil)
	require.Equal(t, http.StatusOK, status.status)
	assert.Equal(t, true, status.body["enabled"])
	assert.EqualValues(t, 10, status.body["recoveryCodesRemaining"])

	again := ts.do(t, http.MethodPost, "/2fa/setup", access, nil)
	assert.Equal(t, http.StatusBadRequest, again.status)
	assert.Equal(t, CodeAlreadyEnabled, again.body["error"])

	mfa := ts.login(t, "")
	require.Equal(t, http.StatusBadRequest, mfa.status)
	assert.Equal(t, CodeMFARequired, mfa.body["error"])
	assert.Equal(t, true, mfa.body["mfa_required"])
	assert.Equal(t, "totp", mfa.body["mfa_type"])
	assert.Nil(t, mfa.body["access_token"])

	withRecovery := ts.login(t, recovery[0].(string))
	require.Equal(t, http.StatusOK, withRecovery.status)

	disable := ts.do(t, http.MethodDelete, "/2fa", access, map[string]string{
		"code":     recovery[1].(string),
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, disable.status)
	assert.Equal(t, CodeInvalidCode, disable.body["error"])

	disable = ts.do(t, http.MethodDelete, "/2fa", access, map[string]string{
		"code":     recovery[1].(string),
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, disable.status)
	assert.Equal(t, true, disable.body["success"])

	status = ts.do(t, http.MethodGet, "/2fa/status", access, nil)
	assert.Equal(t, false, status.body["enabled"])
}

func TestRevokeAndIntrospect(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)
	login := ts.login(t, "")
	access := login.body["access_token"].(string)
	refresh := login.body["refresh_token"].(string)

	active := ts.do(t, http.MethodPost, "/oauth/introspect", "", map[string]string{"token": access})
	require.Equal(t, http.StatusOK, active.status)
	assert.Equal(t, true, active.body["active"])
	assert.Equal(t, "Bearer", active.body["token_type"])
	assert.Equal(t, testEmail, active.body["email"])

	garbage := ts.do(t, http.MethodPost, "/oauth/introspect", "", map[string]string{"token": "garbage"})
	require.Equal(t, http.StatusOK, garbage.status)
	assert.Equal(t, map[string]any{"active": false}, garbage.body)

	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodPost, "/oauth/revoke", "", map[string]string{
			"token":           refresh,
			"token_type_hint": "refresh_token",
		})
		require.Equal(t, http.StatusOK, resp.status)
		assert.Equal(t, true, resp.body["success"])
	}

	empty := ts.do(t, http.MethodPost, "/oauth/revoke", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, empty.status)

	revoked := ts.do(t, http.MethodPost, "/oauth/introspect", "", map[string]string{"token": refresh})
	assert.Equal(t, false, revoked.body["active"])
}

func TestRevokeAll(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)
	first := ts.login(t, "")
	ts.login(t, "")

	resp := ts.do(t, http.MethodPost, "/oauth/revoke-all", first.body["access_token"].(string), nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.EqualValues(t, 2, resp.body["revoked"])

	refreshed := ts.do(t, http.MethodPost, "/oauth/token", "", map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.body["refresh_token"].(string),
	})
	assert.Equal(t, http.StatusUnauthorized, refreshed.status)
}

func TestAccountEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)
	access := ts.login(t, "").body["access_token"].(string)

	me := ts.do(t, http.MethodGet, "/auth/me", access, nil)
	require.Equal(t, http.StatusOK, me.status)
	user := me.body["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])
	assert.Equal(t, "viewer", user["role"])

	dup := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": testEmail, "password": testPassword})
	assert.Equal(t, http.StatusConflict, dup.status)
	assert.Equal(t, CodeConflict, dup.body["error"])

	short := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "u2@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, short.status)
	assert.Equal(t, CodeInvalidRequest, short.body["error"])

	wrong := ts.do(t, http.MethodPost, "/auth/password", access, map[string]string{
		"current_password": "not-my-password",
		"new_password":     "N3wPassw0rd!",
	})
	assert.Equal(t, http.StatusUnauthorized, wrong.status)
	assert.Equal(t, CodeInvalidCredentials, wrong.body["error"])

	email := ts.do(t, http.MethodPost, "/auth/email", access, map[string]string{
		"password": testPassword,
		"email":    "u1-new@example.com",
	})
	require.Equal(t, http.StatusOK, email.status)
	assert.Equal(t, "u1-new@example.com", email.body["user"].(map[string]any)["email"])

	changed := ts.do(t, http.MethodPost, "/auth/password", access, map[string]string{
		"current_password": testPassword,
		"new_password":     "N3wPassw0rd!",
	})
	require.Equal(t, http.StatusOK, changed.status)

	del := ts.do(t, http.MethodDelete, "/auth/account", access, map[string]string{"password": "N3wPassw0rd!"})
	require.Equal(t, http.StatusNoContent, del.status)

	gone := ts.do(t, http.MethodGet, "/auth/me", access, nil)
	assert.Equal(t, http.StatusNotFound, gone.status)
}

func TestMeRequiresReadScope(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)

	resp := ts.do(t, http.MethodPost, "/oauth/token", "", map[string]string{
		"grant_type": "password",
		"username":   testEmail,
		"password":   testPassword,
		"scope":      "write",
	})
	require.Equal(t, http.StatusOK, resp.status)

	me := ts.do(t, http.MethodGet, "/auth/me", resp.body["access_token"].(string), nil)
	assert.Equal(t, http.StatusForbidden, me.status)
	assert.Equal(t, "insufficient_scope", me.body["error"])
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *authcore.Config) {
		cfg.RateLimit.MaxLoginAttempts = 2
	})
	ts.register(t)

	bad := map[string]string{"grant_type": "password", "username": testEmail, "password": "wrong-password"}
	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodPost, "/oauth/token", "", bad)
		require.Equal(t, http.StatusUnauthorized, resp.status)
	}
	limited := ts.login(t, "")
	assert.Equal(t, http.StatusTooManyRequests, limited.status)
	assert.Equal(t, CodeRateLimited, limited.body["error"])
}

func TestLoginIPThrottleIgnoresForwardedHeaders(t *testing.T) {
	sprayFrom := func(ts *testServer) []int {
		statuses := make([]int, 0, 4)
		for i := 0; i < 4; i++ {
			raw, err := json.Marshal(map[string]string{
				"grant_type": "password",
				"username":   fmt.Sprintf("victim%d@example.com", i),
				"password":   "wrong-password",
			})
			require.NoError(t, err)
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/oauth/token", strings.NewReader(string(raw)))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
			req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
			statuses = append(statuses, ts.send(t, req).status)
		}
		return statuses
	}
	throttle := func(cfg *authcore.Config) {
		cfg.RateLimit.EnableIPThrottle = true
		cfg.RateLimit.MaxLoginAttempts = 2
	}

	direct := newTestServer(t, throttle)
	assert.Equal(t, []int{
		http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, sprayFrom(direct))

	proxied := newTestServer(t, throttle, func(d *Deps) { d.TrustProxy = true })
	assert.Equal(t, []int{
		http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusUnauthorized, http.StatusUnauthorized,
	}, sprayFrom(proxied))
}

func TestRegistrationDisabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *authcore.Config) {
		cfg.Account.RegistrationEnabled = false
	})
	resp := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": testEmail, "password": testPassword})
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, CodeRegistrationDisabled, resp.body["error"])
}

func TestMetricsAndCORS(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.register(t)
	ts.login(t, "")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "authcore_login_success_total 1")

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/oauth/token", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight := ts.send(t, req)
	assert.Equal(t, "https://app.example.com", preflight.header.Get("Access-Control-Allow-Origin"))
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
