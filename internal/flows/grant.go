package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/pyroalert/authcore/credential"
)

// GrantTokens is an issued token pair.
type GrantTokens struct {
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
	Scope        []string
}

// PasswordGrantResult is a successful password grant.
type PasswordGrantResult struct {
	Tokens GrantTokens
	User   *credential.User
	Factor FactorKind
}

// GrantMetrics carries metric ids used by the password grant.
type GrantMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	MFARequired      int
	MFASuccess       int
	MFAFailure       int
}

// GrantEvents carries audit event names used by the password grant.
type GrantEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
	MFARequired      string
	MFASuccess       string
	MFAFailure       string
}

// GrantErrors carries host sentinel errors used by the password grant.
type GrantErrors struct {
	EngineNotReady   error
	InvalidRequest   error
	InvalidGrant     error
	MFARequired      error
	RateLimited      error
	StoreUnavailable error
	TokenIssueFailed error
}

// PasswordGrantDeps captures password grant dependencies.
type PasswordGrantDeps struct {
	UpgradeOnLogin bool

	ClientIPFromContext func(context.Context) string

	CheckLoginRate     func(ctx context.Context, loginKey, ip string) error
	RecordLoginFailure func(ctx context.Context, loginKey, ip string) error
	ResetLoginRate     func(ctx context.Context, loginKey string) error
	IsRateLimited      func(error) bool

	Store          credential.Store
	VerifyPassword func(plaintext, hash string) (bool, error)
	// DummyVerify burns the same time as a real verification so unknown
	// login keys cannot be told apart by latency.
	DummyVerify  func(plaintext string)
	NeedsUpgrade func(hash string) (bool, error)
	HashPassword func(plaintext string) (string, error)

	// VerifySecondFactor checks a TOTP or recovery code for an enabled user.
	VerifySecondFactor func(ctx context.Context, userID, code string) (FactorKind, error)
	// IsSecondFactorRejection reports whether an error from
	// VerifySecondFactor means the code was wrong, as opposed to a backend
	// failure or rate limit.
	IsSecondFactorRejection func(error) bool

	IssueTokens func(ctx context.Context, user *credential.User, scope []string) (*GrantTokens, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics GrantMetrics
	Events  GrantEvents
	Errors  GrantErrors
}

// RunPasswordGrant authenticates loginKey and password, applies the second
// factor gate and issues a token pair. No tokens are issued on any failure.
func RunPasswordGrant(ctx context.Context, loginKey, password, totpCode string, scope []string, deps PasswordGrantDeps) (*PasswordGrantResult, error) {
	normalizePasswordGrantDeps(&deps)
	if deps.Store == nil || deps.VerifyPassword == nil || deps.IssueTokens == nil || deps.VerifySecondFactor == nil {
		return nil, deps.Errors.EngineNotReady
	}

	loginKey = credential.NormalizeEmail(loginKey)
	if loginKey == "" || password == "" {
		return nil, deps.Errors.InvalidRequest
	}
	ip := deps.ClientIPFromContext(ctx)

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, loginKey, ip); err != nil {
			if !deps.IsRateLimited(err) {
				return nil, deps.Errors.StoreUnavailable
			}
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", deps.Errors.RateLimited, func() map[string]string {
				return map[string]string{"login_key": loginKey}
			})
			return nil, deps.Errors.RateLimited
		}
	}

	user, err := deps.Store.FindByLoginKey(ctx, loginKey)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			return nil, deps.Errors.StoreUnavailable
		}
		if deps.DummyVerify != nil {
			deps.DummyVerify(password)
		}
		return nil, loginFailed(ctx, loginKey, ip, "", "unknown_user", deps)
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		deps.Warn("authcore: stored password hash unusable", "user_id", user.ID, "error", err)
		return nil, loginFailed(ctx, loginKey, ip, user.ID, "hash_error", deps)
	}
	if !ok {
		return nil, loginFailed(ctx, loginKey, ip, user.ID, "bad_password", deps)
	}

	factor := FactorNone
	if user.TwoFactor.Enabled() {
		code := strings.TrimSpace(totpCode)
		if code == "" {
			deps.MetricInc(deps.Metrics.MFARequired)
			deps.EmitAudit(ctx, deps.Events.MFARequired, false, user.ID, deps.Errors.MFARequired, nil)
			return nil, deps.Errors.MFARequired
		}
		factor, err = deps.VerifySecondFactor(ctx, user.ID, code)
		if err != nil {
			if deps.IsSecondFactorRejection(err) {
				deps.MetricInc(deps.Metrics.MFAFailure)
				deps.EmitAudit(ctx, deps.Events.MFAFailure, false, user.ID, deps.Errors.InvalidGrant, nil)
				return nil, deps.Errors.InvalidGrant
			}
			return nil, err
		}
		deps.MetricInc(deps.Metrics.MFASuccess)
		deps.EmitAudit(ctx, deps.Events.MFASuccess, true, user.ID, nil, func() map[string]string {
			if factor == FactorRecoveryCode {
				return map[string]string{"factor": "recovery_code"}
			}
			return map[string]string{"factor": "totp"}
		})
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, loginKey); err != nil {
			deps.Warn("authcore: login limiter reset failed", "error", err)
		}
	}

	if deps.UpgradeOnLogin && deps.NeedsUpgrade != nil && deps.HashPassword != nil {
		upgradePasswordHash(ctx, user, password, deps)
	}

	tokens, err := deps.IssueTokens(ctx, user, scope)
	if err != nil {
		return nil, deps.Errors.TokenIssueFailed
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.ID, nil, nil)
	return &PasswordGrantResult{Tokens: *tokens, User: user, Factor: factor}, nil
}

func loginFailed(ctx context.Context, loginKey, ip, userID, reason string, deps PasswordGrantDeps) error {
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, deps.Errors.InvalidGrant, func() map[string]string {
		return map[string]string{"login_key": loginKey, "reason": reason}
	})
	if deps.RecordLoginFailure != nil {
		if err := deps.RecordLoginFailure(ctx, loginKey, ip); err != nil && !deps.IsRateLimited(err) {
			deps.Warn("authcore: login limiter unavailable", "error", err)
		}
	}
	return deps.Errors.InvalidGrant
}

// upgradePasswordHash rehashes legacy or weaker hashes. Failures are logged
// and never fail the login.
func upgradePasswordHash(ctx context.Context, user *credential.User, password string, deps PasswordGrantDeps) {
	needs, err := deps.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := deps.HashPassword(password)
	if err != nil {
		deps.Warn("authcore: password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := deps.Store.UpdatePassword(ctx, user.ID, hash); err != nil {
		deps.Warn("authcore: password hash upgrade not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
}

func normalizePasswordGrantDeps(deps *PasswordGrantDeps) {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsSecondFactorRejection == nil {
		deps.IsSecondFactorRejection = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
}
