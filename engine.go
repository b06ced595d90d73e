package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore/credential"
	internalaudit "github.com/pyroalert/authcore/internal/audit"
	"github.com/pyroalert/authcore/internal/flows"
	"github.com/pyroalert/authcore/internal/rate"
	"github.com/pyroalert/authcore/jwt"
	"github.com/pyroalert/authcore/password"
	"github.com/pyroalert/authcore/refresh"
)

// Engine implements the token service. Build one with New().Build(); it is
// safe for concurrent use.
type Engine struct {
	config       Config
	users        credential.Store
	store        refresh.Store
	refresh      *refresh.Manager
	jwtManager   *jwt.Manager
	passwordHash *password.Argon2
	dummyHash    string
	totp         *totpManager
	limiter      *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (e *Engine) AccessTokenTTL() time.Duration {
	return e.jwtManager.TTL()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks every backing store that supports it.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	for _, s := range []any{e.users, e.store} {
		if p, ok := s.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
	}
	return nil
}

// VerifyAccessToken verifies signature, expiry and token type of an access
// token. Every failure is ErrInvalidToken.
func (e *Engine) VerifyAccessToken(_ context.Context, token string) (*AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	out := &AccessClaims{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		Scope:   claims.Scopes(),
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) warn(msg string, keysAndValues ...any) {
	e.logger.Sugar().Warnw(msg, keysAndValues...)
}

func (e *Engine) issueAccessToken(user *credential.User, scope []string) (string, int64, error) {
	return e.jwtManager.Issue(jwt.Subject{
		ID:    user.ID,
		Email: user.Email,
		Role:  string(user.Role),
	}, scope)
}

func (e *Engine) refreshMetadata(ctx context.Context) refresh.Metadata {
	return refresh.Metadata{
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
	}
}

func (e *Engine) issueTokenPair(ctx context.Context, user *credential.User, scope []string) (*flows.GrantTokens, error) {
	access, expiresIn, err := e.issueAccessToken(user, scope)
	if err != nil {
		e.logger.Error("access token issuance failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, err
	}
	issued, err := e.refresh.Issue(ctx, user.ID, scope, e.refreshMetadata(ctx))
	if err != nil {
		e.logger.Error("refresh token issuance failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, err
	}
	return &flows.GrantTokens{
		AccessToken:  access,
		ExpiresIn:    expiresIn,
		RefreshToken: issued.Token,
		Scope:        scope,
	}, nil
}

func (e *Engine) verifyPassword(plaintext, hash string) (bool, error) {
	return e.passwordHash.Verify(plaintext, hash)
}

func (e *Engine) dummyVerify(plaintext string) {
	_, _ = e.passwordHash.Verify(plaintext, e.dummyHash)
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}

func (e *Engine) twoFactorDeps() flows.TwoFactorDeps {
	deps := flows.TwoFactorDeps{
		RecoveryCodeCount:       e.config.TwoFactor.RecoveryCodeCount,
		EnforceReplayProtection: e.config.TwoFactor.EnforceReplayProtection,
		Store:                   e.users,
		Now:                     e.now,
		GenerateKey: func(account string) (*flows.TOTPKey, error) {
			setup, err := e.totp.Generate(account)
			if err != nil {
				return nil, err
			}
			return &flows.TOTPKey{Secret: setup.Secret, OTPAuthURI: setup.OTPAuthURI, QRImage: setup.QRImage}, nil
		},
		VerifyTOTP:     e.totp.Verify,
		VerifyPassword: e.verifyPassword,
		IsRateLimited:  isRateLimited,
		MetricInc:      func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:      e.emitAudit,
		Warn:           e.warn,
		Metrics: flows.TwoFactorMetrics{
			SetupStarted:        int(MetricTwoFactorSetupStarted),
			Enabled:             int(MetricTwoFactorEnabled),
			Disabled:            int(MetricTwoFactorDisabled),
			TOTPSuccess:         int(MetricTOTPSuccess),
			TOTPFailure:         int(MetricTOTPFailure),
			TOTPReplay:          int(MetricTOTPReplay),
			RecoveryCodeUsed:    int(MetricRecoveryCodeUsed),
			RecoveryCodeFailed:  int(MetricRecoveryCodeFailed),
			RecoveryRegenerated: int(MetricRecoveryCodesRegenerated),
			RateLimited:         int(MetricSecondFactorRateLimited),
		},
		Events: flows.TwoFactorEvents{
			SetupStarted:        auditEventTwoFactorSetupStarted,
			Enabled:             auditEventTwoFactorEnabled,
			Disabled:            auditEventTwoFactorDisabled,
			Failure:             auditEventTwoFactorFailure,
			RecoveryCodeUsed:    auditEventRecoveryCodeUsed,
			RecoveryRegenerated: auditEventRecoveryCodesGenerated,
			RateLimited:         auditEventTwoFactorRateLimited,
		},
		Errors: flows.TwoFactorErrors{
			EngineNotReady:   ErrEngineNotReady,
			UserNotFound:     ErrNotFound,
			AlreadyEnabled:   ErrTwoFactorAlreadyEnabled,
			NotEnabled:       ErrTwoFactorNotEnabled,
			SetupNotStarted:  ErrTwoFactorSetupNotStarted,
			InvalidCode:      ErrInvalidCode,
			RateLimited:      ErrRateLimited,
			Conflict:         ErrTwoFactorConflict,
			StoreUnavailable: ErrStoreUnavailable,
		},
	}
	if e.limiter != nil {
		deps.CheckLimiter = e.limiter.CheckSecondFactor
		deps.RecordLimiterFailure = e.limiter.RecordSecondFactorFailure
		deps.ResetLimiter = e.limiter.ResetSecondFactor
	}
	return deps
}

func (e *Engine) passwordGrantDeps() flows.PasswordGrantDeps {
	deps := flows.PasswordGrantDeps{
		UpgradeOnLogin:      e.config.Password.UpgradeOnLogin,
		ClientIPFromContext: clientIPFromContext,
		IsRateLimited:       isRateLimited,
		Store:               e.users,
		VerifyPassword:      e.verifyPassword,
		DummyVerify:         e.dummyVerify,
		NeedsUpgrade:        e.passwordHash.NeedsUpgrade,
		HashPassword:        e.passwordHash.Hash,
		VerifySecondFactor: func(ctx context.Context, userID, code string) (flows.FactorKind, error) {
			return flows.RunVerifySecondFactor(ctx, userID, code, e.twoFactorDeps())
		},
		IsSecondFactorRejection: func(err error) bool {
			return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrTwoFactorConflict)
		},
		IssueTokens: e.issueTokenPair,
		MetricInc:   func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:   e.emitAudit,
		Warn:        e.warn,
		Metrics: flows.GrantMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
			MFARequired:      int(MetricMFARequired),
			MFASuccess:       int(MetricMFASuccess),
			MFAFailure:       int(MetricMFAFailure),
		},
		Events: flows.GrantEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
			MFARequired:      auditEventMFARequired,
			MFASuccess:       auditEventMFASuccess,
			MFAFailure:       auditEventMFAFailure,
		},
		Errors: flows.GrantErrors{
			EngineNotReady:   ErrEngineNotReady,
			InvalidRequest:   ErrInvalidRequest,
			InvalidGrant:     ErrInvalidGrant,
			MFARequired:      ErrMFARequired,
			RateLimited:      ErrRateLimited,
			StoreUnavailable: ErrStoreUnavailable,
			TokenIssueFailed: ErrTokenIssueFailed,
		},
	}
	if e.limiter != nil && e.config.RateLimit.Enabled {
		deps.CheckLoginRate = e.limiter.CheckLogin
		deps.RecordLoginFailure = e.limiter.RecordLoginFailure
		deps.ResetLoginRate = e.limiter.ResetLogin
	}
	return deps
}

func (e *Engine) refreshDeps() flows.RefreshDeps {
	return flows.RefreshDeps{
		Rotate: func(ctx context.Context, token string, scope []string) (refresh.Issued, error) {
			issued, _, err := e.refresh.Rotate(ctx, token, scope, e.refreshMetadata(ctx))
			return issued, err
		},
		RevokeToken: e.refresh.Revoke,
		Users:       e.users,
		IssueAccess: e.issueAccessToken,
		Warn:        e.warn,
	}
}
