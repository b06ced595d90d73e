package authcore

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore/internal/flows"
)

// Grant handles the token endpoint. Every credential, second factor and
// refresh token failure collapses to ErrInvalidGrant; a missing second
// factor is ErrMFARequired. No tokens are issued on any error.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (*TokenResponse, error) {
	if e == nil || e.jwtManager == nil || e.refresh == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricGrantLatency, time.Since(start))
		}
	}()

	switch strings.TrimSpace(req.GrantType) {
	case "":
		return nil, ErrInvalidRequest
	case GrantTypePassword:
		return e.passwordGrant(ctx, req)
	case GrantTypeRefreshToken:
		return e.refreshGrant(ctx, req)
	default:
		return nil, ErrUnsupportedGrantType
	}
}

func (e *Engine) passwordGrant(ctx context.Context, req GrantRequest) (*TokenResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, ErrInvalidRequest
	}
	scope, err := e.resolveScope(req.Scope, e.config.Scope.Default)
	if err != nil {
		return nil, err
	}

	res, err := flows.RunPasswordGrant(ctx, req.Username, req.Password, req.TOTPCode, scope, e.passwordGrantDeps())
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  res.Tokens.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.Tokens.ExpiresIn,
		RefreshToken: res.Tokens.RefreshToken,
		Scope:        joinScope(res.Tokens.Scope),
		User:         userInfo(res.User),
	}, nil
}

func (e *Engine) refreshGrant(ctx context.Context, req GrantRequest) (*TokenResponse, error) {
	if strings.TrimSpace(req.RefreshToken) == "" {
		return nil, ErrInvalidRequest
	}
	// An empty scope keeps the original grant.
	scope, err := e.resolveScope(req.Scope, nil)
	if err != nil {
		return nil, err
	}

	res := flows.RunRefresh(ctx, strings.TrimSpace(req.RefreshToken), scope, e.refreshDeps())

	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureMissingToken:
		return nil, ErrInvalidRequest
	case flows.RefreshFailureScope:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, ErrInvalidScope, nil)
		return nil, ErrInvalidScope
	case flows.RefreshFailureReuse:
		// Reuse was already audited by the refresh manager hook.
		e.metricInc(MetricRefreshFailure)
		return nil, ErrInvalidGrant
	case flows.RefreshFailureInvalid, flows.RefreshFailureUserGone:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, ErrInvalidGrant, nil)
		return nil, ErrInvalidGrant
	case flows.RefreshFailureIssueAccess:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("access token issuance failed", zap.String("user_id", res.UserID), zap.Error(res.Err))
		return nil, ErrTokenIssueFailed
	default:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh rotation failed", zap.Error(res.Err))
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, nil, nil)

	return &TokenResponse{
		AccessToken:  res.Tokens.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.Tokens.ExpiresIn,
		RefreshToken: res.Tokens.RefreshToken,
		Scope:        joinScope(res.Tokens.Scope),
		User:         userInfo(res.User),
	}, nil
}

// resolveScope parses a space separated scope parameter. Empty input yields
// fallback. Duplicates are dropped and order is kept.
func (e *Engine) resolveScope(raw string, fallback []string) ([]string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return append([]string(nil), fallback...), nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, s := range fields {
		if !scopeTokenPattern.MatchString(s) {
			return nil, ErrInvalidScope
		}
		if len(e.config.Scope.Allowed) > 0 && !subsetOf([]string{s}, e.config.Scope.Allowed) {
			return nil, ErrInvalidScope
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
