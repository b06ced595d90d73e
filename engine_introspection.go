package authcore

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore/refresh"
)

// Introspect reports whether token is currently usable (RFC 7662). The
// access token interpretation is tried first unless hint is refresh_token;
// the refresh interpretation is skipped when hint is access_token. Other
// hints are ignored. Inactive or unknown tokens yield {active:false} only.
func (e *Engine) Introspect(ctx context.Context, token, hint string) IntrospectionResult {
	inactive := IntrospectionResult{Active: false}
	if e == nil || e.jwtManager == nil || e.refresh == nil {
		return inactive
	}
	token = strings.TrimSpace(token)
	if token == "" {
		e.metricInc(MetricIntrospectInactive)
		return inactive
	}

	if hint != TokenHintRefreshToken {
		if res, ok := e.introspectAccess(ctx, token); ok {
			e.metricInc(MetricIntrospectActive)
			return res
		}
	}
	if hint != TokenHintAccessToken {
		if res, ok := e.introspectRefresh(ctx, token); ok {
			e.metricInc(MetricIntrospectActive)
			return res
		}
	}
	e.metricInc(MetricIntrospectInactive)
	return inactive
}

func (e *Engine) introspectAccess(ctx context.Context, token string) (IntrospectionResult, bool) {
	claims, err := e.VerifyAccessToken(ctx, token)
	if err != nil {
		return IntrospectionResult{}, false
	}
	return IntrospectionResult{
		Active:    true,
		TokenType: "Bearer",
		Scope:     joinScope(claims.Scope),
		ClientID:  e.config.Refresh.ClientID,
		Subject:   claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
	}, true
}

func (e *Engine) introspectRefresh(ctx context.Context, token string) (IntrospectionResult, bool) {
	rec, err := e.refresh.Verify(ctx, token)
	if err != nil {
		if !errors.Is(err, refresh.ErrInvalid) {
			e.logger.Error("refresh token lookup failed", zap.Error(err))
		}
		return IntrospectionResult{}, false
	}

	// A token whose owner is gone is no longer usable.
	user, err := e.users.FindByID(ctx, rec.UserID)
	if err != nil {
		return IntrospectionResult{}, false
	}

	return IntrospectionResult{
		Active:    true,
		TokenType: TokenHintRefreshToken,
		Scope:     joinScope(rec.Scope),
		ClientID:  rec.ClientID,
		Subject:   rec.UserID,
		Email:     user.Email,
		ExpiresAt: rec.ExpiresAt.Unix(),
		IssuedAt:  rec.CreatedAt.Unix(),
	}, true
}
