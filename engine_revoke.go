package authcore

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Revoke handles RFC 7009 revocation. Access tokens are stateless and expire
// on their own, so an access_token hint is a no-op. Unknown, malformed and
// already revoked tokens are accepted; storage errors are logged only.
func (e *Engine) Revoke(ctx context.Context, token, hint string) error {
	if e == nil || e.refresh == nil {
		return ErrEngineNotReady
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidRequest
	}
	if hint == TokenHintAccessToken {
		return nil
	}

	if err := e.refresh.Revoke(ctx, token); err != nil {
		e.logger.Error("refresh token revocation failed", zap.Error(err))
		return nil
	}
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, "", nil, nil)
	return nil
}

// RevokeAll revokes every live refresh token of userID and returns how many
// were revoked. Calling it twice is harmless.
func (e *Engine) RevokeAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.refresh == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrInvalidRequest
	}

	n, err := e.refresh.RevokeAll(ctx, userID)
	if err != nil {
		e.logger.Error("revoke all failed", zap.String("user_id", userID), zap.Error(err))
		return 0, wrapStoreError(err)
	}
	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}
