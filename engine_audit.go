package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore/refresh"
)

// errRefreshReuse marks reuse in audit events; callers still see ErrInvalidGrant.
var errRefreshReuse = fmt.Errorf("%w: refresh token reuse", ErrInvalidGrant)

const (
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventLoginRateLimited        = "login_rate_limited"
	auditEventMFARequired             = "mfa_required"
	auditEventMFASuccess              = "mfa_success"
	auditEventMFAFailure              = "mfa_failure"
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshInvalid          = "refresh_invalid"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventTokenRevoked            = "token_revoked"
	auditEventRevokeAll               = "revoke_all"
	auditEventTwoFactorSetupStarted   = "two_factor_setup_started"
	auditEventTwoFactorEnabled        = "two_factor_enabled"
	auditEventTwoFactorDisabled       = "two_factor_disabled"
	auditEventTwoFactorFailure        = "two_factor_failure"
	auditEventTwoFactorRateLimited    = "two_factor_rate_limited"
	auditEventRecoveryCodeUsed        = "recovery_code_used"
	auditEventRecoveryCodesGenerated  = "recovery_codes_generated"
	auditEventAccountCreated          = "account_created"
	auditEventAccountCreationFailure  = "account_creation_failure"
	auditEventAccountDeleted          = "account_deleted"
	auditEventPasswordChangeSuccess   = "password_change_success"
	auditEventPasswordChangeInvalid   = "password_change_invalid_current"
	auditEventLoginKeyChanged         = "login_key_changed"
	auditEventLoginKeyChangeFailure   = "login_key_change_failure"
	auditEventAccountDeletionRejected = "account_deletion_rejected"
)

// AuditErrorCode is the stable error label written into AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidGrant       AuditErrorCode = "invalid_grant"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrInvalidScope       AuditErrorCode = "invalid_scope"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, errRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidGrant):
		return auditErrInvalidGrant
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidScope):
		return auditErrInvalidScope
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// auditRefreshReuse is installed as the refresh manager's reuse hook.
func (e *Engine) auditRefreshReuse(ctx context.Context, rec *refresh.Record, familyRevoked int) {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("user_id", rec.UserID),
		zap.String("family_id", rec.FamilyID),
		zap.String("token_id", rec.ID),
		zap.Int("family_revoked", familyRevoked),
	)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.UserID, errRefreshReuse, func() map[string]string {
		return map[string]string{
			"family_id":      rec.FamilyID,
			"family_revoked": strconv.Itoa(familyRevoked),
		}
	})
}
