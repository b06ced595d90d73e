package authcore

import (
	"context"

	"github.com/pyroalert/authcore/internal/flows"
)

// BeginTwoFactorSetup generates a TOTP secret for userID and stores it as
// pending. Calling it again before confirmation replaces the secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	key, err := flows.RunBeginSetup(ctx, userID, e.twoFactorDeps())
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Secret:     key.Secret,
		OTPAuthURI: key.OTPAuthURI,
		QRImage:    key.QRImage,
	}, nil
}

// ConfirmTwoFactorSetup enables two-factor authentication once code matches
// the pending secret. The returned recovery codes are never shown again.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunConfirmSetup(ctx, userID, code, e.twoFactorDeps())
}

// VerifySecondFactor checks a TOTP code or consumes a recovery code.
func (e *Engine) VerifySecondFactor(ctx context.Context, userID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	_, err := flows.RunVerifySecondFactor(ctx, userID, code, e.twoFactorDeps())
	return err
}

// DisableTwoFactor requires both the account password and a valid second
// factor. Either one failing yields ErrInvalidCode.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code, password string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	return flows.RunDisable(ctx, userID, code, password, e.twoFactorDeps())
}

// RegenerateRecoveryCodes replaces every recovery code, used or not.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, code, password string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	return flows.RunRegenerateRecoveryCodes(ctx, userID, code, password, e.twoFactorDeps())
}

// TwoFactorStatus reports whether the factor is enabled or pending and how
// many recovery codes are left.
func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	st, err := flows.RunStatus(ctx, userID, e.twoFactorDeps())
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled:                st.Enabled,
		Pending:                st.Pending,
		RecoveryCodesRemaining: st.RecoveryCodesRemaining,
	}, nil
}
