package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore/credential"
	"github.com/pyroalert/authcore/password"
)

// Register creates an account through the public endpoint. The role is
// always Account.DefaultRole.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*UserInfo, error) {
	if e == nil || e.users == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.RegistrationEnabled {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", ErrRegistrationDisabled, func() map[string]string {
			return map[string]string{"reason": "registration_disabled"}
		})
		return nil, ErrRegistrationDisabled
	}
	return e.createUser(ctx, CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		IDNumber: req.IDNumber,
		Phone:    req.Phone,
		Role:     e.config.Account.DefaultRole,
	})
}

// CreateUser is the privileged counterpart of Register; the caller picks the
// role. It is used by the seed-admin command.
func (e *Engine) CreateUser(ctx context.Context, in CreateUserInput) (*UserInfo, error) {
	if e == nil || e.users == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	return e.createUser(ctx, in)
}

func (e *Engine) createUser(ctx context.Context, in CreateUserInput) (*UserInfo, error) {
	if in.Email == "" || in.Password == "" {
		return nil, ErrInvalidRequest
	}

	hash, err := e.passwordHash.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", ErrPasswordPolicy, func() map[string]string {
				return map[string]string{"reason": "password_policy"}
			})
			return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return nil, err
	}

	user, err := credential.NewUser(credential.NewUserInput{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		IDNumber:     in.IDNumber,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         credential.Role(in.Role),
	}, e.now().UTC())
	if err != nil {
		return nil, e.accountError(err)
	}

	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, credential.ErrConflict) {
			e.metricInc(MetricAccountDuplicate)
			e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", ErrConflict, func() map[string]string {
				return map[string]string{"reason": "duplicate"}
			})
			return nil, ErrConflict
		}
		return nil, e.accountError(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, user.ID, nil, func() map[string]string {
		return map[string]string{"role": string(user.Role)}
	})
	return userInfo(user), nil
}

// Me returns the public view of userID.
func (e *Engine) Me(ctx context.Context, userID string) (*UserInfo, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, e.accountError(err)
	}
	return userInfo(user), nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every refresh token of the account.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if e == nil || e.users == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	if current == "" || next == "" {
		return ErrInvalidRequest
	}

	user, err := e.authenticateUser(ctx, userID, current)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeInvalid, false, userID, err, nil)
		}
		return err
	}

	hash, err := e.passwordHash.Hash(next)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return err
	}
	if err := e.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return e.accountError(err)
	}

	revoked, err := e.refresh.RevokeAll(ctx, user.ID)
	if err != nil {
		e.logger.Error("revoke after password change failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// ChangeLoginKey moves the account to a new email after a password check.
func (e *Engine) ChangeLoginKey(ctx context.Context, userID, pw, newEmail string) (*UserInfo, error) {
	if e == nil || e.users == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if pw == "" || newEmail == "" {
		return nil, ErrInvalidRequest
	}
	if err := credential.ValidateEmail(newEmail); err != nil {
		return nil, e.accountError(err)
	}

	user, err := e.authenticateUser(ctx, userID, pw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.emitAudit(ctx, auditEventLoginKeyChangeFailure, false, userID, err, nil)
		}
		return nil, err
	}

	email := credential.NormalizeEmail(newEmail)
	if email != user.Email {
		if err := e.users.UpdateLoginKey(ctx, user.ID, email); err != nil {
			err = e.accountError(err)
			e.emitAudit(ctx, auditEventLoginKeyChangeFailure, false, user.ID, err, nil)
			return nil, err
		}
		user.Email = email
	}

	e.metricInc(MetricLoginKeyChanged)
	e.emitAudit(ctx, auditEventLoginKeyChanged, true, user.ID, nil, nil)
	return userInfo(user), nil
}

// DeleteAccount removes the account after a password check, then revokes its
// refresh tokens.
func (e *Engine) DeleteAccount(ctx context.Context, userID, pw string) error {
	if e == nil || e.users == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	if pw == "" {
		return ErrInvalidRequest
	}

	user, err := e.authenticateUser(ctx, userID, pw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.emitAudit(ctx, auditEventAccountDeletionRejected, false, userID, err, nil)
		}
		return err
	}
	if err := e.users.Delete(ctx, user.ID); err != nil {
		return e.accountError(err)
	}
	if _, err := e.refresh.RevokeAll(ctx, user.ID); err != nil {
		e.logger.Error("revoke after account deletion failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditEventAccountDeleted, true, user.ID, nil, nil)
	return nil
}

// SweepExpiredTokens deletes expired refresh token records.
func (e *Engine) SweepExpiredTokens(ctx context.Context) (int, error) {
	if e == nil || e.refresh == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.refresh.Sweep(ctx)
	if err != nil {
		return 0, wrapStoreError(err)
	}
	e.metrics.Add(MetricExpiredTokensSwept, uint64(n))
	if n > 0 {
		e.logger.Info("expired refresh tokens swept", zap.Int("count", n))
	}
	return n, nil
}

func (e *Engine) authenticateUser(ctx context.Context, userID, pw string) (*credential.User, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, e.accountError(err)
	}
	ok, err := e.passwordHash.Verify(pw, user.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// accountError maps credential package errors onto the public set.
func (e *Engine) accountError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, credential.ErrConflict):
		return ErrConflict
	case errors.Is(err, credential.ErrValidation):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		e.logger.Error("credential store failure", zap.Error(err))
		return wrapStoreError(err)
	}
}
