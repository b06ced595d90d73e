package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/pyroalert/authcore/credential"
)

// TOTPKey is a freshly generated authenticator secret with its provisioning
// data.
type TOTPKey struct {
	Secret     string
	OTPAuthURI string
	QRImage    string
}

// TwoFactorStatus summarizes an account's second factor.
type TwoFactorStatus struct {
	Enabled                bool
	Pending                bool
	RecoveryCodesRemaining int
}

// FactorKind tells which second factor matched.
type FactorKind int

const (
	FactorNone FactorKind = iota
	FactorTOTP
	FactorRecoveryCode
)

// TwoFactorMetrics carries metric ids used by two-factor flows.
type TwoFactorMetrics struct {
	SetupStarted        int
	Enabled             int
	Disabled            int
	TOTPSuccess         int
	TOTPFailure         int
	TOTPReplay          int
	RecoveryCodeUsed    int
	RecoveryCodeFailed  int
	RecoveryRegenerated int
	RateLimited         int
}

// TwoFactorEvents carries audit event names used by two-factor flows.
type TwoFactorEvents struct {
	SetupStarted        string
	Enabled             string
	Disabled            string
	Failure             string
	RecoveryCodeUsed    string
	RecoveryRegenerated string
	RateLimited         string
}

// TwoFactorErrors carries host sentinel errors.
type TwoFactorErrors struct {
	EngineNotReady   error
	UserNotFound     error
	AlreadyEnabled   error
	NotEnabled       error
	SetupNotStarted  error
	InvalidCode      error
	RateLimited      error
	Conflict         error
	StoreUnavailable error
}

// TwoFactorDeps captures two-factor dependencies.
type TwoFactorDeps struct {
	RecoveryCodeCount       int
	EnforceReplayProtection bool

	Store          credential.Store
	Now            func() time.Time
	GenerateKey    func(account string) (*TOTPKey, error)
	VerifyTOTP     func(secret, code string, now time.Time) (bool, int64, error)
	VerifyPassword func(plaintext, hash string) (bool, error)
	RandomIndex    func(int) (int, error)

	CheckLimiter         func(ctx context.Context, userID string) error
	RecordLimiterFailure func(ctx context.Context, userID string) error
	ResetLimiter         func(ctx context.Context, userID string) error
	IsRateLimited        func(error) bool

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
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
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
}

func twoFactorReady(deps TwoFactorDeps) bool {
	return deps.Store != nil && deps.GenerateKey != nil && deps.VerifyTOTP != nil && deps.VerifyPassword != nil
}

// RunBeginSetup stores a new pending secret and returns it with its
// provisioning data. Restarting from pending replaces the earlier secret.
func RunBeginSetup(ctx context.Context, userID string, deps TwoFactorDeps) (*TOTPKey, error) {
	normalizeTwoFactorDeps(&deps)
	if !twoFactorReady(deps) {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if user.TwoFactor.Enabled() {
		return nil, deps.Errors.AlreadyEnabled
	}

	key, err := deps.GenerateKey(user.Email)
	if err != nil {
		return nil, deps.Errors.StoreUnavailable
	}
	next, err := user.TwoFactor.BeginSetup(key.Secret)
	if err != nil {
		return nil, mapTransitionError(err, deps)
	}
	if err := swapTwoFactor(ctx, user, next, deps); err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.SetupStarted)
	deps.EmitAudit(ctx, deps.Events.SetupStarted, true, user.ID, nil, nil)
	return key, nil
}

// RunConfirmSetup checks code against the pending secret and, on success,
// enables the factor with a fresh recovery batch. The plaintext codes are
// returned once.
func RunConfirmSetup(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)
	if !twoFactorReady(deps) {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	switch user.TwoFactor.State {
	case credential.StateEnabled:
		return nil, deps.Errors.AlreadyEnabled
	case credential.StatePendingSetup:
	default:
		return nil, deps.Errors.SetupNotStarted
	}
	if err := checkLimiter(ctx, user.ID, deps); err != nil {
		return nil, err
	}

	ok, step, err := deps.VerifyTOTP(user.TwoFactor.PendingSecret, code, deps.Now())
	if err != nil {
		deps.Warn("authcore: totp verification failed", "user_id", user.ID, "error", err)
		return nil, deps.Errors.StoreUnavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, user.ID, deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"stage": "confirm_setup"}
		})
		return nil, recordFailure(ctx, user.ID, deps)
	}

	codes, hashes, err := newRecoveryBatch(user.ID, deps)
	if err != nil {
		return nil, deps.Errors.StoreUnavailable
	}
	next, err := user.TwoFactor.Confirm(hashes)
	if err != nil {
		return nil, mapTransitionError(err, deps)
	}
	if err := swapTwoFactor(ctx, user, next, deps); err != nil {
		return nil, err
	}
	if deps.EnforceReplayProtection {
		markStep(ctx, user.ID, step, deps)
	}
	resetLimiter(ctx, user.ID, deps)

	deps.MetricInc(deps.Metrics.Enabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, user.ID, nil, nil)
	return codes, nil
}

// RunVerifySecondFactor accepts a current TOTP code or an unused recovery
// code. A recovery code is consumed atomically, so concurrent callers
// presenting the same code see at most one success.
func RunVerifySecondFactor(ctx context.Context, userID, code string, deps TwoFactorDeps) (FactorKind, error) {
	normalizeTwoFactorDeps(&deps)
	if !twoFactorReady(deps) {
		return FactorNone, deps.Errors.EngineNotReady
	}

	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return FactorNone, err
	}
	if !user.TwoFactor.Enabled() {
		return FactorNone, deps.Errors.NotEnabled
	}
	if err := checkLimiter(ctx, user.ID, deps); err != nil {
		return FactorNone, err
	}

	kind, err := verifyFactor(ctx, user, code, deps)
	if err != nil {
		return FactorNone, err
	}
	if kind == FactorNone {
		return FactorNone, recordFailure(ctx, user.ID, deps)
	}
	resetLimiter(ctx, user.ID, deps)
	return kind, nil
}

// RunDisable turns the factor off after checking the password and a second
// factor. Which of the two failed is not revealed.
func RunDisable(ctx context.Context, userID, code, password string, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)
	if !twoFactorReady(deps) {
		return deps.Errors.EngineNotReady
	}

	user, err := gateSensitive(ctx, userID, code, password, deps)
	if err != nil {
		return err
	}
	next, err := user.TwoFactor.Disable()
	if err != nil {
		return mapTransitionError(err, deps)
	}
	if err := swapTwoFactor(ctx, user, next, deps); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Disabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, user.ID, nil, nil)
	return nil
}

// RunRegenerateRecoveryCodes replaces the whole recovery batch under the
// same gate as RunDisable.
func RunRegenerateRecoveryCodes(ctx context.Context, userID, code, password string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)
	if !twoFactorReady(deps) {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := gateSensitive(ctx, userID, code, password, deps)
	if err != nil {
		return nil, err
	}
	codes, hashes, err := newRecoveryBatch(user.ID, deps)
	if err != nil {
		return nil, deps.Errors.StoreUnavailable
	}
	next, err := user.TwoFactor.ReplaceRecoveryCodes(hashes)
	if err != nil {
		return nil, mapTransitionError(err, deps)
	}
	if err := swapTwoFactor(ctx, user, next, deps); err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.RecoveryRegenerated)
	deps.EmitAudit(ctx, deps.Events.RecoveryRegenerated, true, user.ID, nil, func() map[string]string {
		return map[string]string{"count": itoa(len(codes))}
	})
	return codes, nil
}

// RunStatus reports the current two-factor state.
func RunStatus(ctx context.Context, userID string, deps TwoFactorDeps) (*TwoFactorStatus, error) {
	normalizeTwoFactorDeps(&deps)
	if deps.Store == nil {
		return nil, deps.Errors.EngineNotReady
	}
	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled:                user.TwoFactor.Enabled(),
		Pending:                user.TwoFactor.State == credential.StatePendingSetup,
		RecoveryCodesRemaining: user.TwoFactor.RemainingRecoveryCodes(),
	}, nil
}

func gateSensitive(ctx context.Context, userID, code, password string, deps TwoFactorDeps) (*credential.User, error) {
	user, err := loadTwoFactorUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactor.Enabled() {
		return nil, deps.Errors.NotEnabled
	}
	if err := checkLimiter(ctx, user.ID, deps); err != nil {
		return nil, err
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		deps.EmitAudit(ctx, deps.Events.Failure, false, user.ID, deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"stage": "password"}
		})
		return nil, recordFailure(ctx, user.ID, deps)
	}

	// The factor is checked only after the password so a wrong password
	// never burns a recovery code.
	kind, err := verifyFactor(ctx, user, code, deps)
	if err != nil {
		return nil, err
	}
	if kind == FactorNone {
		return nil, recordFailure(ctx, user.ID, deps)
	}
	resetLimiter(ctx, user.ID, deps)
	return user, nil
}

// verifyFactor returns FactorNone for a wrong code and an error only for
// backend failures.
func verifyFactor(ctx context.Context, user *credential.User, code string, deps TwoFactorDeps) (FactorKind, error) {
	trimmed := strings.TrimSpace(code)
	canonical := credential.CanonicalRecoveryCode(code)

	switch {
	case isDigits(trimmed) && len(trimmed) == 6:
		ok, step, err := deps.VerifyTOTP(user.TwoFactor.ActiveSecret, trimmed, deps.Now())
		if err != nil {
			deps.Warn("authcore: totp verification failed", "user_id", user.ID, "error", err)
			return FactorNone, deps.Errors.StoreUnavailable
		}
		if !ok {
			deps.MetricInc(deps.Metrics.TOTPFailure)
			deps.EmitAudit(ctx, deps.Events.Failure, false, user.ID, deps.Errors.InvalidCode, func() map[string]string {
				return map[string]string{"factor": "totp"}
			})
			return FactorNone, nil
		}
		if deps.EnforceReplayProtection {
			if step <= user.TwoFactor.LastUsedStep {
				return replayed(ctx, user.ID, deps), nil
			}
			err := deps.Store.MarkTOTPStep(ctx, user.ID, step)
			switch {
			case errors.Is(err, credential.ErrStaleStep):
				return replayed(ctx, user.ID, deps), nil
			case err != nil:
				return FactorNone, deps.Errors.StoreUnavailable
			}
		}
		deps.MetricInc(deps.Metrics.TOTPSuccess)
		return FactorTOTP, nil

	case IsRecoveryCodeShape(canonical):
		hash := credential.HashRecoveryCode(user.ID, canonical)
		// Consumption is tied to the revision read above. A transition that
		// lands first makes this fail without spending the code.
		err := deps.Store.ConsumeRecoveryCode(ctx, user.ID, user.TwoFactor.Revision, hash, deps.Now())
		switch {
		case err == nil:
			deps.MetricInc(deps.Metrics.RecoveryCodeUsed)
			deps.EmitAudit(ctx, deps.Events.RecoveryCodeUsed, true, user.ID, nil, func() map[string]string {
				return map[string]string{"remaining": itoa(user.TwoFactor.RemainingRecoveryCodes() - 1)}
			})
			return FactorRecoveryCode, nil
		case errors.Is(err, credential.ErrCodeNotFound):
			deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
			deps.EmitAudit(ctx, deps.Events.Failure, false, user.ID, deps.Errors.InvalidCode, func() map[string]string {
				return map[string]string{"factor": "recovery_code"}
			})
			return FactorNone, nil
		case errors.Is(err, credential.ErrStateConflict):
			return FactorNone, deps.Errors.Conflict
		default:
			return FactorNone, deps.Errors.StoreUnavailable
		}
	}

	deps.MetricInc(deps.Metrics.TOTPFailure)
	return FactorNone, nil
}

func replayed(ctx context.Context, userID string, deps TwoFactorDeps) FactorKind {
	deps.MetricInc(deps.Metrics.TOTPReplay)
	deps.EmitAudit(ctx, deps.Events.Failure, false, userID, deps.Errors.InvalidCode, func() map[string]string {
		return map[string]string{"factor": "totp", "reason": "replay"}
	})
	return FactorNone
}

func loadTwoFactorUser(ctx context.Context, userID string, deps TwoFactorDeps) (*credential.User, error) {
	if userID == "" {
		return nil, deps.Errors.UserNotFound
	}
	user, err := deps.Store.FindByID(ctx, userID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, credential.ErrNotFound):
		return nil, deps.Errors.UserNotFound
	default:
		return nil, deps.Errors.StoreUnavailable
	}
}

func swapTwoFactor(ctx context.Context, user *credential.User, next credential.TwoFactor, deps TwoFactorDeps) error {
	err := deps.Store.SwapTwoFactor(ctx, user.ID, user.TwoFactor, next)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrStateConflict):
		return deps.Errors.Conflict
	case errors.Is(err, credential.ErrNotFound):
		return deps.Errors.UserNotFound
	default:
		return deps.Errors.StoreUnavailable
	}
}

func mapTransitionError(err error, deps TwoFactorDeps) error {
	switch {
	case errors.Is(err, credential.ErrTwoFactorEnabled):
		return deps.Errors.AlreadyEnabled
	case errors.Is(err, credential.ErrTwoFactorNotEnabled):
		return deps.Errors.NotEnabled
	case errors.Is(err, credential.ErrSetupNotStarted):
		return deps.Errors.SetupNotStarted
	default:
		return deps.Errors.StoreUnavailable
	}
}

func newRecoveryBatch(userID string, deps TwoFactorDeps) ([]string, []string, error) {
	count := deps.RecoveryCodeCount
	if count <= 0 {
		count = 10
	}
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := NewRecoveryCode(deps.RandomIndex)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, FormatRecoveryCode(raw))
		hashes = append(hashes, credential.HashRecoveryCode(userID, raw))
	}
	return codes, hashes, nil
}

func checkLimiter(ctx context.Context, userID string, deps TwoFactorDeps) error {
	if deps.CheckLimiter == nil {
		return nil
	}
	if err := deps.CheckLimiter(ctx, userID); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, userID, deps.Errors.RateLimited, nil)
			return deps.Errors.RateLimited
		}
		return deps.Errors.StoreUnavailable
	}
	return nil
}

// recordFailure counts a failed attempt and returns the error the caller
// should see.
func recordFailure(ctx context.Context, userID string, deps TwoFactorDeps) error {
	if deps.RecordLimiterFailure != nil {
		if err := deps.RecordLimiterFailure(ctx, userID); err != nil && !deps.IsRateLimited(err) {
			deps.Warn("authcore: second factor limiter unavailable", "user_id", userID, "error", err)
		}
	}
	return deps.Errors.InvalidCode
}

func resetLimiter(ctx context.Context, userID string, deps TwoFactorDeps) {
	if deps.ResetLimiter == nil {
		return
	}
	if err := deps.ResetLimiter(ctx, userID); err != nil {
		deps.Warn("authcore: second factor limiter reset failed", "user_id", userID, "error", err)
	}
}

func markStep(ctx context.Context, userID string, step int64, deps TwoFactorDeps) {
	if err := deps.Store.MarkTOTPStep(ctx, userID, step); err != nil && !errors.Is(err, credential.ErrStaleStep) {
		deps.Warn("authcore: totp step update failed", "user_id", userID, "error", err)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func itoa(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}
