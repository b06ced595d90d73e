package credential

import (
	"errors"
	"time"
)

// State is the two-factor lifecycle state of an account.
type State string

const (
	StateDisabled     State = "disabled"
	StatePendingSetup State = "pending_setup"
	StateEnabled      State = "enabled"
)

var (
	ErrTwoFactorEnabled    = errors.New("credential: two-factor already enabled")
	ErrTwoFactorNotEnabled = errors.New("credential: two-factor not enabled")
	ErrSetupNotStarted     = errors.New("credential: two-factor setup not started")
	ErrInconsistentState   = errors.New("credential: inconsistent two-factor state")
)

// RecoveryCode is one stored recovery code hash.
type RecoveryCode struct {
	Hash   string
	UsedAt time.Time
}

// Used reports whether the code has been consumed.
func (c RecoveryCode) Used() bool {
	return !c.UsedAt.IsZero()
}

// TwoFactor is a snapshot of an account's second factor. Transition methods
// never modify the receiver.
type TwoFactor struct {
	State         State
	PendingSecret string
	ActiveSecret  string
	// Revision increases on every transition and is the optimistic
	// concurrency key for Store.SwapTwoFactor.
	Revision int64
	// LastUsedStep is the newest TOTP time step accepted for login. It only
	// moves forward and is written by Store.MarkTOTPStep.
	LastUsedStep  int64
	RecoveryCodes []RecoveryCode
}

// Enabled reports whether a second factor is required at login.
func (tf TwoFactor) Enabled() bool {
	return tf.State == StateEnabled
}

// RemainingRecoveryCodes counts unused codes.
func (tf TwoFactor) RemainingRecoveryCodes() int {
	n := 0
	for _, c := range tf.RecoveryCodes {
		if !c.Used() {
			n++
		}
	}
	return n
}

// Validate checks the per-state field invariants.
func (tf TwoFactor) Validate() error {
	switch tf.State {
	case StateDisabled, "":
		if tf.PendingSecret != "" || tf.ActiveSecret != "" || len(tf.RecoveryCodes) != 0 {
			return ErrInconsistentState
		}
	case StatePendingSetup:
		if tf.PendingSecret == "" || tf.ActiveSecret != "" {
			return ErrInconsistentState
		}
	case StateEnabled:
		if tf.ActiveSecret == "" || tf.PendingSecret != "" {
			return ErrInconsistentState
		}
	default:
		return ErrInconsistentState
	}
	return nil
}

// BeginSetup stores secret as pending. Calling it again while pending
// replaces the pending secret.
func (tf TwoFactor) BeginSetup(secret string) (TwoFactor, error) {
	if tf.State == StateEnabled {
		return tf, ErrTwoFactorEnabled
	}
	if secret == "" {
		return tf, errors.New("credential: empty two-factor secret")
	}
	return TwoFactor{
		State:         StatePendingSetup,
		PendingSecret: secret,
		Revision:      tf.Revision + 1,
		LastUsedStep:  tf.LastUsedStep,
	}, nil
}

// Confirm promotes the pending secret and installs a fresh batch of
// recovery code hashes.
func (tf TwoFactor) Confirm(codeHashes []string) (TwoFactor, error) {
	switch tf.State {
	case StateEnabled:
		return tf, ErrTwoFactorEnabled
	case StatePendingSetup:
	default:
		return tf, ErrSetupNotStarted
	}
	return TwoFactor{
		State:         StateEnabled,
		ActiveSecret:  tf.PendingSecret,
		Revision:      tf.Revision + 1,
		LastUsedStep:  tf.LastUsedStep,
		RecoveryCodes: freshCodes(codeHashes),
	}, nil
}

// Disable clears both secrets and every recovery code.
func (tf TwoFactor) Disable() (TwoFactor, error) {
	if tf.State != StateEnabled {
		return tf, ErrTwoFactorNotEnabled
	}
	return TwoFactor{
		State:        StateDisabled,
		Revision:     tf.Revision + 1,
		LastUsedStep: tf.LastUsedStep,
	}, nil
}

// ReplaceRecoveryCodes swaps the whole recovery batch.
func (tf TwoFactor) ReplaceRecoveryCodes(codeHashes []string) (TwoFactor, error) {
	if tf.State != StateEnabled {
		return tf, ErrTwoFactorNotEnabled
	}
	next := tf
	next.Revision = tf.Revision + 1
	next.RecoveryCodes = freshCodes(codeHashes)
	return next, nil
}

func freshCodes(hashes []string) []RecoveryCode {
	codes := make([]RecoveryCode, len(hashes))
	for i, h := range hashes {
		codes[i] = RecoveryCode{Hash: h}
	}
	return codes
}
