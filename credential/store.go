package credential

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("credential: user not found")
	// ErrConflict is returned when a unique field (email, id number) is taken.
	ErrConflict = errors.New("credential: conflict")
	// ErrStateConflict is returned when a two-factor swap lost a race.
	ErrStateConflict = errors.New("credential: two-factor state changed concurrently")
	// ErrCodeNotFound is returned when no unused recovery code matches.
	ErrCodeNotFound = errors.New("credential: recovery code not found")
	// ErrStaleStep is returned when a TOTP step is not newer than the last accepted one.
	ErrStaleStep        = errors.New("credential: totp step already used")
	ErrStoreUnavailable = errors.New("credential: store unavailable")
)

// Store persists users. Every method is safe for concurrent use and every
// mutation is atomic.
type Store interface {
	// FindByLoginKey looks up a user by normalized email.
	FindByLoginKey(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateLoginKey(ctx context.Context, id, email string) error
	// SwapTwoFactor writes next if the stored state and revision equal
	// prev's, replacing the recovery batch in the same step.
	SwapTwoFactor(ctx context.Context, id string, prev, next TwoFactor) error
	// ConsumeRecoveryCode marks the unused code with hash as used at at,
	// provided two-factor is still enabled at revision. Concurrent calls for
	// one code succeed at most once. A changed revision yields
	// ErrStateConflict and leaves the code untouched.
	ConsumeRecoveryCode(ctx context.Context, id string, revision int64, hash string, at time.Time) error
	MarkTOTPStep(ctx context.Context, id string, step int64) error
	Delete(ctx context.Context, id string) error
}
