package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalid is the umbrella for every reason a presented token is unusable.
	ErrInvalid = errors.New("refresh: invalid token")

	ErrMalformed = fmt.Errorf("%w: malformed", ErrInvalid)
	ErrNotFound  = fmt.Errorf("%w: not found", ErrInvalid)
	ErrExpired   = fmt.Errorf("%w: expired", ErrInvalid)
	ErrRevoked   = fmt.Errorf("%w: revoked", ErrInvalid)
	// ErrReuse reports a rotation attempt with a token that was already rotated or revoked.
	ErrReuse = fmt.Errorf("%w: reuse detected", ErrInvalid)

	// ErrScopeExceeded is returned by Rotate when the requested scope is not
	// a subset of the original grant. The presented token stays live.
	ErrScopeExceeded = errors.New("refresh: scope exceeds original grant")

	// ErrHashMismatch is returned by a Store when the presented secret hash differs from the stored one.
	ErrHashMismatch = errors.New("refresh: secret hash mismatch")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("refresh: store unavailable")
)

// Record is the persisted form of one refresh token.
type Record struct {
	ID         string
	SecretHash SecretHash
	UserID     string
	FamilyID   string
	Scope      []string
	ClientID   string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  time.Time
	ReplacedBy string
}

// Revoked reports whether the record has been revoked or rotated.
func (r *Record) Revoked() bool {
	return !r.RevokedAt.IsZero()
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists refresh records. Implementations must make Rotate, Revoke
// and the bulk revocations atomic with respect to each other.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	// Get returns ErrNotFound when no record exists for id.
	Get(ctx context.Context, id string) (*Record, error)
	// Rotate marks prevID revoked and replaced by next, and persists next, in
	// one step. It fails with ErrNotFound, ErrHashMismatch, ErrRevoked or
	// ErrExpired without side effects when the predecessor is not live.
	Rotate(ctx context.Context, prevID string, prevHash SecretHash, next *Record, now time.Time) error
	// Revoke reports whether a live record was revoked by this call.
	Revoke(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, now time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
