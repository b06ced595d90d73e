package flows

import (
	"context"
	"errors"

	"github.com/pyroalert/authcore/credential"
	"github.com/pyroalert/authcore/refresh"
)

// RefreshFailureKind classifies refresh grant failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMissingToken
	RefreshFailureInvalid
	RefreshFailureReuse
	RefreshFailureScope
	RefreshFailureUserGone
	RefreshFailureStore
	RefreshFailureIssueAccess
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	UserID  string
	User    *credential.User
	Tokens  GrantTokens
}

// RefreshDeps captures refresh grant dependencies.
type RefreshDeps struct {
	Rotate      func(ctx context.Context, token string, scope []string) (refresh.Issued, error)
	RevokeToken func(ctx context.Context, token string) error
	Users       credential.Store
	IssueAccess func(user *credential.User, scope []string) (string, int64, error)
	Warn        func(string, ...any)
}

// RunRefresh rotates refreshToken and mints an access token for the current
// state of its owner. The presented token is single use: a second call with
// it fails with RefreshFailureReuse.
func RunRefresh(ctx context.Context, refreshToken string, scope []string, deps RefreshDeps) RefreshResult {
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureMissingToken}
	}

	issued, err := deps.Rotate(ctx, refreshToken, scope)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReuse):
			return RefreshResult{Failure: RefreshFailureReuse, Err: err}
		case errors.Is(err, refresh.ErrScopeExceeded):
			return RefreshResult{Failure: RefreshFailureScope, Err: err}
		case errors.Is(err, refresh.ErrInvalid):
			return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err}
		}
	}
	rec := issued.Record

	user, err := deps.Users.FindByID(ctx, rec.UserID)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: rec.UserID}
		}
		// The account is gone; the successor must not outlive it.
		if deps.RevokeToken != nil {
			if rerr := deps.RevokeToken(ctx, issued.Token); rerr != nil {
				deps.Warn("authcore: revoke of orphaned refresh token failed", "user_id", rec.UserID, "error", rerr)
			}
		}
		return RefreshResult{Failure: RefreshFailureUserGone, Err: err, UserID: rec.UserID}
	}

	access, expiresIn, err := deps.IssueAccess(user, rec.Scope)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, UserID: user.ID}
	}

	return RefreshResult{
		UserID: user.ID,
		User:   user,
		Tokens: GrantTokens{
			AccessToken:  access,
			ExpiresIn:    expiresIn,
			RefreshToken: issued.Token,
			Scope:        rec.Scope,
		},
	}
}
