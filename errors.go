package authcore

import (
	"errors"
	"fmt"
)

// OAuth protocol errors returned by Grant, Revoke and Introspect.
var (
	// ErrInvalidRequest is returned when a required parameter is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedGrantType is returned for grant types other than password and refresh_token.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	// ErrInvalidGrant covers bad credentials, a wrong second factor and every refresh token failure.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrInvalidScope is returned for syntactically invalid, unknown or widened scopes.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrMFARequired is returned by the password grant when a second factor is enabled and no code was sent.
	ErrMFARequired = errors.New("mfa required")
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRateLimited is returned when a failure budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// Two-factor errors.
var (
	ErrInvalidCode              = errors.New("invalid code")
	ErrTwoFactorAlreadyEnabled  = errors.New("two-factor already enabled")
	ErrTwoFactorNotEnabled      = errors.New("two-factor not enabled")
	ErrTwoFactorSetupNotStarted = errors.New("two-factor setup not started")
	// ErrTwoFactorConflict is returned when a concurrent request changed the two-factor state first.
	ErrTwoFactorConflict = errors.New("two-factor state changed concurrently")
)

// Account errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation failed")
	ErrPasswordPolicy       = errors.New("password policy violation")
	ErrRegistrationDisabled = errors.New("registration disabled")
)

// Infrastructure errors.
var (
	ErrEngineNotReady    = errors.New("engine not initialized")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrTokenIssueFailed  = errors.New("token issuance failed")
	ErrMissingStore      = errors.New("credential and token stores are required")
	ErrBuilderUsed       = errors.New("builder already used")
	// ErrRedisTopology is returned when the Redis stores would run on a
	// sharded client. Their scripts touch keys in several hash slots.
	ErrRedisTopology = errors.New("redis stores need a single-node or sentinel client")
	ErrInvalidSigningKey = errors.New("invalid signing key")
)

func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
