// Package jwt issues and verifies the signed access tokens handed out by the
// token endpoint.
//
// Tokens are stateless: they cannot be revoked before exp. Verification
// reports exactly one of [ErrTokenExpired], [ErrTokenMalformed] or
// [ErrSignatureInvalid] so callers can tell a stale token from a forged one.
package jwt
