// Package refresh owns the lifecycle of opaque refresh tokens: issue,
// verify, rotate, revoke and bulk revocation.
//
// # Token format
//
// A token is base64url(id || secret) where id is 16 random bytes and secret
// is 32 random bytes. Stores keep the id and sha256(secret); the plaintext is
// returned once by [Manager.Issue] or [Manager.Rotate] and never persisted.
//
// # Rotation
//
// Rotation is a single compare-and-set in the [Store]: the predecessor must be
// live, unexpired and carry the presented secret hash. Presenting a token that
// was already rotated or revoked reports [ErrReuse]. With
// Config.RevokeFamilyOnReuse the whole chain is revoked as well.
//
// Persistence lives in the tokenstore package.
package refresh
