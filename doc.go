// Package authcore is an OAuth2 token service: password and refresh_token
// grants, signed JWT access tokens, rotating opaque refresh tokens and TOTP
// two-factor authentication with single-use recovery codes.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenResponse, IntrospectionResult, MetricsSnapshot).
// Flow orchestration, rate limiting and audit dispatch live under internal/.
// Persistence lives in the credential and tokenstore packages, each with a
// Redis and a Postgres backend.
//
// # What this package must NOT do
//
//   - Return password hashes, TOTP secrets, recovery codes or refresh token
//     hashes from any read path.
//   - Tell a caller which of several credentials was wrong.
//   - Import httpapi, middleware or any package that re-imports authcore.
//
// # Consistency contract
//
// Refresh rotation, recovery code consumption and two-factor transitions are
// each one conditional store operation. A refresh token or recovery code
// presented concurrently succeeds for at most one caller.
package authcore
