// Package middleware adapts authcore access token verification to net/http.
//
// # Guards
//
//   - [Authenticate]: verifies the bearer token and stores a [Principal] in
//     the request context.
//   - [RequireScope]: rejects principals missing any of the listed scopes.
//   - [RequireRole]: rejects principals whose role is not listed.
//
// Rejections follow RFC 6750: 401 invalid_token or 403 insufficient_scope
// with a WWW-Authenticate challenge and a JSON error body.
//
// # What this package must NOT do
//
//   - Parse or sign JWTs itself; verification is delegated to the verifier.
//   - Touch any store.
package middleware
