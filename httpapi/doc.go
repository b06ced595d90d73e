// Package httpapi exposes an authcore.Engine over HTTP.
//
// Routes:
//
//	POST   /oauth/token          password and refresh_token grants
//	POST   /oauth/revoke         RFC 7009 revocation
//	POST   /oauth/revoke-all     logout everywhere (bearer)
//	POST   /oauth/introspect     RFC 7662 introspection
//	POST   /2fa/setup            begin TOTP enrollment (bearer)
//	POST   /2fa/verify           confirm enrollment (bearer)
//	POST   /2fa/disable          disable, also DELETE /2fa (bearer)
//	POST   /2fa/recovery-codes   regenerate recovery codes (bearer)
//	GET    /2fa/status           two-factor status (bearer)
//	POST   /auth/register        self registration
//	GET    /auth/me              current user (bearer, scope read)
//	POST   /auth/password        change password (bearer)
//	POST   /auth/email           change login email (bearer)
//	DELETE /auth/account         delete account (bearer)
//	GET    /health               store ping
//	GET    /metrics              Prometheus exposition, when configured
//
// Bodies may be JSON or form encoded and are capped at 1 MiB. Errors use the
// OAuth shape {"error": code, "error_description": text}.
package httpapi
