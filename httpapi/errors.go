package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore"
)

// Error is the JSON error body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
	MFAType     string `json:"mfa_type,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidScope         = "invalid_scope"
	CodeMFARequired          = "mfa_required"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidToken         = "invalid_token"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeInvalidCode          = "invalid_code"
	CodeAlreadyEnabled       = "already_enabled"
	CodeNotEnabled           = "not_enabled"
	CodeSetupNotStarted      = "setup_not_started"
	CodeRegistrationDisabled = "registration_disabled"
	CodeConflict             = "conflict"
	CodeNotFound             = "not_found"
	CodeRateLimited          = "rate_limited"
	CodeServerError          = "server_error"
)

type errorMapping struct {
	target      error
	status      int
	code        string
	description string
}

// Order matters: the first errors.Is match wins.
var errorMappings = []errorMapping{
	{authcore.ErrInvalidRequest, http.StatusBadRequest, CodeInvalidRequest, "The request is missing a required parameter or is malformed"},
	{authcore.ErrUnsupportedGrantType, http.StatusBadRequest, CodeUnsupportedGrantType, "The grant type is not supported"},
	{authcore.ErrInvalidScope, http.StatusBadRequest, CodeInvalidScope, "The requested scope is invalid"},
	{authcore.ErrMFARequired, http.StatusBadRequest, CodeMFARequired, "A second factor code is required"},
	{authcore.ErrInvalidGrant, http.StatusUnauthorized, CodeInvalidGrant, "The provided credentials or token are invalid"},
	{authcore.ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken, "Access token is invalid or expired"},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, "The password is incorrect"},
	{authcore.ErrInvalidCode, http.StatusBadRequest, CodeInvalidCode, "The code is invalid"},
	{authcore.ErrTwoFactorAlreadyEnabled, http.StatusBadRequest, CodeAlreadyEnabled, "Two-factor authentication is already enabled"},
	{authcore.ErrTwoFactorNotEnabled, http.StatusBadRequest, CodeNotEnabled, "Two-factor authentication is not enabled"},
	{authcore.ErrTwoFactorSetupNotStarted, http.StatusBadRequest, CodeSetupNotStarted, "Two-factor setup has not been started"},
	{authcore.ErrTwoFactorConflict, http.StatusConflict, CodeConflict, "The two-factor state changed, retry the request"},
	{authcore.ErrConflict, http.StatusConflict, CodeConflict, "The email is already registered"},
	{authcore.ErrNotFound, http.StatusNotFound, CodeNotFound, "The resource was not found"},
	{authcore.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited, "Too many attempts, try again later"},
	{authcore.ErrRegistrationDisabled, http.StatusForbidden, CodeRegistrationDisabled, "Registration is disabled"},
}

// Validation messages are user facing and safe to echo.
var echoedErrors = []error{authcore.ErrValidation, authcore.ErrPasswordPolicy}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, Error{Code: code, Description: description})
}

// writeEngineError maps err to a status and body. Unknown errors are logged
// and reported as server_error without detail.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		body := Error{Code: m.code, Description: m.description}
		if m.code == CodeMFARequired {
			body.MFARequired = true
			body.MFAType = "totp"
		}
		if m.code == CodeInvalidToken {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
		writeJSON(w, m.status, body)
		return
	}

	for _, target := range echoedErrors {
		if errors.Is(err, target) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
	}

	s.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, CodeServerError, "An internal error occurred")
}
