package httpapi

import (
	"net/http"

	"github.com/pyroalert/authcore"
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	TOTPCode     string `json:"totp_code"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type tokenHintRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var req tokenRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	username := req.Username
	if username == "" {
		username = req.Email
	}

	resp, err := s.engine.Grant(r.Context(), authcore.GrantRequest{
		GrantType:    req.GrantType,
		Username:     username,
		Password:     req.Password,
		TOTPCode:     req.TOTPCode,
		RefreshToken: req.RefreshToken,
		Scope:        req.Scope,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req tokenHintRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if err := s.engine.Revoke(r.Context(), req.Token, req.TokenTypeHint); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.engine.RevokeAll(r.Context(), principalID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": revoked})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var req tokenHintRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "token is required")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Introspect(r.Context(), req.Token, req.TokenTypeHint))
}
