package httpapi

import (
	"net/http"

	"github.com/pyroalert/authcore/middleware"
)

type codeRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

func principalID(r *http.Request) string {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return p.UserID
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	setup, err := s.engine.BeginTwoFactorSetup(r.Context(), principalID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var req codeRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "code is required")
		return
	}
	codes, err := s.engine.ConfirmTwoFactorSetup(r.Context(), principalID(r), req.Code)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveryCodes": codes})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Code == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "code and password are required")
		return
	}
	if err := s.engine.DisableTwoFactor(r.Context(), principalID(r), req.Code, req.Password); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	var req codeRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Code == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "code and password are required")
		return
	}
	codes, err := s.engine.RegenerateRecoveryCodes(r.Context(), principalID(r), req.Code, req.Password)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recoveryCodes": codes})
}

func (s *Server) handleTwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.TwoFactorStatus(r.Context(), principalID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
