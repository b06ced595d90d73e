package httpapi

import (
	"net/http"

	"github.com/pyroalert/authcore"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	IDNumber string `json:"id_number"`
	Phone    string `json:"phone"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changeEmailRequest struct {
	Password string `json:"password"`
	Email    string `json:"email"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "email and password are required")
		return
	}

	user, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		IDNumber: req.IDNumber,
		Phone:    req.Phone,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.Me(r.Context(), principalID(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "current_password and new_password are required")
		return
	}
	if err := s.engine.ChangePassword(r.Context(), principalID(r), req.CurrentPassword, req.NewPassword); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req changeEmailRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Password == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "password and email are required")
		return
	}
	user, err := s.engine.ChangeLoginKey(r.Context(), principalID(r), req.Password, req.Email)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if !s.decodeOrReject(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "password is required")
		return
	}
	if err := s.engine.DeleteAccount(r.Context(), principalID(r), req.Password); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
