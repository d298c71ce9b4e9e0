package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/services"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	res, err := s.users.Register(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	res, err := s.users.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createAPIKeyRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	key, raw, err := s.users.CreateAPIKey(actorID(r), chi.URLParam(r, "studyID"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "secret": raw})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	out, err := s.users.ListAPIKeys(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisableAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DisableAPIKey(actorID(r), chi.URLParam(r, "keyID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": true})
}
