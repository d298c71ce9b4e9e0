package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/middleware"
	"github.com/rssa-lab/rssa-server/internal/services"
)

func actorID(r *http.Request) string {
	uid, _ := middleware.UserFromContext(r.Context())
	return uid
}

type createStudyRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	st, err := s.studies.CreateStudy(actorID(r), &services.Study{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	out, err := s.studies.ListStudies(actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	st, err := s.studies.GetStudy(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type updateStudyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

func (s *Server) handleUpdateStudy(w http.ResponseWriter, r *http.Request) {
	var req updateStudyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	st, err := s.studies.UpdateStudy(actorID(r), chi.URLParam(r, "studyID"), req.Name, req.Description, req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStudy(w http.ResponseWriter, r *http.Request) {
	if err := s.studies.DeleteStudy(actorID(r), chi.URLParam(r, "studyID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type createConditionRequest struct {
	Name                string `json:"name" validate:"required"`
	Description         string `json:"description"`
	RecommendationCount int    `json:"recommendation_count"`
}

func (s *Server) handleCreateCondition(w http.ResponseWriter, r *http.Request) {
	var req createConditionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	c, err := s.studies.CreateCondition(actorID(r), &services.StudyCondition{
		StudyID:             chi.URLParam(r, "studyID"),
		Name:                req.Name,
		Description:         req.Description,
		RecommendationCount: req.RecommendationCount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	out, err := s.studies.ListConditions(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteCondition(w http.ResponseWriter, r *http.Request) {
	if err := s.studies.DeleteCondition(actorID(r), chi.URLParam(r, "conditionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
