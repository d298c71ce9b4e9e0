package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/services"
)

type enrollRequest struct {
	ConditionID string `json:"condition_id"`
	ExternalID  string `json:"external_id"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	studyID := chi.URLParam(r, "studyID")
	if sk := studyKeyFromContext(r.Context()); sk != "" && sk != studyID {
		writeError(w, services.NewForbiddenError("api key not valid for this study"))
		return
	}
	p, err := s.participants.Enroll(studyID, req.ConditionID, req.ExternalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	out, err := s.participants.ListParticipants(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.participants.StartSession(chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type resumeRequest struct {
	Code string `json:"code" validate:"required"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	p, sess, err := s.participants.Resume(req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"participant": p, "session": sess})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.participants.EndSession(chi.URLParam(r, "code")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

type advanceRequest struct {
	StepID string `json:"step_id"`
	PageID string `json:"page_id"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.participants.Advance(chi.URLParam(r, "participantID"), req.StepID, req.PageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateResponse dispatches on the kind path segment so each response
// family keeps its own payload shape.
func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	switch services.ResponseKind(chi.URLParam(r, "kind")) {
	case services.KindSurveyItem:
		var req services.SurveyItemResponse
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		created, err := s.responses.CreateSurveyItemResponse(&req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case services.KindFreeform:
		var req services.FreeformResponse
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		created, err := s.responses.CreateFreeformResponse(&req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case services.KindRating:
		var req services.ContentRating
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		created, err := s.responses.CreateRating(&req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case services.KindInteraction:
		var req services.InteractionLog
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		created, err := s.responses.CreateInteractionLog(&req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeError(w, services.NewInvalidError("unsupported response kind"))
	}
}

type updateResponseRequest struct {
	ExpectedVersion int            `json:"expected_version" validate:"required,min=1"`
	Fields          map[string]any `json:"fields" validate:"required,min=1"`
}

func (s *Server) handleUpdateResponse(w http.ResponseWriter, r *http.Request) {
	var req updateResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	kind := services.ResponseKind(chi.URLParam(r, "kind"))
	if err := s.responses.UpdateResponse(kind, chi.URLParam(r, "responseID"), req.Fields, req.ExpectedVersion); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"version": req.ExpectedVersion + 1})
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	participantID := chi.URLParam(r, "participantID")
	studyID := r.URL.Query().Get("study_id")
	switch services.ResponseKind(chi.URLParam(r, "kind")) {
	case services.KindSurveyItem:
		out, err := s.responses.ListSurveyItemResponses(studyID, participantID, r.URL.Query().Get("page_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case services.KindFreeform:
		out, err := s.responses.ListFreeformResponses(studyID, participantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case services.KindRating:
		out, err := s.responses.ListRatings(studyID, participantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case services.KindInteraction:
		out, err := s.responses.ListInteractionLogs(studyID, participantID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, services.NewInvalidError("unsupported response kind"))
	}
}
