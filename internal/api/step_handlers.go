package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/services"
)

type createStepRequest struct {
	Name         string `json:"name" validate:"required"`
	StepType     string `json:"step_type"`
	Description  string `json:"description"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Path         string `json:"path"`
}

func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var req createStepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	st, err := s.steps.CreateStep(actorID(r), &services.StudyStep{
		StudyID:      chi.URLParam(r, "studyID"),
		Name:         req.Name,
		StepType:     req.StepType,
		Description:  req.Description,
		Title:        req.Title,
		Instructions: req.Instructions,
		Path:         req.Path,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	out, err := s.steps.ListSteps(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	st, err := s.steps.GetStep(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := s.steps.DeleteStep(actorID(r), chi.URLParam(r, "stepID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type reorderRequest struct {
	Positions map[string]int `json:"positions" validate:"required,min=1"`
}

func (s *Server) handleReorderSteps(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.steps.ReorderSteps(actorID(r), chi.URLParam(r, "studyID"), req.Positions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reordered": true})
}

func (s *Server) handleFirstStep(w http.ResponseWriter, r *http.Request) {
	nav, err := s.steps.FirstStep(chi.URLParam(r, "studyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleNextStep(w http.ResponseWriter, r *http.Request) {
	nav, err := s.steps.NextStep(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleStepNav(w http.ResponseWriter, r *http.Request) {
	nav, err := s.steps.GetStepWithNavigation(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

type createPageRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	PageType    string `json:"page_type"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	p, err := s.pages.CreatePage(actorID(r), &services.StepPage{
		StepID:      chi.URLParam(r, "stepID"),
		Name:        req.Name,
		Description: req.Description,
		PageType:    req.PageType,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	out, err := s.pages.ListPages(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.DeletePage(actorID(r), chi.URLParam(r, "pageID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleReorderPages(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.pages.ReorderPages(actorID(r), chi.URLParam(r, "stepID"), req.Positions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reordered": true})
}

func (s *Server) handleFirstPage(w http.ResponseWriter, r *http.Request) {
	nav, err := s.pages.FirstPage(chi.URLParam(r, "stepID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	nav, err := s.pages.NextPage(chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

type attachContentRequest struct {
	ConstructID string `json:"construct_id" validate:"required"`
	ScaleID     string `json:"scale_id"`
}

func (s *Server) handleAttachContent(w http.ResponseWriter, r *http.Request) {
	var req attachContentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	pc, err := s.pages.AttachContent(actorID(r), &services.PageContent{
		PageID:      chi.URLParam(r, "pageID"),
		ConstructID: req.ConstructID,
		ScaleID:     req.ScaleID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pc)
}

func (s *Server) handleListContents(w http.ResponseWriter, r *http.Request) {
	out, err := s.pages.ListContents(chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDetachContent(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.DetachContent(actorID(r), chi.URLParam(r, "contentID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
