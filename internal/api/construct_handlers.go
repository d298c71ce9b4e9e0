package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/services"
)

type createConstructRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
}

func (s *Server) handleCreateConstruct(w http.ResponseWriter, r *http.Request) {
	var req createConstructRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	c, err := s.constructs.CreateConstruct(actorID(r), &services.SurveyConstruct{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListConstructs(w http.ResponseWriter, r *http.Request) {
	out, err := s.constructs.ListConstructs()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConstruct(w http.ResponseWriter, r *http.Request) {
	detail, err := s.constructs.GetConstruct(chi.URLParam(r, "constructID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type updateConstructRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleUpdateConstruct(w http.ResponseWriter, r *http.Request) {
	var req updateConstructRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.constructs.UpdateConstruct(actorID(r), chi.URLParam(r, "constructID"), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteConstruct(w http.ResponseWriter, r *http.Request) {
	if err := s.constructs.DeleteConstruct(actorID(r), chi.URLParam(r, "constructID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type createItemRequest struct {
	Text  string `json:"text" validate:"required"`
	Notes string `json:"notes"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	it, err := s.constructs.CreateItem(actorID(r), &services.ConstructItem{
		ConstructID: chi.URLParam(r, "constructID"),
		Text:        req.Text,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.constructs.DeleteItem(actorID(r), chi.URLParam(r, "itemID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleReorderItems(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.constructs.ReorderItems(actorID(r), chi.URLParam(r, "constructID"), req.Positions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reordered": true})
}

type createScaleRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (s *Server) handleCreateScale(w http.ResponseWriter, r *http.Request) {
	var req createScaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	sc, err := s.constructs.CreateScale(actorID(r), &services.ConstructScale{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleListScales(w http.ResponseWriter, r *http.Request) {
	out, err := s.constructs.ListScales()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetScale(w http.ResponseWriter, r *http.Request) {
	detail, err := s.constructs.GetScale(chi.URLParam(r, "scaleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteScale(w http.ResponseWriter, r *http.Request) {
	if err := s.constructs.DeleteScale(actorID(r), chi.URLParam(r, "scaleID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type createScaleLevelRequest struct {
	Label string `json:"label" validate:"required"`
	Value int    `json:"value"`
}

func (s *Server) handleCreateScaleLevel(w http.ResponseWriter, r *http.Request) {
	var req createScaleLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	lv, err := s.constructs.CreateScaleLevel(actorID(r), &services.ScaleLevel{
		ScaleID: chi.URLParam(r, "scaleID"),
		Label:   req.Label,
		Value:   req.Value,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lv)
}

func (s *Server) handleDeleteScaleLevel(w http.ResponseWriter, r *http.Request) {
	if err := s.constructs.DeleteScaleLevel(actorID(r), chi.URLParam(r, "levelID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleReorderScaleLevels(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.constructs.ReorderScaleLevels(actorID(r), chi.URLParam(r, "scaleID"), req.Positions); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reordered": true})
}
