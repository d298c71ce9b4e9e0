package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rssa-lab/rssa-server/internal/services"
)

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	movies, err := s.recommender.Recommend(
		r.Context(),
		chi.URLParam(r, "strategy"),
		q.Get("study_id"),
		q.Get("participant_id"),
		limit,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movies)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	m, err := s.recommender.GetMovie(chi.URLParam(r, "movieID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	out, err := s.recommender.ListMovies(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type importMoviesRequest struct {
	Movies []*services.Movie `json:"movies" validate:"required,min=1"`
}

func (s *Server) handleImportMovies(w http.ResponseWriter, r *http.Request) {
	var req importMoviesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, services.NewInvalidError(err.Error()))
		return
	}
	n, err := s.recommender.ImportMovies(req.Movies)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}
