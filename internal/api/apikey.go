package api

import (
	"context"
	"net/http"
)

type studyKeyCtxKey int

const studyKeyKey studyKeyCtxKey = 1

// requireStudyKey gates participant-facing routes behind a study API key
// presented in the X-API-Key header. The key's study id is placed on the
// context so handlers can scope what the caller may touch.
func (s *Server) requireStudyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := s.users.VerifyAPIKey(r.Header.Get("X-API-Key"))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), studyKeyKey, key.StudyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// studyKeyFromContext returns the study id the presented API key is scoped
// to, or "" outside the keyed route group.
func studyKeyFromContext(ctx context.Context) string {
	id, _ := ctx.Value(studyKeyKey).(string)
	return id
}
