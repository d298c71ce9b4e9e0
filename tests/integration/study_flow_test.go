package integration

import (
	"bytes"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/rssa-lab/rssa-server/internal/api"
	"github.com/rssa-lab/rssa-server/internal/db"
	"github.com/rssa-lab/rssa-server/internal/middleware"
	"github.com/rssa-lab/rssa-server/internal/services"
)

type env struct {
	ts    *httptest.Server
	token string
	key   string
}

func newEnv(t *testing.T, strategies map[string]services.Strategy) *env {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.RunMigrations(sqlDB, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := db.NewSQLiteStore(sqlDB)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	auth := middleware.NewAuthenticator("integration-secret")
	opts := api.Options{
		Studies:      services.NewStudyService(store),
		Steps:        services.NewStepService(store),
		Pages:        services.NewPageService(store),
		Constructs:   services.NewConstructService(store),
		Responses:    services.NewResponseService(store),
		Participants: services.NewParticipantService(store),
		Users:        services.NewUserService(store, auth.SignToken, time.Hour),
		Recommender:  services.NewRecommenderService(store, strategies, nil),
		Auth:         auth,
		Logger:       zerolog.Nop(),
	}
	ts := httptest.NewServer(api.NewServer(opts).Routes(opts))
	t.Cleanup(ts.Close)
	return &env{ts: ts}
}

func (e *env) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	if e.key != "" {
		req.Header.Set("X-API-Key", e.key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *env) mustDo(t *testing.T, method, path string, body any, out any, want int) {
	t.Helper()
	if got := e.do(t, method, path, body, out); got != want {
		t.Fatalf("%s %s: status %d, want %d", method, path, got, want)
	}
}

func TestStudyAdministrationFlow(t *testing.T) {
	e := newEnv(t, nil)

	var reg struct {
		Token string `json:"token"`
	}
	e.mustDo(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "admin@lab.edu", "password": "supersecret"}, &reg, http.StatusCreated)
	e.token = reg.Token

	var study services.Study
	e.mustDo(t, http.MethodPost, "/api/studies",
		map[string]string{"name": "Preference Study", "description": "pilot"}, &study, http.StatusCreated)

	var steps []services.StudyStep
	for _, name := range []string{"consent", "survey", "rating"} {
		var st services.StudyStep
		e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/steps", study.ID),
			map[string]string{"name": name, "path": "/" + name}, &st, http.StatusCreated)
		steps = append(steps, st)
	}

	var listed []services.StudyStep
	e.mustDo(t, http.MethodGet, fmt.Sprintf("/api/studies/%s/steps", study.ID), nil, &listed, http.StatusOK)
	for i, st := range listed {
		if st.OrderPosition != i+1 {
			t.Fatalf("step %d position = %d", i, st.OrderPosition)
		}
	}

	// Move rating before survey.
	e.mustDo(t, http.MethodPut, fmt.Sprintf("/api/studies/%s/steps/order", study.ID),
		map[string]any{"positions": map[string]int{steps[1].ID: 3, steps[2].ID: 2}}, nil, http.StatusOK)

	e.mustDo(t, http.MethodGet, fmt.Sprintf("/api/studies/%s/steps", study.ID), nil, &listed, http.StatusOK)
	if listed[1].ID != steps[2].ID {
		t.Fatalf("reorder not applied: second step is %s", listed[1].Name)
	}

	// A gapped ordering is rejected outright.
	status := e.do(t, http.MethodPut, fmt.Sprintf("/api/studies/%s/steps/order", study.ID),
		map[string]any{"positions": map[string]int{steps[0].ID: 5}}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("invalid reorder: status %d, want 400", status)
	}

	// Deleting the middle step closes the gap.
	e.mustDo(t, http.MethodDelete, "/api/steps/"+listed[1].ID, nil, nil, http.StatusOK)
	e.mustDo(t, http.MethodGet, fmt.Sprintf("/api/studies/%s/steps", study.ID), nil, &listed, http.StatusOK)
	if len(listed) != 2 || listed[0].OrderPosition != 1 || listed[1].OrderPosition != 2 {
		t.Fatalf("positions after delete: %+v", listed)
	}

	status = e.do(t, http.MethodDelete, "/api/steps/"+steps[2].ID, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("repeat delete: status %d, want 404", status)
	}

	// Later accounts are not admins and cannot reach destructive routes.
	var reg2 struct {
		Token string `json:"token"`
	}
	e.mustDo(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "ra@lab.edu", "password": "supersecret"}, &reg2, http.StatusCreated)
	e.token = reg2.Token
	status = e.do(t, http.MethodDelete, "/api/steps/"+steps[0].ID, nil, nil)
	if status != http.StatusForbidden {
		t.Fatalf("non-admin delete: status %d, want 403", status)
	}
}

func TestParticipantResponseFlow(t *testing.T) {
	e := newEnv(t, nil)

	var reg struct {
		Token string `json:"token"`
	}
	e.mustDo(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "admin@lab.edu", "password": "supersecret"}, &reg, http.StatusCreated)
	e.token = reg.Token

	var study services.Study
	e.mustDo(t, http.MethodPost, "/api/studies", map[string]string{"name": "Ratings"}, &study, http.StatusCreated)
	var step services.StudyStep
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/steps", study.ID),
		map[string]string{"name": "survey"}, &step, http.StatusCreated)
	var minted struct {
		Secret string `json:"secret"`
	}
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/keys", study.ID),
		map[string]string{"name": "frontend"}, &minted, http.StatusCreated)

	e.token = ""

	// Participant routes refuse callers without a study API key.
	status := e.do(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/participants", study.ID),
		map[string]string{"external_id": "prolific-42"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("enroll without key: status %d, want 401", status)
	}

	e.key = minted.Secret
	var participant services.Participant
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/participants", study.ID),
		map[string]string{"external_id": "prolific-42"}, &participant, http.StatusCreated)
	if participant.CurrentStepID != step.ID {
		t.Fatalf("participant starts at %s, want %s", participant.CurrentStepID, step.ID)
	}

	var sess services.ParticipantSession
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/participants/%s/session", participant.ID), map[string]string{}, &sess, http.StatusCreated)
	if len(sess.ResumeCode) != 5 {
		t.Fatalf("resume code %q", sess.ResumeCode)
	}
	var resumed struct {
		Participant services.Participant `json:"participant"`
	}
	e.mustDo(t, http.MethodPost, "/api/session/resume", map[string]string{"code": sess.ResumeCode}, &resumed, http.StatusOK)
	if resumed.Participant.ID != participant.ID {
		t.Fatalf("resumed %s, want %s", resumed.Participant.ID, participant.ID)
	}

	var created services.ContentRating
	payload := map[string]any{
		"study_id":       study.ID,
		"step_id":        step.ID,
		"participant_id": participant.ID,
		"item_id":        "movie-77",
		"rating":         4,
		"scale_min":      1,
		"scale_max":      5,
	}
	e.mustDo(t, http.MethodPost, "/api/responses/content_rating", payload, &created, http.StatusCreated)
	if created.Version != 1 {
		t.Fatalf("new rating version = %d", created.Version)
	}

	// Same participant, same item: unique constraint surfaces as 409.
	status = e.do(t, http.MethodPost, "/api/responses/content_rating", payload, nil)
	if status != http.StatusConflict {
		t.Fatalf("duplicate rating: status %d, want 409", status)
	}

	e.mustDo(t, http.MethodPatch, "/api/responses/content_rating/"+created.ID,
		map[string]any{"expected_version": 1, "fields": map[string]any{"rating": 2}}, nil, http.StatusOK)

	// A second update with the stale version loses.
	status = e.do(t, http.MethodPatch, "/api/responses/content_rating/"+created.ID,
		map[string]any{"expected_version": 1, "fields": map[string]any{"rating": 5}}, nil)
	if status != http.StatusConflict {
		t.Fatalf("stale update: status %d, want 409", status)
	}

	// Updates cannot push the rating outside the scale it was created under.
	status = e.do(t, http.MethodPatch, "/api/responses/content_rating/"+created.ID,
		map[string]any{"expected_version": 2, "fields": map[string]any{"rating": 999}}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("out-of-scale update: status %d, want 400", status)
	}

	var ratings []services.ContentRating
	e.mustDo(t, http.MethodGet,
		fmt.Sprintf("/api/participants/%s/responses/content_rating?study_id=%s", participant.ID, study.ID),
		nil, &ratings, http.StatusOK)
	if len(ratings) != 1 || ratings[0].Rating != 2 || ratings[0].Version != 2 {
		t.Fatalf("final rating state: %+v", ratings)
	}
}

func TestRecommendationFlow(t *testing.T) {
	scorer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"recommendations": {"m2", "m1"}})
	}))
	defer scorer.Close()

	strategies := map[string]services.Strategy{
		"top_n": services.NewEndpointStrategy(scorer.URL, "top_n", 5*time.Second),
	}
	e := newEnv(t, strategies)

	var reg struct {
		Token string `json:"token"`
	}
	e.mustDo(t, http.MethodPost, "/api/auth/register",
		map[string]string{"email": "admin@lab.edu", "password": "supersecret"}, &reg, http.StatusCreated)
	e.token = reg.Token

	e.mustDo(t, http.MethodPost, "/api/movies/import", map[string]any{
		"movies": []map[string]any{
			{"id": "m1", "title": "Solaris"},
			{"id": "m2", "title": "Stalker"},
		},
	}, nil, http.StatusCreated)

	var study services.Study
	e.mustDo(t, http.MethodPost, "/api/studies", map[string]string{"name": "Rec"}, &study, http.StatusCreated)
	var step services.StudyStep
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/steps", study.ID),
		map[string]string{"name": "rate"}, &step, http.StatusCreated)
	var minted struct {
		Secret string `json:"secret"`
	}
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/keys", study.ID),
		map[string]string{"name": "frontend"}, &minted, http.StatusCreated)

	e.token = ""
	e.key = minted.Secret
	var participant services.Participant
	e.mustDo(t, http.MethodPost, fmt.Sprintf("/api/studies/%s/participants", study.ID),
		map[string]string{}, &participant, http.StatusCreated)

	e.mustDo(t, http.MethodPost, "/api/responses/content_rating", map[string]any{
		"study_id":       study.ID,
		"step_id":        step.ID,
		"participant_id": participant.ID,
		"item_id":        "m1",
		"rating":         5,
		"scale_min":      1,
		"scale_max":      5,
	}, nil, http.StatusCreated)

	var movies []services.Movie
	e.mustDo(t, http.MethodGet,
		fmt.Sprintf("/api/recommendations/top_n?study_id=%s&participant_id=%s&limit=2", study.ID, participant.ID),
		nil, &movies, http.StatusOK)
	if len(movies) != 2 || movies[0].ID != "m2" || movies[1].ID != "m1" {
		t.Fatalf("recommendations: %+v", movies)
	}
}
