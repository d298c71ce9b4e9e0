package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubRecStore struct {
	ratings  []*ContentRating
	movies   map[string]*Movie
	getCalls int
}

func newStubRecStore() *stubRecStore {
	return &stubRecStore{movies: map[string]*Movie{}}
}

func (s *stubRecStore) ListRatings(studyID, participantID string) ([]*ContentRating, error) {
	return s.ratings, nil
}

func (s *stubRecStore) GetMovies(ids []string) ([]*Movie, error) {
	s.getCalls++
	out := []*Movie{}
	for _, id := range ids {
		if m, ok := s.movies[id]; ok {
			copy := *m
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubRecStore) InsertMovie(m *Movie) error {
	copy := *m
	s.movies[m.ID] = &copy
	return nil
}

func (s *stubRecStore) ListMovies(limit, offset int) ([]*Movie, error) {
	return nil, nil
}

func fixedStrategy(ids ...string) Strategy {
	return StrategyFunc(func(ctx context.Context, participantID string, ratings []RatedItem, limit int) ([]string, error) {
		return ids, nil
	})
}

func seedRecStore(store *stubRecStore) {
	store.ratings = []*ContentRating{
		{ResponseContext: ResponseContext{StudyID: "s1", ParticipantID: "p1"}, ItemID: "m1", Rating: 5},
		{ResponseContext: ResponseContext{StudyID: "s1", ParticipantID: "p1"}, ItemID: "m2", Rating: 2},
	}
	store.movies["m3"] = &Movie{ID: "m3", Title: "Arrival"}
	store.movies["m4"] = &Movie{ID: "m4", Title: "Moon"}
}

func TestRecommendReturnsMoviesInStrategyOrder(t *testing.T) {
	store := newStubRecStore()
	seedRecStore(store)
	svc := NewRecommenderService(store, map[string]Strategy{"top_n": fixedStrategy("m4", "m3")}, nil)

	movies, err := svc.Recommend(context.Background(), "top_n", "s1", "p1", 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(movies) != 2 || movies[0].ID != "m4" || movies[1].ID != "m3" {
		t.Fatalf("got %+v, want m4 then m3", movies)
	}
}

func TestRecommendNormalizesStrategyName(t *testing.T) {
	store := newStubRecStore()
	seedRecStore(store)
	svc := NewRecommenderService(store, map[string]Strategy{"top_n": fixedStrategy("m3")}, nil)

	if _, err := svc.Recommend(context.Background(), "Top-N", "s1", "p1", 1); err != nil {
		t.Fatalf("normalized name rejected: %v", err)
	}
	if _, err := svc.Recommend(context.Background(), "mystery", "s1", "p1", 1); !IsCode(err, ErrorNotFound) {
		t.Fatalf("unknown strategy: got %v, want not_found", err)
	}
}

func TestRecommendRequiresRatings(t *testing.T) {
	store := newStubRecStore()
	store.movies["m3"] = &Movie{ID: "m3", Title: "Arrival"}
	svc := NewRecommenderService(store, map[string]Strategy{"top_n": fixedStrategy("m3")}, nil)

	if _, err := svc.Recommend(context.Background(), "top_n", "s1", "p1", 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("no ratings: got %v, want invalid", err)
	}
}

func TestRecommendSkipsDiscardedRatings(t *testing.T) {
	store := newStubRecStore()
	seedRecStore(store)
	for _, r := range store.ratings {
		r.Discarded = true
	}
	svc := NewRecommenderService(store, map[string]Strategy{"top_n": fixedStrategy("m3")}, nil)

	if _, err := svc.Recommend(context.Background(), "top_n", "s1", "p1", 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("only discarded ratings: got %v, want invalid", err)
	}
}

func TestMovieCacheCountsHitsAndMisses(t *testing.T) {
	store := newStubRecStore()
	seedRecStore(store)
	metrics := NewCacheMetrics(nil)
	svc := NewRecommenderService(store, map[string]Strategy{"top_n": fixedStrategy("m3", "m4")}, metrics)

	if _, err := svc.Recommend(context.Background(), "top_n", "s1", "p1", 2); err != nil {
		t.Fatalf("first Recommend: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Misses); got != 2 {
		t.Fatalf("misses after cold read = %v, want 2", got)
	}

	if _, err := svc.Recommend(context.Background(), "top_n", "s1", "p1", 2); err != nil {
		t.Fatalf("second Recommend: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Hits); got != 2 {
		t.Fatalf("hits after warm read = %v, want 2", got)
	}
	if store.getCalls != 1 {
		t.Fatalf("storage reads = %d, want 1", store.getCalls)
	}
}

func TestEndpointStrategyPostsRatings(t *testing.T) {
	var gotPath string
	var gotReq scoreRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Recommendations: []string{"m9"}})
	}))
	defer ts.Close()

	strategy := NewEndpointStrategy(ts.URL, "hip", 5*time.Second)
	ids, err := strategy.Recommend(context.Background(), "p1", []RatedItem{{ItemID: "m1", Rating: 4}}, 7)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(ids) != 1 || ids[0] != "m9" {
		t.Fatalf("got %v, want [m9]", ids)
	}
	if gotPath != "/hip" {
		t.Fatalf("path = %s, want /hip", gotPath)
	}
	if gotReq.UserID != "p1" || gotReq.Limit != 7 || len(gotReq.Ratings) != 1 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestEndpointStrategySurfacesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	strategy := NewEndpointStrategy(ts.URL, "top_n", 5*time.Second)
	if _, err := strategy.Recommend(context.Background(), "p1", []RatedItem{{ItemID: "m1", Rating: 3}}, 5); err == nil {
		t.Fatalf("expected error from failing endpoint")
	}
}

func TestImportMoviesValidatesAndCaches(t *testing.T) {
	store := newStubRecStore()
	metrics := NewCacheMetrics(nil)
	svc := NewRecommenderService(store, nil, metrics)

	n, err := svc.ImportMovies([]*Movie{{ID: "m1", Title: "Solaris"}, {ID: "m2", Title: "Stalker"}})
	if err != nil {
		t.Fatalf("ImportMovies: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported = %d, want 2", n)
	}
	if _, err := svc.ImportMovies([]*Movie{{ID: "", Title: "Broken"}}); !IsCode(err, ErrorInvalid) {
		t.Fatalf("missing id: got %v, want invalid", err)
	}

	m, err := svc.GetMovie("m1")
	if err != nil {
		t.Fatalf("GetMovie: %v", err)
	}
	if m.Title != "Solaris" {
		t.Fatalf("title = %s", m.Title)
	}
	if store.getCalls != 0 {
		t.Fatalf("import should prime the cache, storage reads = %d", store.getCalls)
	}
}
