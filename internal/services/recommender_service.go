package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
)

// RatedItem is one participant rating handed to a scoring strategy.
type RatedItem struct {
	ItemID string `json:"item_id"`
	Rating int    `json:"rating"`
}

// Strategy produces a ranked list of item ids for a participant. The scoring
// model behind a strategy is opaque; the service only routes by name.
type Strategy interface {
	Recommend(ctx context.Context, participantID string, ratings []RatedItem, limit int) ([]string, error)
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(ctx context.Context, participantID string, ratings []RatedItem, limit int) ([]string, error)

func (f StrategyFunc) Recommend(ctx context.Context, participantID string, ratings []RatedItem, limit int) ([]string, error) {
	return f(ctx, participantID, ratings, limit)
}

// endpointStrategy scores by POSTing ratings to an external model server.
type endpointStrategy struct {
	client *http.Client
	url    string
}

// NewEndpointStrategy builds a Strategy backed by the scoring endpoint at
// baseURL+path.
func NewEndpointStrategy(baseURL, path string, timeout time.Duration) Strategy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &endpointStrategy{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
	}
}

type scoreRequest struct {
	UserID  string      `json:"user_id"`
	Ratings []RatedItem `json:"ratings"`
	Limit   int         `json:"limit"`
}

type scoreResponse struct {
	Recommendations []string `json:"recommendations"`
}

func (e *endpointStrategy) Recommend(ctx context.Context, participantID string, ratings []RatedItem, limit int) ([]string, error) {
	body, err := json.Marshal(scoreRequest{UserID: participantID, Ratings: ratings, Limit: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scoring endpoint returned %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	return out.Recommendations, nil
}

// CacheMetrics counts movie-cache effectiveness. Counters live on whatever
// registry the caller supplies rather than the process-wide default, so tests
// can register their own.
type CacheMetrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rssa",
			Subsystem: "movie_cache",
			Name:      "hits_total",
			Help:      "Movie metadata served from the in-memory cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rssa",
			Subsystem: "movie_cache",
			Name:      "misses_total",
			Help:      "Movie metadata fetched from storage.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses)
	}
	return m
}

// RecommenderStore abstracts the data the recommender needs: the
// participant's ratings to score on, and movie metadata to enrich results.
type RecommenderStore interface {
	ListRatings(studyID, participantID string) ([]*ContentRating, error)
	GetMovies(ids []string) ([]*Movie, error)
	InsertMovie(m *Movie) error
	ListMovies(limit, offset int) ([]*Movie, error)
}

// RecommenderService routes recommendation requests to named strategies and
// enriches the returned item ids with movie metadata through a read cache.
type RecommenderService struct {
	store      RecommenderStore
	strategies map[string]Strategy
	metrics    *CacheMetrics

	mu       sync.RWMutex
	cache    map[string]*Movie
	resolved map[string]string
}

func NewRecommenderService(store RecommenderStore, strategies map[string]Strategy, metrics *CacheMetrics) *RecommenderService {
	if metrics == nil {
		metrics = NewCacheMetrics(nil)
	}
	return &RecommenderService{
		store:      store,
		strategies: strategies,
		metrics:    metrics,
		cache:      make(map[string]*Movie),
		resolved:   make(map[string]string),
	}
}

// Strategies lists the registered strategy names.
func (s *RecommenderService) Strategies() []string {
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	return names
}

// resolveStrategy maps a requested name to a registered strategy, caching the
// normalization so repeated lookups skip it.
func (s *RecommenderService) resolveStrategy(name string) (Strategy, error) {
	s.mu.RLock()
	canonical, ok := s.resolved[name]
	s.mu.RUnlock()
	if !ok {
		canonical = strings.ToLower(strings.TrimSpace(name))
		canonical = strings.ReplaceAll(canonical, "-", "_")
		if _, exists := s.strategies[canonical]; !exists {
			return nil, NewNotFoundError("unknown strategy: " + name)
		}
		s.mu.Lock()
		s.resolved[name] = canonical
		s.mu.Unlock()
	}
	st, exists := s.strategies[canonical]
	if !exists {
		return nil, NewNotFoundError("unknown strategy: " + name)
	}
	return st, nil
}

// Recommend scores the participant's ratings with the named strategy and
// returns the recommended movies in strategy order.
func (s *RecommenderService) Recommend(ctx context.Context, strategyName, studyID, participantID string, limit int) ([]*Movie, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, NewInvalidError("participant_id required")
	}
	if limit <= 0 {
		limit = 10
	}
	strategy, err := s.resolveStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	ratings, err := s.store.ListRatings(studyID, participantID)
	if err != nil {
		return nil, err
	}
	rated := make([]RatedItem, 0, len(ratings))
	for _, r := range ratings {
		if r.Discarded {
			continue
		}
		rated = append(rated, RatedItem{ItemID: r.ItemID, Rating: r.Rating})
	}
	if len(rated) == 0 {
		return nil, NewInvalidError("participant has no ratings to score")
	}
	ids, err := strategy.Recommend(ctx, participantID, rated, limit)
	if err != nil {
		return nil, err
	}
	return s.movies(ids)
}

// movies resolves metadata for ids, serving from the cache where possible and
// loading the rest in one storage round trip. Order follows ids; unknown ids
// are dropped.
func (s *RecommenderService) movies(ids []string) ([]*Movie, error) {
	found := make(map[string]*Movie, len(ids))
	var missing []string
	s.mu.RLock()
	for _, id := range ids {
		if m, ok := s.cache[id]; ok {
			found[id] = m
		} else {
			missing = append(missing, id)
		}
	}
	s.mu.RUnlock()
	s.metrics.Hits.Add(float64(len(found)))
	if len(missing) > 0 {
		s.metrics.Misses.Add(float64(len(missing)))
		loaded, err := s.store.GetMovies(missing)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		for _, m := range loaded {
			s.cache[m.ID] = m
			found[m.ID] = m
		}
		s.mu.Unlock()
	}
	out := make([]*Movie, 0, len(ids))
	for _, id := range ids {
		if m, ok := found[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetMovie returns one movie through the cache.
func (s *RecommenderService) GetMovie(id string) (*Movie, error) {
	ms, err := s.movies([]string{id})
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, NewNotFoundError("movie not found")
	}
	return ms[0], nil
}

func (s *RecommenderService) ListMovies(limit, offset int) ([]*Movie, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMovies(limit, offset)
}

// ImportMovies bulk-loads movie metadata, typically at deploy time.
func (s *RecommenderService) ImportMovies(movies []*Movie) (int, error) {
	n := 0
	for _, m := range movies {
		if m == nil || strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.Title) == "" {
			return n, NewInvalidError("movie id and title required")
		}
		if err := s.store.InsertMovie(m); err != nil {
			return n, err
		}
		n++
	}
	s.mu.Lock()
	for _, m := range movies {
		s.cache[m.ID] = m
	}
	s.mu.Unlock()
	return n, nil
}
