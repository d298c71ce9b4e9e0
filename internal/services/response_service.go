package services

import (
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ResponseStore abstracts persistence for the four participant response
// families. UpdateResponse is the versioned update protocol: a single
// conditional write that succeeds only when the stored version equals
// expectedVersion, returning a conflict ServiceError otherwise.
type ResponseStore interface {
	InsertSurveyItemResponse(r *SurveyItemResponse) (*SurveyItemResponse, error)
	ListSurveyItemResponses(studyID, participantID, pageID string) ([]*SurveyItemResponse, error)

	InsertFreeformResponse(r *FreeformResponse) (*FreeformResponse, error)
	ListFreeformResponses(studyID, participantID string) ([]*FreeformResponse, error)

	InsertRating(r *ContentRating) (*ContentRating, error)
	GetRating(id string) (*ContentRating, error)
	ListRatings(studyID, participantID string) ([]*ContentRating, error)

	InsertInteractionLog(r *InteractionLog) (*InteractionLog, error)
	ListInteractionLogs(studyID, participantID string) ([]*InteractionLog, error)

	UpdateResponse(kind ResponseKind, id string, fields map[string]any, expectedVersion int) error
}

// ResponseService manages participant response records. All mutations after
// creation go through the optimistic versioned update: clients present the
// version they last observed and receive a conflict instead of silently
// overwriting newer data.
type ResponseService struct {
	store ResponseStore
	now   func() time.Time
}

func NewResponseService(store ResponseStore) *ResponseService {
	return &ResponseService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// updatableFields whitelists the client-settable columns per response kind.
// id and version are never updatable; version is advanced by the protocol.
var updatableFields = map[ResponseKind]map[string]bool{
	KindSurveyItem:  {"scale_level_id": true, "discarded": true},
	KindFreeform:    {"response_text": true, "discarded": true},
	KindRating:      {"rating": true, "discarded": true},
	KindInteraction: {"payload_json": true, "discarded": true},
}

func (s *ResponseService) validateContext(ctx *ResponseContext) error {
	if strings.TrimSpace(ctx.StudyID) == "" {
		return NewInvalidError("study_id required")
	}
	if strings.TrimSpace(ctx.ParticipantID) == "" {
		return NewInvalidError("participant_id required")
	}
	if strings.TrimSpace(ctx.StepID) == "" {
		return NewInvalidError("step_id required")
	}
	ctx.Version = 1
	ctx.Discarded = false
	return nil
}

func (s *ResponseService) CreateSurveyItemResponse(r *SurveyItemResponse) (*SurveyItemResponse, error) {
	if r == nil {
		return nil, NewInvalidError("response required")
	}
	if err := s.validateContext(&r.ResponseContext); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.ConstructID) == "" {
		return nil, NewInvalidError("construct_id required")
	}
	if strings.TrimSpace(r.ItemID) == "" {
		return nil, NewInvalidError("item_id required")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	return s.store.InsertSurveyItemResponse(r)
}

func (s *ResponseService) CreateFreeformResponse(r *FreeformResponse) (*FreeformResponse, error) {
	if r == nil {
		return nil, NewInvalidError("response required")
	}
	if err := s.validateContext(&r.ResponseContext); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.ResponseText) == "" {
		return nil, NewInvalidError("response_text required")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	return s.store.InsertFreeformResponse(r)
}

func (s *ResponseService) CreateRating(r *ContentRating) (*ContentRating, error) {
	if r == nil {
		return nil, NewInvalidError("response required")
	}
	if err := s.validateContext(&r.ResponseContext); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.ItemID) == "" {
		return nil, NewInvalidError("item_id required")
	}
	if r.ScaleMax <= r.ScaleMin {
		return nil, NewInvalidError("scale_max must exceed scale_min")
	}
	if r.Rating < r.ScaleMin || r.Rating > r.ScaleMax {
		return nil, NewInvalidError("rating outside scale bounds")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	return s.store.InsertRating(r)
}

func (s *ResponseService) CreateInteractionLog(r *InteractionLog) (*InteractionLog, error) {
	if r == nil {
		return nil, NewInvalidError("response required")
	}
	if err := s.validateContext(&r.ResponseContext); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.PayloadJSON) == "" {
		return nil, NewInvalidError("payload_json required")
	}
	if !json.Valid([]byte(r.PayloadJSON)) {
		return nil, NewInvalidError("payload_json must be valid JSON")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	return s.store.InsertInteractionLog(r)
}

// UpdateResponse applies a partial update to a response record under
// optimistic concurrency control. fields may name only the whitelisted
// columns for kind; expectedVersion must be the version the client last
// read. A stale version yields a conflict error and leaves storage
// untouched; the client should re-fetch and retry.
func (s *ResponseService) UpdateResponse(kind ResponseKind, id string, fields map[string]any, expectedVersion int) error {
	if strings.TrimSpace(id) == "" {
		return NewInvalidError("id required")
	}
	if expectedVersion < 1 {
		return NewInvalidError("expected_version must be at least 1")
	}
	if len(fields) == 0 {
		return NewInvalidError("no fields to update")
	}
	allowed, ok := updatableFields[kind]
	if !ok {
		return NewInvalidError("unsupported response kind")
	}
	for name := range fields {
		if !allowed[name] {
			return NewInvalidError("field not updatable: " + name)
		}
	}
	if raw, ok := fields["payload_json"]; ok {
		if text, ok := raw.(string); !ok || !json.Valid([]byte(text)) {
			return NewInvalidError("payload_json must be valid JSON")
		}
	}
	if raw, ok := fields["rating"]; ok {
		val, ok := intValue(raw)
		if !ok {
			return NewInvalidError("rating must be an integer")
		}
		// The scale bounds travel with the record; an update must respect
		// the bounds the rating was created under.
		rec, err := s.store.GetRating(id)
		if err != nil {
			return err
		}
		if rec == nil {
			return NewNotFoundError("record not found")
		}
		if val < rec.ScaleMin || val > rec.ScaleMax {
			return NewInvalidError("rating outside scale bounds")
		}
		fields["rating"] = val
	}
	return s.store.UpdateResponse(kind, id, fields, expectedVersion)
}

// intValue accepts the numeric shapes a decoded JSON body produces.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func (s *ResponseService) ListSurveyItemResponses(studyID, participantID, pageID string) ([]*SurveyItemResponse, error) {
	if studyID == "" || participantID == "" {
		return nil, NewInvalidError("study_id and participant_id required")
	}
	return s.store.ListSurveyItemResponses(studyID, participantID, pageID)
}

func (s *ResponseService) ListFreeformResponses(studyID, participantID string) ([]*FreeformResponse, error) {
	if studyID == "" || participantID == "" {
		return nil, NewInvalidError("study_id and participant_id required")
	}
	return s.store.ListFreeformResponses(studyID, participantID)
}

func (s *ResponseService) ListRatings(studyID, participantID string) ([]*ContentRating, error) {
	if studyID == "" || participantID == "" {
		return nil, NewInvalidError("study_id and participant_id required")
	}
	return s.store.ListRatings(studyID, participantID)
}

func (s *ResponseService) ListInteractionLogs(studyID, participantID string) ([]*InteractionLog, error) {
	if studyID == "" || participantID == "" {
		return nil, NewInvalidError("study_id and participant_id required")
	}
	return s.store.ListInteractionLogs(studyID, participantID)
}
