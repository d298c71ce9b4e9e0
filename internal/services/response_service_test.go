package services

import (
	"testing"
)

type updateCall struct {
	kind            ResponseKind
	id              string
	fields          map[string]any
	expectedVersion int
}

type stubResponseStore struct {
	items        map[string]*SurveyItemResponse
	texts        map[string]*FreeformResponse
	ratings      map[string]*ContentRating
	interactions map[string]*InteractionLog

	updates   []updateCall
	updateErr error
	insertErr error
}

func newStubResponseStore() *stubResponseStore {
	return &stubResponseStore{
		items:        map[string]*SurveyItemResponse{},
		texts:        map[string]*FreeformResponse{},
		ratings:      map[string]*ContentRating{},
		interactions: map[string]*InteractionLog{},
	}
}

func (s *stubResponseStore) InsertSurveyItemResponse(r *SurveyItemResponse) (*SurveyItemResponse, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	copy := *r
	s.items[r.ID] = &copy
	return &copy, nil
}

func (s *stubResponseStore) ListSurveyItemResponses(studyID, participantID, pageID string) ([]*SurveyItemResponse, error) {
	out := []*SurveyItemResponse{}
	for _, r := range s.items {
		if r.StudyID == studyID && r.ParticipantID == participantID {
			copy := *r
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubResponseStore) InsertFreeformResponse(r *FreeformResponse) (*FreeformResponse, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	copy := *r
	s.texts[r.ID] = &copy
	return &copy, nil
}

func (s *stubResponseStore) ListFreeformResponses(studyID, participantID string) ([]*FreeformResponse, error) {
	return nil, nil
}

func (s *stubResponseStore) InsertRating(r *ContentRating) (*ContentRating, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	copy := *r
	s.ratings[r.ID] = &copy
	return &copy, nil
}

func (s *stubResponseStore) GetRating(id string) (*ContentRating, error) {
	if r, ok := s.ratings[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, nil
}

func (s *stubResponseStore) ListRatings(studyID, participantID string) ([]*ContentRating, error) {
	out := []*ContentRating{}
	for _, r := range s.ratings {
		if r.StudyID == studyID && r.ParticipantID == participantID {
			copy := *r
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubResponseStore) InsertInteractionLog(r *InteractionLog) (*InteractionLog, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	copy := *r
	s.interactions[r.ID] = &copy
	return &copy, nil
}

func (s *stubResponseStore) ListInteractionLogs(studyID, participantID string) ([]*InteractionLog, error) {
	return nil, nil
}

func (s *stubResponseStore) UpdateResponse(kind ResponseKind, id string, fields map[string]any, expectedVersion int) error {
	s.updates = append(s.updates, updateCall{kind: kind, id: id, fields: fields, expectedVersion: expectedVersion})
	return s.updateErr
}

func validItemResponse() *SurveyItemResponse {
	return &SurveyItemResponse{
		ResponseContext: ResponseContext{StudyID: "s1", StepID: "st1", PageID: "p1", ParticipantID: "pp1"},
		ConstructID:     "c1",
		ItemID:          "i1",
		ScaleLevelID:    "lv3",
	}
}

func TestCreateSurveyItemResponseStartsAtVersionOne(t *testing.T) {
	store := newStubResponseStore()
	svc := NewResponseService(store)

	created, err := svc.CreateSurveyItemResponse(validItemResponse())
	if err != nil {
		t.Fatalf("CreateSurveyItemResponse: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("new response version = %d, want 1", created.Version)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if created.Discarded {
		t.Fatalf("new response must not start discarded")
	}
}

func TestCreateSurveyItemResponseValidation(t *testing.T) {
	svc := NewResponseService(newStubResponseStore())

	r := validItemResponse()
	r.ParticipantID = ""
	if _, err := svc.CreateSurveyItemResponse(r); !IsCode(err, ErrorInvalid) {
		t.Fatalf("missing participant: got %v, want invalid", err)
	}
	r = validItemResponse()
	r.ItemID = ""
	if _, err := svc.CreateSurveyItemResponse(r); !IsCode(err, ErrorInvalid) {
		t.Fatalf("missing item: got %v, want invalid", err)
	}
}

func TestCreateDuplicateResponseSurfacesConflict(t *testing.T) {
	store := newStubResponseStore()
	store.insertErr = NewConflictError("record already exists")
	svc := NewResponseService(store)

	if _, err := svc.CreateSurveyItemResponse(validItemResponse()); !IsCode(err, ErrorConflict) {
		t.Fatalf("duplicate insert: got %v, want conflict", err)
	}
}

func TestCreateRatingBounds(t *testing.T) {
	svc := NewResponseService(newStubResponseStore())

	r := &ContentRating{
		ResponseContext: ResponseContext{StudyID: "s1", StepID: "st1", ParticipantID: "pp1"},
		ItemID:          "m1",
		Rating:          6,
		ScaleMin:        1,
		ScaleMax:        5,
	}
	if _, err := svc.CreateRating(r); !IsCode(err, ErrorInvalid) {
		t.Fatalf("out-of-range rating: got %v, want invalid", err)
	}
	r.Rating = 5
	if _, err := svc.CreateRating(r); err != nil {
		t.Fatalf("boundary rating rejected: %v", err)
	}
}

func TestCreateInteractionRequiresValidJSON(t *testing.T) {
	svc := NewResponseService(newStubResponseStore())

	r := &InteractionLog{
		ResponseContext: ResponseContext{StudyID: "s1", StepID: "st1", ParticipantID: "pp1"},
		PayloadJSON:     "{not json",
	}
	if _, err := svc.CreateInteractionLog(r); !IsCode(err, ErrorInvalid) {
		t.Fatalf("invalid payload: got %v, want invalid", err)
	}
	r.PayloadJSON = `{"clicked":"poster"}`
	if _, err := svc.CreateInteractionLog(r); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

func TestUpdateResponseWhitelistsFields(t *testing.T) {
	store := newStubResponseStore()
	svc := NewResponseService(store)

	err := svc.UpdateResponse(KindSurveyItem, "r1", map[string]any{"version": 9}, 1)
	if !IsCode(err, ErrorInvalid) {
		t.Fatalf("version field: got %v, want invalid", err)
	}
	err = svc.UpdateResponse(KindSurveyItem, "r1", map[string]any{"response_text": "x"}, 1)
	if !IsCode(err, ErrorInvalid) {
		t.Fatalf("wrong-kind field: got %v, want invalid", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("store called despite rejected fields")
	}

	err = svc.UpdateResponse(KindSurveyItem, "r1", map[string]any{"scale_level_id": "lv4", "discarded": true}, 2)
	if err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if len(store.updates) != 1 {
		t.Fatalf("store not called for valid update")
	}
	call := store.updates[0]
	if call.kind != KindSurveyItem || call.id != "r1" || call.expectedVersion != 2 {
		t.Fatalf("update call = %+v", call)
	}
}

func TestUpdateResponseValidation(t *testing.T) {
	svc := NewResponseService(newStubResponseStore())

	if err := svc.UpdateResponse(KindSurveyItem, "", map[string]any{"discarded": true}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("missing id: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(KindSurveyItem, "r1", map[string]any{"discarded": true}, 0); !IsCode(err, ErrorInvalid) {
		t.Fatalf("zero version: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(KindSurveyItem, "r1", nil, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("no fields: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(ResponseKind("bogus"), "r1", map[string]any{"discarded": true}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("unknown kind: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(KindInteraction, "r1", map[string]any{"payload_json": "{oops"}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("bad payload update: got %v, want invalid", err)
	}
}

func TestUpdateRatingEnforcesScaleBounds(t *testing.T) {
	store := newStubResponseStore()
	store.ratings["r1"] = &ContentRating{
		ID:              "r1",
		ResponseContext: ResponseContext{StudyID: "s1", StepID: "st1", ParticipantID: "pp1", Version: 1},
		ItemID:          "m1",
		Rating:          4,
		ScaleMin:        1,
		ScaleMax:        5,
	}
	svc := NewResponseService(store)

	if err := svc.UpdateResponse(KindRating, "r1", map[string]any{"rating": float64(999)}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("rating above scale_max: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(KindRating, "r1", map[string]any{"rating": float64(0)}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("rating below scale_min: got %v, want invalid", err)
	}
	if err := svc.UpdateResponse(KindRating, "r1", map[string]any{"rating": 2.5}, 1); !IsCode(err, ErrorInvalid) {
		t.Fatalf("fractional rating: got %v, want invalid", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("store called despite out-of-bounds rating")
	}
	if err := svc.UpdateResponse(KindRating, "missing", map[string]any{"rating": float64(3)}, 1); !IsCode(err, ErrorNotFound) {
		t.Fatalf("unknown record: got %v, want not_found", err)
	}

	if err := svc.UpdateResponse(KindRating, "r1", map[string]any{"rating": float64(5)}, 1); err != nil {
		t.Fatalf("boundary rating rejected: %v", err)
	}
	if got := store.updates[0].fields["rating"]; got != 5 {
		t.Fatalf("stored rating = %v (%T), want int 5", got, got)
	}
}

func TestUpdateResponsePropagatesOutcome(t *testing.T) {
	store := newStubResponseStore()
	store.ratings["r1"] = &ContentRating{
		ID:              "r1",
		ResponseContext: ResponseContext{StudyID: "s1", StepID: "st1", ParticipantID: "pp1", Version: 1},
		ItemID:          "m1",
		Rating:          3,
		ScaleMin:        1,
		ScaleMax:        5,
	}
	svc := NewResponseService(store)

	store.updateErr = NewConflictError("version mismatch")
	err := svc.UpdateResponse(KindRating, "r1", map[string]any{"rating": 4}, 3)
	if !IsCode(err, ErrorConflict) {
		t.Fatalf("stale version: got %v, want conflict", err)
	}

	store.updateErr = NewNotFoundError("record not found")
	err = svc.UpdateResponse(KindRating, "missing", map[string]any{"rating": 4}, 1)
	if !IsCode(err, ErrorNotFound) {
		t.Fatalf("missing record: got %v, want not_found", err)
	}
}
