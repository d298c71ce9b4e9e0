package services

import (
	"testing"
	"time"
)

type stubParticipantStore struct {
	studies      map[string]*Study
	conditions   map[string][]*StudyCondition
	counts       map[string]int
	participants map[string]*Participant
	sessions     map[string]*ParticipantSession
	firstStep    *StudyStep

	sessionConflicts int
	audits           []AuditEntry
}

func newStubParticipantStore() *stubParticipantStore {
	return &stubParticipantStore{
		studies:      map[string]*Study{},
		conditions:   map[string][]*StudyCondition{},
		counts:       map[string]int{},
		participants: map[string]*Participant{},
		sessions:     map[string]*ParticipantSession{},
	}
}

func (s *stubParticipantStore) GetStudy(id string) (*Study, error) {
	if st, ok := s.studies[id]; ok {
		copy := *st
		return &copy, nil
	}
	return nil, nil
}

func (s *stubParticipantStore) ListConditions(studyID string) ([]*StudyCondition, error) {
	return s.conditions[studyID], nil
}

func (s *stubParticipantStore) CountParticipants(conditionID string) (int, error) {
	return s.counts[conditionID], nil
}

func (s *stubParticipantStore) FirstStep(studyID string) (*StudyStep, error) {
	return s.firstStep, nil
}

func (s *stubParticipantStore) InsertParticipant(p *Participant) (*Participant, error) {
	copy := *p
	s.participants[p.ID] = &copy
	s.counts[p.ConditionID]++
	return &copy, nil
}

func (s *stubParticipantStore) GetParticipant(id string) (*Participant, error) {
	if p, ok := s.participants[id]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, nil
}

func (s *stubParticipantStore) ListParticipants(studyID string) ([]*Participant, error) {
	out := []*Participant{}
	for _, p := range s.participants {
		if p.StudyID == studyID {
			copy := *p
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *stubParticipantStore) UpdateParticipant(p *Participant) error {
	copy := *p
	s.participants[p.ID] = &copy
	return nil
}

func (s *stubParticipantStore) InsertSession(sess *ParticipantSession) error {
	if s.sessionConflicts > 0 {
		s.sessionConflicts--
		return NewConflictError("record already exists")
	}
	copy := *sess
	s.sessions[sess.ResumeCode] = &copy
	return nil
}

func (s *stubParticipantStore) GetSessionByCode(code string) (*ParticipantSession, error) {
	if sess, ok := s.sessions[code]; ok {
		copy := *sess
		return &copy, nil
	}
	return nil, nil
}

func (s *stubParticipantStore) UpdateSession(sess *ParticipantSession) error {
	for code, existing := range s.sessions {
		if existing.ID == sess.ID {
			copy := *sess
			s.sessions[code] = &copy
			return nil
		}
	}
	return nil
}

func (s *stubParticipantStore) AddAudit(entry AuditEntry) { s.audits = append(s.audits, entry) }

func seedEnrollment(store *stubParticipantStore) {
	store.studies["s1"] = &Study{ID: "s1", Name: "Study", Enabled: true}
	store.conditions["s1"] = []*StudyCondition{
		{ID: "c1", StudyID: "s1", Name: "control", Enabled: true},
		{ID: "c2", StudyID: "s1", Name: "treatment", Enabled: true},
	}
	store.firstStep = &StudyStep{ID: "step1", StudyID: "s1", OrderPosition: 1}
}

func TestEnrollAssignsLeastLoadedCondition(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	store.counts["c1"] = 3
	store.counts["c2"] = 1
	svc := NewParticipantService(store)

	p, err := svc.Enroll("s1", "", "ext-9")
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if p.ConditionID != "c2" {
		t.Fatalf("assigned condition = %s, want c2", p.ConditionID)
	}
	if p.CurrentStepID != "step1" {
		t.Fatalf("current step = %s, want step1", p.CurrentStepID)
	}
}

func TestEnrollRejectsDisabledStudy(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	store.studies["s1"].Enabled = false
	svc := NewParticipantService(store)

	if _, err := svc.Enroll("s1", "", ""); !IsCode(err, ErrorForbidden) {
		t.Fatalf("disabled study: got %v, want forbidden", err)
	}
	if _, err := svc.Enroll("missing", "", ""); !IsCode(err, ErrorNotFound) {
		t.Fatalf("unknown study: got %v, want not_found", err)
	}
}

func TestStartSessionRetriesOnCodeCollision(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	svc := NewParticipantService(store)
	p, _ := svc.Enroll("s1", "c1", "")

	store.sessionConflicts = 2
	sess, err := svc.StartSession(p.ID)
	if err != nil {
		t.Fatalf("StartSession with collisions: %v", err)
	}
	if len(sess.ResumeCode) != resumeCodeLength {
		t.Fatalf("resume code %q has wrong length", sess.ResumeCode)
	}

	store.sessionConflicts = resumeCodeRetries + 1
	if _, err := svc.StartSession(p.ID); !IsCode(err, ErrorConflict) {
		t.Fatalf("exhausted retries: got %v, want conflict", err)
	}
}

func TestResumeSlidesExpiryWithinCap(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	svc := NewParticipantService(store)
	p, _ := svc.Enroll("s1", "c1", "")

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	sess, err := svc.StartSession(p.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	svc.now = func() time.Time { return base.Add(20 * time.Hour) }
	got, resumed, err := svc.Resume(sess.ResumeCode)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("resumed participant = %s, want %s", got.ID, p.ID)
	}
	if want := base.Add(20*time.Hour + sessionTTL); !resumed.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", resumed.ExpiresAt, want)
	}

	svc.now = func() time.Time { return base.Add(40 * time.Hour) }
	if _, _, err := svc.Resume(sess.ResumeCode); err != nil {
		t.Fatalf("Resume mid-window: %v", err)
	}

	// Near the absolute cap the expiry clamps instead of sliding.
	svc.now = func() time.Time { return base.Add(60 * time.Hour) }
	_, resumed, err = svc.Resume(sess.ResumeCode)
	if err != nil {
		t.Fatalf("Resume near cap: %v", err)
	}
	if want := base.Add(sessionMaxAge); !resumed.ExpiresAt.Equal(want) {
		t.Fatalf("capped expiry = %v, want %v", resumed.ExpiresAt, want)
	}
}

func TestResumeRejectsExpiredSession(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	svc := NewParticipantService(store)
	p, _ := svc.Enroll("s1", "c1", "")

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	sess, _ := svc.StartSession(p.ID)

	svc.now = func() time.Time { return base.Add(sessionTTL + time.Hour) }
	if _, _, err := svc.Resume(sess.ResumeCode); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expired session: got %v, want not_found", err)
	}
	// Expired sessions are deactivated, so a second attempt also fails.
	if _, _, err := svc.Resume(sess.ResumeCode); !IsCode(err, ErrorNotFound) {
		t.Fatalf("deactivated session: got %v, want not_found", err)
	}
}

func TestResumeValidatesCode(t *testing.T) {
	svc := NewParticipantService(newStubParticipantStore())

	if _, _, err := svc.Resume("ab"); !IsCode(err, ErrorInvalid) {
		t.Fatalf("short code: got %v, want invalid", err)
	}
	if _, _, err := svc.Resume("ZZZZZ"); !IsCode(err, ErrorNotFound) {
		t.Fatalf("unknown code: got %v, want not_found", err)
	}
}

func TestAdvanceClearsPageOnStepChange(t *testing.T) {
	store := newStubParticipantStore()
	seedEnrollment(store)
	svc := NewParticipantService(store)
	p, _ := svc.Enroll("s1", "c1", "")

	if _, err := svc.Advance(p.ID, "step1", "page2"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, _ := svc.GetParticipant(p.ID)
	if got.CurrentPageID != "page2" {
		t.Fatalf("page = %s, want page2", got.CurrentPageID)
	}

	if _, err := svc.Advance(p.ID, "step2", ""); err != nil {
		t.Fatalf("Advance to new step: %v", err)
	}
	got, _ = svc.GetParticipant(p.ID)
	if got.CurrentStepID != "step2" || got.CurrentPageID != "" {
		t.Fatalf("after step change: step=%s page=%q, want step2 and empty page", got.CurrentStepID, got.CurrentPageID)
	}
}
