package services

import (
	"strings"
	"time"
)

const (
	resumeCodeLength  = 5
	resumeCodeRetries = 5

	// Sessions slide forward on activity but never outlive the absolute cap.
	sessionTTL    = 24 * time.Hour
	sessionMaxAge = 72 * time.Hour
)

// ParticipantStore abstracts persistence for participants and their resume
// sessions. InsertSession must fail with a conflict ServiceError when the
// resume code collides with an existing one.
type ParticipantStore interface {
	GetStudy(id string) (*Study, error)
	ListConditions(studyID string) ([]*StudyCondition, error)
	CountParticipants(conditionID string) (int, error)
	FirstStep(studyID string) (*StudyStep, error)

	InsertParticipant(p *Participant) (*Participant, error)
	GetParticipant(id string) (*Participant, error)
	ListParticipants(studyID string) ([]*Participant, error)
	UpdateParticipant(p *Participant) error

	InsertSession(sess *ParticipantSession) error
	GetSessionByCode(code string) (*ParticipantSession, error)
	UpdateSession(sess *ParticipantSession) error

	AddAudit(entry AuditEntry)
}

// ParticipantService enrolls participants, assigns them to conditions, and
// manages resume sessions.
type ParticipantService struct {
	store ParticipantStore
	now   func() time.Time
}

func NewParticipantService(store ParticipantStore) *ParticipantService {
	return &ParticipantService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enroll registers a participant in a study. When no condition is given the
// participant joins the enabled condition with the fewest members, keeping
// arms balanced. The participant starts positioned at the study's first step.
func (s *ParticipantService) Enroll(studyID, conditionID, externalID string) (*Participant, error) {
	if strings.TrimSpace(studyID) == "" {
		return nil, NewInvalidError("study_id required")
	}
	study, err := s.store.GetStudy(studyID)
	if err != nil {
		return nil, err
	}
	if study == nil {
		return nil, NewNotFoundError("study not found")
	}
	if !study.Enabled {
		return nil, NewForbiddenError("study is not accepting participants")
	}
	if conditionID == "" {
		conditionID, err = s.pickCondition(studyID)
		if err != nil {
			return nil, err
		}
	}
	p := &Participant{
		ID:          newID(),
		StudyID:     studyID,
		ConditionID: conditionID,
		ExternalID:  externalID,
	}
	first, err := s.store.FirstStep(studyID)
	if err != nil {
		return nil, err
	}
	if first != nil {
		p.CurrentStepID = first.ID
	}
	created, err := s.store.InsertParticipant(p)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: p.ID, Action: "enroll", Target: studyID})
	if created == nil {
		return p, nil
	}
	return created, nil
}

func (s *ParticipantService) pickCondition(studyID string) (string, error) {
	conditions, err := s.store.ListConditions(studyID)
	if err != nil {
		return "", err
	}
	best := ""
	bestCount := -1
	for _, c := range conditions {
		if !c.Enabled {
			continue
		}
		n, err := s.store.CountParticipants(c.ID)
		if err != nil {
			return "", err
		}
		if bestCount < 0 || n < bestCount {
			best = c.ID
			bestCount = n
		}
	}
	return best, nil
}

func (s *ParticipantService) GetParticipant(id string) (*Participant, error) {
	p, err := s.store.GetParticipant(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}

func (s *ParticipantService) ListParticipants(studyID string) ([]*Participant, error) {
	if study, err := s.store.GetStudy(studyID); err != nil {
		return nil, err
	} else if study == nil {
		return nil, NewNotFoundError("study not found")
	}
	return s.store.ListParticipants(studyID)
}

// Advance records the participant's new position in the study sequence.
func (s *ParticipantService) Advance(participantID, stepID, pageID string) (*Participant, error) {
	p, err := s.GetParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(stepID) != "" {
		p.CurrentStepID = stepID
		if pageID == "" {
			p.CurrentPageID = ""
		}
	}
	if pageID != "" {
		p.CurrentPageID = pageID
	}
	if err := s.store.UpdateParticipant(p); err != nil {
		return nil, err
	}
	return p, nil
}

// StartSession issues a resume code for the participant. Codes are short and
// human-typable, so collisions are possible; insertion retries with a fresh
// code a bounded number of times before giving up.
func (s *ParticipantService) StartSession(participantID string) (*ParticipantSession, error) {
	if _, err := s.GetParticipant(participantID); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < resumeCodeRetries; attempt++ {
		sess := &ParticipantSession{
			ID:            newID(),
			ParticipantID: participantID,
			ResumeCode:    resumeCode(resumeCodeLength),
			Active:        true,
			CreatedAt:     s.now(),
			ExpiresAt:     s.now().Add(sessionTTL),
		}
		err := s.store.InsertSession(sess)
		if err == nil {
			return sess, nil
		}
		if !IsCode(err, ErrorConflict) {
			return nil, err
		}
	}
	return nil, NewConflictError("could not allocate a unique resume code")
}

// Resume looks up an active session by resume code and returns its
// participant. A successful resume slides the session's expiry forward,
// bounded by the absolute session age cap.
func (s *ParticipantService) Resume(code string) (*Participant, *ParticipantSession, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != resumeCodeLength {
		return nil, nil, NewInvalidError("resume code must be 5 characters")
	}
	sess, err := s.store.GetSessionByCode(code)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil || !sess.Active {
		return nil, nil, NewNotFoundError("session not found")
	}
	now := s.now()
	if now.After(sess.ExpiresAt) {
		sess.Active = false
		if err := s.store.UpdateSession(sess); err != nil {
			return nil, nil, err
		}
		return nil, nil, NewNotFoundError("session expired")
	}
	next := now.Add(sessionTTL)
	if cap := sess.CreatedAt.Add(sessionMaxAge); next.After(cap) {
		next = cap
	}
	sess.ExpiresAt = next
	if err := s.store.UpdateSession(sess); err != nil {
		return nil, nil, err
	}
	p, err := s.GetParticipant(sess.ParticipantID)
	if err != nil {
		return nil, nil, err
	}
	return p, sess, nil
}

// EndSession deactivates a session so its code can no longer be used.
func (s *ParticipantService) EndSession(code string) error {
	sess, err := s.store.GetSessionByCode(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return err
	}
	if sess == nil {
		return NewNotFoundError("session not found")
	}
	if sess.Active {
		sess.Active = false
		return s.store.UpdateSession(sess)
	}
	return nil
}
