package services

import (
	"strings"
	"time"
)

// StudyStore abstracts persistence operations required by StudyService.
type StudyStore interface {
	InsertStudy(st *Study) (*Study, error)
	GetStudy(id string) (*Study, error)
	ListStudies(ownerID string) ([]*Study, error)
	UpdateStudy(st *Study) error
	DeleteStudy(id string) error

	InsertCondition(c *StudyCondition) (*StudyCondition, error)
	ListConditions(studyID string) ([]*StudyCondition, error)
	DeleteCondition(id string) error

	AddAudit(entry AuditEntry)
}

type StudyService struct {
	store StudyStore
	now   func() time.Time
}

func NewStudyService(store StudyStore) *StudyService {
	return &StudyService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *StudyService) CreateStudy(actor string, st *Study) (*Study, error) {
	if actor == "" {
		return nil, NewUnauthorizedError("unauthorized")
	}
	if st == nil || strings.TrimSpace(st.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	if st.ID == "" {
		st.ID = newID()
	}
	st.Enabled = true
	st.OwnerID = actor
	st.CreatedBy = actor
	created, err := s.store.InsertStudy(st)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_study", Target: st.ID})
	if created == nil {
		return st, nil
	}
	return created, nil
}

func (s *StudyService) GetStudy(id string) (*Study, error) {
	st, err := s.store.GetStudy(id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("study not found")
	}
	return st, nil
}

func (s *StudyService) ListStudies(ownerID string) ([]*Study, error) {
	return s.store.ListStudies(ownerID)
}

// UpdateStudy applies the mutable fields of a study. Ownership must already
// be established by the caller.
func (s *StudyService) UpdateStudy(actor, id string, name, description string, enabled *bool) (*Study, error) {
	st, err := s.GetStudy(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) != "" {
		st.Name = name
	}
	if description != "" {
		st.Description = description
	}
	if enabled != nil {
		st.Enabled = *enabled
	}
	if err := s.store.UpdateStudy(st); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "update_study", Target: id})
	return st, nil
}

func (s *StudyService) DeleteStudy(actor, id string) error {
	if _, err := s.GetStudy(id); err != nil {
		return err
	}
	if err := s.store.DeleteStudy(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_study", Target: id})
	return nil
}

func (s *StudyService) CreateCondition(actor string, c *StudyCondition) (*StudyCondition, error) {
	if c == nil || strings.TrimSpace(c.StudyID) == "" {
		return nil, NewInvalidError("study_id required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	if _, err := s.GetStudy(c.StudyID); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if c.RecommendationCount <= 0 {
		c.RecommendationCount = 10
	}
	c.Enabled = true
	created, err := s.store.InsertCondition(c)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_condition", Target: c.ID, Note: c.StudyID})
	if created == nil {
		return c, nil
	}
	return created, nil
}

func (s *StudyService) ListConditions(studyID string) ([]*StudyCondition, error) {
	if _, err := s.GetStudy(studyID); err != nil {
		return nil, err
	}
	return s.store.ListConditions(studyID)
}

func (s *StudyService) DeleteCondition(actor, id string) error {
	if err := s.store.DeleteCondition(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_condition", Target: id})
	return nil
}
