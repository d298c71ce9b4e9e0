package services

import (
	"strings"
	"time"
)

// OrderedStepStore abstracts the ordered-collection operations StepService
// needs. Append and Delete keep positions dense; Reorder applies a full
// permutation atomically; First/Next power participant navigation.
type OrderedStepStore interface {
	GetStudy(id string) (*Study, error)

	AppendStep(st *StudyStep) (*StudyStep, error)
	GetStep(id string) (*StudyStep, error)
	ListSteps(studyID string) ([]*StudyStep, error)
	DeleteStep(id string) (bool, error)
	ReorderSteps(studyID string, positions map[string]int) error
	FirstStep(studyID string) (*StudyStep, error)
	NextStep(current *StudyStep) (*StudyStep, error)

	AddAudit(entry AuditEntry)
}

type StepService struct {
	store OrderedStepStore
	now   func() time.Time
}

// StepNavigation pairs a step with a pointer to its successor so clients can
// render "next" controls without a second round trip.
type StepNavigation struct {
	Current  *StudyStep `json:"current"`
	NextID   string     `json:"next_id,omitempty"`
	NextPath string     `json:"next_path,omitempty"`
}

func NewStepService(store OrderedStepStore) *StepService {
	return &StepService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateStep appends a step at the tail of its study's sequence. The
// position is assigned by the store inside the insert so concurrent appends
// cannot collide.
func (s *StepService) CreateStep(actor string, st *StudyStep) (*StudyStep, error) {
	if st == nil || strings.TrimSpace(st.StudyID) == "" {
		return nil, NewInvalidError("study_id required")
	}
	if strings.TrimSpace(st.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	study, err := s.store.GetStudy(st.StudyID)
	if err != nil {
		return nil, err
	}
	if study == nil {
		return nil, NewNotFoundError("study not found")
	}
	if st.ID == "" {
		st.ID = newID()
	}
	st.Enabled = true
	created, err := s.store.AppendStep(st)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_step", Target: st.ID, Note: st.StudyID})
	if created == nil {
		return st, nil
	}
	return created, nil
}

func (s *StepService) GetStep(id string) (*StudyStep, error) {
	st, err := s.store.GetStep(id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, NewNotFoundError("step not found")
	}
	return st, nil
}

// ListSteps returns the study's steps in ascending order position, read in a
// single snapshot query.
func (s *StepService) ListSteps(studyID string) ([]*StudyStep, error) {
	if study, err := s.store.GetStudy(studyID); err != nil {
		return nil, err
	} else if study == nil {
		return nil, NewNotFoundError("study not found")
	}
	return s.store.ListSteps(studyID)
}

func (s *StepService) DeleteStep(actor, id string) error {
	ok, err := s.store.DeleteStep(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("step not found")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_step", Target: id})
	return nil
}

// ReorderSteps applies a new position for every listed step. The store
// rejects mappings that do not combine with unlisted siblings into a
// contiguous 1..n permutation, and never applies a partial reorder.
func (s *StepService) ReorderSteps(actor, studyID string, positions map[string]int) error {
	if len(positions) == 0 {
		return NewInvalidError("positions required")
	}
	if study, err := s.store.GetStudy(studyID); err != nil {
		return err
	} else if study == nil {
		return NewNotFoundError("study not found")
	}
	if err := s.store.ReorderSteps(studyID, positions); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "reorder_steps", Target: studyID})
	return nil
}

// FirstStep returns the study's first step with navigation, or a not-found
// error when the study has no steps.
func (s *StepService) FirstStep(studyID string) (*StepNavigation, error) {
	first, err := s.store.FirstStep(studyID)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, NewNotFoundError("study has no steps")
	}
	return s.withNavigation(first)
}

// NextStep returns the step after current, or nil Current when current is
// the last step of its study.
func (s *StepService) NextStep(currentID string) (*StepNavigation, error) {
	current, err := s.GetStep(currentID)
	if err != nil {
		return nil, err
	}
	next, err := s.store.NextStep(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &StepNavigation{Current: nil}, nil
	}
	return s.withNavigation(next)
}

// GetStepWithNavigation fetches one step plus its successor's id and path.
func (s *StepService) GetStepWithNavigation(id string) (*StepNavigation, error) {
	current, err := s.GetStep(id)
	if err != nil {
		return nil, err
	}
	return s.withNavigation(current)
}

func (s *StepService) withNavigation(current *StudyStep) (*StepNavigation, error) {
	nav := &StepNavigation{Current: current}
	next, err := s.store.NextStep(current)
	if err != nil {
		return nil, err
	}
	if next != nil {
		nav.NextID = next.ID
		nav.NextPath = next.Path
	}
	return nav, nil
}
