package services

import (
	"strings"
	"time"
)

// PageStore abstracts persistence for pages ordered under a step, plus the
// construct contents attached to each page.
type PageStore interface {
	GetStep(id string) (*StudyStep, error)

	AppendPage(p *StepPage) (*StepPage, error)
	GetPage(id string) (*StepPage, error)
	ListPages(stepID string) ([]*StepPage, error)
	DeletePage(id string) (bool, error)
	ReorderPages(stepID string, positions map[string]int) error
	FirstPage(stepID string) (*StepPage, error)
	NextPage(current *StepPage) (*StepPage, error)

	InsertPageContent(pc *PageContent) (*PageContent, error)
	ListPageContents(pageID string) ([]*PageContent, error)
	DeletePageContent(id string) error

	AddAudit(entry AuditEntry)
}

type PageService struct {
	store PageStore
	now   func() time.Time
}

// PageNavigation pairs a page with its successor's id.
type PageNavigation struct {
	Current *StepPage `json:"current"`
	NextID  string    `json:"next_id,omitempty"`
}

func NewPageService(store PageStore) *PageService {
	return &PageService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *PageService) CreatePage(actor string, p *StepPage) (*StepPage, error) {
	if p == nil || strings.TrimSpace(p.StepID) == "" {
		return nil, NewInvalidError("step_id required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	step, err := s.store.GetStep(p.StepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, NewNotFoundError("step not found")
	}
	if p.ID == "" {
		p.ID = newID()
	}
	p.StudyID = step.StudyID
	created, err := s.store.AppendPage(p)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_page", Target: p.ID, Note: p.StepID})
	if created == nil {
		return p, nil
	}
	return created, nil
}

func (s *PageService) GetPage(id string) (*StepPage, error) {
	p, err := s.store.GetPage(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("page not found")
	}
	return p, nil
}

func (s *PageService) ListPages(stepID string) ([]*StepPage, error) {
	if step, err := s.store.GetStep(stepID); err != nil {
		return nil, err
	} else if step == nil {
		return nil, NewNotFoundError("step not found")
	}
	return s.store.ListPages(stepID)
}

func (s *PageService) DeletePage(actor, id string) error {
	ok, err := s.store.DeletePage(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("page not found")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_page", Target: id})
	return nil
}

func (s *PageService) ReorderPages(actor, stepID string, positions map[string]int) error {
	if len(positions) == 0 {
		return NewInvalidError("positions required")
	}
	if step, err := s.store.GetStep(stepID); err != nil {
		return err
	} else if step == nil {
		return NewNotFoundError("step not found")
	}
	if err := s.store.ReorderPages(stepID, positions); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "reorder_pages", Target: stepID})
	return nil
}

func (s *PageService) FirstPage(stepID string) (*PageNavigation, error) {
	first, err := s.store.FirstPage(stepID)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, NewNotFoundError("step has no pages")
	}
	return s.withNavigation(first)
}

func (s *PageService) NextPage(currentID string) (*PageNavigation, error) {
	current, err := s.GetPage(currentID)
	if err != nil {
		return nil, err
	}
	next, err := s.store.NextPage(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &PageNavigation{Current: nil}, nil
	}
	return s.withNavigation(next)
}

func (s *PageService) withNavigation(current *StepPage) (*PageNavigation, error) {
	nav := &PageNavigation{Current: current}
	next, err := s.store.NextPage(current)
	if err != nil {
		return nil, err
	}
	if next != nil {
		nav.NextID = next.ID
	}
	return nav, nil
}

// AttachContent binds a construct (and optionally a scale) to a page.
func (s *PageService) AttachContent(actor string, pc *PageContent) (*PageContent, error) {
	if pc == nil || strings.TrimSpace(pc.PageID) == "" {
		return nil, NewInvalidError("page_id required")
	}
	if strings.TrimSpace(pc.ConstructID) == "" {
		return nil, NewInvalidError("construct_id required")
	}
	if _, err := s.GetPage(pc.PageID); err != nil {
		return nil, err
	}
	if pc.ID == "" {
		pc.ID = newID()
	}
	created, err := s.store.InsertPageContent(pc)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "attach_content", Target: pc.PageID, Note: pc.ConstructID})
	if created == nil {
		return pc, nil
	}
	return created, nil
}

func (s *PageService) ListContents(pageID string) ([]*PageContent, error) {
	if _, err := s.GetPage(pageID); err != nil {
		return nil, err
	}
	return s.store.ListPageContents(pageID)
}

func (s *PageService) DetachContent(actor, id string) error {
	if err := s.store.DeletePageContent(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "detach_content", Target: id})
	return nil
}
