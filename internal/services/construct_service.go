package services

import (
	"strings"
	"time"
)

// ConstructStore abstracts persistence for survey constructs, their ordered
// items, and answer scales with ordered levels.
type ConstructStore interface {
	InsertConstruct(c *SurveyConstruct) (*SurveyConstruct, error)
	GetConstruct(id string) (*SurveyConstruct, error)
	ListConstructs() ([]*SurveyConstruct, error)
	UpdateConstruct(c *SurveyConstruct) error
	DeleteConstruct(id string) error

	AppendItem(it *ConstructItem) (*ConstructItem, error)
	GetItem(id string) (*ConstructItem, error)
	ListItems(constructID string) ([]*ConstructItem, error)
	DeleteItem(id string) (bool, error)
	ReorderItems(constructID string, positions map[string]int) error

	InsertScale(sc *ConstructScale) (*ConstructScale, error)
	GetScale(id string) (*ConstructScale, error)
	ListScales() ([]*ConstructScale, error)
	DeleteScale(id string) error

	AppendScaleLevel(lv *ScaleLevel) (*ScaleLevel, error)
	ListScaleLevels(scaleID string) ([]*ScaleLevel, error)
	DeleteScaleLevel(id string) (bool, error)
	ReorderScaleLevels(scaleID string, positions map[string]int) error

	AddAudit(entry AuditEntry)
}

type ConstructService struct {
	store ConstructStore
	now   func() time.Time
}

// ConstructDetail is a construct together with its ordered items.
type ConstructDetail struct {
	SurveyConstruct
	Items []*ConstructItem `json:"items"`
}

// ScaleDetail is a scale together with its ordered levels.
type ScaleDetail struct {
	ConstructScale
	Levels []*ScaleLevel `json:"levels"`
}

func NewConstructService(store ConstructStore) *ConstructService {
	return &ConstructService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConstructService) CreateConstruct(actor string, c *SurveyConstruct) (*SurveyConstruct, error) {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	if strings.TrimSpace(c.Description) == "" {
		return nil, NewInvalidError("description required")
	}
	if c.ID == "" {
		c.ID = newID()
	}
	created, err := s.store.InsertConstruct(c)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_construct", Target: c.ID})
	if created == nil {
		return c, nil
	}
	return created, nil
}

func (s *ConstructService) GetConstruct(id string) (*ConstructDetail, error) {
	c, err := s.store.GetConstruct(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NewNotFoundError("construct not found")
	}
	items, err := s.store.ListItems(id)
	if err != nil {
		return nil, err
	}
	return &ConstructDetail{SurveyConstruct: *c, Items: items}, nil
}

func (s *ConstructService) ListConstructs() ([]*SurveyConstruct, error) {
	return s.store.ListConstructs()
}

func (s *ConstructService) UpdateConstruct(actor, id, name, description string) (*SurveyConstruct, error) {
	c, err := s.store.GetConstruct(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NewNotFoundError("construct not found")
	}
	if strings.TrimSpace(name) != "" {
		c.Name = name
	}
	if strings.TrimSpace(description) != "" {
		c.Description = description
	}
	if err := s.store.UpdateConstruct(c); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "update_construct", Target: id})
	return c, nil
}

func (s *ConstructService) DeleteConstruct(actor, id string) error {
	if c, err := s.store.GetConstruct(id); err != nil {
		return err
	} else if c == nil {
		return NewNotFoundError("construct not found")
	}
	if err := s.store.DeleteConstruct(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_construct", Target: id})
	return nil
}

// CreateItem appends an item at the tail of the construct's item sequence.
func (s *ConstructService) CreateItem(actor string, it *ConstructItem) (*ConstructItem, error) {
	if it == nil || strings.TrimSpace(it.ConstructID) == "" {
		return nil, NewInvalidError("construct_id required")
	}
	if strings.TrimSpace(it.Text) == "" {
		return nil, NewInvalidError("text required")
	}
	if c, err := s.store.GetConstruct(it.ConstructID); err != nil {
		return nil, err
	} else if c == nil {
		return nil, NewNotFoundError("construct not found")
	}
	if it.ID == "" {
		it.ID = newID()
	}
	it.Enabled = true
	created, err := s.store.AppendItem(it)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_item", Target: it.ID, Note: it.ConstructID})
	if created == nil {
		return it, nil
	}
	return created, nil
}

func (s *ConstructService) ListItems(constructID string) ([]*ConstructItem, error) {
	if c, err := s.store.GetConstruct(constructID); err != nil {
		return nil, err
	} else if c == nil {
		return nil, NewNotFoundError("construct not found")
	}
	return s.store.ListItems(constructID)
}

func (s *ConstructService) DeleteItem(actor, id string) error {
	ok, err := s.store.DeleteItem(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("item not found")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_item", Target: id})
	return nil
}

func (s *ConstructService) ReorderItems(actor, constructID string, positions map[string]int) error {
	if len(positions) == 0 {
		return NewInvalidError("positions required")
	}
	if c, err := s.store.GetConstruct(constructID); err != nil {
		return err
	} else if c == nil {
		return NewNotFoundError("construct not found")
	}
	if err := s.store.ReorderItems(constructID, positions); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "reorder_items", Target: constructID})
	return nil
}

func (s *ConstructService) CreateScale(actor string, sc *ConstructScale) (*ConstructScale, error) {
	if sc == nil || strings.TrimSpace(sc.Name) == "" {
		return nil, NewInvalidError("name required")
	}
	if sc.ID == "" {
		sc.ID = newID()
	}
	sc.Enabled = true
	created, err := s.store.InsertScale(sc)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_scale", Target: sc.ID})
	if created == nil {
		return sc, nil
	}
	return created, nil
}

func (s *ConstructService) GetScale(id string) (*ScaleDetail, error) {
	sc, err := s.store.GetScale(id)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, NewNotFoundError("scale not found")
	}
	levels, err := s.store.ListScaleLevels(id)
	if err != nil {
		return nil, err
	}
	return &ScaleDetail{ConstructScale: *sc, Levels: levels}, nil
}

func (s *ConstructService) ListScales() ([]*ConstructScale, error) {
	return s.store.ListScales()
}

func (s *ConstructService) DeleteScale(actor, id string) error {
	if sc, err := s.store.GetScale(id); err != nil {
		return err
	} else if sc == nil {
		return NewNotFoundError("scale not found")
	}
	if err := s.store.DeleteScale(id); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_scale", Target: id})
	return nil
}

// CreateScaleLevel appends a level at the tail of the scale's sequence.
func (s *ConstructService) CreateScaleLevel(actor string, lv *ScaleLevel) (*ScaleLevel, error) {
	if lv == nil || strings.TrimSpace(lv.ScaleID) == "" {
		return nil, NewInvalidError("scale_id required")
	}
	if strings.TrimSpace(lv.Label) == "" {
		return nil, NewInvalidError("label required")
	}
	if sc, err := s.store.GetScale(lv.ScaleID); err != nil {
		return nil, err
	} else if sc == nil {
		return nil, NewNotFoundError("scale not found")
	}
	if lv.ID == "" {
		lv.ID = newID()
	}
	created, err := s.store.AppendScaleLevel(lv)
	if err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "create_scale_level", Target: lv.ID, Note: lv.ScaleID})
	if created == nil {
		return lv, nil
	}
	return created, nil
}

func (s *ConstructService) DeleteScaleLevel(actor, id string) error {
	ok, err := s.store.DeleteScaleLevel(id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("scale level not found")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "delete_scale_level", Target: id})
	return nil
}

func (s *ConstructService) ReorderScaleLevels(actor, scaleID string, positions map[string]int) error {
	if len(positions) == 0 {
		return NewInvalidError("positions required")
	}
	if sc, err := s.store.GetScale(scaleID); err != nil {
		return err
	} else if sc == nil {
		return NewNotFoundError("scale not found")
	}
	if err := s.store.ReorderScaleLevels(scaleID, positions); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "reorder_scale_levels", Target: scaleID})
	return nil
}
