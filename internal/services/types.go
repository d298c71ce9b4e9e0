package services

import "time"

// Study is the top-level unit of administration. Steps under a study form an
// ordered sequence a participant walks through.
type Study struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StudyCondition is an experimental arm of a study.
type StudyCondition struct {
	ID                  string    `json:"id"`
	StudyID             string    `json:"study_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	RecommendationCount int       `json:"recommendation_count"`
	Enabled             bool      `json:"enabled"`
	CreatedAt           time.Time `json:"created_at"`
}

// StudyStep is one ordered stage of a study (consent, survey, rating, ...).
type StudyStep struct {
	ID            string    `json:"id"`
	StudyID       string    `json:"study_id"`
	OrderPosition int       `json:"order_position"`
	StepType      string    `json:"step_type,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Title         string    `json:"title,omitempty"`
	Instructions  string    `json:"instructions,omitempty"`
	Path          string    `json:"path,omitempty"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StepPage is one ordered page within a step.
type StepPage struct {
	ID            string    `json:"id"`
	StepID        string    `json:"step_id"`
	StudyID       string    `json:"study_id"`
	OrderPosition int       `json:"order_position"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	PageType      string    `json:"page_type,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PageContent binds a survey construct (and the scale it is answered on) to
// a page.
type PageContent struct {
	ID          string `json:"id"`
	PageID      string `json:"page_id"`
	ConstructID string `json:"construct_id"`
	ScaleID     string `json:"scale_id,omitempty"`
}

// SurveyConstruct is a named group of survey items measuring one concept.
type SurveyConstruct struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConstructItem is one ordered question within a construct.
type ConstructItem struct {
	ID            string    `json:"id"`
	ConstructID   string    `json:"construct_id"`
	OrderPosition int       `json:"order_position"`
	Text          string    `json:"text"`
	Notes         string    `json:"notes,omitempty"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConstructScale is a reusable answer scale (e.g. a 5-point Likert).
type ConstructScale struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScaleLevel is one ordered level of a scale.
type ScaleLevel struct {
	ID            string    `json:"id"`
	ScaleID       string    `json:"scale_id"`
	OrderPosition int       `json:"order_position"`
	Label         string    `json:"label"`
	Value         int       `json:"value"`
	CreatedAt     time.Time `json:"created_at"`
}

// Participant is an enrolled study subject.
type Participant struct {
	ID            string    `json:"id"`
	StudyID       string    `json:"study_id"`
	ConditionID   string    `json:"condition_id,omitempty"`
	ExternalID    string    `json:"external_id,omitempty"`
	CurrentStepID string    `json:"current_step_id,omitempty"`
	CurrentPageID string    `json:"current_page_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ParticipantSession lets a participant resume an interrupted study run.
type ParticipantSession struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	ResumeCode    string    `json:"resume_code"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ResponseContext is the shared study/participant scope of every response
// record. Version starts at 1 and advances only through the versioned update
// protocol; ContextTag disambiguates multiple responses of the same kind
// within one page.
type ResponseContext struct {
	StudyID       string    `json:"study_id"`
	StepID        string    `json:"step_id"`
	PageID        string    `json:"page_id,omitempty"`
	ParticipantID string    `json:"participant_id"`
	ContextTag    string    `json:"context_tag,omitempty"`
	Version       int       `json:"version"`
	Discarded     bool      `json:"discarded,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SurveyItemResponse is a participant's answer to a construct item.
type SurveyItemResponse struct {
	ID string `json:"id"`
	ResponseContext
	ConstructID  string `json:"construct_id"`
	ItemID       string `json:"item_id"`
	ScaleID      string `json:"scale_id,omitempty"`
	ScaleLevelID string `json:"scale_level_id,omitempty"`
}

// FreeformResponse is a participant's freeform text answer.
type FreeformResponse struct {
	ID string `json:"id"`
	ResponseContext
	ItemID       string `json:"item_id,omitempty"`
	ResponseText string `json:"response_text"`
}

// ContentRating is a participant's rating of a content item (e.g. a movie).
type ContentRating struct {
	ID string `json:"id"`
	ResponseContext
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type,omitempty"`
	Rating   int    `json:"rating"`
	ScaleMin int    `json:"scale_min"`
	ScaleMax int    `json:"scale_max"`
}

// InteractionLog captures an arbitrary participant interaction payload.
type InteractionLog struct {
	ID string `json:"id"`
	ResponseContext
	PayloadJSON string `json:"payload_json"`
}

// ResponseKind discriminates the four response families sharing the
// versioned update protocol.
type ResponseKind string

const (
	KindSurveyItem  ResponseKind = "survey_item"
	KindFreeform    ResponseKind = "text_response"
	KindRating      ResponseKind = "content_rating"
	KindInteraction ResponseKind = "study_interaction"
)

// Movie is recommendation-serving metadata for one title.
type Movie struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Year        int     `json:"year,omitempty"`
	Genres      string  `json:"genres,omitempty"`
	PosterURL   string  `json:"poster_url,omitempty"`
	Description string  `json:"description,omitempty"`
	AvgRating   float64 `json:"avg_rating,omitempty"`
}

// User is a local admin account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"-"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey grants programmatic access scoped to one study.
type APIKey struct {
	ID        string    `json:"id"`
	StudyID   string    `json:"study_id"`
	Name      string    `json:"name"`
	KeyHash   []byte    `json:"-"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry records an administrative action.
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}
