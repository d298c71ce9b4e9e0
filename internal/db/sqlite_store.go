package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/rssa-lab/rssa-server/internal/services"
)

// SQLiteStore backs every service store interface with a single sqlite
// database. Ordered collections and versioned updates go through the shared
// helpers in ordered.go and versioned.go.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// wrapInsertErr converts sqlite unique violations into conflict errors so
// services can surface them as expected outcomes.
func wrapInsertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return services.NewConflictError("record already exists")
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteStore) AddAudit(entry services.AuditEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	_, err := s.db.Exec(
		"INSERT INTO audit_log (at, actor, action, target, note) VALUES (?, ?, ?, ?, ?)",
		entry.Time, entry.Actor, entry.Action, entry.Target, entry.Note,
	)
	if err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("audit insert failed")
	}
}

// ListAudit returns the newest audit entries first.
func (s *SQLiteStore) ListAudit(limit int) ([]*services.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.Query("SELECT at, actor, action, target, note FROM audit_log ORDER BY seq DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []*services.AuditEntry
	for rows.Next() {
		e := &services.AuditEntry{}
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- studies ---

func (s *SQLiteStore) InsertStudy(st *services.Study) (*services.Study, error) {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	_, err := s.db.Exec(
		"INSERT INTO studies (id, name, description, enabled, owner_id, created_by, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		st.ID, st.Name, st.Description, boolToInt(st.Enabled), st.OwnerID, st.CreatedBy, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert study", err)
	}
	return st, nil
}

func (s *SQLiteStore) scanStudy(row *sql.Row) (*services.Study, error) {
	st := &services.Study{}
	err := row.Scan(&st.ID, &st.Name, &st.Description, &st.Enabled, &st.OwnerID, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan study: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) GetStudy(id string) (*services.Study, error) {
	row := s.db.QueryRow("SELECT id, name, description, enabled, owner_id, created_by, created_at, updated_at FROM studies WHERE id = ?", id)
	return s.scanStudy(row)
}

func (s *SQLiteStore) ListStudies(ownerID string) ([]*services.Study, error) {
	query := "SELECT id, name, description, enabled, owner_id, created_by, created_at, updated_at FROM studies"
	args := []any{}
	if strings.TrimSpace(ownerID) != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at ASC"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()
	var out []*services.Study
	for rows.Next() {
		st := &services.Study{}
		if err := rows.Scan(&st.ID, &st.Name, &st.Description, &st.Enabled, &st.OwnerID, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStudy(st *services.Study) error {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE studies SET name = ?, description = ?, enabled = ?, updated_at = ? WHERE id = ?",
		st.Name, st.Description, boolToInt(st.Enabled), st.UpdatedAt, st.ID,
	)
	if err != nil {
		return fmt.Errorf("update study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteStudy(id string) error {
	if _, err := s.db.Exec("DELETE FROM studies WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete study: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertCondition(c *services.StudyCondition) (*services.StudyCondition, error) {
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		"INSERT INTO study_conditions (id, study_id, name, description, recommendation_count, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.StudyID, c.Name, c.Description, c.RecommendationCount, boolToInt(c.Enabled), c.CreatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert condition", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConditions(studyID string) ([]*services.StudyCondition, error) {
	rows, err := s.db.Query(
		"SELECT id, study_id, name, description, recommendation_count, enabled, created_at FROM study_conditions WHERE study_id = ? ORDER BY created_at ASC",
		studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	defer rows.Close()
	var out []*services.StudyCondition
	for rows.Next() {
		c := &services.StudyCondition{}
		if err := rows.Scan(&c.ID, &c.StudyID, &c.Name, &c.Description, &c.RecommendationCount, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCondition(id string) error {
	if _, err := s.db.Exec("DELETE FROM study_conditions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	return nil
}

// --- steps ---

const stepCols = "id, study_id, order_position, step_type, name, description, title, instructions, path, enabled, created_at, updated_at"

func scanStep(sc interface{ Scan(...any) error }) (*services.StudyStep, error) {
	st := &services.StudyStep{}
	err := sc.Scan(&st.ID, &st.StudyID, &st.OrderPosition, &st.StepType, &st.Name, &st.Description, &st.Title, &st.Instructions, &st.Path, &st.Enabled, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) AppendStep(st *services.StudyStep) (*services.StudyStep, error) {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	query := "INSERT INTO study_steps (" + stepCols + ") VALUES (?, ?, " + stepOrder.appendPositionExpr() + ", ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.Exec(query,
		st.ID, st.StudyID, st.StudyID, st.StepType, st.Name, st.Description, st.Title, st.Instructions, st.Path, boolToInt(st.Enabled), st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("append step", err)
	}
	return s.GetStep(st.ID)
}

func (s *SQLiteStore) GetStep(id string) (*services.StudyStep, error) {
	return scanStep(s.db.QueryRow("SELECT "+stepCols+" FROM study_steps WHERE id = ?", id))
}

func (s *SQLiteStore) ListSteps(studyID string) ([]*services.StudyStep, error) {
	rows, err := s.db.Query("SELECT "+stepCols+" FROM study_steps WHERE study_id = ? ORDER BY order_position ASC", studyID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	var out []*services.StudyStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteStep(id string) (bool, error) {
	return stepOrder.deleteAndCompact(s.db, id)
}

func (s *SQLiteStore) ReorderSteps(studyID string, positions map[string]int) error {
	return stepOrder.reorder(s.db, studyID, positions)
}

func (s *SQLiteStore) FirstStep(studyID string) (*services.StudyStep, error) {
	id, err := stepOrder.firstID(s.db, studyID)
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetStep(id)
}

func (s *SQLiteStore) NextStep(current *services.StudyStep) (*services.StudyStep, error) {
	id, err := stepOrder.nextID(s.db, current.StudyID, current.OrderPosition)
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetStep(id)
}

// --- pages ---

const pageCols = "id, step_id, study_id, order_position, name, description, page_type, created_at, updated_at"

func scanPage(sc interface{ Scan(...any) error }) (*services.StepPage, error) {
	p := &services.StepPage{}
	err := sc.Scan(&p.ID, &p.StepID, &p.StudyID, &p.OrderPosition, &p.Name, &p.Description, &p.PageType, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) AppendPage(p *services.StepPage) (*services.StepPage, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	query := "INSERT INTO step_pages (" + pageCols + ") VALUES (?, ?, ?, " + pageOrder.appendPositionExpr() + ", ?, ?, ?, ?, ?)"
	_, err := s.db.Exec(query,
		p.ID, p.StepID, p.StudyID, p.StepID, p.Name, p.Description, p.PageType, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("append page", err)
	}
	return s.GetPage(p.ID)
}

func (s *SQLiteStore) GetPage(id string) (*services.StepPage, error) {
	return scanPage(s.db.QueryRow("SELECT "+pageCols+" FROM step_pages WHERE id = ?", id))
}

func (s *SQLiteStore) ListPages(stepID string) ([]*services.StepPage, error) {
	rows, err := s.db.Query("SELECT "+pageCols+" FROM step_pages WHERE step_id = ? ORDER BY order_position ASC", stepID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var out []*services.StepPage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePage(id string) (bool, error) {
	return pageOrder.deleteAndCompact(s.db, id)
}

func (s *SQLiteStore) ReorderPages(stepID string, positions map[string]int) error {
	return pageOrder.reorder(s.db, stepID, positions)
}

func (s *SQLiteStore) FirstPage(stepID string) (*services.StepPage, error) {
	id, err := pageOrder.firstID(s.db, stepID)
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetPage(id)
}

func (s *SQLiteStore) NextPage(current *services.StepPage) (*services.StepPage, error) {
	id, err := pageOrder.nextID(s.db, current.StepID, current.OrderPosition)
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetPage(id)
}

func (s *SQLiteStore) InsertPageContent(pc *services.PageContent) (*services.PageContent, error) {
	_, err := s.db.Exec(
		"INSERT INTO page_contents (id, page_id, construct_id, scale_id) VALUES (?, ?, ?, ?)",
		pc.ID, pc.PageID, pc.ConstructID, pc.ScaleID,
	)
	if err != nil {
		return nil, wrapInsertErr("insert page content", err)
	}
	return pc, nil
}

func (s *SQLiteStore) ListPageContents(pageID string) ([]*services.PageContent, error) {
	rows, err := s.db.Query("SELECT id, page_id, construct_id, scale_id FROM page_contents WHERE page_id = ? ORDER BY id ASC", pageID)
	if err != nil {
		return nil, fmt.Errorf("list page contents: %w", err)
	}
	defer rows.Close()
	var out []*services.PageContent
	for rows.Next() {
		pc := &services.PageContent{}
		if err := rows.Scan(&pc.ID, &pc.PageID, &pc.ConstructID, &pc.ScaleID); err != nil {
			return nil, fmt.Errorf("scan page content: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePageContent(id string) error {
	if _, err := s.db.Exec("DELETE FROM page_contents WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete page content: %w", err)
	}
	return nil
}

// --- constructs, items, scales, levels ---

func (s *SQLiteStore) InsertConstruct(c *services.SurveyConstruct) (*services.SurveyConstruct, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.Exec(
		"INSERT INTO survey_constructs (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, c.Description, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert construct", err)
	}
	return c, nil
}

func (s *SQLiteStore) GetConstruct(id string) (*services.SurveyConstruct, error) {
	c := &services.SurveyConstruct{}
	err := s.db.QueryRow("SELECT id, name, description, created_at, updated_at FROM survey_constructs WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get construct: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConstructs() ([]*services.SurveyConstruct, error) {
	rows, err := s.db.Query("SELECT id, name, description, created_at, updated_at FROM survey_constructs ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list constructs: %w", err)
	}
	defer rows.Close()
	var out []*services.SurveyConstruct
	for rows.Next() {
		c := &services.SurveyConstruct{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan construct: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateConstruct(c *services.SurveyConstruct) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE survey_constructs SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		c.Name, c.Description, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update construct: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConstruct(id string) error {
	if _, err := s.db.Exec("DELETE FROM survey_constructs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete construct: %w", err)
	}
	return nil
}

const itemCols = "id, construct_id, order_position, text, notes, enabled, created_at, updated_at"

func scanItem(sc interface{ Scan(...any) error }) (*services.ConstructItem, error) {
	it := &services.ConstructItem{}
	err := sc.Scan(&it.ID, &it.ConstructID, &it.OrderPosition, &it.Text, &it.Notes, &it.Enabled, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return it, nil
}

func (s *SQLiteStore) AppendItem(it *services.ConstructItem) (*services.ConstructItem, error) {
	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now
	query := "INSERT INTO construct_items (" + itemCols + ") VALUES (?, ?, " + itemOrder.appendPositionExpr() + ", ?, ?, ?, ?, ?)"
	_, err := s.db.Exec(query,
		it.ID, it.ConstructID, it.ConstructID, it.Text, it.Notes, boolToInt(it.Enabled), it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("append item", err)
	}
	return s.GetItem(it.ID)
}

func (s *SQLiteStore) GetItem(id string) (*services.ConstructItem, error) {
	return scanItem(s.db.QueryRow("SELECT "+itemCols+" FROM construct_items WHERE id = ?", id))
}

func (s *SQLiteStore) ListItems(constructID string) ([]*services.ConstructItem, error) {
	rows, err := s.db.Query("SELECT "+itemCols+" FROM construct_items WHERE construct_id = ? ORDER BY order_position ASC", constructID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []*services.ConstructItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteItem(id string) (bool, error) {
	return itemOrder.deleteAndCompact(s.db, id)
}

func (s *SQLiteStore) ReorderItems(constructID string, positions map[string]int) error {
	return itemOrder.reorder(s.db, constructID, positions)
}

func (s *SQLiteStore) InsertScale(sc *services.ConstructScale) (*services.ConstructScale, error) {
	sc.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		"INSERT INTO construct_scales (id, name, description, enabled, created_at) VALUES (?, ?, ?, ?, ?)",
		sc.ID, sc.Name, sc.Description, boolToInt(sc.Enabled), sc.CreatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert scale", err)
	}
	return sc, nil
}

func (s *SQLiteStore) GetScale(id string) (*services.ConstructScale, error) {
	sc := &services.ConstructScale{}
	err := s.db.QueryRow("SELECT id, name, description, enabled, created_at FROM construct_scales WHERE id = ?", id).
		Scan(&sc.ID, &sc.Name, &sc.Description, &sc.Enabled, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scale: %w", err)
	}
	return sc, nil
}

func (s *SQLiteStore) ListScales() ([]*services.ConstructScale, error) {
	rows, err := s.db.Query("SELECT id, name, description, enabled, created_at FROM construct_scales ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("list scales: %w", err)
	}
	defer rows.Close()
	var out []*services.ConstructScale
	for rows.Next() {
		sc := &services.ConstructScale{}
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Description, &sc.Enabled, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scale: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteScale(id string) error {
	if _, err := s.db.Exec("DELETE FROM construct_scales WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete scale: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendScaleLevel(lv *services.ScaleLevel) (*services.ScaleLevel, error) {
	lv.CreatedAt = time.Now().UTC()
	query := "INSERT INTO scale_levels (id, scale_id, order_position, label, value, created_at) VALUES (?, ?, " + levelOrder.appendPositionExpr() + ", ?, ?, ?)"
	_, err := s.db.Exec(query, lv.ID, lv.ScaleID, lv.ScaleID, lv.Label, lv.Value, lv.CreatedAt)
	if err != nil {
		return nil, wrapInsertErr("append scale level", err)
	}
	err = s.db.QueryRow("SELECT order_position FROM scale_levels WHERE id = ?", lv.ID).Scan(&lv.OrderPosition)
	if err != nil {
		return nil, fmt.Errorf("append scale level readback: %w", err)
	}
	return lv, nil
}

func (s *SQLiteStore) ListScaleLevels(scaleID string) ([]*services.ScaleLevel, error) {
	rows, err := s.db.Query("SELECT id, scale_id, order_position, label, value, created_at FROM scale_levels WHERE scale_id = ? ORDER BY order_position ASC", scaleID)
	if err != nil {
		return nil, fmt.Errorf("list scale levels: %w", err)
	}
	defer rows.Close()
	var out []*services.ScaleLevel
	for rows.Next() {
		lv := &services.ScaleLevel{}
		if err := rows.Scan(&lv.ID, &lv.ScaleID, &lv.OrderPosition, &lv.Label, &lv.Value, &lv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scale level: %w", err)
		}
		out = append(out, lv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteScaleLevel(id string) (bool, error) {
	return levelOrder.deleteAndCompact(s.db, id)
}

func (s *SQLiteStore) ReorderScaleLevels(scaleID string, positions map[string]int) error {
	return levelOrder.reorder(s.db, scaleID, positions)
}

// --- participants and sessions ---

const participantCols = "id, study_id, condition_id, external_id, current_step_id, current_page_id, created_at, updated_at"

func scanParticipant(sc interface{ Scan(...any) error }) (*services.Participant, error) {
	p := &services.Participant{}
	err := sc.Scan(&p.ID, &p.StudyID, &p.ConditionID, &p.ExternalID, &p.CurrentStepID, &p.CurrentPageID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) InsertParticipant(p *services.Participant) (*services.Participant, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.Exec(
		"INSERT INTO participants ("+participantCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.StudyID, p.ConditionID, p.ExternalID, p.CurrentStepID, p.CurrentPageID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert participant", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetParticipant(id string) (*services.Participant, error) {
	return scanParticipant(s.db.QueryRow("SELECT "+participantCols+" FROM participants WHERE id = ?", id))
}

func (s *SQLiteStore) ListParticipants(studyID string) ([]*services.Participant, error) {
	rows, err := s.db.Query("SELECT "+participantCols+" FROM participants WHERE study_id = ? ORDER BY created_at ASC", studyID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var out []*services.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateParticipant(p *services.Participant) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		"UPDATE participants SET condition_id = ?, external_id = ?, current_step_id = ?, current_page_id = ?, updated_at = ? WHERE id = ?",
		p.ConditionID, p.ExternalID, p.CurrentStepID, p.CurrentPageID, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountParticipants(conditionID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM participants WHERE condition_id = ?", conditionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) InsertSession(sess *services.ParticipantSession) error {
	_, err := s.db.Exec(
		"INSERT INTO participant_sessions (id, participant_id, resume_code, active, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)",
		sess.ID, sess.ParticipantID, sess.ResumeCode, boolToInt(sess.Active), sess.CreatedAt, sess.ExpiresAt,
	)
	return wrapInsertErr("insert session", err)
}

func (s *SQLiteStore) GetSessionByCode(code string) (*services.ParticipantSession, error) {
	sess := &services.ParticipantSession{}
	err := s.db.QueryRow(
		"SELECT id, participant_id, resume_code, active, created_at, expires_at FROM participant_sessions WHERE resume_code = ?",
		code,
	).Scan(&sess.ID, &sess.ParticipantID, &sess.ResumeCode, &sess.Active, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(sess *services.ParticipantSession) error {
	_, err := s.db.Exec(
		"UPDATE participant_sessions SET active = ?, expires_at = ? WHERE id = ?",
		boolToInt(sess.Active), sess.ExpiresAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// --- responses ---

// responseTables maps each response kind to its backing table for the
// versioned update protocol.
var responseTables = map[services.ResponseKind]string{
	services.KindSurveyItem:  "survey_item_responses",
	services.KindFreeform:    "text_responses",
	services.KindRating:      "content_ratings",
	services.KindInteraction: "study_interactions",
}

func (s *SQLiteStore) UpdateResponse(kind services.ResponseKind, id string, fields map[string]any, expectedVersion int) error {
	table, ok := responseTables[kind]
	if !ok {
		return services.NewInvalidError("unsupported response kind")
	}
	return s.applyVersionedUpdate(table, id, fields, expectedVersion)
}

func stampContext(ctx *services.ResponseContext) {
	now := time.Now().UTC()
	ctx.CreatedAt = now
	ctx.UpdatedAt = now
}

func (s *SQLiteStore) InsertSurveyItemResponse(r *services.SurveyItemResponse) (*services.SurveyItemResponse, error) {
	stampContext(&r.ResponseContext)
	_, err := s.db.Exec(
		`INSERT INTO survey_item_responses
		 (id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, construct_id, item_id, scale_id, scale_level_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudyID, r.StepID, r.PageID, r.ParticipantID, r.ContextTag, r.Version, boolToInt(r.Discarded),
		r.ConstructID, r.ItemID, r.ScaleID, r.ScaleLevelID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert survey item response", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListSurveyItemResponses(studyID, participantID, pageID string) ([]*services.SurveyItemResponse, error) {
	query := `SELECT id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, construct_id, item_id, scale_id, scale_level_id, created_at, updated_at
		 FROM survey_item_responses WHERE study_id = ? AND participant_id = ?`
	args := []any{studyID, participantID}
	if pageID != "" {
		query += " AND page_id = ?"
		args = append(args, pageID)
	}
	query += " ORDER BY created_at ASC"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list survey item responses: %w", err)
	}
	defer rows.Close()
	var out []*services.SurveyItemResponse
	for rows.Next() {
		r := &services.SurveyItemResponse{}
		if err := rows.Scan(&r.ID, &r.StudyID, &r.StepID, &r.PageID, &r.ParticipantID, &r.ContextTag, &r.Version, &r.Discarded,
			&r.ConstructID, &r.ItemID, &r.ScaleID, &r.ScaleLevelID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey item response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertFreeformResponse(r *services.FreeformResponse) (*services.FreeformResponse, error) {
	stampContext(&r.ResponseContext)
	_, err := s.db.Exec(
		`INSERT INTO text_responses
		 (id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, item_id, response_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudyID, r.StepID, r.PageID, r.ParticipantID, r.ContextTag, r.Version, boolToInt(r.Discarded),
		r.ItemID, r.ResponseText, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert text response", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListFreeformResponses(studyID, participantID string) ([]*services.FreeformResponse, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, item_id, response_text, created_at, updated_at
		 FROM text_responses WHERE study_id = ? AND participant_id = ? ORDER BY created_at ASC`,
		studyID, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list text responses: %w", err)
	}
	defer rows.Close()
	var out []*services.FreeformResponse
	for rows.Next() {
		r := &services.FreeformResponse{}
		if err := rows.Scan(&r.ID, &r.StudyID, &r.StepID, &r.PageID, &r.ParticipantID, &r.ContextTag, &r.Version, &r.Discarded,
			&r.ItemID, &r.ResponseText, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan text response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertRating(r *services.ContentRating) (*services.ContentRating, error) {
	stampContext(&r.ResponseContext)
	_, err := s.db.Exec(
		`INSERT INTO content_ratings
		 (id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, item_id, item_type, rating, scale_min, scale_max, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudyID, r.StepID, r.PageID, r.ParticipantID, r.ContextTag, r.Version, boolToInt(r.Discarded),
		r.ItemID, r.ItemType, r.Rating, r.ScaleMin, r.ScaleMax, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert rating", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRating(id string) (*services.ContentRating, error) {
	r := &services.ContentRating{}
	err := s.db.QueryRow(
		`SELECT id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, item_id, item_type, rating, scale_min, scale_max, created_at, updated_at
		 FROM content_ratings WHERE id = ?`, id).
		Scan(&r.ID, &r.StudyID, &r.StepID, &r.PageID, &r.ParticipantID, &r.ContextTag, &r.Version, &r.Discarded,
			&r.ItemID, &r.ItemType, &r.Rating, &r.ScaleMin, &r.ScaleMax, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRatings(studyID, participantID string) ([]*services.ContentRating, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, item_id, item_type, rating, scale_min, scale_max, created_at, updated_at
		 FROM content_ratings WHERE study_id = ? AND participant_id = ? ORDER BY created_at ASC`,
		studyID, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()
	var out []*services.ContentRating
	for rows.Next() {
		r := &services.ContentRating{}
		if err := rows.Scan(&r.ID, &r.StudyID, &r.StepID, &r.PageID, &r.ParticipantID, &r.ContextTag, &r.Version, &r.Discarded,
			&r.ItemID, &r.ItemType, &r.Rating, &r.ScaleMin, &r.ScaleMax, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertInteractionLog(r *services.InteractionLog) (*services.InteractionLog, error) {
	stampContext(&r.ResponseContext)
	_, err := s.db.Exec(
		`INSERT INTO study_interactions
		 (id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, payload_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudyID, r.StepID, r.PageID, r.ParticipantID, r.ContextTag, r.Version, boolToInt(r.Discarded),
		r.PayloadJSON, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, wrapInsertErr("insert interaction", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListInteractionLogs(studyID, participantID string) ([]*services.InteractionLog, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, step_id, page_id, participant_id, context_tag, version, discarded, payload_json, created_at, updated_at
		 FROM study_interactions WHERE study_id = ? AND participant_id = ? ORDER BY created_at ASC`,
		studyID, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()
	var out []*services.InteractionLog
	for rows.Next() {
		r := &services.InteractionLog{}
		if err := rows.Scan(&r.ID, &r.StudyID, &r.StepID, &r.PageID, &r.ParticipantID, &r.ContextTag, &r.Version, &r.Discarded,
			&r.PayloadJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- movies ---

func (s *SQLiteStore) InsertMovie(m *services.Movie) error {
	_, err := s.db.Exec(
		`INSERT INTO movies (id, title, year, genres, poster_url, description, avg_rating) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, year = excluded.year, genres = excluded.genres,
		 poster_url = excluded.poster_url, description = excluded.description, avg_rating = excluded.avg_rating`,
		m.ID, m.Title, m.Year, m.Genres, m.PosterURL, m.Description, m.AvgRating,
	)
	if err != nil {
		return fmt.Errorf("insert movie: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMovies(ids []string) ([]*services.Movie, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids))
	placeholders = placeholders[:len(placeholders)-2]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT id, title, year, genres, poster_url, description, avg_rating FROM movies WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get movies: %w", err)
	}
	defer rows.Close()
	var out []*services.Movie
	for rows.Next() {
		m := &services.Movie{}
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Genres, &m.PosterURL, &m.Description, &m.AvgRating); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListMovies(limit, offset int) ([]*services.Movie, error) {
	rows, err := s.db.Query(
		"SELECT id, title, year, genres, poster_url, description, avg_rating FROM movies ORDER BY title ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()
	var out []*services.Movie
	for rows.Next() {
		m := &services.Movie{}
		if err := rows.Scan(&m.ID, &m.Title, &m.Year, &m.Genres, &m.PosterURL, &m.Description, &m.AvgRating); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- users and api keys ---

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	u := &services.User{}
	err := s.db.QueryRow("SELECT id, email, pass_hash, admin, created_at FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.PassHash, &u.Admin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(
		"INSERT INTO users (id, email, pass_hash, admin, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Email, u.PassHash, boolToInt(u.Admin), u.CreatedAt,
	)
	return wrapInsertErr("add user", err)
}

func (s *SQLiteStore) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AddAPIKey(k *services.APIKey) error {
	_, err := s.db.Exec(
		"INSERT INTO api_keys (id, study_id, name, key_hash, disabled, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		k.ID, k.StudyID, k.Name, k.KeyHash, boolToInt(k.Disabled), k.CreatedAt,
	)
	return wrapInsertErr("add api key", err)
}

func (s *SQLiteStore) ListAPIKeys(studyID string) ([]*services.APIKey, error) {
	rows, err := s.db.Query("SELECT id, study_id, name, key_hash, disabled, created_at FROM api_keys WHERE study_id = ? ORDER BY created_at ASC", studyID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	var out []*services.APIKey
	for rows.Next() {
		k := &services.APIKey{}
		if err := rows.Scan(&k.ID, &k.StudyID, &k.Name, &k.KeyHash, &k.Disabled, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindAPIKey(id string) (*services.APIKey, error) {
	k := &services.APIKey{}
	err := s.db.QueryRow("SELECT id, study_id, name, key_hash, disabled, created_at FROM api_keys WHERE id = ?", id).
		Scan(&k.ID, &k.StudyID, &k.Name, &k.KeyHash, &k.Disabled, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) FindAPIKeyByHash(hash []byte) (*services.APIKey, error) {
	k := &services.APIKey{}
	err := s.db.QueryRow("SELECT id, study_id, name, key_hash, disabled, created_at FROM api_keys WHERE key_hash = ?", hash).
		Scan(&k.ID, &k.StudyID, &k.Name, &k.KeyHash, &k.Disabled, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find api key by hash: %w", err)
	}
	return k, nil
}

func (s *SQLiteStore) DisableAPIKey(id string) error {
	if _, err := s.db.Exec("UPDATE api_keys SET disabled = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("disable api key: %w", err)
	}
	return nil
}
