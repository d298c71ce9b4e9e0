package db

import (
	"database/sql"
	"fmt"

	"github.com/rssa-lab/rssa-server/internal/services"
)

// orderedSet captures the table shape shared by every dense-ordered child
// collection: rows keyed by id, scoped to one parent column, carrying an
// order_position that is always a contiguous 1..n within the parent.
type orderedSet struct {
	table     string
	parentCol string
}

var (
	stepOrder  = orderedSet{table: "study_steps", parentCol: "study_id"}
	pageOrder  = orderedSet{table: "step_pages", parentCol: "step_id"}
	itemOrder  = orderedSet{table: "construct_items", parentCol: "construct_id"}
	levelOrder = orderedSet{table: "scale_levels", parentCol: "scale_id"}
)

// appendPositionExpr is the SQL expression that claims the next tail position
// inside the INSERT itself, so two concurrent appends can never pick the same
// position.
func (o orderedSet) appendPositionExpr() string {
	return fmt.Sprintf("(SELECT COALESCE(MAX(order_position), 0) + 1 FROM %s WHERE %s = ?)", o.table, o.parentCol)
}

// deleteAndCompact removes the row and shifts every later sibling down one,
// restoring contiguity. Returns false without error when the id does not
// exist. Runs in its own transaction so a crash cannot leave a gap.
func (o orderedSet) deleteAndCompact(db *sql.DB, id string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("delete %s begin: %w", o.table, err)
	}
	defer tx.Rollback()

	var parent string
	var pos int
	query := fmt.Sprintf("SELECT %s, order_position FROM %s WHERE id = ?", o.parentCol, o.table)
	err = tx.QueryRow(query, id).Scan(&parent, &pos)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete %s lookup: %w", o.table, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", o.table), id); err != nil {
		return false, fmt.Errorf("delete %s: %w", o.table, err)
	}
	shift := fmt.Sprintf("UPDATE %s SET order_position = order_position - 1 WHERE %s = ? AND order_position > ?", o.table, o.parentCol)
	if _, err := tx.Exec(shift, parent, pos); err != nil {
		return false, fmt.Errorf("compact %s: %w", o.table, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete %s commit: %w", o.table, err)
	}
	return true, nil
}

// reorder assigns new positions to the listed siblings. Unlisted siblings
// keep their current positions, and the combined assignment must be an exact
// 1..n permutation of the parent's children; anything else is rejected before
// a single row changes. All updates commit atomically.
func (o orderedSet) reorder(db *sql.DB, parentID string, positions map[string]int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("reorder %s begin: %w", o.table, err)
	}
	defer tx.Rollback()

	current := map[string]int{}
	query := fmt.Sprintf("SELECT id, order_position FROM %s WHERE %s = ?", o.table, o.parentCol)
	rows, err := tx.Query(query, parentID)
	if err != nil {
		return fmt.Errorf("reorder %s load: %w", o.table, err)
	}
	for rows.Next() {
		var id string
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			rows.Close()
			return fmt.Errorf("reorder %s scan: %w", o.table, err)
		}
		current[id] = pos
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("reorder %s rows: %w", o.table, err)
	}
	rows.Close()

	for id := range positions {
		if _, ok := current[id]; !ok {
			return services.NewInvalidError("unknown id in ordering: " + id)
		}
	}
	combined := map[string]int{}
	for id, pos := range current {
		combined[id] = pos
	}
	for id, pos := range positions {
		combined[id] = pos
	}
	seen := make(map[int]bool, len(combined))
	for _, pos := range combined {
		if pos < 1 || pos > len(combined) || seen[pos] {
			return services.NewInvalidError("ordering must be a contiguous permutation of 1..n")
		}
		seen[pos] = true
	}

	update := fmt.Sprintf("UPDATE %s SET order_position = ? WHERE id = ? AND %s = ?", o.table, o.parentCol)
	for id, pos := range positions {
		if current[id] == pos {
			continue
		}
		if _, err := tx.Exec(update, pos, id, parentID); err != nil {
			return fmt.Errorf("reorder %s update: %w", o.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reorder %s commit: %w", o.table, err)
	}
	return nil
}

// firstID returns the id at position 1 of the parent's sequence, or "" when
// the parent has no children.
func (o orderedSet) firstID(db *sql.DB, parentID string) (string, error) {
	var id string
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ? ORDER BY order_position ASC LIMIT 1", o.table, o.parentCol)
	err := db.QueryRow(query, parentID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("first %s: %w", o.table, err)
	}
	return id, nil
}

// nextID returns the id of the sibling directly after the given position, or
// "" when the position is the tail.
func (o orderedSet) nextID(db *sql.DB, parentID string, afterPosition int) (string, error) {
	var id string
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ? AND order_position > ? ORDER BY order_position ASC LIMIT 1", o.table, o.parentCol)
	err := db.QueryRow(query, parentID, afterPosition).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("next %s: %w", o.table, err)
	}
	return id, nil
}
