package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rssa-lab/rssa-server/internal/services"
)

// applyVersionedUpdate performs the optimistic concurrency write shared by
// all versioned tables: one conditional UPDATE that sets the given columns,
// advances version to expectedVersion+1, and matches only the row whose
// stored version still equals expectedVersion.
//
// A zero row count means either the row is gone or another writer got there
// first; a follow-up existence check tells the two apart so callers get a
// not-found error for missing ids and a conflict error for stale versions.
func (s *SQLiteStore) applyVersionedUpdate(table, id string, fields map[string]any, expectedVersion int) error {
	if len(fields) == 0 {
		return services.NewInvalidError("no fields to update")
	}
	cols := make([]string, 0, len(fields))
	for name := range fields {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	var set strings.Builder
	args := make([]any, 0, len(cols)+4)
	for _, name := range cols {
		set.WriteString(name)
		set.WriteString(" = ?, ")
		args = append(args, normalizeArg(fields[name]))
	}
	set.WriteString("version = ?, updated_at = ?")
	args = append(args, expectedVersion+1, time.Now().UTC())
	args = append(args, id, expectedVersion)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?", table, set.String())
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("versioned update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("versioned update %s rows: %w", table, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		return services.NewNotFoundError("record not found")
	case err != nil:
		return fmt.Errorf("versioned update %s lookup: %w", table, err)
	default:
		return services.NewConflictError("version mismatch")
	}
}

// normalizeArg maps Go values onto sqlite storage conventions (bools as
// integers).
func normalizeArg(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
