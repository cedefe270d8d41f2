package store

import (
	"context"
	"errors"
	"fmt"
)

// Replace drops every row recorded for source and inserts classes in its
// place. Entries whose Source differs from source are stored under source.
// It returns the number of rows inserted.
func (s *Store) Replace(ctx context.Context, source string, classes []Class) (int, error) {
	if ctx == nil {
		return 0, errors.New("replace: context is nil")
	}

	if s == nil || s.sql == nil {
		return 0, fmt.Errorf("replace: %w", ErrNotOpen)
	}

	if source == "" {
		return 0, errors.New("replace: source is empty")
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM classes WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("delete rows for %s: %w", source, err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO classes (source, location, name, scope, matched, digest)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}

	defer func() { _ = insert.Close() }()

	for i := range classes {
		c := &classes[i]

		_, err = insert.ExecContext(ctx, source, c.Location, c.Name, c.Scope, c.Matched, c.Digest)
		if err != nil {
			return 0, fmt.Errorf("insert %s (%s): %w", c.Name, c.Location, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("commit replace txn: %w", err)
	}

	committed = true

	return len(classes), nil
}
