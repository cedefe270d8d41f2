package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// QueryOptions filters Query. Zero values mean "no filter".
// Results are ordered by class name, then source, then location.
type QueryOptions struct {
	Prefix      string // Prefix keeps classes whose internal name starts with it.
	Source      string // Source keeps rows recorded for exactly this source.
	Digest      string // Digest keeps rows with this BLAKE3 hex digest.
	MatchedOnly bool   // MatchedOnly keeps rows the predicate matched.
	Limit       int    // Limit caps the number of rows when > 0.
}

// Query reads recorded classes.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]Class, error) {
	if ctx == nil {
		return nil, errors.New("query: context is nil")
	}

	if s == nil || s.sql == nil {
		return nil, fmt.Errorf("query: %w", ErrNotOpen)
	}

	if opts.Limit < 0 {
		return nil, errors.New("query: limit must be non-negative")
	}

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if opts.Prefix != "" {
		// instr instead of LIKE: '_' is common in class names
		clauses = append(clauses, "instr(name, ?) = 1")
		args = append(args, opts.Prefix)
	}

	if opts.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, opts.Source)
	}

	if opts.Digest != "" {
		clauses = append(clauses, "digest = ?")
		args = append(args, opts.Digest)
	}

	if opts.MatchedOnly {
		clauses = append(clauses, "matched = 1")
	}

	query := strings.Builder{}
	query.WriteString("SELECT source, location, name, scope, matched, digest FROM classes")

	if len(clauses) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(clauses, " AND "))
	}

	query.WriteString(" ORDER BY name, source, location")

	if opts.Limit > 0 {
		query.WriteString(" LIMIT ?")

		args = append(args, opts.Limit)
	}

	rows, err := s.sql.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	defer func() { _ = rows.Close() }()

	out := []Class{}

	for rows.Next() {
		var c Class

		err = rows.Scan(&c.Source, &c.Location, &c.Name, &c.Scope, &c.Matched, &c.Digest)
		if err != nil {
			return nil, fmt.Errorf("query: scan row: %w", err)
		}

		out = append(out, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	return out, nil
}

// SourceSummary counts the rows recorded for one source.
type SourceSummary struct {
	Source  string `json:"source"  yaml:"source"`
	Classes int    `json:"classes" yaml:"classes"`
	Matched int    `json:"matched" yaml:"matched"`
}

// Sources summarizes every recorded source, ordered by source.
func (s *Store) Sources(ctx context.Context) ([]SourceSummary, error) {
	if s == nil || s.sql == nil {
		return nil, fmt.Errorf("sources: %w", ErrNotOpen)
	}

	rows, err := s.sql.QueryContext(ctx, `
		SELECT source, COUNT(*), COALESCE(SUM(matched), 0)
		FROM classes
		GROUP BY source
		ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	defer func() { _ = rows.Close() }()

	out := []SourceSummary{}

	for rows.Next() {
		var summary SourceSummary

		err = rows.Scan(&summary.Source, &summary.Classes, &summary.Matched)
		if err != nil {
			return nil, fmt.Errorf("sources: scan row: %w", err)
		}

		out = append(out, summary)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	return out, nil
}
