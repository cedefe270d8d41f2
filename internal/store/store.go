// Package store keeps scan results in a SQLite database so later runs can
// query them without reading any archive again.
//
// Rows are keyed by (source, location). Recording a source replaces every row
// previously recorded for it in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotOpen is returned by methods called on a closed or zero Store.
var ErrNotOpen = errors.New("store is not open")

// Class is one recorded class entry.
type Class struct {
	Source   string `json:"source"   yaml:"source"`
	Location string `json:"location" yaml:"location"`
	Name     string `json:"class"    yaml:"class"`
	Scope    int32  `json:"scope"    yaml:"scope"`
	Matched  bool   `json:"matched"  yaml:"matched"`
	Digest   string `json:"blake3"   yaml:"blake3"`
}

// Store holds the SQLite handle.
type Store struct {
	path string
	sql  *sql.DB
}

// Open opens or creates the database at path. A database written with a
// different schema version is dropped and recreated empty.
func Open(ctx context.Context, path string) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("open store: context is nil")
	}

	if path == "" {
		return nil, errors.New("open store: path is empty")
	}

	path = filepath.Clean(path)

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("open store: create directory: %w", err)
	}

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open store: %w", err)
	}

	if version != schemaVersion {
		err = resetSchema(ctx, db)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	return &Store{path: path, sql: db}, nil
}

// Path returns the cleaned database path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the SQLite handle opened by Open.
func (s *Store) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}

	err := s.sql.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	s.sql = nil

	return nil
}
