// Package sidestore keeps spatial indexes of GeoPackage feature tables in a
// separate SQLite file, so that indexing never writes to the GeoPackage.
package sidestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// FileSuffix is appended to the package id to form the side store file name.
const FileSuffix = ".idx.sqlite"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS table_index (
		table_name TEXT NOT NULL PRIMARY KEY,
		last_indexed TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS geometry_index (
		table_name TEXT NOT NULL,
		geom_id INTEGER NOT NULL,
		min_x REAL NOT NULL,
		max_x REAL NOT NULL,
		min_y REAL NOT NULL,
		max_y REAL NOT NULL,
		PRIMARY KEY (table_name, geom_id)
	)`,
	`CREATE INDEX IF NOT EXISTS geometry_index_x ON geometry_index (table_name, min_x, max_x)`,
}

// Store is a lazily opened side store file. The file is only created by the
// first write; reads against a missing file see an empty index.
type Store struct {
	path string
	lock *flock.Flock

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Path returns the side store file of a package in dir.
func Path(dir, packageID string) string {
	return filepath.Join(dir, packageID+FileSuffix)
}

// NewStore creates a store for the side store file of a package.
func NewStore(dir, packageID string) *Store {
	path := Path(dir, packageID)
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// DB returns the connection, opening the file first if needed. With create
// unset a missing file yields a nil connection and no error. A closed store
// is never reopened.
func (s *Store) DB(ctx context.Context, create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%s: %w", s.path, domain.ErrIndexClosed)
	}
	if s.db != nil {
		return s.db, nil
	}

	if !create {
		if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, &domain.StorageError{Operation: "mkdir", Key: s.path, Err: err}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: s.path, Err: err}
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating side store schema: %w", err)
		}
	}

	s.db = db
	return db, nil
}

// TryLock takes the cross-process build lock without blocking.
func (s *Store) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%s: %w", s.path, domain.ErrIndexLocked)
	}
	return nil
}

// Unlock releases the build lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// Close closes the connection if it was opened. The store cannot be used
// afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Remove deletes the side store files of a package in dir.
func Remove(dir, packageID string) error {
	path := Path(dir, packageID)
	for _, p := range []string{path, path + "-wal", path + "-shm", path + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
