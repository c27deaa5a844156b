package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrPackageNotFound       = fmt.Errorf("geopackage: %w", ErrNotFound)
	ErrTableNotFound         = fmt.Errorf("feature table: %w", ErrNotFound)
	ErrInvalidGeometry       = fmt.Errorf("geometry: %w", ErrInvalidInput)
	ErrInvalidSRID           = fmt.Errorf("srid: %w", ErrInvalidInput)
	ErrUnsupportedProjection = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrUnsupportedIndexKind  = fmt.Errorf("index kind: %w", ErrUnsupported)
	ErrIndexLocationNotSet   = fmt.Errorf("index location not set: %w", ErrInvalidInput)
	ErrIndexLocked           = fmt.Errorf("index locked by another process: %w", ErrUnavailable)
	ErrIndexClosed           = fmt.Errorf("index closed: %w", ErrUnavailable)
	ErrManagerClosed         = fmt.Errorf("index manager closed: %w", ErrUnavailable)
	ErrStorageUnavailable    = fmt.Errorf("storage: %w", ErrUnavailable)
)

// IsConfigurationError reports whether err is a configuration error: an unset
// index location or an unknown index kind. Configuration errors are never
// swallowed by continue-on-error.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) ||
		errors.Is(err, ErrIndexLocationNotSet) ||
		errors.Is(err, ErrUnsupportedIndexKind)
}

// QueryError represents an error while reading a feature table.
type QueryError struct {
	Table string // Feature table name
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("query error in table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("query error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IndexError represents a failure inside one index backend.
type IndexError struct {
	Table string    // Feature table name
	Kind  IndexKind // Backend that failed
	Op    string    // Operation (index, delete, query, count, bounds, ...)
	Err   error     // Underlying error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %s failed for table %s: %v",
		e.Kind, e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// FallbackError represents a failure of the manual, unindexed scan.
type FallbackError struct {
	Table string // Feature table name
	Op    string // Operation (query, count, bounds)
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *FallbackError) Error() string {
	return fmt.Sprintf("manual %s failed for table %s: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *FallbackError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
