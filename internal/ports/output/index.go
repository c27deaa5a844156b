package output

import (
	"context"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// FeatureCursor is a single-pass sequence of features. It is not restartable
// and must be closed by the consumer to release the underlying statement.
type FeatureCursor interface {
	// Next advances to the next feature. It returns false when the sequence is
	// exhausted or an error occurred.
	Next() bool

	// Feature returns the current feature.
	Feature() *domain.Feature

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the cursor. It is safe to call more than once.
	Close() error
}

// Progress is consulted cooperatively during full-table index builds.
type Progress interface {
	// IsActive reports whether the build should continue.
	IsActive() bool

	// Advance reports that n more records were processed.
	Advance(n int)
}

// IndexBackend is one spatial index strategy bound to one feature table.
type IndexBackend interface {
	// Kind returns the backend kind.
	Kind() domain.IndexKind

	// Index builds the index if absent, or rebuilds it when force is set, and
	// returns the number of indexed features. It returns 0 when the index
	// already exists and force is false.
	Index(ctx context.Context, force bool) (int64, error)

	// IndexFeature indexes a single feature of an already indexed table.
	IndexFeature(ctx context.Context, feature *domain.Feature) (bool, error)

	// DeleteIndex removes the index and reports whether anything was removed.
	DeleteIndex(ctx context.Context) (bool, error)

	// DeleteFeature removes a single feature from the index.
	DeleteFeature(ctx context.Context, id int64) (bool, error)

	// Exists is a structural check for the index, not a row count.
	Exists(ctx context.Context) (bool, error)

	// LastIndexed returns the time of the last successful build.
	LastIndexed(ctx context.Context) (time.Time, bool, error)

	// Query returns the features matching the optional envelope and predicate.
	Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (FeatureCursor, error)

	// Count counts the features matching the optional envelope and predicate.
	Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error)

	// Bounds returns the envelope of all indexed features in the table SRID.
	// ok is false when the index holds no features.
	Bounds(ctx context.Context) (env domain.Envelope, ok bool, err error)

	// SetProgress sets the progress collaborator used during builds.
	SetProgress(progress Progress)

	// Close releases resources owned by the backend. The shared feature table
	// connection is never closed here.
	Close() error
}

// FallbackScanner answers reads by scanning the feature table without an index.
type FallbackScanner interface {
	// Query returns the matching features.
	Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (FeatureCursor, error)

	// Count counts matching features that have a geometry.
	Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error)

	// Bounds computes the envelope of all geometries.
	Bounds(ctx context.Context) (env domain.Envelope, ok bool, err error)
}

// IndexFactory creates the backends and the fallback scanner of one feature table.
type IndexFactory interface {
	// NewIndex creates the backend of the given kind.
	NewIndex(kind domain.IndexKind) (IndexBackend, error)

	// NewFallback creates the manual scanner.
	NewFallback() (FallbackScanner, error)
}
