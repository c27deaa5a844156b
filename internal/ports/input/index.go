// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// FeatureIndex defines the primary port for indexing and querying one
// feature table through its ordered set of index backends.
type FeatureIndex interface {
	// Table returns the managed feature table.
	Table() domain.FeatureTable

	Index(ctx context.Context, force bool) (int64, error)
	IndexKind(ctx context.Context, kind domain.IndexKind, force bool) (int64, error)
	IndexKinds(ctx context.Context, kinds []domain.IndexKind, force bool) (int64, error)

	IndexFeature(ctx context.Context, feature *domain.Feature) (bool, error)
	IndexFeatureKind(ctx context.Context, kind domain.IndexKind, feature *domain.Feature) (bool, error)
	IndexFeatureKinds(ctx context.Context, kinds []domain.IndexKind, feature *domain.Feature) (bool, error)

	DeleteIndex(ctx context.Context) (bool, error)
	DeleteIndexKind(ctx context.Context, kind domain.IndexKind) (bool, error)
	DeleteIndexKinds(ctx context.Context, kinds []domain.IndexKind) (bool, error)
	DeleteAllIndexes(ctx context.Context) (bool, error)

	DeleteFeature(ctx context.Context, id int64) (bool, error)
	DeleteFeatureKind(ctx context.Context, kind domain.IndexKind, id int64) (bool, error)
	DeleteFeatureKinds(ctx context.Context, kinds []domain.IndexKind, id int64) (bool, error)

	Retain(ctx context.Context, kinds []domain.IndexKind) (bool, error)

	IsIndexed(ctx context.Context) (bool, error)
	IsIndexedKind(ctx context.Context, kind domain.IndexKind) (bool, error)
	IndexedKinds(ctx context.Context) ([]domain.IndexKind, error)
	IndexedKind(ctx context.Context) (domain.IndexKind, error)
	LastIndexed(ctx context.Context) (time.Time, bool, error)
	LastIndexedKind(ctx context.Context, kind domain.IndexKind) (time.Time, bool, error)

	Query(ctx context.Context) (output.FeatureCursor, error)
	QueryWhere(ctx context.Context, where *domain.Where) (output.FeatureCursor, error)
	QueryFields(ctx context.Context, fields map[string]interface{}) (output.FeatureCursor, error)
	QueryIn(ctx context.Context, env domain.Envelope, srid int, where *domain.Where) (output.FeatureCursor, error)

	Count(ctx context.Context) (int64, error)
	CountWhere(ctx context.Context, where *domain.Where) (int64, error)
	CountFields(ctx context.Context, fields map[string]interface{}) (int64, error)
	CountIn(ctx context.Context, env domain.Envelope, srid int, where *domain.Where) (int64, error)

	Bounds(ctx context.Context) (domain.Envelope, bool, error)
	BoundsIn(ctx context.Context, srid int) (domain.Envelope, bool, error)

	// Status reports the state of every backend.
	Status(ctx context.Context) (domain.TableStatus, error)

	Prioritize(kinds ...domain.IndexKind)
	SetOrder(kinds []domain.IndexKind)
	Order() []domain.IndexKind
	SetLocation(kind domain.IndexKind)
	Location() domain.IndexKind
	SetContinueOnError(v bool)
	ContinueOnError() bool
	SetProgress(progress output.Progress)

	Close() error
}

// PackageRegistry defines the primary port for GeoPackage management.
type PackageRegistry interface {
	// ListPackages returns all registered GeoPackages.
	ListPackages(ctx context.Context) ([]domain.GeoPackage, error)

	// GetPackage returns a specific GeoPackage by ID.
	GetPackage(ctx context.Context, id string) (*domain.GeoPackage, error)

	// GetPackageStatus returns the status of a GeoPackage.
	GetPackageStatus(ctx context.Context, id string) (domain.GeoPackageStatus, error)

	// FeatureIndex returns the index manager of a feature table.
	FeatureIndex(ctx context.Context, packageID, table string) (FeatureIndex, error)

	// Status reports per-table index state of a package.
	Status(ctx context.Context, packageID string) ([]domain.TableStatus, error)
}
