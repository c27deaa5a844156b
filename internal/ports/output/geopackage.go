package output

import (
	"context"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// GeoPackageRepository defines the secondary port for GeoPackage data access.
type GeoPackageRepository interface {
	// Open opens a GeoPackage file and returns its metadata.
	Open(ctx context.Context, path string) (*domain.GeoPackage, error)

	// Close closes a GeoPackage connection.
	Close(ctx context.Context, packageID string) error

	// GetTables returns all feature tables in a GeoPackage.
	GetTables(ctx context.Context, packageID string) ([]domain.FeatureTable, error)

	// FeatureStore returns row access for a feature table.
	FeatureStore(ctx context.Context, packageID, table string) (FeatureStore, error)

	// IndexFactory returns the index backend factory for a feature table.
	IndexFactory(ctx context.Context, packageID, table string) (IndexFactory, error)
}

// FeatureStore provides row access to one feature table. All readers of a
// table share the connection behind the store.
type FeatureStore interface {
	// Table returns the table metadata.
	Table() domain.FeatureTable

	// Scan returns every row matching the optional predicate.
	Scan(ctx context.Context, where *domain.Where) (FeatureCursor, error)

	// Count counts the rows matching the optional predicate.
	Count(ctx context.Context, where *domain.Where) (int64, error)

	// QueryIDs returns the rows with the given ids that match the predicate.
	QueryIDs(ctx context.Context, ids []int64, where *domain.Where) (FeatureCursor, error)

	// CountIDs counts the rows with the given ids that match the predicate.
	CountIDs(ctx context.Context, ids []int64, where *domain.Where) (int64, error)

	// BuildWhere compiles a field equality map into a predicate.
	BuildWhere(fields map[string]interface{}) *domain.Where
}

// CoordinateTransformer defines the secondary port for coordinate transformations.
type CoordinateTransformer interface {
	// Transform transforms a coordinate from its SRID to targetSRID.
	Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error)

	// IsSupported checks if a transformation is supported.
	IsSupported(sourceSRID, targetSRID int) bool
}
