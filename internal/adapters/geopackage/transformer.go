package geopackage

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

const transformCacheSize = 4096

// Transformer implements coordinate transformation using an in-memory
// SpatiaLite database. GeoPackages lack the spatial_ref_sys table that
// ST_Transform needs, so a separate database holds the EPSG definitions.
type Transformer struct {
	db    *sql.DB
	cache *lru.Cache[transformKey, domain.Coordinate]
}

type transformKey struct {
	x, y     float64
	src, dst int
}

// NewTransformer opens the in-memory SpatiaLite database. It fails when
// mod_spatialite cannot be loaded.
func NewTransformer(ctx context.Context) (*Transformer, error) {
	db, err := sql.Open(SpatiaLiteDriverName, ":memory:")
	if err != nil {
		return nil, err
	}
	// Each pooled connection would get its own empty in-memory database
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	// InitSpatialMetaDataFull populates spatial_ref_sys with the EPSG definitions
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}

	cache, err := lru.New[transformKey, domain.Coordinate](transformCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Transformer{db: db, cache: cache}, nil
}

// Transform transforms a coordinate from its SRID to targetSRID.
func (t *Transformer) Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	if coord.SRID == targetSRID {
		return coord, nil
	}

	key := transformKey{x: coord.X, y: coord.Y, src: coord.SRID, dst: targetSRID}
	if c, ok := t.cache.Get(key); ok {
		return c, nil
	}

	query := `SELECT X(Transform(MakePoint(?, ?, ?), ?)), Y(Transform(MakePoint(?, ?, ?), ?))`

	var x, y sql.NullFloat64
	err := t.db.QueryRowContext(ctx, query,
		coord.X, coord.Y, coord.SRID, targetSRID,
		coord.X, coord.Y, coord.SRID, targetSRID,
	).Scan(&x, &y)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("transforming coordinate: %w", err)
	}
	if !x.Valid || !y.Valid {
		return domain.Coordinate{}, fmt.Errorf("%w: EPSG:%d to EPSG:%d", domain.ErrUnsupportedProjection, coord.SRID, targetSRID)
	}

	result := domain.NewCoordinate(x.Float64, y.Float64, targetSRID)
	t.cache.Add(key, result)
	return result, nil
}

// IsSupported checks if both SRIDs are known to SpatiaLite.
func (t *Transformer) IsSupported(sourceSRID, targetSRID int) bool {
	if sourceSRID == targetSRID {
		return true
	}
	var count int
	err := t.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM spatial_ref_sys WHERE srid IN (?, ?)",
		sourceSRID, targetSRID,
	).Scan(&count)
	return err == nil && count == 2
}

// Close closes the transformer's database connection.
func (t *Transformer) Close() error {
	return t.db.Close()
}
