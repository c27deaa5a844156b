package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// Repository implements the GeoPackageRepository port. It owns one connection
// per open package; feature stores and index backends borrow it.
type Repository struct {
	mu           sync.RWMutex
	connections  map[string]*sql.DB
	packages     map[string]*domain.GeoPackage
	sideStoreDir string
}

// NewRepository creates a new GeoPackage repository. Side store files are
// written to sideStoreDir, or next to each package when it is empty.
func NewRepository(sideStoreDir string) *Repository {
	return &Repository{
		connections:  make(map[string]*sql.DB),
		packages:     make(map[string]*domain.GeoPackage),
		sideStoreDir: sideStoreDir,
	}
}

// Open opens a GeoPackage file and returns its metadata.
func (r *Repository) Open(ctx context.Context, path string) (*domain.GeoPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	packageID := DerivePackageID(path)

	if pkg, ok := r.packages[packageID]; ok {
		return pkg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, &domain.StorageError{
			Operation: "open",
			Key:       path,
			Err:       err,
		}
	}

	pkg, err := readPackageMetadata(ctx, db, packageID, path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	pkg.Size = info.Size()

	r.connections[packageID] = db
	r.packages[packageID] = pkg

	return pkg, nil
}

// Close closes a GeoPackage connection.
func (r *Repository) Close(_ context.Context, packageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	db, ok := r.connections[packageID]
	if !ok {
		return nil
	}

	if err := db.Close(); err != nil {
		return err
	}

	delete(r.connections, packageID)
	delete(r.packages, packageID)
	return nil
}

// GetTables returns all feature tables in a GeoPackage.
func (r *Repository) GetTables(_ context.Context, packageID string) ([]domain.FeatureTable, error) {
	r.mu.RLock()
	pkg, ok := r.packages[packageID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrPackageNotFound
	}

	return pkg.Tables, nil
}

// FeatureStore returns row access for a feature table.
func (r *Repository) FeatureStore(_ context.Context, packageID, table string) (output.FeatureStore, error) {
	db, t, err := r.lookup(packageID, table)
	if err != nil {
		return nil, err
	}
	return NewFeatureDAO(db, t), nil
}

// IndexFactory returns the index backend factory for a feature table.
func (r *Repository) IndexFactory(_ context.Context, packageID, table string) (output.IndexFactory, error) {
	db, t, err := r.lookup(packageID, table)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	dir := r.sideStoreDir
	if dir == "" {
		dir = filepath.Dir(r.packages[packageID].Path)
	}
	r.mu.RUnlock()

	return NewIndexFactory(db, NewFeatureDAO(db, t), packageID, dir), nil
}

// SideStoreDir returns the side store directory of a package.
func (r *Repository) SideStoreDir(packageID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.sideStoreDir != "" {
		return r.sideStoreDir
	}
	if pkg, ok := r.packages[packageID]; ok {
		return filepath.Dir(pkg.Path)
	}
	return ""
}

func (r *Repository) lookup(packageID, table string) (*sql.DB, domain.FeatureTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	db, ok := r.connections[packageID]
	if !ok {
		return nil, domain.FeatureTable{}, domain.ErrPackageNotFound
	}
	t, found := r.packages[packageID].GetTable(table)
	if !found {
		return nil, domain.FeatureTable{}, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	return db, *t, nil
}

// openDB opens the GeoPackage read-write so that indexes can be added. Feature
// rows are never modified by this module.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// readPackageMetadata reads metadata from a GeoPackage.
func readPackageMetadata(ctx context.Context, db *sql.DB, packageID, path string) (*domain.GeoPackage, error) {
	ok, err := tableExists(ctx, db, "gpkg_contents")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is not a GeoPackage: %w", path, domain.ErrInvalidInput)
	}

	tables, err := readTables(ctx, db)
	if err != nil {
		return nil, err
	}

	return &domain.GeoPackage{
		ID:       packageID,
		Name:     packageID,
		Path:     path,
		Tables:   tables,
		LoadedAt: time.Now(),
	}, nil
}

// readTables reads feature table information from gpkg_contents.
func readTables(ctx context.Context, db *sql.DB) ([]domain.FeatureTable, error) {
	query := `
		SELECT
			c.table_name,
			COALESCE(c.description, ''),
			g.column_name,
			g.geometry_type_name,
			g.srs_id,
			c.min_x, c.max_x, c.min_y, c.max_y
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading feature tables: %w", err)
	}

	var tables []domain.FeatureTable
	for rows.Next() {
		var t domain.FeatureTable
		var minX, maxX, minY, maxY sql.NullFloat64

		err := rows.Scan(
			&t.Name, &t.Description, &t.GeometryColumn,
			&t.GeometryType, &t.SRID,
			&minX, &maxX, &minY, &maxY,
		)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning feature table: %w", err)
		}
		t.GeometryType = strings.ToUpper(t.GeometryType)

		if minX.Valid && maxX.Valid && minY.Valid && maxY.Valid {
			extent := domain.NewEnvelope(minX.Float64, maxX.Float64, minY.Float64, maxY.Float64, t.SRID)
			t.Extent = &extent
		}

		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Per-table queries run after the listing is closed
	for i := range tables {
		pk, err := primaryKey(ctx, db, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].PrimaryKey = pk

		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", domain.QuoteIdent(tables[i].Name)) //#nosec G201 -- table name from gpkg_contents
		if err := db.QueryRowContext(ctx, countQuery).Scan(&tables[i].FeatureCount); err != nil {
			return nil, &domain.QueryError{Table: tables[i].Name, Err: err}
		}
	}

	return tables, nil
}

// primaryKey returns the integer primary key column of a table, "fid" when
// none is declared.
func primaryKey(ctx context.Context, db *sql.DB, table string) (string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", domain.QuoteIdent(table))) //#nosec G201 -- table name from gpkg_contents
	if err != nil {
		return "", &domain.QueryError{Table: table, Err: err}
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return "", err
		}
		if pk == 1 && strings.EqualFold(colType, "INTEGER") {
			return name, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "fid", nil
}

// DerivePackageID derives a package ID from the file path.
// It extracts the filename without extension as the package identifier.
func DerivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
