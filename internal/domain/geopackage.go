package domain

import "time"

// GeoPackage represents an opened GeoPackage file.
type GeoPackage struct {
	ID       string         // Unique identifier (derived from filename)
	Name     string         // Display name
	Path     string         // File path
	Size     int64          // File size in bytes
	Tables   []FeatureTable // Feature tables
	LoadedAt time.Time      // Load timestamp
}

// IsIndexed returns true if every feature table has at least one built index.
func (g *GeoPackage) IsIndexed() bool {
	for _, table := range g.Tables {
		if table.IndexedKind == IndexNone {
			return false
		}
	}
	return true
}

// TableCount returns the number of feature tables.
func (g *GeoPackage) TableCount() int {
	return len(g.Tables)
}

// GetTable returns a feature table by name.
func (g *GeoPackage) GetTable(name string) (*FeatureTable, bool) {
	for i := range g.Tables {
		if g.Tables[i].Name == name {
			return &g.Tables[i], true
		}
	}
	return nil, false
}

// FeatureTable describes a feature table registered in gpkg_contents.
type FeatureTable struct {
	Name           string    // Table name from gpkg_contents.table_name
	Description    string    // Table description
	GeometryColumn string    // Name of the geometry column
	GeometryType   string    // Geometry type (POINT, POLYGON, ...)
	PrimaryKey     string    // Integer primary key column
	SRID           int       // Spatial Reference ID of the geometry column
	FeatureCount   int64     // Number of rows
	Extent         *Envelope // Bounding box from gpkg_contents (optional)
	IndexedKind    IndexKind // First built index in query order
}

// RTreeName returns the name of the R-tree extension table of the feature table.
func (t *FeatureTable) RTreeName() string {
	return "rtree_" + t.Name + "_" + t.GeometryColumn
}

// GeoPackageStatus represents the status of a GeoPackage.
type GeoPackageStatus string

const (
	StatusLoading   GeoPackageStatus = "loading"
	StatusIndexing  GeoPackageStatus = "indexing"
	StatusReady     GeoPackageStatus = "ready"
	StatusError     GeoPackageStatus = "error"
	StatusUnloading GeoPackageStatus = "unloading"
)
