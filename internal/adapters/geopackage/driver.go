// Package geopackage provides the SQLite-based GeoPackage repository and the
// index backends that live inside a GeoPackage file.
package geopackage

import (
	"database/sql"
	"os"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// Driver names registered by this package.
const (
	// DriverName opens GeoPackages with the ST_* functions the R-tree
	// extension triggers depend on.
	DriverName = "gpkg"

	// SpatiaLiteDriverName additionally loads mod_spatialite.
	SpatiaLiteDriverName = "sqlite3_with_extensions"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: registerFunctions,
	})
	sql.Register(SpatiaLiteDriverName, &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// registerFunctions installs the geometry envelope functions of the GeoPackage
// R-tree extension on a new connection.
func registerFunctions(conn *sqlite3.SQLiteConn) error {
	envelopeFuncs := map[string]func(domain.Envelope) float64{
		"ST_MinX": func(e domain.Envelope) float64 { return e.MinX },
		"ST_MaxX": func(e domain.Envelope) float64 { return e.MaxX },
		"ST_MinY": func(e domain.Envelope) float64 { return e.MinY },
		"ST_MaxY": func(e domain.Envelope) float64 { return e.MaxY },
	}
	for name, pick := range envelopeFuncs {
		if err := conn.RegisterFunc(name, envelopeFunc(pick), true); err != nil {
			return err
		}
	}
	return conn.RegisterFunc("ST_IsEmpty", stIsEmpty, true)
}

// envelopeFunc builds an SQL function returning one envelope bound of a
// geometry blob, or NULL for NULL and empty geometries.
func envelopeFunc(pick func(domain.Envelope) float64) func(interface{}) (interface{}, error) {
	return func(v interface{}) (interface{}, error) {
		data, ok := v.([]byte)
		if !ok || data == nil {
			return nil, nil
		}
		geom, err := DecodeGeometry(data)
		if err != nil {
			return nil, err
		}
		if geom.Empty {
			return nil, nil
		}
		return pick(geom.Envelope), nil
	}
}

// stIsEmpty returns 1 for empty geometries, 0 otherwise and NULL for NULL.
func stIsEmpty(v interface{}) (interface{}, error) {
	data, ok := v.([]byte)
	if !ok || data == nil {
		return nil, nil
	}
	geom, err := DecodeGeometry(data)
	if err != nil {
		return nil, err
	}
	if geom.Empty {
		return int64(1), nil
	}
	return int64(0), nil
}

// getSpatiaLiteLibraryPaths returns the SpatiaLite library to load. The
// driver loads every listed extension, so at most one path is returned: the
// environment variable, else the first platform path that exists.
func getSpatiaLiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	candidates := []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",

		// macOS Homebrew
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return []string{path}
		}
	}

	// Let the dynamic loader search LD_LIBRARY_PATH
	return []string{"mod_spatialite"}
}
