package geopackage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

const (
	fixturePackage = "places"
	fixtureTable   = "places"
)

// fixtureRow is one row of the places fixture table. A nil geometry is
// stored as NULL.
type fixtureRow struct {
	geom  orb.Geometry
	name  string
	class string
}

// Coordinates are exact in float32 so that R-tree bounds compare equal.
var fixtureRows = []fixtureRow{
	{orb.Point{1, 1}, "a", "shop"},
	{orb.Point{2, 2}, "b", "park"},
	{orb.Point{3.5, 3.5}, "c", "shop"},
	{orb.Point{10, 10}, "d", "park"},
	{nil, "e", "shop"},
	{orb.LineString{}, "f", "park"},
}

// fixtureEnvelope intersects features 1 and 2.
var fixtureEnvelope = domain.NewEnvelope(0.5, 3, 0.5, 3, domain.SRIDWGS84)

// newFixturePackage writes a minimal GeoPackage with one feature table and
// one attributes table and returns its path.
func newFixturePackage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), fixturePackage+".gpkg")
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT,
			description TEXT DEFAULT '',
			last_change DATETIME,
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL
		)`,
		`CREATE TABLE places (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB, name TEXT, class TEXT)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
			VALUES ('places', 'features', 'places', 'Points of interest', 1, 1, 10, 10, 4326)`,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier) VALUES ('notes', 'attributes', 'notes')`,
		`INSERT INTO gpkg_geometry_columns VALUES ('places', 'geom', 'point', 4326, 0, 0)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}

	for _, row := range fixtureRows {
		insertRow(t, db, row)
	}
	return path
}

// insertRow appends a row to the places table and returns its id.
func insertRow(t *testing.T, db *sql.DB, row fixtureRow) int64 {
	t.Helper()

	var blob interface{}
	if row.geom != nil {
		data, err := EncodeGeometry(row.geom, domain.SRIDWGS84)
		require.NoError(t, err)
		blob = data
	}
	res, err := db.Exec("INSERT INTO places (geom, name, class) VALUES (?, ?, ?)", blob, row.name, row.class)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// openFixture opens the fixture package and returns the repository and the
// store of the places table.
func openFixture(t *testing.T) (*Repository, *FeatureDAO) {
	t.Helper()

	ctx := context.Background()
	repo := NewRepository(t.TempDir())
	_, err := repo.Open(ctx, newFixturePackage(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(ctx, fixturePackage) })

	db, table, err := repo.lookup(fixturePackage, fixtureTable)
	require.NoError(t, err)
	return repo, NewFeatureDAO(db, table)
}

// idsOf returns a function draining a cursor into its sorted feature ids,
// so that it can wrap a (cursor, error) call directly.
func idsOf(t *testing.T) func(output.FeatureCursor, error) []int64 {
	return func(cursor output.FeatureCursor, err error) []int64 {
		t.Helper()
		require.NoError(t, err)

		features, err := collect(cursor)
		require.NoError(t, err)

		out := make([]int64, 0, len(features))
		for _, f := range features {
			out = append(out, f.ID)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
}

// stopAfter is a progress that becomes inactive after n records.
type stopAfter struct {
	n, seen int
}

func (p *stopAfter) IsActive() bool { return p.seen < p.n }

func (p *stopAfter) Advance(n int) { p.seen += n }
