package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

const (
	rtreeExtensionName       = "gpkg_rtree_index"
	rtreeExtensionDefinition = "http://www.geopackage.org/spec120/#extension_rtree"
)

// RTreeIndex is the GeoPackage R-tree extension backend. Once created the
// index is maintained by triggers, so single-feature maintenance is a no-op.
type RTreeIndex struct {
	db    *sql.DB
	dao   *FeatureDAO
	table domain.FeatureTable
}

// NewRTreeIndex creates the R-tree backend of a feature table.
func NewRTreeIndex(db *sql.DB, dao *FeatureDAO) *RTreeIndex {
	return &RTreeIndex{db: db, dao: dao, table: dao.Table()}
}

// Kind implements IndexBackend.
func (r *RTreeIndex) Kind() domain.IndexKind {
	return domain.IndexNativeExtension
}

// Index creates the R-tree table, fills it and installs the triggers. It has
// no cancellation point once started.
func (r *RTreeIndex) Index(ctx context.Context, force bool) (int64, error) {
	exists, err := r.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if exists && !force {
		return 0, nil
	}
	if exists {
		if _, err := r.DeleteIndex(ctx); err != nil {
			return 0, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range r.createStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("creating R-tree index: %w", err)
		}
	}
	if err := registerExtension(ctx, tx, r.table, rtreeExtensionName, rtreeExtensionDefinition, "write-only"); err != nil {
		return 0, err
	}

	var count int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.rtree()).Scan(&count); err != nil { //#nosec G202 -- quoted identifier
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// IndexFeature is a no-op: triggers keep the R-tree current.
func (r *RTreeIndex) IndexFeature(_ context.Context, _ *domain.Feature) (bool, error) {
	return true, nil
}

// DeleteFeature is a no-op: triggers keep the R-tree current.
func (r *RTreeIndex) DeleteFeature(_ context.Context, _ int64) (bool, error) {
	return true, nil
}

// DeleteIndex drops the triggers, the R-tree table and the extension row.
// It reports true even when there was nothing to drop.
func (r *RTreeIndex) DeleteIndex(ctx context.Context) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, suffix := range rtreeTriggerSuffixes {
		stmt := "DROP TRIGGER IF EXISTS " + domain.QuoteIdent(r.table.RTreeName()+"_"+suffix)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+r.rtree()); err != nil {
		return false, err
	}
	if err := unregisterExtension(ctx, tx, r.table, rtreeExtensionName); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Exists checks for the R-tree virtual table.
func (r *RTreeIndex) Exists(ctx context.Context) (bool, error) {
	return tableExists(ctx, r.db, r.table.RTreeName())
}

// LastIndexed returns the current time when the index exists, since the
// triggers keep it up to date.
func (r *RTreeIndex) LastIndexed(ctx context.Context) (time.Time, bool, error) {
	exists, err := r.Exists(ctx)
	if err != nil || !exists {
		return time.Time{}, false, err
	}
	return time.Now().UTC(), true, nil
}

// Query returns the features whose R-tree entry intersects env.
func (r *RTreeIndex) Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	return r.dao.Scan(ctx, And(r.idsIn(env), where))
}

// Count counts the features whose R-tree entry intersects env.
func (r *RTreeIndex) Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	if where.IsEmpty() {
		query, args := r.entries("COUNT(*)", env)
		var count int64
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}
	return r.dao.Count(ctx, And(r.idsIn(env), where))
}

// Bounds returns the envelope of all R-tree entries.
func (r *RTreeIndex) Bounds(ctx context.Context) (domain.Envelope, bool, error) {
	query := "SELECT MIN(minx), MAX(maxx), MIN(miny), MAX(maxy) FROM " + r.rtree() //#nosec G202 -- quoted identifier
	return scanBounds(ctx, r.db, r.table.SRID, query)
}

// SetProgress is ignored; the R-tree is filled by a single statement.
func (r *RTreeIndex) SetProgress(_ output.Progress) {}

// Close implements IndexBackend. The connection belongs to the repository.
func (r *RTreeIndex) Close() error {
	return nil
}

func (r *RTreeIndex) rtree() string {
	return domain.QuoteIdent(r.table.RTreeName())
}

// entries selects from the R-tree, filtered by env when set.
func (r *RTreeIndex) entries(columns string, env *domain.Envelope) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM %s", columns, r.rtree()) //#nosec G201 -- quoted identifier
	if env == nil {
		return query, nil
	}
	query += " WHERE minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?"
	return query, []interface{}{env.MaxX, env.MinX, env.MaxY, env.MinY}
}

// idsIn returns the predicate restricting the feature table to R-tree hits.
func (r *RTreeIndex) idsIn(env *domain.Envelope) *domain.Where {
	query, args := r.entries("id", env)
	return domain.NewWhere(domain.QuoteIdent(r.table.PrimaryKey)+" IN ("+query+")", args...)
}

var rtreeTriggerSuffixes = []string{"insert", "update1", "update2", "update3", "update4", "delete"}

// createStatements returns the DDL of the R-tree extension for the table.
func (r *RTreeIndex) createStatements() []string {
	t := domain.QuoteIdent(r.table.Name)
	c := domain.QuoteIdent(r.table.GeometryColumn)
	i := domain.QuoteIdent(r.table.PrimaryKey)
	rt := r.rtree()
	bounds := fmt.Sprintf("ST_MinX(NEW.%[1]s), ST_MaxX(NEW.%[1]s), ST_MinY(NEW.%[1]s), ST_MaxY(NEW.%[1]s)", c)

	// Trigger bodies reference: 1 trigger, 2 table, 3 column, 4 id, 5 rtree, 6 bounds.
	trigger := func(suffix, body string) string {
		name := domain.QuoteIdent(r.table.RTreeName() + "_" + suffix)
		return fmt.Sprintf("CREATE TRIGGER %[1]s "+body, name, t, c, i, rt, bounds)
	}

	return []string{
		fmt.Sprintf("CREATE VIRTUAL TABLE %s USING rtree(id, minx, maxx, miny, maxy)", rt),
		fmt.Sprintf(`INSERT OR REPLACE INTO %[1]s
			SELECT %[2]s, ST_MinX(%[3]s), ST_MaxX(%[3]s), ST_MinY(%[3]s), ST_MaxY(%[3]s)
			FROM %[4]s WHERE %[3]s NOT NULL AND NOT ST_IsEmpty(%[3]s)`, rt, i, c, t),
		trigger("insert", `AFTER INSERT ON %[2]s
			WHEN (NEW.%[3]s NOT NULL AND NOT ST_IsEmpty(NEW.%[3]s))
			BEGIN
				INSERT OR REPLACE INTO %[5]s VALUES (NEW.%[4]s, %[6]s);
			END`),
		trigger("update1", `AFTER UPDATE OF %[3]s ON %[2]s
			WHEN OLD.%[4]s = NEW.%[4]s AND (NEW.%[3]s NOTNULL AND NOT ST_IsEmpty(NEW.%[3]s))
			BEGIN
				INSERT OR REPLACE INTO %[5]s VALUES (NEW.%[4]s, %[6]s);
			END`),
		trigger("update2", `AFTER UPDATE OF %[3]s ON %[2]s
			WHEN OLD.%[4]s = NEW.%[4]s AND (NEW.%[3]s ISNULL OR ST_IsEmpty(NEW.%[3]s))
			BEGIN
				DELETE FROM %[5]s WHERE id = OLD.%[4]s;
			END`),
		trigger("update3", `AFTER UPDATE ON %[2]s
			WHEN OLD.%[4]s != NEW.%[4]s AND (NEW.%[3]s NOTNULL AND NOT ST_IsEmpty(NEW.%[3]s))
			BEGIN
				DELETE FROM %[5]s WHERE id = OLD.%[4]s;
				INSERT OR REPLACE INTO %[5]s VALUES (NEW.%[4]s, %[6]s);
			END`),
		trigger("update4", `AFTER UPDATE ON %[2]s
			WHEN OLD.%[4]s != NEW.%[4]s AND (NEW.%[3]s ISNULL OR ST_IsEmpty(NEW.%[3]s))
			BEGIN
				DELETE FROM %[5]s WHERE id IN (OLD.%[4]s, NEW.%[4]s);
			END`),
		trigger("delete", `AFTER DELETE ON %[2]s
			WHEN OLD.%[3]s NOT NULL
			BEGIN
				DELETE FROM %[5]s WHERE id = OLD.%[4]s;
			END`),
	}
}

// tableExists checks sqlite_master for a table of the given name.
func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanBounds runs a MIN/MAX aggregate query. ok is false when no rows matched.
func scanBounds(ctx context.Context, db *sql.DB, srid int, query string, args ...interface{}) (domain.Envelope, bool, error) {
	var minX, maxX, minY, maxY sql.NullFloat64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&minX, &maxX, &minY, &maxY); err != nil {
		return domain.Envelope{}, false, err
	}
	if !minX.Valid || !maxX.Valid || !minY.Valid || !maxY.Valid {
		return domain.Envelope{}, false, nil
	}
	return domain.NewEnvelope(minX.Float64, maxX.Float64, minY.Float64, maxY.Float64, srid), true, nil
}

// registerExtension records the extension for the table in gpkg_extensions.
func registerExtension(ctx context.Context, tx *sql.Tx, table domain.FeatureTable, name, definition, scope string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gpkg_extensions (
			table_name TEXT,
			column_name TEXT,
			extension_name TEXT NOT NULL,
			definition TEXT NOT NULL,
			scope TEXT NOT NULL,
			CONSTRAINT ge_tce UNIQUE (table_name, column_name, extension_name)
		)`,
		`DELETE FROM gpkg_extensions WHERE table_name = ? AND column_name = ? AND extension_name = ?`,
		`INSERT INTO gpkg_extensions (table_name, column_name, extension_name, definition, scope) VALUES (?, ?, ?, ?, ?)`,
	}
	if _, err := tx.ExecContext(ctx, stmts[0]); err != nil {
		return fmt.Errorf("creating gpkg_extensions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmts[1], table.Name, table.GeometryColumn, name); err != nil {
		return fmt.Errorf("registering extension %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, stmts[2], table.Name, table.GeometryColumn, name, definition, scope); err != nil {
		return fmt.Errorf("registering extension %s: %w", name, err)
	}
	return nil
}

// unregisterExtension removes the extension row of the table if gpkg_extensions exists.
func unregisterExtension(ctx context.Context, tx *sql.Tx, table domain.FeatureTable, name string) error {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'gpkg_extensions'",
	).Scan(&count)
	if err != nil || count == 0 {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM gpkg_extensions WHERE table_name = ? AND column_name = ? AND extension_name = ?",
		table.Name, table.GeometryColumn, name,
	)
	return err
}
