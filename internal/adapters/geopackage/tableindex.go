package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

const (
	tableIndexTable               = "nga_table_index"
	geometryIndexTable            = "nga_geometry_index"
	geometryIndexExtensionName    = "nga_geometry_index"
	geometryIndexExtensionDef     = "http://ngageoint.github.io/GeoPackage/docs/extensions/geometry-index.html"
	geometryIndexInsertBatchLimit = 1000
)

var tableIndexSchema = []string{
	`CREATE TABLE IF NOT EXISTS nga_table_index (
		table_name TEXT NOT NULL PRIMARY KEY,
		last_indexed DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS nga_geometry_index (
		table_name TEXT NOT NULL,
		geom_id INTEGER NOT NULL,
		min_x DOUBLE NOT NULL,
		max_x DOUBLE NOT NULL,
		min_y DOUBLE NOT NULL,
		max_y DOUBLE NOT NULL,
		CONSTRAINT pk_ngi PRIMARY KEY (table_name, geom_id),
		CONSTRAINT fk_ngi_nti_tn FOREIGN KEY (table_name) REFERENCES nga_table_index(table_name)
	)`,
}

// TableIndex is the geometry index extension backend. Envelopes are stored in
// nga_geometry_index inside the GeoPackage; nga_table_index.last_indexed is
// written only after a complete build.
type TableIndex struct {
	db        *sql.DB
	dao       *FeatureDAO
	table     domain.FeatureTable
	progress  output.Progress
	batchSize int
}

// NewTableIndex creates the table index backend of a feature table.
func NewTableIndex(db *sql.DB, dao *FeatureDAO) *TableIndex {
	return &TableIndex{db: db, dao: dao, table: dao.Table(), batchSize: geometryIndexInsertBatchLimit}
}

// Kind implements IndexBackend.
func (t *TableIndex) Kind() domain.IndexKind {
	return domain.IndexExtensionTable
}

// Index reads the feature table in pages of batchSize rows and commits the
// envelopes of each page before reading the next. A cancelled build keeps the
// rows written so far but leaves the index unmarked, so Exists stays false.
func (t *TableIndex) Index(ctx context.Context, force bool) (int64, error) {
	exists, err := t.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if exists && !force {
		return 0, nil
	}

	if err := t.prepare(ctx); err != nil {
		return 0, err
	}

	// Cancellation stops the scan, not the write of what was scanned.
	wctx := context.WithoutCancel(ctx)

	// Each page is read and its cursor closed before the page is written, so
	// no read lock on the package is held across a commit.
	var count int64
	after := int64(math.MinInt64)
	for {
		page, last, more, err := t.readPage(ctx, after)
		if err != nil {
			return 0, err
		}
		if err := t.write(wctx, page); err != nil {
			return 0, err
		}
		count += int64(len(page))
		if !more {
			break
		}
		after = last
	}

	// A stopped build leaves the index unmarked.
	if ctx.Err() != nil || (t.progress != nil && !t.progress.IsActive()) {
		return count, nil
	}
	if err := t.markIndexed(wctx); err != nil {
		return 0, err
	}
	return count, nil
}

// IndexFeature updates the entry of one feature. It does nothing when the
// table has not been indexed.
func (t *TableIndex) IndexFeature(ctx context.Context, feature *domain.Feature) (bool, error) {
	exists, err := t.Exists(ctx)
	if err != nil || !exists {
		return false, err
	}

	env, ok := feature.Envelope()
	if !ok {
		_, err := t.DeleteFeature(ctx, feature.ID)
		return false, err
	}

	if err := t.write(ctx, []indexEntry{{id: feature.ID, env: env}}); err != nil {
		return false, err
	}
	return true, t.markIndexed(ctx)
}

// DeleteFeature removes the entry of one feature.
func (t *TableIndex) DeleteFeature(ctx context.Context, id int64) (bool, error) {
	present, err := tableExists(ctx, t.db, geometryIndexTable)
	if err != nil || !present {
		return false, err
	}
	res, err := t.db.ExecContext(ctx,
		"DELETE FROM nga_geometry_index WHERE table_name = ? AND geom_id = ?", t.table.Name, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteIndex removes all entries and the table row of the feature table.
func (t *TableIndex) DeleteIndex(ctx context.Context) (bool, error) {
	present, err := tableExists(ctx, t.db, tableIndexTable)
	if err != nil || !present {
		return false, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64
	for _, stmt := range []string{
		"DELETE FROM nga_geometry_index WHERE table_name = ?",
		"DELETE FROM nga_table_index WHERE table_name = ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, t.table.Name)
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if err := unregisterExtension(ctx, tx, t.table, geometryIndexExtensionName); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Exists reports whether a complete build has been recorded.
func (t *TableIndex) Exists(ctx context.Context) (bool, error) {
	_, ok, err := t.LastIndexed(ctx)
	return ok, err
}

// LastIndexed returns the time of the last complete build.
func (t *TableIndex) LastIndexed(ctx context.Context) (time.Time, bool, error) {
	present, err := tableExists(ctx, t.db, tableIndexTable)
	if err != nil || !present {
		return time.Time{}, false, err
	}

	var lastIndexed sql.NullString
	err = t.db.QueryRowContext(ctx,
		"SELECT last_indexed FROM nga_table_index WHERE table_name = ?", t.table.Name,
	).Scan(&lastIndexed)
	if err == sql.ErrNoRows || (err == nil && !lastIndexed.Valid) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	ts, err := time.Parse(time.RFC3339Nano, lastIndexed.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing last_indexed %q: %w", lastIndexed.String, err)
	}
	return ts, true, nil
}

// Query returns the features whose stored envelope intersects env.
func (t *TableIndex) Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	return t.dao.Scan(ctx, And(t.idsIn(env), where))
}

// Count counts the features whose stored envelope intersects env.
func (t *TableIndex) Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	if where.IsEmpty() {
		query, args := t.entries("COUNT(*)", env)
		var count int64
		if err := t.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}
	return t.dao.Count(ctx, And(t.idsIn(env), where))
}

// Bounds returns the envelope of all stored entries.
func (t *TableIndex) Bounds(ctx context.Context) (domain.Envelope, bool, error) {
	return scanBounds(ctx, t.db, t.table.SRID,
		"SELECT MIN(min_x), MAX(max_x), MIN(min_y), MAX(max_y) FROM nga_geometry_index WHERE table_name = ?",
		t.table.Name)
}

// SetProgress sets the progress consulted during builds.
func (t *TableIndex) SetProgress(progress output.Progress) {
	t.progress = progress
}

// Close implements IndexBackend. The connection belongs to the repository.
func (t *TableIndex) Close() error {
	return nil
}

// prepare creates the extension tables, registers the extension and resets
// the entries of the feature table.
func (t *TableIndex) prepare(ctx context.Context) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range tableIndexSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating table index schema: %w", err)
		}
	}
	if err := registerExtension(ctx, tx, t.table, geometryIndexExtensionName, geometryIndexExtensionDef, "read-write"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM nga_geometry_index WHERE table_name = ?", t.table.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO nga_table_index (table_name, last_indexed) VALUES (?, NULL)", t.table.Name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *TableIndex) markIndexed(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO nga_table_index (table_name, last_indexed) VALUES (?, ?)",
		t.table.Name, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// entries selects from nga_geometry_index for the table, filtered by env when set.
func (t *TableIndex) entries(columns string, env *domain.Envelope) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM nga_geometry_index WHERE table_name = ?", columns) //#nosec G201 -- fixed column list
	args := []interface{}{t.table.Name}
	if env == nil {
		return query, args
	}
	query += " AND min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?"
	return query, append(args, env.MaxX, env.MinX, env.MaxY, env.MinY)
}

// idsIn returns the predicate restricting the feature table to index hits.
func (t *TableIndex) idsIn(env *domain.Envelope) *domain.Where {
	query, args := t.entries("geom_id", env)
	return domain.NewWhere(domain.QuoteIdent(t.table.PrimaryKey)+" IN ("+query+")", args...)
}

// indexEntry is one geometry envelope read for the index.
type indexEntry struct {
	id  int64
	env domain.Envelope
}

// readPage reads up to batchSize rows after the given primary key. more is
// false once the table is exhausted or the build was stopped by progress or
// ctx; the entries read until then are returned.
func (t *TableIndex) readPage(ctx context.Context, after int64) (entries []indexEntry, last int64, more bool, err error) {
	size := t.batchSize
	if size <= 0 {
		size = geometryIndexInsertBatchLimit
	}
	if ctx.Err() != nil {
		return nil, after, false, nil
	}

	cursor, err := t.dao.ScanPage(ctx, after, size)
	if err != nil {
		if ctx.Err() != nil {
			return nil, after, false, nil
		}
		return nil, after, false, err
	}
	defer func() { _ = cursor.Close() }()

	last = after
	rows := 0
	for {
		if ctx.Err() != nil || (t.progress != nil && !t.progress.IsActive()) {
			return entries, last, false, nil
		}
		if !cursor.Next() {
			break
		}
		feature := cursor.Feature()
		last = feature.ID
		rows++
		if env, ok := feature.Envelope(); ok {
			entries = append(entries, indexEntry{id: feature.ID, env: env})
		}
		if t.progress != nil {
			t.progress.Advance(1)
		}
	}

	if err := cursor.Err(); err != nil {
		if ctx.Err() != nil {
			return entries, last, false, nil
		}
		return nil, after, false, err
	}
	return entries, last, rows == size, nil
}

// write stores one page of entries in a single transaction.
func (t *TableIndex) write(ctx context.Context, entries []indexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO nga_geometry_index
		(table_name, geom_id, min_x, max_x, min_y, max_y) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, t.table.Name, e.id, e.env.MinX, e.env.MaxX, e.env.MinY, e.env.MaxY); err != nil {
			return fmt.Errorf("indexing feature %d: %w", e.id, err)
		}
	}
	return tx.Commit()
}
