package sidestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

const insertBatchSize = 1000

// Backend is the side store index of one feature table.
type Backend struct {
	store    *Store
	features output.FeatureStore
	table    domain.FeatureTable
	progress output.Progress
}

// NewBackend creates the side store backend of a feature table. The backend
// owns store and closes it in Close.
func NewBackend(store *Store, features output.FeatureStore) *Backend {
	return &Backend{
		store:    store,
		features: features,
		table:    features.Table(),
	}
}

// Kind implements IndexBackend.
func (b *Backend) Kind() domain.IndexKind {
	return domain.IndexSideStore
}

// Index streams the feature table into the side store. The build holds the
// file lock for its whole duration. When stopped by progress or ctx the rows
// written so far are kept and the table stays unmarked.
func (b *Backend) Index(ctx context.Context, force bool) (int64, error) {
	exists, err := b.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if exists && !force {
		return 0, nil
	}

	if err := b.store.TryLock(); err != nil {
		return 0, err
	}
	defer func() { _ = b.store.Unlock() }()

	db, err := b.store.DB(ctx, true)
	if err != nil {
		return 0, err
	}
	if err := b.reset(ctx, db); err != nil {
		return 0, err
	}

	cursor, err := b.features.Scan(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = cursor.Close() }()

	// Writes must finish even when the scan is cancelled.
	wctx := context.WithoutCancel(ctx)

	var count int64
	batch := newBatch(wctx, db, b.table.Name)
	complete := false
	for {
		if ctx.Err() != nil || (b.progress != nil && !b.progress.IsActive()) {
			break
		}
		if !cursor.Next() {
			complete = cursor.Err() == nil
			break
		}
		if env, ok := cursor.Feature().Envelope(); ok {
			if err := batch.add(cursor.Feature().ID, env); err != nil {
				batch.abort()
				return 0, err
			}
			count++
		}
		if b.progress != nil {
			b.progress.Advance(1)
		}
	}
	if err := batch.flush(); err != nil {
		return 0, err
	}

	if err := cursor.Err(); err != nil && ctx.Err() == nil {
		return 0, err
	}
	if complete {
		if err := b.markIndexed(wctx, db); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// IndexFeature updates the entry of one feature of an indexed table.
func (b *Backend) IndexFeature(ctx context.Context, feature *domain.Feature) (bool, error) {
	exists, err := b.Exists(ctx)
	if err != nil || !exists {
		return false, err
	}

	env, ok := feature.Envelope()
	if !ok {
		_, err := b.DeleteFeature(ctx, feature.ID)
		return false, err
	}

	db, err := b.store.DB(ctx, true)
	if err != nil {
		return false, err
	}
	_, err = db.ExecContext(ctx, `INSERT OR REPLACE INTO geometry_index
		(table_name, geom_id, min_x, max_x, min_y, max_y) VALUES (?, ?, ?, ?, ?, ?)`,
		b.table.Name, feature.ID, env.MinX, env.MaxX, env.MinY, env.MaxY)
	if err != nil {
		return false, err
	}
	return true, b.markIndexed(ctx, db)
}

// DeleteFeature removes the entry of one feature.
func (b *Backend) DeleteFeature(ctx context.Context, id int64) (bool, error) {
	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return false, err
	}
	res, err := db.ExecContext(ctx,
		"DELETE FROM geometry_index WHERE table_name = ? AND geom_id = ?", b.table.Name, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteIndex removes all entries of the feature table.
func (b *Backend) DeleteIndex(ctx context.Context) (bool, error) {
	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64
	for _, stmt := range []string{
		"DELETE FROM geometry_index WHERE table_name = ?",
		"DELETE FROM table_index WHERE table_name = ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, b.table.Name)
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Exists reports whether a complete build has been recorded.
func (b *Backend) Exists(ctx context.Context) (bool, error) {
	_, ok, err := b.LastIndexed(ctx)
	return ok, err
}

// LastIndexed returns the time of the last complete build.
func (b *Backend) LastIndexed(ctx context.Context) (time.Time, bool, error) {
	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return time.Time{}, false, err
	}

	var lastIndexed sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT last_indexed FROM table_index WHERE table_name = ?", b.table.Name,
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

// Query reads the matching ids from the side store and loads the features.
func (b *Backend) Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	ids, err := b.ids(ctx, env)
	if err != nil {
		return nil, err
	}
	return b.features.QueryIDs(ctx, ids, where)
}

// Count counts the matching entries. A predicate requires loading the rows.
func (b *Backend) Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	if !where.IsEmpty() {
		ids, err := b.ids(ctx, env)
		if err != nil {
			return 0, err
		}
		return b.features.CountIDs(ctx, ids, where)
	}

	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return 0, err
	}
	query, args := b.entries("COUNT(*)", env)
	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Bounds returns the envelope of all entries of the table.
func (b *Backend) Bounds(ctx context.Context) (domain.Envelope, bool, error) {
	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return domain.Envelope{}, false, err
	}

	var minX, maxX, minY, maxY sql.NullFloat64
	err = db.QueryRowContext(ctx,
		"SELECT MIN(min_x), MAX(max_x), MIN(min_y), MAX(max_y) FROM geometry_index WHERE table_name = ?",
		b.table.Name,
	).Scan(&minX, &maxX, &minY, &maxY)
	if err != nil {
		return domain.Envelope{}, false, err
	}
	if !minX.Valid {
		return domain.Envelope{}, false, nil
	}
	return domain.NewEnvelope(minX.Float64, maxX.Float64, minY.Float64, maxY.Float64, b.table.SRID), true, nil
}

// SetProgress sets the progress consulted during builds.
func (b *Backend) SetProgress(progress output.Progress) {
	b.progress = progress
}

// Close closes the side store connection.
func (b *Backend) Close() error {
	return b.store.Close()
}

func (b *Backend) reset(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM geometry_index WHERE table_name = ?", b.table.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO table_index (table_name, last_indexed) VALUES (?, NULL)", b.table.Name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) markIndexed(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR REPLACE INTO table_index (table_name, last_indexed) VALUES (?, ?)",
		b.table.Name, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *Backend) entries(columns string, env *domain.Envelope) (string, []interface{}) {
	query := fmt.Sprintf("SELECT %s FROM geometry_index WHERE table_name = ?", columns) //#nosec G201 -- fixed column list
	args := []interface{}{b.table.Name}
	if env != nil {
		query += " AND min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?"
		args = append(args, env.MaxX, env.MinX, env.MaxY, env.MinY)
	}
	return query, args
}

func (b *Backend) ids(ctx context.Context, env *domain.Envelope) ([]int64, error) {
	db, err := b.store.DB(ctx, false)
	if err != nil || db == nil {
		return nil, err
	}

	query, args := b.entries("geom_id", env)
	rows, err := db.QueryContext(ctx, query+" ORDER BY geom_id", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// batch groups inserts into transactions of insertBatchSize rows.
type batch struct {
	ctx   context.Context
	db    *sql.DB
	table string
	tx    *sql.Tx
	stmt  *sql.Stmt
	n     int
}

func newBatch(ctx context.Context, db *sql.DB, table string) *batch {
	return &batch{ctx: ctx, db: db, table: table}
}

func (b *batch) add(id int64, env domain.Envelope) error {
	if b.tx == nil {
		tx, err := b.db.BeginTx(b.ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(b.ctx, `INSERT OR REPLACE INTO geometry_index
			(table_name, geom_id, min_x, max_x, min_y, max_y) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		b.tx, b.stmt = tx, stmt
	}

	if _, err := b.stmt.ExecContext(b.ctx, b.table, id, env.MinX, env.MaxX, env.MinY, env.MaxY); err != nil {
		return fmt.Errorf("indexing feature %d: %w", id, err)
	}
	b.n++
	if b.n >= insertBatchSize {
		return b.flush()
	}
	return nil
}

func (b *batch) flush() error {
	if b.tx == nil {
		return nil
	}
	_ = b.stmt.Close()
	err := b.tx.Commit()
	b.tx, b.stmt, b.n = nil, nil, 0
	return err
}

func (b *batch) abort() {
	if b.tx == nil {
		return
	}
	_ = b.stmt.Close()
	_ = b.tx.Rollback()
	b.tx, b.stmt, b.n = nil, nil, 0
}
