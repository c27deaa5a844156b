package geopackage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// idChunkSize bounds the number of bound parameters of an IN list.
const idChunkSize = 500

// FeatureDAO implements the FeatureStore port for one feature table on a
// shared connection. It never closes the connection.
type FeatureDAO struct {
	db    *sql.DB
	table domain.FeatureTable
}

// NewFeatureDAO creates a feature store for table on db.
func NewFeatureDAO(db *sql.DB, table domain.FeatureTable) *FeatureDAO {
	return &FeatureDAO{db: db, table: table}
}

// Table returns the table metadata.
func (d *FeatureDAO) Table() domain.FeatureTable {
	return d.table
}

// Scan returns every row matching the optional predicate.
func (d *FeatureDAO) Scan(ctx context.Context, where *domain.Where) (output.FeatureCursor, error) {
	query := fmt.Sprintf("SELECT * FROM %s", domain.QuoteIdent(d.table.Name)) //#nosec G201 -- table name from gpkg_contents
	var args []interface{}
	if !where.IsEmpty() {
		query += " WHERE " + where.Clause
		args = where.Args
	}
	query += " ORDER BY " + domain.QuoteIdent(d.table.PrimaryKey)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.QueryError{Table: d.table.Name, Err: err}
	}
	cursor, err := newRowsCursor(rows, d.table)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// ScanPage reads at most limit rows whose primary key is greater than after,
// in primary key order.
func (d *FeatureDAO) ScanPage(ctx context.Context, after int64, limit int) (output.FeatureCursor, error) {
	pk := domain.QuoteIdent(d.table.PrimaryKey)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > ? ORDER BY %s LIMIT ?", //#nosec G201 -- identifiers from gpkg_contents
		domain.QuoteIdent(d.table.Name), pk, pk)

	rows, err := d.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, &domain.QueryError{Table: d.table.Name, Err: err}
	}
	cursor, err := newRowsCursor(rows, d.table)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// Count counts the rows matching the optional predicate.
func (d *FeatureDAO) Count(ctx context.Context, where *domain.Where) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", domain.QuoteIdent(d.table.Name)) //#nosec G201 -- table name from gpkg_contents
	var args []interface{}
	if !where.IsEmpty() {
		query += " WHERE " + where.Clause
		args = where.Args
	}

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, &domain.QueryError{Table: d.table.Name, Err: err}
	}
	return count, nil
}

// QueryIDs returns the rows with the given ids that match the predicate.
// Large id lists are read chunk by chunk.
func (d *FeatureDAO) QueryIDs(ctx context.Context, ids []int64, where *domain.Where) (output.FeatureCursor, error) {
	return &chunkCursor{
		ctx:    ctx,
		dao:    d,
		chunks: chunkIDs(ids),
		where:  where,
	}, nil
}

// CountIDs counts the rows with the given ids that match the predicate.
func (d *FeatureDAO) CountIDs(ctx context.Context, ids []int64, where *domain.Where) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		n, err := d.Count(ctx, And(d.idsWhere(chunk), where))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// BuildWhere compiles a field equality map into a predicate.
func (d *FeatureDAO) BuildWhere(fields map[string]interface{}) *domain.Where {
	return domain.WhereFromFields(fields)
}

// GeometryNotNull returns the predicate selecting rows that have a geometry value.
func (d *FeatureDAO) GeometryNotNull() *domain.Where {
	return domain.NewWhere(domain.QuoteIdent(d.table.GeometryColumn) + " IS NOT NULL")
}

// idsWhere returns "pk IN (?, ...)" for ids.
func (d *FeatureDAO) idsWhere(ids []int64) *domain.Where {
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return domain.NewWhere(fmt.Sprintf("%s IN (%s)", domain.QuoteIdent(d.table.PrimaryKey), marks), args...)
}

// And joins predicates with AND. Empty predicates are skipped.
func And(parts ...*domain.Where) *domain.Where {
	var clauses []string
	var args []interface{}
	for _, w := range parts {
		if w.IsEmpty() {
			continue
		}
		clauses = append(clauses, "("+w.Clause+")")
		args = append(args, w.Args...)
	}
	if len(clauses) == 0 {
		return nil
	}
	return &domain.Where{Clause: strings.Join(clauses, " AND "), Args: args}
}

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// rowsCursor adapts sql.Rows to a FeatureCursor.
type rowsCursor struct {
	rows    *sql.Rows
	table   domain.FeatureTable
	columns []string
	current *domain.Feature
	err     error
	closed  bool
}

func newRowsCursor(rows *sql.Rows, table domain.FeatureTable) (*rowsCursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, &domain.QueryError{Table: table.Name, Err: err}
	}
	return &rowsCursor{rows: rows, table: table, columns: columns}, nil
}

// Next implements FeatureCursor.
func (c *rowsCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		return false
	}

	feature, err := scanFeature(c.rows, c.columns, c.table)
	if err != nil {
		c.err = err
		return false
	}
	c.current = feature
	return true
}

// Feature implements FeatureCursor.
func (c *rowsCursor) Feature() *domain.Feature {
	return c.current
}

// Err implements FeatureCursor.
func (c *rowsCursor) Err() error {
	if c.err != nil {
		return &domain.QueryError{Table: c.table.Name, Err: c.err}
	}
	return nil
}

// Close implements FeatureCursor.
func (c *rowsCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

// chunkCursor reads an id list one chunk at a time.
type chunkCursor struct {
	ctx    context.Context
	dao    *FeatureDAO
	chunks [][]int64
	where  *domain.Where
	rows   output.FeatureCursor
	err    error
	closed bool
}

// Next implements FeatureCursor.
func (c *chunkCursor) Next() bool {
	for !c.closed && c.err == nil {
		if c.rows != nil {
			if c.rows.Next() {
				return true
			}
			c.err = c.rows.Err()
			_ = c.rows.Close()
			c.rows = nil
			continue
		}
		if len(c.chunks) == 0 {
			return false
		}
		chunk := c.chunks[0]
		c.chunks = c.chunks[1:]
		c.rows, c.err = c.dao.Scan(c.ctx, And(c.dao.idsWhere(chunk), c.where))
	}
	return false
}

// Feature implements FeatureCursor.
func (c *chunkCursor) Feature() *domain.Feature {
	if c.rows == nil {
		return nil
	}
	return c.rows.Feature()
}

// Err implements FeatureCursor.
func (c *chunkCursor) Err() error {
	return c.err
}

// Close implements FeatureCursor.
func (c *chunkCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.rows != nil {
		return c.rows.Close()
	}
	return nil
}

// scanFeature scans a row into a Feature.
func scanFeature(rows *sql.Rows, columns []string, table domain.FeatureTable) (*domain.Feature, error) {
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	feature := &domain.Feature{
		Table:      table.Name,
		Properties: make(map[string]interface{}),
	}

	for i, col := range columns {
		switch {
		case strings.EqualFold(col, table.PrimaryKey):
			if v, ok := values[i].(int64); ok {
				feature.ID = v
			}
		case strings.EqualFold(col, table.GeometryColumn):
			data, ok := values[i].([]byte)
			if !ok || len(data) == 0 {
				continue
			}
			geom, err := DecodeGeometry(data)
			if err != nil {
				return nil, fmt.Errorf("feature %v: %w", values[0], err)
			}
			if geom.SRID == domain.SRIDUndefined {
				geom.SRID = table.SRID
			}
			geom.Envelope.SRID = table.SRID
			feature.Geometry = geom
		default:
			if values[i] != nil {
				feature.Properties[col] = values[i]
			}
		}
	}

	return feature, nil
}

// collect drains a cursor into a slice and closes it.
func collect(cursor output.FeatureCursor) ([]*domain.Feature, error) {
	defer func() { _ = cursor.Close() }()

	var features []*domain.Feature
	for cursor.Next() {
		features = append(features, cursor.Feature())
	}
	return features, cursor.Err()
}
