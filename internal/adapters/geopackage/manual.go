package geopackage

import (
	"context"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// ManualScanner answers reads by scanning the feature table and testing
// envelopes in process. It works on every table, indexed or not.
type ManualScanner struct {
	dao *FeatureDAO
}

// NewManualScanner creates the fallback scanner of a feature table.
func NewManualScanner(dao *FeatureDAO) *ManualScanner {
	return &ManualScanner{dao: dao}
}

// Query returns the features matching where. With an envelope only features
// whose geometry envelope intersects it are returned; without one every
// matching row is returned, with or without geometry.
func (m *ManualScanner) Query(ctx context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	if env == nil {
		return m.dao.Scan(ctx, where)
	}
	cursor, err := m.dao.Scan(ctx, And(m.dao.GeometryNotNull(), where))
	if err != nil {
		return nil, err
	}
	return &envelopeFilter{FeatureCursor: cursor, env: *env}, nil
}

// Count counts the features matching where that have a non-empty geometry
// intersecting env.
func (m *ManualScanner) Count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	cursor, err := m.dao.Scan(ctx, And(m.dao.GeometryNotNull(), where))
	if err != nil {
		return 0, err
	}
	defer func() { _ = cursor.Close() }()

	var count int64
	for cursor.Next() {
		if matches(cursor.Feature(), env) {
			count++
		}
	}
	return count, cursor.Err()
}

// Bounds computes the envelope of all non-empty geometries.
func (m *ManualScanner) Bounds(ctx context.Context) (domain.Envelope, bool, error) {
	cursor, err := m.dao.Scan(ctx, m.dao.GeometryNotNull())
	if err != nil {
		return domain.Envelope{}, false, err
	}
	defer func() { _ = cursor.Close() }()

	var bounds domain.Envelope
	found := false
	for cursor.Next() {
		env, ok := cursor.Feature().Envelope()
		if !ok {
			continue
		}
		if !found {
			bounds = env
			found = true
			continue
		}
		bounds = bounds.Union(env)
	}
	if err := cursor.Err(); err != nil {
		return domain.Envelope{}, false, err
	}
	bounds.SRID = m.dao.Table().SRID
	return bounds, found, nil
}

// matches reports whether f has a non-empty geometry intersecting env. A nil
// env matches every geometry.
func matches(f *domain.Feature, env *domain.Envelope) bool {
	fe, ok := f.Envelope()
	if !ok {
		return false
	}
	return env == nil || fe.Intersects(*env)
}

// envelopeFilter skips features that do not intersect env.
type envelopeFilter struct {
	output.FeatureCursor
	env domain.Envelope
}

// Next implements FeatureCursor.
func (f *envelopeFilter) Next() bool {
	for f.FeatureCursor.Next() {
		if matches(f.FeatureCursor.Feature(), &f.env) {
			return true
		}
	}
	return false
}
