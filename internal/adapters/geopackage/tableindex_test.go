package geopackage

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

func TestTableIndexBuild(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)

	assert.Equal(t, domain.IndexExtensionTable, index.Kind())

	exists, err := index.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	before := time.Now().UTC().Add(-time.Second)
	count, err := index.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	last, ok, err := index.LastIndexed(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.After(before), "last indexed %v", last)

	count, err = index.Index(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = index.Index(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	var extensions int
	require.NoError(t, dao.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM gpkg_extensions WHERE table_name = ? AND extension_name = ?",
		fixtureTable, geometryIndexExtensionName).Scan(&extensions))
	assert.Equal(t, 1, extensions)
}

func TestTableIndexRead(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)
	_, err := index.Index(ctx, false)
	require.NoError(t, err)

	env := fixtureEnvelope
	assert.Equal(t, []int64{1, 2}, idsOf(t)(index.Query(ctx, &env, nil)))

	parks := dao.BuildWhere(map[string]interface{}{"class": "park"})
	assert.Equal(t, []int64{2, 4}, idsOf(t)(index.Query(ctx, nil, parks)))

	count, err := index.Count(ctx, &env, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = index.Count(ctx, &env, parks)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	bounds, ok, err := index.Bounds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.NewEnvelope(1, 10, 1, 10, domain.SRIDWGS84), bounds)
}

func TestTableIndexFeatureMaintenance(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)

	geom, err := EncodeGeometry(orb.Point{2.5, 2.5}, domain.SRIDWGS84)
	require.NoError(t, err)
	decoded, err := DecodeGeometry(geom)
	require.NoError(t, err)
	id := insertRow(t, dao.db, fixtureRow{orb.Point{2.5, 2.5}, "g", "shop"})
	feature := &domain.Feature{ID: id, Geometry: decoded}

	ok, err := index.IndexFeature(ctx, feature)
	require.NoError(t, err)
	assert.False(t, ok, "an unindexed table is left alone")

	_, err = index.Index(ctx, false)
	require.NoError(t, err)

	ok, err = index.DeleteFeature(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = index.DeleteFeature(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = index.IndexFeature(ctx, feature)
	require.NoError(t, err)
	assert.True(t, ok)

	env := fixtureEnvelope
	assert.Equal(t, []int64{1, 2, id}, idsOf(t)(index.Query(ctx, &env, nil)))

	ok, err = index.IndexFeature(ctx, &domain.Feature{ID: id})
	require.NoError(t, err)
	assert.False(t, ok, "a feature without geometry is removed")
	assert.Equal(t, []int64{1, 2}, idsOf(t)(index.Query(ctx, &env, nil)))
}

func TestTableIndexDelete(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)

	deleted, err := index.DeleteIndex(ctx)
	require.NoError(t, err)
	assert.False(t, deleted, "nothing to delete")

	_, err = index.Index(ctx, false)
	require.NoError(t, err)

	deleted, err = index.DeleteIndex(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := index.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := index.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, ok, err := index.Bounds(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableIndexCancelledBuild(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)
	index.SetProgress(&stopAfter{n: 2})

	count, err := index.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	exists, err := index.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "a cancelled build is not marked as indexed")

	written, err := index.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written, "rows written before cancellation are kept")

	index.SetProgress(nil)
	count, err = index.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "an unmarked index is rebuilt without force")
}

func TestTableIndexBuildSpansBatches(t *testing.T) {
	_, dao := openFixture(t)
	ctx := context.Background()
	index := NewTableIndex(dao.db, dao)
	index.batchSize = 3

	count, err := index.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	written, err := index.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), written, "the partial last batch is committed")

	index.batchSize = 1
	index.SetProgress(&stopAfter{n: 3})
	count, err = index.Index(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	written, err = index.Count(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), written)

	exists, err := index.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}
