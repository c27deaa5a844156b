package geopackage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/gpkgindex/internal/adapters/sidestore"
	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/domain"
)

func TestIndexFactory(t *testing.T) {
	_, dao := openFixture(t)
	factory := NewIndexFactory(dao.db, dao, fixturePackage, t.TempDir())

	for _, kind := range domain.AllIndexKinds {
		backend, err := factory.NewIndex(kind)
		require.NoError(t, err, kind.String())
		assert.Equal(t, kind, backend.Kind())
		assert.NoError(t, backend.Close())
	}

	_, err := factory.NewIndex(domain.IndexNone)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedIndexKind), "err = %v", err)

	fallback, err := factory.NewFallback()
	require.NoError(t, err)
	assert.IsType(t, &ManualScanner{}, fallback)
}

func newFixtureManager(t *testing.T) (*application.FeatureIndexManager, *Repository) {
	t.Helper()

	ctx := context.Background()
	repo, _ := openFixture(t)
	store, err := repo.FeatureStore(ctx, fixturePackage, fixtureTable)
	require.NoError(t, err)
	factory, err := repo.IndexFactory(ctx, fixturePackage, fixtureTable)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := application.NewFeatureIndexManager(store, factory, nil, nil, logger, application.DefaultManagerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager, repo
}

func TestManagerOverGeoPackage(t *testing.T) {
	ctx := context.Background()
	manager, repo := newFixtureManager(t)
	env := fixtureEnvelope

	indexed, err := manager.IsIndexed(ctx)
	require.NoError(t, err)
	assert.False(t, indexed)

	count, err := manager.CountIn(ctx, env, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "manual scan")

	built, err := manager.IndexKinds(ctx, []domain.IndexKind{domain.IndexExtensionTable, domain.IndexSideStore}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), built)

	kind, err := manager.IndexedKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexExtensionTable, kind)

	assert.FileExists(t, sidestore.Path(repo.SideStoreDir(fixturePackage), fixturePackage))

	manager.Prioritize(domain.IndexSideStore)
	kind, err = manager.IndexedKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexSideStore, kind)

	cursor, err := manager.QueryIn(ctx, env, 0, nil)
	assert.Equal(t, []int64{1, 2}, idsOf(t)(cursor, err))

	bounds, ok, err := manager.Bounds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.NewEnvelope(1, 10, 1, 10, domain.SRIDWGS84), bounds)

	count, err = manager.CountFields(ctx, map[string]interface{}{"class": "shop"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	retained, err := manager.Retain(ctx, []domain.IndexKind{domain.IndexNativeExtension})
	require.NoError(t, err)
	assert.True(t, retained)

	kinds, err := manager.IndexedKinds(ctx)
	require.NoError(t, err)
	assert.Empty(t, kinds)

	built, err = manager.IndexKind(ctx, domain.IndexNativeExtension, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), built)

	status, err := manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rtree", status.IndexedKind)
	require.Len(t, status.Indexes, 3)

	deleted, err := manager.DeleteAllIndexes(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)

	indexed, err = manager.IsIndexed(ctx)
	require.NoError(t, err)
	assert.False(t, indexed)
}

func TestClosedManagerOverGeoPackage(t *testing.T) {
	ctx := context.Background()
	manager, _ := newFixtureManager(t)

	built, err := manager.IndexKind(ctx, domain.IndexSideStore, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), built)
	require.NoError(t, manager.Close())

	_, err = manager.Count(ctx)
	assert.True(t, errors.Is(err, domain.ErrManagerClosed), "Count after Close: %v", err)

	_, err = manager.IndexKind(ctx, domain.IndexSideStore, true)
	assert.True(t, errors.Is(err, domain.ErrManagerClosed), "IndexKind after Close: %v", err)
}

func TestSideStoreFileLocation(t *testing.T) {
	repo := NewRepository("")
	ctx := context.Background()
	path := newFixturePackage(t)
	_, err := repo.Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = repo.Close(ctx, fixturePackage) }()

	factory, err := repo.IndexFactory(ctx, fixturePackage, fixtureTable)
	require.NoError(t, err)
	backend, err := factory.NewIndex(domain.IndexSideStore)
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	_, err = backend.Index(ctx, false)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), fixturePackage+sidestore.FileSuffix))
}
