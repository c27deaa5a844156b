package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/gpkgindex/internal/adapters/projection"
	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/input"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

var _ input.FeatureIndex = (*FeatureIndexManager)(nil)

const (
	rtree = domain.IndexNativeExtension
	table = domain.IndexExtensionTable
	side  = domain.IndexSideStore
)

func point(id int64, x, y float64, srid int) *domain.Feature {
	return &domain.Feature{
		ID:    id,
		Table: "places",
		Geometry: &domain.Geometry{
			Type:     "Point",
			SRID:     srid,
			Envelope: domain.NewEnvelope(x, x, y, y, srid),
		},
		Properties: map[string]interface{}{"class": "a"},
	}
}

func gridStore(n int) *fakeStore {
	features := make([]*domain.Feature, 0, n)
	for i := 0; i < n; i++ {
		features = append(features, point(int64(i+1), float64(i%10), float64(i/10), domain.SRIDWGS84))
	}
	return newFakeStore("places", domain.SRIDWGS84, features...)
}

func newTestManager(t *testing.T, store *fakeStore, cfg ManagerConfig) (*FeatureIndexManager, *fakeFactory) {
	t.Helper()
	factory := newFakeFactory(store)
	m, err := NewFeatureIndexManager(store, factory, &mockTransformer{}, nil, testLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, factory
}

func TestManagerDefaults(t *testing.T) {
	m, _ := newTestManager(t, gridStore(1), DefaultManagerConfig())

	assert.Equal(t, []domain.IndexKind{rtree, table, side}, m.Order())
	assert.Equal(t, domain.IndexNone, m.Location())
	assert.True(t, m.ContinueOnError())
	assert.Equal(t, "places", m.Table().Name)
}

func TestManagerFactoryError(t *testing.T) {
	store := gridStore(1)
	factory := newFakeFactory(store)
	factory.err = errors.New("boom")

	_, err := NewFeatureIndexManager(store, factory, nil, nil, testLogger(), DefaultManagerConfig())
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
}

func TestIsIndexedMatchesIndexedKind(t *testing.T) {
	orders := [][]domain.IndexKind{
		{rtree, table, side},
		{side, rtree},
		{table},
		{},
	}
	ctx := context.Background()

	for _, order := range orders {
		for mask := 0; mask < 8; mask++ {
			t.Run(fmt.Sprintf("%v/%03b", order, mask), func(t *testing.T) {
				m, f := newTestManager(t, gridStore(5), DefaultManagerConfig())
				m.SetOrder(order)
				for i, kind := range domain.AllIndexKinds {
					if mask&(1<<i) != 0 {
						_, err := f.backends[kind].Index(ctx, false)
						require.NoError(t, err)
					}
				}

				indexed, err := m.IsIndexed(ctx)
				require.NoError(t, err)
				kind, err := m.IndexedKind(ctx)
				require.NoError(t, err)
				assert.Equal(t, indexed, kind != domain.IndexNone)

				none, err := m.IsIndexedKind(ctx, domain.IndexNone)
				require.NoError(t, err)
				assert.Equal(t, indexed, none)
			})
		}
	}
}

func TestPrioritize(t *testing.T) {
	tests := []struct {
		name  string
		order []domain.IndexKind
		front []domain.IndexKind
		want  []domain.IndexKind
	}{
		{
			name:  "moves named kinds to front and appends new ones",
			order: []domain.IndexKind{side, rtree},
			front: []domain.IndexKind{rtree, table},
			want:  []domain.IndexKind{rtree, table, side},
		},
		{
			name:  "keeps remainder order",
			order: []domain.IndexKind{rtree, table, side},
			front: []domain.IndexKind{side},
			want:  []domain.IndexKind{side, rtree, table},
		},
		{
			name:  "ignores none and duplicates",
			order: []domain.IndexKind{rtree},
			front: []domain.IndexKind{domain.IndexNone, table, table},
			want:  []domain.IndexKind{table, rtree},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, gridStore(1), DefaultManagerConfig())
			m.SetOrder(tt.order)
			m.Prioritize(tt.front...)
			assert.Equal(t, tt.want, m.Order())
		})
	}
}

func TestQueryOrderPrioritize(t *testing.T) {
	o := NewQueryOrder(side, rtree, table)
	o.Prioritize(rtree)
	assert.Equal(t, []domain.IndexKind{rtree, side, table}, o.Kinds())

	o = NewQueryOrder(side, rtree)
	o.Prioritize(rtree, table)
	assert.Equal(t, []domain.IndexKind{rtree, table, side}, o.Kinds())
	assert.True(t, o.Contains(table))
	assert.False(t, o.Contains(domain.IndexNone))
}

func TestSetOrderReplaces(t *testing.T) {
	m, _ := newTestManager(t, gridStore(1), DefaultManagerConfig())
	m.SetOrder([]domain.IndexKind{table})
	assert.Equal(t, []domain.IndexKind{table}, m.Order())

	order := m.Order()
	order[0] = side
	assert.Equal(t, []domain.IndexKind{table}, m.Order(), "Order must return a copy")
}

func TestRetain(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(20), DefaultManagerConfig())

	_, err := m.IndexKinds(ctx, []domain.IndexKind{rtree, table, side}, false)
	require.NoError(t, err)
	before := len(f.backends[rtree].entries)

	deleted, err := m.Retain(ctx, []domain.IndexKind{rtree})
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, before, len(f.backends[rtree].entries))
	for _, kind := range []domain.IndexKind{table, side} {
		ok, err := m.IsIndexedKind(ctx, kind)
		require.NoError(t, err)
		assert.False(t, ok, kind.String())
	}
	ok, err := m.IsIndexedKind(ctx, rtree)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountWithoutContinueOnError(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(30), DefaultManagerConfig())
	m.SetContinueOnError(false)

	_, err := m.IndexKinds(ctx, []domain.IndexKind{rtree, table}, false)
	require.NoError(t, err)
	cause := errors.New("disk I/O error")
	f.backends[rtree].countErr = cause

	_, err = m.Count(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var ie *domain.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, rtree, ie.Kind)
	assert.Equal(t, "count", ie.Op)

	assert.Zero(t, f.scanner.calls())
	assert.Zero(t, f.backends[table].countCalls)
}

func TestCountContinueOnError(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(30), DefaultManagerConfig())

	_, err := m.IndexKinds(ctx, []domain.IndexKind{rtree, table}, false)
	require.NoError(t, err)
	f.backends[rtree].countErr = errors.New("disk I/O error")

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)
	assert.Equal(t, 1, f.backends[table].countCalls)
	assert.Zero(t, f.scanner.calls())
}

func TestExistsErrorSkipsBackend(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(10), DefaultManagerConfig())

	_, err := m.IndexKind(ctx, table, false)
	require.NoError(t, err)
	f.backends[rtree].existsErr = errors.New("locked")

	kind, err := m.IndexedKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, kind)

	m.SetContinueOnError(false)
	_, err = m.IndexedKind(ctx)
	var ie *domain.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "exists", ie.Op)
}

func TestAllBackendsFailFallsBack(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(12), DefaultManagerConfig())

	_, err := m.IndexKinds(ctx, domain.AllIndexKinds, false)
	require.NoError(t, err)
	for _, b := range f.backends {
		b.boundsErr = errors.New("corrupt")
	}

	env, ok, err := m.Bounds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, f.scanner.boundsCalls)
	assert.Equal(t, domain.NewEnvelope(0, 9, 0, 1, domain.SRIDWGS84), env)
}

func TestFallbackCountExcludesRowsWithoutGeometry(t *testing.T) {
	store := gridStore(500)
	for i := 0; i < 10; i++ {
		store.features[i*50].Geometry = nil
	}
	m, f := newTestManager(t, store, DefaultManagerConfig())
	ctx := context.Background()

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 490, n)
	assert.Equal(t, 1, f.scanner.countCalls)

	// built indexes agree with the fallback
	_, err = m.IndexKind(ctx, side, false)
	require.NoError(t, err)
	n, err = m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 490, n)
	assert.Equal(t, 1, f.scanner.countCalls)
}

func TestFallbackQueryWithoutEnvelopeReturnsAllRows(t *testing.T) {
	store := gridStore(5)
	store.features[0].Geometry = nil
	m, f := newTestManager(t, store, DefaultManagerConfig())

	ids, err := drain(mustCursor(t)(m.Query(context.Background())))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.Equal(t, 1, f.scanner.queryCalls)
}

func TestFallbackError(t *testing.T) {
	m, f := newTestManager(t, gridStore(5), DefaultManagerConfig())
	f.scanner.err = errors.New("no such table")

	_, err := m.Count(context.Background())
	var fe *domain.FallbackError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "count", fe.Op)
	assert.Equal(t, "places", fe.Table)
}

func TestQueryUsesFirstBuiltIndex(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(100), DefaultManagerConfig())
	_, err := m.IndexKinds(ctx, []domain.IndexKind{table, side}, false)
	require.NoError(t, err)
	m.SetOrder([]domain.IndexKind{side, table, rtree})

	env := domain.NewEnvelope(2, 3, 4, 5, domain.SRIDWGS84)
	ids, err := drain(mustCursor(t)(m.QueryIn(ctx, env, domain.SRIDWGS84, nil)))
	require.NoError(t, err)
	assert.Equal(t, []int64{43, 44, 53, 54}, ids)

	assert.Equal(t, 1, f.backends[side].queryCalls)
	assert.Zero(t, f.backends[table].queryCalls)
	assert.Zero(t, f.backends[table].existsCalls, "lower priority kinds are not checked")
	assert.Zero(t, f.scanner.calls())
}

func TestQueryFieldsAndCountFields(t *testing.T) {
	ctx := context.Background()
	store := gridStore(10)
	for _, f := range store.features[:3] {
		f.Properties["class"] = "b"
	}
	m, _ := newTestManager(t, store, DefaultManagerConfig())

	fields := map[string]interface{}{"class": "b"}
	n, err := m.CountFields(ctx, fields)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ids, err := drain(mustCursor(t)(m.QueryFields(ctx, fields)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	_, err = m.IndexKind(ctx, rtree, false)
	require.NoError(t, err)
	n, err = m.CountIn(ctx, domain.NewEnvelope(0, 1, 0, 0, domain.SRIDWGS84), 0, store.BuildWhere(fields))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestForeignEnvelopeMatchesNative(t *testing.T) {
	ctx := context.Background()
	mercator := projection.NewMercator()

	var features []*domain.Feature
	for i := 0; i < 50; i++ {
		lon, lat := float64(i%10)-5, float64(i/10)*2+40
		c, err := mercator.Transform(ctx, domain.NewCoordinate(lon, lat, domain.SRIDWGS84), domain.SRIDWebMercator)
		require.NoError(t, err)
		features = append(features, point(int64(i+1), c.X, c.Y, domain.SRIDWebMercator))
	}
	store := newFakeStore("places", domain.SRIDWebMercator, features...)
	factory := newFakeFactory(store)
	m, err := NewFeatureIndexManager(store, factory, mercator, nil, testLogger(), DefaultManagerConfig())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.IndexKind(ctx, rtree, false)
	require.NoError(t, err)

	wgs := domain.NewEnvelope(-2.5, 1.5, 41, 45, domain.SRIDWGS84)
	var corners []domain.Coordinate
	for _, c := range wgs.Corners() {
		p, err := mercator.Transform(ctx, c, domain.SRIDWebMercator)
		require.NoError(t, err)
		corners = append(corners, p)
	}
	native := domain.EnvelopeFromCoordinates(domain.SRIDWebMercator, corners...)

	foreign, err := drain(mustCursor(t)(m.QueryIn(ctx, wgs, domain.SRIDWGS84, nil)))
	require.NoError(t, err)
	direct, err := drain(mustCursor(t)(m.QueryIn(ctx, native, domain.SRIDWebMercator, nil)))
	require.NoError(t, err)

	require.NotEmpty(t, direct)
	assert.Equal(t, direct, foreign)

	bounds, ok, err := m.BoundsIn(ctx, domain.SRIDWGS84)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -5, bounds.MinX, 1e-9)
	assert.InDelta(t, 4, bounds.MaxX, 1e-9)
	assert.InDelta(t, 40, bounds.MinY, 1e-9)
	assert.InDelta(t, 48, bounds.MaxY, 1e-9)
	assert.Equal(t, domain.SRIDWGS84, bounds.SRID)
}

func TestUnsupportedProjection(t *testing.T) {
	store := gridStore(3)
	factory := newFakeFactory(store)
	m, err := NewFeatureIndexManager(store, factory, &mockTransformer{shouldFail: true}, nil, testLogger(), DefaultManagerConfig())
	require.NoError(t, err)
	defer m.Close()

	_, err = m.CountIn(context.Background(), domain.NewEnvelope(0, 1, 0, 1, domain.SRIDWebMercator), domain.SRIDWebMercator, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProjection)
}

func TestPinnedOperationsRequireLocation(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(3), DefaultManagerConfig())

	calls := map[string]func() error{
		"Index": func() error { _, err := m.Index(ctx, false); return err },
		"IndexFeature": func() error {
			_, err := m.IndexFeature(ctx, point(9, 1, 1, domain.SRIDWGS84))
			return err
		},
		"DeleteIndex":   func() error { _, err := m.DeleteIndex(ctx); return err },
		"DeleteFeature": func() error { _, err := m.DeleteFeature(ctx, 1); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			assert.ErrorIs(t, err, domain.ErrIndexLocationNotSet)
			assert.True(t, domain.IsConfigurationError(err))
		})
	}
	for _, b := range f.backends {
		assert.Zero(t, b.indexCalls)
	}

	m.SetLocation(table)
	n, err := m.Index(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 1, f.backends[table].indexCalls)
}

func TestUnknownKindIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, gridStore(1), DefaultManagerConfig())

	_, err := m.IndexKind(ctx, domain.IndexNone, false)
	assert.True(t, domain.IsConfigurationError(err))

	_, err = m.DeleteIndexKind(ctx, domain.IndexKind(42))
	assert.ErrorIs(t, err, domain.ErrUnsupportedIndexKind)

	_, _, err = m.LastIndexedKind(ctx, domain.IndexKind(42))
	assert.ErrorIs(t, err, domain.ErrUnsupportedIndexKind)
}

func TestBatchOperations(t *testing.T) {
	ctx := context.Background()
	store := gridStore(8)
	store.features[0].Geometry = nil
	m, f := newTestManager(t, store, DefaultManagerConfig())

	n, err := m.IndexKinds(ctx, []domain.IndexKind{rtree, side}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	// not built, so only the built kinds change
	changed, err := m.IndexFeatureKinds(ctx, domain.AllIndexKinds, point(100, 3, 3, domain.SRIDWGS84))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, f.backends[rtree].entries, int64(100))
	assert.Nil(t, f.backends[table].entries)

	changed, err = m.DeleteFeatureKinds(ctx, []domain.IndexKind{table}, 100)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = m.DeleteFeatureKinds(ctx, domain.AllIndexKinds, 100)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.DeleteAllIndexes(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	indexed, err := m.IsIndexed(ctx)
	require.NoError(t, err)
	assert.False(t, indexed)

	changed, err = m.DeleteIndexKinds(ctx, domain.AllIndexKinds)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestIndexKeepsExistingUnlessForced(t *testing.T) {
	ctx := context.Background()
	store := gridStore(4)
	m, f := newTestManager(t, store, DefaultManagerConfig())

	_, err := m.IndexKind(ctx, table, false)
	require.NoError(t, err)
	store.features = append(store.features, point(5, 1, 1, domain.SRIDWGS84))

	n, err := m.IndexKind(ctx, table, false)
	require.NoError(t, err)
	assert.Zero(t, n, "an existing index is not rebuilt")

	n, err = m.IndexKind(ctx, table, true)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, 3, f.backends[table].indexCalls)
}

func TestIndexedKindsAndLastIndexed(t *testing.T) {
	ctx := context.Background()
	m, f := newTestManager(t, gridStore(4), DefaultManagerConfig())

	_, ok, err := m.LastIndexed(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.IndexKinds(ctx, []domain.IndexKind{side, table}, false)
	require.NoError(t, err)

	kinds, err := m.IndexedKinds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.IndexKind{table, side}, kinds)

	last, ok, err := m.LastIndexed(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.backends[table].built, last)

	last, ok, err = m.LastIndexedKind(ctx, domain.IndexNone)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.backends[table].built, last)

	last, ok, err = m.LastIndexedKind(ctx, side)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.backends[side].built, last)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, gridStore(6), DefaultManagerConfig())
	_, err := m.IndexKind(ctx, side, false)
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "places", status.Table)
	assert.Equal(t, "metadata", status.IndexedKind)
	require.Len(t, status.Indexes, 3)
	assert.False(t, status.Indexes[0].Indexed)
	assert.True(t, status.Indexes[2].Indexed)
	assert.EqualValues(t, 6, status.Indexes[2].Count)
}

func TestSetProgressAndClose(t *testing.T) {
	store := gridStore(1)
	factory := newFakeFactory(store)
	m, err := NewFeatureIndexManager(store, factory, nil, nil, testLogger(), DefaultManagerConfig())
	require.NoError(t, err)

	p := NewBuildProgress(1, 0, nil)
	m.SetProgress(p)
	for _, b := range factory.backends {
		assert.Same(t, p, b.progress)
	}

	factory.backends[side].closeErr = errors.New("close failed")
	err = m.Close()
	require.Error(t, err)
	for _, b := range factory.backends {
		assert.True(t, b.closed)
	}
	assert.True(t, factory.scanner.closed)
	assert.NoError(t, m.Close())
}

func TestClosedManagerRefusesOperations(t *testing.T) {
	ctx := context.Background()
	store := gridStore(4)
	factory := newFakeFactory(store)
	m, err := NewFeatureIndexManager(store, factory, nil, nil, testLogger(), DefaultManagerConfig())
	require.NoError(t, err)

	_, err = m.IndexKind(ctx, side, false)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	calls := factory.backends[side].indexCalls

	closed := func(err error) {
		t.Helper()
		assert.ErrorIs(t, err, domain.ErrManagerClosed)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	}

	_, err = m.Count(ctx)
	closed(err)
	_, err = m.IndexKind(ctx, side, true)
	closed(err)
	_, err = m.IndexKinds(ctx, nil, true)
	closed(err)
	_, err = m.Query(ctx)
	closed(err)
	_, _, err = m.Bounds(ctx)
	closed(err)
	_, err = m.DeleteAllIndexes(ctx)
	closed(err)
	_, err = m.IsIndexedKind(ctx, side)
	closed(err)
	_, err = m.IndexedKind(ctx)
	closed(err)
	_, _, err = m.LastIndexed(ctx)
	closed(err)
	_, err = m.Status(ctx)
	closed(err)

	assert.Equal(t, calls, factory.backends[side].indexCalls, "no backend is reached after Close")
	assert.Zero(t, factory.scanner.calls())
}

func TestBuildProgress(t *testing.T) {
	p := NewBuildProgress(10, 3, testLogger())
	assert.True(t, p.IsActive())
	p.Advance(2)
	p.Advance(2)
	assert.EqualValues(t, 4, p.Processed())
	p.Cancel()
	assert.False(t, p.IsActive())
}

// Every step boundary is logged once, whichever goroutine crosses it.
func TestBuildProgressConcurrentAdvance(t *testing.T) {
	var buf bytes.Buffer
	p := NewBuildProgress(800, 100, slog.New(slog.NewTextHandler(&buf, nil)))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p.Advance(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 800, p.Processed())
	assert.Equal(t, 8, strings.Count(buf.String(), "indexing progress"))
}

func TestIndexLocationIsLazy(t *testing.T) {
	var checked []domain.IndexKind
	loc := newIndexLocation(context.Background(), []domain.IndexKind{rtree, table, side},
		func(_ context.Context, kind domain.IndexKind) (bool, error) {
			checked = append(checked, kind)
			return kind != rtree, nil
		},
		func(_ domain.IndexKind, err error) error { return err },
	)

	assert.Equal(t, domain.IndexNone, loc.Kind())
	require.True(t, loc.Next())
	assert.Equal(t, table, loc.Kind())
	assert.Equal(t, []domain.IndexKind{rtree, table}, checked)

	require.True(t, loc.Next())
	assert.Equal(t, side, loc.Kind())
	assert.False(t, loc.Next())
	assert.Equal(t, domain.IndexNone, loc.Kind())
	assert.NoError(t, loc.Err())
}

// mustCursor fails the test on a query error and returns the cursor.
func mustCursor(t *testing.T) func(output.FeatureCursor, error) output.FeatureCursor {
	t.Helper()
	return func(c output.FeatureCursor, err error) output.FeatureCursor {
		require.NoError(t, err)
		return c
	}
}
