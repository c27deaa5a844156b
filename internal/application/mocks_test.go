package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// matchesWhere evaluates the predicates built by fakeStore.BuildWhere: every
// argument must equal the feature's "class" property.
func matchesWhere(f *domain.Feature, where *domain.Where) bool {
	if where.IsEmpty() {
		return true
	}
	for _, arg := range where.Args {
		if f.Properties["class"] != arg {
			return false
		}
	}
	return true
}

func matchesEnvelope(f *domain.Feature, env *domain.Envelope) bool {
	if env == nil {
		return true
	}
	fe, ok := f.Envelope()
	return ok && fe.Intersects(*env)
}

// sliceCursor implements output.FeatureCursor over a slice.
type sliceCursor struct {
	features []*domain.Feature
	pos      int
	closed   bool
}

func newSliceCursor(features []*domain.Feature) *sliceCursor {
	return &sliceCursor{features: features, pos: -1}
}

func (c *sliceCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.features) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Feature() *domain.Feature {
	if c.closed || c.pos < 0 {
		return nil
	}
	return c.features[c.pos]
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}

func drain(c output.FeatureCursor) ([]int64, error) {
	defer c.Close()
	var ids []int64
	for c.Next() {
		ids = append(ids, c.Feature().ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, c.Err()
}

// fakeStore implements output.FeatureStore in memory.
type fakeStore struct {
	table    domain.FeatureTable
	features []*domain.Feature
}

func newFakeStore(table string, srid int, features ...*domain.Feature) *fakeStore {
	return &fakeStore{
		table: domain.FeatureTable{
			Name:           table,
			GeometryColumn: "geom",
			PrimaryKey:     "fid",
			SRID:           srid,
			FeatureCount:   int64(len(features)),
		},
		features: features,
	}
}

func (s *fakeStore) Table() domain.FeatureTable { return s.table }

func (s *fakeStore) filter(env *domain.Envelope, where *domain.Where, spatialOnly bool) []*domain.Feature {
	var out []*domain.Feature
	for _, f := range s.features {
		if spatialOnly && !f.HasGeometry() {
			continue
		}
		if matchesEnvelope(f, env) && matchesWhere(f, where) {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeStore) Scan(_ context.Context, where *domain.Where) (output.FeatureCursor, error) {
	return newSliceCursor(s.filter(nil, where, false)), nil
}

func (s *fakeStore) Count(_ context.Context, where *domain.Where) (int64, error) {
	return int64(len(s.filter(nil, where, false))), nil
}

func (s *fakeStore) QueryIDs(_ context.Context, ids []int64, where *domain.Where) (output.FeatureCursor, error) {
	return newSliceCursor(s.byIDs(ids, where)), nil
}

func (s *fakeStore) CountIDs(_ context.Context, ids []int64, where *domain.Where) (int64, error) {
	return int64(len(s.byIDs(ids, where))), nil
}

func (s *fakeStore) byIDs(ids []int64, where *domain.Where) []*domain.Feature {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*domain.Feature
	for _, f := range s.features {
		if want[f.ID] && matchesWhere(f, where) {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeStore) BuildWhere(fields map[string]interface{}) *domain.Where {
	if len(fields) == 0 {
		return nil
	}
	w := &domain.Where{Clause: "class = ?"}
	for _, v := range fields {
		w.Args = append(w.Args, v)
	}
	return w
}

// fakeBackend implements output.IndexBackend with an in-memory id set.
type fakeBackend struct {
	mu sync.Mutex

	kind    domain.IndexKind
	store   *fakeStore
	entries map[int64]domain.Envelope
	built   time.Time

	existsErr error
	indexErr  error
	queryErr  error
	countErr  error
	boundsErr error
	closeErr  error

	existsCalls int
	queryCalls  int
	countCalls  int
	boundsCalls int
	indexCalls  int
	forced      int
	closed      bool
	progress    output.Progress
}

func newFakeBackend(kind domain.IndexKind, store *fakeStore) *fakeBackend {
	return &fakeBackend{kind: kind, store: store}
}

func (b *fakeBackend) Kind() domain.IndexKind { return b.kind }

func (b *fakeBackend) Index(_ context.Context, force bool) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indexCalls++
	if force {
		b.forced++
	}
	if b.indexErr != nil {
		return 0, b.indexErr
	}
	if b.entries != nil && !force {
		return 0, nil
	}
	b.entries = make(map[int64]domain.Envelope)
	for _, f := range b.store.features {
		if env, ok := f.Envelope(); ok {
			b.entries[f.ID] = env
		}
	}
	b.built = time.Now()
	return int64(len(b.entries)), nil
}

func (b *fakeBackend) IndexFeature(_ context.Context, f *domain.Feature) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		return false, nil
	}
	env, ok := f.Envelope()
	if !ok {
		delete(b.entries, f.ID)
		return false, nil
	}
	b.entries[f.ID] = env
	return true, nil
}

func (b *fakeBackend) DeleteIndex(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		return false, nil
	}
	b.entries = nil
	return true, nil
}

func (b *fakeBackend) DeleteFeature(_ context.Context, id int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[id]; !ok {
		return false, nil
	}
	delete(b.entries, id)
	return true, nil
}

func (b *fakeBackend) Exists(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.existsCalls++
	if b.existsErr != nil {
		return false, b.existsErr
	}
	return b.entries != nil, nil
}

func (b *fakeBackend) LastIndexed(_ context.Context) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.existsErr != nil {
		return time.Time{}, false, b.existsErr
	}
	if b.entries == nil {
		return time.Time{}, false, nil
	}
	return b.built, true, nil
}

func (b *fakeBackend) hits(env *domain.Envelope, where *domain.Where) []*domain.Feature {
	var out []*domain.Feature
	for _, f := range b.store.features {
		e, ok := b.entries[f.ID]
		if !ok || (env != nil && !e.Intersects(*env)) || !matchesWhere(f, where) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (b *fakeBackend) Query(_ context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryCalls++
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return newSliceCursor(b.hits(env, where)), nil
}

func (b *fakeBackend) Count(_ context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.countCalls++
	if b.countErr != nil {
		return 0, b.countErr
	}
	return int64(len(b.hits(env, where))), nil
}

func (b *fakeBackend) Bounds(_ context.Context) (domain.Envelope, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.boundsCalls++
	if b.boundsErr != nil {
		return domain.Envelope{}, false, b.boundsErr
	}
	var env domain.Envelope
	found := false
	for _, e := range b.entries {
		if !found {
			env, found = e, true
			continue
		}
		env = env.Union(e)
	}
	env.SRID = b.store.table.SRID
	return env, found, nil
}

func (b *fakeBackend) SetProgress(p output.Progress) { b.progress = p }

func (b *fakeBackend) Close() error {
	b.closed = true
	return b.closeErr
}

// spyScanner implements output.FallbackScanner and counts its calls.
type spyScanner struct {
	store       *fakeStore
	queryCalls  int
	countCalls  int
	boundsCalls int
	err         error
	closed      bool
}

func (s *spyScanner) Query(_ context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	s.queryCalls++
	if s.err != nil {
		return nil, s.err
	}
	if env == nil {
		return newSliceCursor(s.store.filter(nil, where, false)), nil
	}
	return newSliceCursor(s.store.filter(env, where, true)), nil
}

func (s *spyScanner) Count(_ context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	s.countCalls++
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.store.filter(env, where, true))), nil
}

func (s *spyScanner) Bounds(_ context.Context) (domain.Envelope, bool, error) {
	s.boundsCalls++
	if s.err != nil {
		return domain.Envelope{}, false, s.err
	}
	var env domain.Envelope
	found := false
	for _, f := range s.store.filter(nil, nil, true) {
		e, _ := f.Envelope()
		if !found {
			env, found = e, true
			continue
		}
		env = env.Union(e)
	}
	env.SRID = s.store.table.SRID
	return env, found, nil
}

func (s *spyScanner) Close() error {
	s.closed = true
	return nil
}

func (s *spyScanner) calls() int {
	return s.queryCalls + s.countCalls + s.boundsCalls
}

// fakeFactory implements output.IndexFactory.
type fakeFactory struct {
	backends map[domain.IndexKind]*fakeBackend
	scanner  *spyScanner
	err      error
}

func newFakeFactory(store *fakeStore) *fakeFactory {
	f := &fakeFactory{
		backends: make(map[domain.IndexKind]*fakeBackend),
		scanner:  &spyScanner{store: store},
	}
	for _, kind := range domain.AllIndexKinds {
		f.backends[kind] = newFakeBackend(kind, store)
	}
	return f
}

func (f *fakeFactory) NewIndex(kind domain.IndexKind) (output.IndexBackend, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.backends[kind]
	if !ok {
		return nil, domain.ErrUnsupportedIndexKind
	}
	return b, nil
}

func (f *fakeFactory) NewFallback() (output.FallbackScanner, error) {
	return f.scanner, nil
}

// mockRepository implements output.GeoPackageRepository for testing.
type mockRepository struct {
	packages  map[string]*domain.GeoPackage
	stores    map[string]*fakeStore
	factories map[string]*fakeFactory
	openErr   error
	closed    []string
}

func (m *mockRepository) Open(_ context.Context, path string) (*domain.GeoPackage, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.packages != nil {
		if pkg, ok := m.packages[path]; ok {
			cp := *pkg
			cp.Tables = append([]domain.FeatureTable(nil), pkg.Tables...)
			return &cp, nil
		}
	}
	id := derivePackageID(path)
	return &domain.GeoPackage{
		ID:   id,
		Name: id,
		Path: path,
	}, nil
}

func (m *mockRepository) Close(_ context.Context, packageID string) error {
	m.closed = append(m.closed, packageID)
	return nil
}

func (m *mockRepository) GetTables(_ context.Context, packageID string) ([]domain.FeatureTable, error) {
	for _, pkg := range m.packages {
		if pkg.ID == packageID {
			return pkg.Tables, nil
		}
	}
	return nil, domain.ErrPackageNotFound
}

func (m *mockRepository) store(packageID, table string) *fakeStore {
	key := packageID + ":" + table
	if m.stores == nil {
		m.stores = make(map[string]*fakeStore)
	}
	s, ok := m.stores[key]
	if !ok {
		s = newFakeStore(table, domain.SRIDWGS84)
		m.stores[key] = s
	}
	return s
}

func (m *mockRepository) FeatureStore(_ context.Context, packageID, table string) (output.FeatureStore, error) {
	return m.store(packageID, table), nil
}

func (m *mockRepository) IndexFactory(_ context.Context, packageID, table string) (output.IndexFactory, error) {
	key := packageID + ":" + table
	if m.factories == nil {
		m.factories = make(map[string]*fakeFactory)
	}
	f, ok := m.factories[key]
	if !ok {
		f = newFakeFactory(m.store(packageID, table))
		m.factories[key] = f
	}
	return f, nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.StorageObject
	downloadErr error
	listErr     error
	downloaded  []string
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloadErr != nil {
		return m.downloadErr
	}
	m.downloaded = append(m.downloaded, key)
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// mockTransformer implements output.CoordinateTransformer for testing.
type mockTransformer struct {
	shouldFail bool
}

func (m *mockTransformer) Transform(_ context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	if m.shouldFail {
		return domain.Coordinate{}, domain.ErrUnsupportedProjection
	}
	coord.SRID = targetSRID
	return coord, nil
}

func (m *mockTransformer) IsSupported(_, _ int) bool {
	return !m.shouldFail
}
