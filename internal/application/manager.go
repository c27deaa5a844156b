package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// ManagerConfig holds the initial policy of a FeatureIndexManager.
type ManagerConfig struct {
	Order           []domain.IndexKind
	Location        domain.IndexKind
	ContinueOnError bool
}

// DefaultManagerConfig returns the policy of a freshly created manager.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Order:           domain.DefaultIndexOrder,
		Location:        domain.IndexNone,
		ContinueOnError: true,
	}
}

// FeatureIndexManager coordinates the index backends of one feature table.
// Writes go to an explicitly chosen kind. Reads walk the query order, use
// the first backend whose index is built and fall back to a full scan.
type FeatureIndexManager struct {
	mu sync.Mutex

	table       domain.FeatureTable
	store       output.FeatureStore
	backends    map[domain.IndexKind]output.IndexBackend
	fallback    output.FallbackScanner
	transformer output.CoordinateTransformer
	metrics     output.MetricsCollector
	logger      *slog.Logger

	order           *QueryOrder
	location        domain.IndexKind
	continueOnError bool
	closed          bool
}

// NewFeatureIndexManager creates a manager with one backend per index kind.
func NewFeatureIndexManager(
	store output.FeatureStore,
	factory output.IndexFactory,
	transformer output.CoordinateTransformer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg ManagerConfig,
) (*FeatureIndexManager, error) {
	table := store.Table()
	m := &FeatureIndexManager{
		table:           table,
		store:           store,
		backends:        make(map[domain.IndexKind]output.IndexBackend, len(domain.AllIndexKinds)),
		transformer:     transformer,
		metrics:         metrics,
		logger:          logger.With("table", table.Name),
		order:           NewQueryOrder(cfg.Order...),
		location:        cfg.Location,
		continueOnError: cfg.ContinueOnError,
	}
	if m.metrics == nil {
		m.metrics = &output.NoOpMetrics{}
	}

	for _, kind := range domain.AllIndexKinds {
		backend, err := factory.NewIndex(kind)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("creating %s index for %s: %w", kind, table.Name, err)
		}
		m.backends[kind] = backend
	}

	fallback, err := factory.NewFallback()
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("creating manual scanner for %s: %w", table.Name, err)
	}
	m.fallback = fallback

	return m, nil
}

// Table returns the managed feature table.
func (m *FeatureIndexManager) Table() domain.FeatureTable {
	return m.table
}

// Index builds the index at the current location.
func (m *FeatureIndexManager) Index(ctx context.Context, force bool) (int64, error) {
	kind, err := m.pinned()
	if err != nil {
		return 0, err
	}
	return m.IndexKind(ctx, kind, force)
}

// IndexKind builds the index of kind. An existing index is kept unless force
// is set.
func (m *FeatureIndexManager) IndexKind(ctx context.Context, kind domain.IndexKind, force bool) (int64, error) {
	backend, err := m.backend(kind)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	count, err := backend.Index(ctx, force)
	m.record(kind, "index", start, err)
	if err != nil {
		return 0, m.indexError(kind, "index", err)
	}

	m.logger.Info("index built",
		"index", kind.String(),
		"count", count,
		"force", force,
		"duration", time.Since(start),
	)
	return count, nil
}

// IndexKinds builds each of kinds in turn and returns the largest count.
func (m *FeatureIndexManager) IndexKinds(ctx context.Context, kinds []domain.IndexKind, force bool) (int64, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	var most int64
	for _, kind := range kinds {
		count, err := m.IndexKind(ctx, kind, force)
		if err != nil {
			return most, err
		}
		if count > most {
			most = count
		}
	}
	return most, nil
}

// IndexFeature adds or refreshes one feature at the current location.
func (m *FeatureIndexManager) IndexFeature(ctx context.Context, feature *domain.Feature) (bool, error) {
	kind, err := m.pinned()
	if err != nil {
		return false, err
	}
	return m.IndexFeatureKind(ctx, kind, feature)
}

// IndexFeatureKind adds or refreshes one feature in the index of kind.
func (m *FeatureIndexManager) IndexFeatureKind(ctx context.Context, kind domain.IndexKind, feature *domain.Feature) (bool, error) {
	return m.mutate(kind, "index_feature", func(b output.IndexBackend) (bool, error) {
		return b.IndexFeature(ctx, feature)
	})
}

// IndexFeatureKinds indexes one feature in each of kinds. It reports whether
// any of them changed.
func (m *FeatureIndexManager) IndexFeatureKinds(ctx context.Context, kinds []domain.IndexKind, feature *domain.Feature) (bool, error) {
	return m.anyKind(kinds, func(kind domain.IndexKind) (bool, error) {
		return m.IndexFeatureKind(ctx, kind, feature)
	})
}

// DeleteIndex drops the index at the current location.
func (m *FeatureIndexManager) DeleteIndex(ctx context.Context) (bool, error) {
	kind, err := m.pinned()
	if err != nil {
		return false, err
	}
	return m.DeleteIndexKind(ctx, kind)
}

// DeleteIndexKind drops the index of kind.
func (m *FeatureIndexManager) DeleteIndexKind(ctx context.Context, kind domain.IndexKind) (bool, error) {
	deleted, err := m.mutate(kind, "delete", func(b output.IndexBackend) (bool, error) {
		return b.DeleteIndex(ctx)
	})
	if err == nil && deleted {
		m.logger.Info("index deleted", "index", kind.String())
	}
	return deleted, err
}

// DeleteIndexKinds drops each of kinds and reports whether any was deleted.
func (m *FeatureIndexManager) DeleteIndexKinds(ctx context.Context, kinds []domain.IndexKind) (bool, error) {
	return m.anyKind(kinds, func(kind domain.IndexKind) (bool, error) {
		return m.DeleteIndexKind(ctx, kind)
	})
}

// DeleteAllIndexes drops every kind in the query order.
func (m *FeatureIndexManager) DeleteAllIndexes(ctx context.Context) (bool, error) {
	return m.DeleteIndexKinds(ctx, m.Order())
}

// DeleteFeature removes one feature from the index at the current location.
func (m *FeatureIndexManager) DeleteFeature(ctx context.Context, id int64) (bool, error) {
	kind, err := m.pinned()
	if err != nil {
		return false, err
	}
	return m.DeleteFeatureKind(ctx, kind, id)
}

// DeleteFeatureKind removes one feature from the index of kind.
func (m *FeatureIndexManager) DeleteFeatureKind(ctx context.Context, kind domain.IndexKind, id int64) (bool, error) {
	return m.mutate(kind, "delete_feature", func(b output.IndexBackend) (bool, error) {
		return b.DeleteFeature(ctx, id)
	})
}

// DeleteFeatureKinds removes one feature from each of kinds.
func (m *FeatureIndexManager) DeleteFeatureKinds(ctx context.Context, kinds []domain.IndexKind, id int64) (bool, error) {
	return m.anyKind(kinds, func(kind domain.IndexKind) (bool, error) {
		return m.DeleteFeatureKind(ctx, kind, id)
	})
}

// Retain drops every kind of the query order that is not in kinds.
func (m *FeatureIndexManager) Retain(ctx context.Context, kinds []domain.IndexKind) (bool, error) {
	m.mu.Lock()
	drop := m.order.Without(kinds)
	m.mu.Unlock()
	return m.DeleteIndexKinds(ctx, drop)
}

// IsIndexed reports whether any kind of the query order is built.
func (m *FeatureIndexManager) IsIndexed(ctx context.Context) (bool, error) {
	kind, err := m.IndexedKind(ctx)
	return kind != domain.IndexNone, err
}

// IsIndexedKind reports whether the index of kind is built. IndexNone asks
// the same question as IsIndexed.
func (m *FeatureIndexManager) IsIndexedKind(ctx context.Context, kind domain.IndexKind) (bool, error) {
	if kind == domain.IndexNone {
		return m.IsIndexed(ctx)
	}
	backend, err := m.backend(kind)
	if err != nil {
		return false, err
	}
	ok, err := backend.Exists(ctx)
	if err != nil {
		return false, m.indexError(kind, "exists", err)
	}
	return ok, nil
}

// IndexedKinds returns the built kinds in query order.
func (m *FeatureIndexManager) IndexedKinds(ctx context.Context) ([]domain.IndexKind, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	loc := m.locate(ctx)
	var kinds []domain.IndexKind
	for loc.Next() {
		kinds = append(kinds, loc.Kind())
	}
	return kinds, loc.Err()
}

// IndexedKind returns the first built kind in query order, or IndexNone.
func (m *FeatureIndexManager) IndexedKind(ctx context.Context) (domain.IndexKind, error) {
	if err := m.checkOpen(); err != nil {
		return domain.IndexNone, err
	}
	loc := m.locate(ctx)
	if loc.Next() {
		return loc.Kind(), nil
	}
	return domain.IndexNone, loc.Err()
}

// LastIndexed returns the first build time found walking the query order.
func (m *FeatureIndexManager) LastIndexed(ctx context.Context) (time.Time, bool, error) {
	if err := m.checkOpen(); err != nil {
		return time.Time{}, false, err
	}
	for _, kind := range m.Order() {
		t, ok, err := m.lastIndexed(ctx, kind)
		if err != nil {
			if stop := m.tolerate(kind, "last_indexed", err); stop != nil {
				return time.Time{}, false, stop
			}
			continue
		}
		if ok {
			return t, true, nil
		}
	}
	return time.Time{}, false, nil
}

// LastIndexedKind returns the build time of kind. IndexNone behaves like
// LastIndexed.
func (m *FeatureIndexManager) LastIndexedKind(ctx context.Context, kind domain.IndexKind) (time.Time, bool, error) {
	if kind == domain.IndexNone {
		return m.LastIndexed(ctx)
	}
	if _, err := m.backend(kind); err != nil {
		return time.Time{}, false, err
	}
	t, ok, err := m.lastIndexed(ctx, kind)
	if err != nil {
		return time.Time{}, false, m.indexError(kind, "last_indexed", err)
	}
	return t, ok, nil
}

func (m *FeatureIndexManager) lastIndexed(ctx context.Context, kind domain.IndexKind) (time.Time, bool, error) {
	return m.backends[kind].LastIndexed(ctx)
}

// Query returns every feature of the table.
func (m *FeatureIndexManager) Query(ctx context.Context) (output.FeatureCursor, error) {
	return m.QueryWhere(ctx, nil)
}

// QueryWhere returns the features matching where.
func (m *FeatureIndexManager) QueryWhere(ctx context.Context, where *domain.Where) (output.FeatureCursor, error) {
	return m.query(ctx, nil, where)
}

// QueryFields returns the features whose columns equal fields.
func (m *FeatureIndexManager) QueryFields(ctx context.Context, fields map[string]interface{}) (output.FeatureCursor, error) {
	return m.QueryWhere(ctx, m.store.BuildWhere(fields))
}

// QueryIn returns the features intersecting env, given in srid, that match
// where.
func (m *FeatureIndexManager) QueryIn(ctx context.Context, env domain.Envelope, srid int, where *domain.Where) (output.FeatureCursor, error) {
	native, err := m.toTable(ctx, env, srid)
	if err != nil {
		return nil, err
	}
	return m.query(ctx, &native, where)
}

func (m *FeatureIndexManager) query(ctx context.Context, env *domain.Envelope, where *domain.Where) (output.FeatureCursor, error) {
	return read(ctx, m, "query",
		func(b output.IndexBackend) (output.FeatureCursor, error) {
			return b.Query(ctx, env, where)
		},
		func() (output.FeatureCursor, error) {
			return m.fallback.Query(ctx, env, where)
		},
	)
}

// Count counts the spatially indexable features of the table.
func (m *FeatureIndexManager) Count(ctx context.Context) (int64, error) {
	return m.CountWhere(ctx, nil)
}

// CountWhere counts the features matching where.
func (m *FeatureIndexManager) CountWhere(ctx context.Context, where *domain.Where) (int64, error) {
	return m.count(ctx, nil, where)
}

// CountFields counts the features whose columns equal fields.
func (m *FeatureIndexManager) CountFields(ctx context.Context, fields map[string]interface{}) (int64, error) {
	return m.CountWhere(ctx, m.store.BuildWhere(fields))
}

// CountIn counts the features intersecting env, given in srid, that match
// where.
func (m *FeatureIndexManager) CountIn(ctx context.Context, env domain.Envelope, srid int, where *domain.Where) (int64, error) {
	native, err := m.toTable(ctx, env, srid)
	if err != nil {
		return 0, err
	}
	return m.count(ctx, &native, where)
}

func (m *FeatureIndexManager) count(ctx context.Context, env *domain.Envelope, where *domain.Where) (int64, error) {
	return read(ctx, m, "count",
		func(b output.IndexBackend) (int64, error) {
			return b.Count(ctx, env, where)
		},
		func() (int64, error) {
			return m.fallback.Count(ctx, env, where)
		},
	)
}

type bounds struct {
	env domain.Envelope
	ok  bool
}

// Bounds returns the extent of the table in its own SRID.
func (m *FeatureIndexManager) Bounds(ctx context.Context) (domain.Envelope, bool, error) {
	b, err := read(ctx, m, "bounds",
		func(b output.IndexBackend) (bounds, error) {
			env, ok, err := b.Bounds(ctx)
			return bounds{env, ok}, err
		},
		func() (bounds, error) {
			env, ok, err := m.fallback.Bounds(ctx)
			return bounds{env, ok}, err
		},
	)
	return b.env, b.ok, err
}

// BoundsIn returns the extent of the table reprojected to srid.
func (m *FeatureIndexManager) BoundsIn(ctx context.Context, srid int) (domain.Envelope, bool, error) {
	env, ok, err := m.Bounds(ctx)
	if err != nil || !ok {
		return env, ok, err
	}
	env, err = m.reproject(ctx, env, m.table.SRID, srid)
	if err != nil {
		return domain.Envelope{}, false, err
	}
	return env, true, nil
}

// Status reports the state of every backend.
func (m *FeatureIndexManager) Status(ctx context.Context) (domain.TableStatus, error) {
	first, err := m.IndexedKind(ctx)
	if err != nil {
		return domain.TableStatus{}, err
	}
	status := domain.TableStatus{
		Table:       m.table.Name,
		IndexedKind: first.String(),
	}

	for _, kind := range domain.AllIndexKinds {
		s := domain.IndexStatus{Kind: kind, Name: kind.String()}
		t, ok, err := m.LastIndexedKind(ctx, kind)
		if err != nil {
			return status, err
		}
		if ok {
			s.Indexed = true
			s.LastIndexed = t
			if s.Count, err = m.backends[kind].Count(ctx, nil, nil); err != nil {
				return status, m.indexError(kind, "count", err)
			}
		}
		status.Indexes = append(status.Indexes, s)
	}
	return status, nil
}

// Prioritize moves kinds to the front of the query order.
func (m *FeatureIndexManager) Prioritize(kinds ...domain.IndexKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Prioritize(kinds...)
}

// SetOrder replaces the query order.
func (m *FeatureIndexManager) SetOrder(kinds []domain.IndexKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Replace(kinds...)
}

// Order returns a copy of the query order.
func (m *FeatureIndexManager) Order() []domain.IndexKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Kinds()
}

// SetLocation pins the kind used by writes without an explicit kind.
func (m *FeatureIndexManager) SetLocation(kind domain.IndexKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.location = kind
}

// Location returns the pinned kind.
func (m *FeatureIndexManager) Location() domain.IndexKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.location
}

// SetContinueOnError sets whether failing backends are skipped by reads.
func (m *FeatureIndexManager) SetContinueOnError(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.continueOnError = v
}

// ContinueOnError reports whether failing backends are skipped by reads.
func (m *FeatureIndexManager) ContinueOnError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.continueOnError
}

// SetProgress installs progress on every backend.
func (m *FeatureIndexManager) SetProgress(progress output.Progress) {
	for _, b := range m.backends {
		b.SetProgress(progress)
	}
}

// Close releases every backend and the manual scanner. Every later operation
// fails with ErrManagerClosed. It is safe to call more than once.
func (m *FeatureIndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, kind := range domain.AllIndexKinds {
		if b, ok := m.backends[kind]; ok {
			if err := b.Close(); err != nil {
				errs = append(errs, m.indexError(kind, "close", err))
			}
		}
	}
	if c, ok := m.fallback.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, &domain.FallbackError{Table: m.table.Name, Op: "close", Err: err})
		}
	}
	m.fallback = nil
	return errors.Join(errs...)
}

// read runs op on the first built backend of the query order. A failing
// backend is skipped when continue-on-error is set. When no backend is left
// the manual scanner answers.
func read[T any](
	ctx context.Context,
	m *FeatureIndexManager,
	op string,
	indexed func(output.IndexBackend) (T, error),
	manual func() (T, error),
) (T, error) {
	var zero T
	if err := m.checkOpen(); err != nil {
		return zero, err
	}

	loc := m.locate(ctx)
	for loc.Next() {
		kind := loc.Kind()
		start := time.Now()
		v, err := indexed(m.backends[kind])
		m.record(kind, op, start, err)
		if err == nil {
			return v, nil
		}
		if stop := m.tolerate(kind, op, err); stop != nil {
			return zero, stop
		}
	}
	if err := loc.Err(); err != nil {
		return zero, err
	}

	m.metrics.IncFallback(op)
	m.logger.Debug("no usable index, scanning table", "op", op)
	v, err := manual()
	if err != nil {
		return zero, &domain.FallbackError{Table: m.table.Name, Op: op, Err: err}
	}
	return v, nil
}

// locate returns an index location over a snapshot of the query order.
func (m *FeatureIndexManager) locate(ctx context.Context) *IndexLocation {
	return newIndexLocation(ctx, m.Order(),
		func(ctx context.Context, kind domain.IndexKind) (bool, error) {
			return m.backends[kind].Exists(ctx)
		},
		func(kind domain.IndexKind, err error) error {
			return m.tolerate(kind, "exists", err)
		},
	)
}

// tolerate logs a failed backend read. It returns nil if the read may go on
// with the next backend, or the error to stop with.
func (m *FeatureIndexManager) tolerate(kind domain.IndexKind, op string, err error) error {
	wrapped := m.indexError(kind, op, err)
	if !m.ContinueOnError() || domain.IsConfigurationError(err) {
		return wrapped
	}
	m.logger.Warn("index failed, trying next",
		"index", kind.String(),
		"op", op,
		"error", err,
	)
	return nil
}

func (m *FeatureIndexManager) mutate(kind domain.IndexKind, op string, fn func(output.IndexBackend) (bool, error)) (bool, error) {
	backend, err := m.backend(kind)
	if err != nil {
		return false, err
	}
	start := time.Now()
	changed, err := fn(backend)
	m.record(kind, op, start, err)
	if err != nil {
		return false, m.indexError(kind, op, err)
	}
	return changed, nil
}

// checkOpen fails once Close has been called.
func (m *FeatureIndexManager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", m.table.Name, domain.ErrManagerClosed)
	}
	return nil
}

func (m *FeatureIndexManager) pinned() (domain.IndexKind, error) {
	kind := m.Location()
	if kind == domain.IndexNone {
		return domain.IndexNone, domain.ErrIndexLocationNotSet
	}
	return kind, nil
}

func (m *FeatureIndexManager) backend(kind domain.IndexKind) (output.IndexBackend, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	b, ok := m.backends[kind]
	if !ok || !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedIndexKind, kind)
	}
	return b, nil
}

func (m *FeatureIndexManager) indexError(kind domain.IndexKind, op string, err error) error {
	var ie *domain.IndexError
	if errors.As(err, &ie) {
		return err
	}
	return &domain.IndexError{Table: m.table.Name, Kind: kind, Op: op, Err: err}
}

func (m *FeatureIndexManager) record(kind domain.IndexKind, op string, start time.Time, err error) {
	m.metrics.IncIndexOperation(kind.String(), op, err == nil)
	m.metrics.ObserveIndexDuration(kind.String(), op, time.Since(start))
}

// toTable reprojects a query envelope into the table SRID.
func (m *FeatureIndexManager) toTable(ctx context.Context, env domain.Envelope, srid int) (domain.Envelope, error) {
	if srid <= 0 {
		srid = env.SRID
	}
	return m.reproject(ctx, env, srid, m.table.SRID)
}

// reproject transforms the four corners of env and returns their envelope.
func (m *FeatureIndexManager) reproject(ctx context.Context, env domain.Envelope, from, to int) (domain.Envelope, error) {
	if from <= 0 || to <= 0 || from == to {
		env.SRID = m.table.SRID
		if to > 0 {
			env.SRID = to
		}
		return env, nil
	}
	if m.transformer == nil {
		return domain.Envelope{}, fmt.Errorf("%w: EPSG:%d to EPSG:%d", domain.ErrUnsupportedProjection, from, to)
	}

	corners := env.Corners()
	coords := make([]domain.Coordinate, 0, len(corners))
	for _, c := range corners {
		c.SRID = from
		t, err := m.transformer.Transform(ctx, c, to)
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("reprojecting envelope: %w", err)
		}
		coords = append(coords, t)
	}
	return domain.EnvelopeFromCoordinates(to, coords...), nil
}

func (m *FeatureIndexManager) anyKind(kinds []domain.IndexKind, fn func(domain.IndexKind) (bool, error)) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	changed := false
	for _, kind := range kinds {
		ok, err := fn(kind)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}
