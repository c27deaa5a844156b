// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/input"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// fetchConcurrency bounds parallel downloads and status checks.
const fetchConcurrency = 4

// RegistryConfig configures how packages are loaded.
type RegistryConfig struct {
	LocalPath string             // Directory packages are downloaded to
	Manager   ManagerConfig      // Policy of every feature index manager
	Build     []domain.IndexKind // Kinds built for every table on load
	Force     bool               // Rebuild existing indexes on the first load
}

// PackageRegistry manages loaded GeoPackages and the index managers of their
// feature tables.
type PackageRegistry struct {
	mu          sync.RWMutex
	packages    map[string]*packageEntry
	repo        output.GeoPackageRepository
	storage     output.ObjectStorage
	transformer output.CoordinateTransformer
	metrics     output.MetricsCollector
	logger      *slog.Logger
	cfg         RegistryConfig
}

type packageEntry struct {
	Package  *domain.GeoPackage
	Status   domain.GeoPackageStatus
	Error    error
	managers map[string]*FeatureIndexManager
}

// NewPackageRegistry creates a new package registry.
func NewPackageRegistry(
	repo output.GeoPackageRepository,
	storage output.ObjectStorage,
	transformer output.CoordinateTransformer,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg RegistryConfig,
) *PackageRegistry {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &PackageRegistry{
		packages:    make(map[string]*packageEntry),
		repo:        repo,
		storage:     storage,
		transformer: transformer,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// LoadPackage opens a GeoPackage, creates a manager per feature table and
// builds the configured index kinds.
func (r *PackageRegistry) LoadPackage(ctx context.Context, path string) error {
	return r.load(ctx, path, true)
}

// load loads a package. The configured force only applies when force is set.
func (r *PackageRegistry) load(ctx context.Context, path string, force bool) error {
	r.logger.Info("loading package", "path", path)

	pkg, err := r.repo.Open(ctx, path)
	if err != nil {
		r.logger.Error("failed to open package", "path", path, "error", err)
		return err
	}

	entry := &packageEntry{
		Package:  pkg,
		Status:   domain.StatusIndexing,
		managers: make(map[string]*FeatureIndexManager, len(pkg.Tables)),
	}
	r.mu.Lock()
	r.packages[pkg.ID] = entry
	r.mu.Unlock()

	// Tables of one package are indexed one after the other; the side store
	// of a package is a single locked file.
	for i := range pkg.Tables {
		table := &pkg.Tables[i]
		m, err := r.newManager(ctx, pkg.ID, table.Name)
		if err != nil {
			r.fail(pkg.ID, err)
			for _, m := range entry.managers {
				_ = m.Close()
			}
			return err
		}
		r.mu.Lock()
		entry.managers[table.Name] = m
		r.mu.Unlock()

		if build, rebuild := r.buildPolicy(); len(build) > 0 {
			r.logger.Debug("indexing table", "package", pkg.ID, "table", table.Name)
			if _, err := m.IndexKinds(ctx, build, force && rebuild); err != nil {
				r.logger.Warn("failed to index table", "package", pkg.ID, "table", table.Name, "error", err)
			}
		}

		kind, err := m.IndexedKind(ctx)
		if err != nil {
			r.logger.Warn("failed to check indexes", "package", pkg.ID, "table", table.Name, "error", err)
		}
		r.mu.Lock()
		table.IndexedKind = kind
		r.mu.Unlock()
	}

	r.mu.Lock()
	entry.Status = domain.StatusReady
	entry.Package.LoadedAt = time.Now()
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("package loaded", "id", pkg.ID, "tables", len(pkg.Tables), "indexed", pkg.IsIndexed())

	return nil
}

// SetBuild sets the kinds built for every table of packages loaded from now on.
func (r *PackageRegistry) SetBuild(kinds []domain.IndexKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Build = append([]domain.IndexKind(nil), kinds...)
}

func (r *PackageRegistry) buildPolicy() ([]domain.IndexKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Build, r.cfg.Force
}

func (r *PackageRegistry) newManager(ctx context.Context, packageID, table string) (*FeatureIndexManager, error) {
	store, err := r.repo.FeatureStore(ctx, packageID, table)
	if err != nil {
		return nil, err
	}
	factory, err := r.repo.IndexFactory(ctx, packageID, table)
	if err != nil {
		return nil, err
	}
	return NewFeatureIndexManager(store, factory, r.transformer, r.metrics,
		r.logger.With("package", packageID), r.cfg.Manager)
}

func (r *PackageRegistry) fail(packageID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.packages[packageID]; ok {
		entry.Status = domain.StatusError
		entry.Error = err
	}
}

// ReloadPackage unloads a package if it is loaded and loads it again.
// Existing indexes are kept: rtree and table index builds write to the
// package file, and a forced rebuild would report the package as changed
// again.
func (r *PackageRegistry) ReloadPackage(ctx context.Context, path string) error {
	id := derivePackageID(path)
	if r.IsLoaded(id) {
		if err := r.UnloadPackage(ctx, id); err != nil {
			return err
		}
	}
	return r.load(ctx, path, false)
}

// UnloadPackage closes the managers of a package and the package itself.
func (r *PackageRegistry) UnloadPackage(ctx context.Context, packageID string) error {
	r.logger.Info("unloading package", "id", packageID)

	r.mu.Lock()
	entry, ok := r.packages[packageID]
	if ok {
		entry.Status = domain.StatusUnloading
	}
	r.mu.Unlock()
	if !ok {
		return domain.ErrPackageNotFound
	}

	for name, m := range entry.managers {
		if err := m.Close(); err != nil {
			r.logger.Warn("failed to close index manager", "id", packageID, "table", name, "error", err)
		}
	}

	if err := r.repo.Close(ctx, packageID); err != nil {
		r.logger.Error("failed to close package", "id", packageID, "error", err)
		return err
	}

	r.mu.Lock()
	delete(r.packages, packageID)
	r.mu.Unlock()

	r.updateMetrics()
	return nil
}

// Close unloads every package.
func (r *PackageRegistry) Close(ctx context.Context) error {
	var firstErr error
	for _, id := range r.packageIDs() {
		if err := r.UnloadPackage(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListPackages returns all registered GeoPackages ordered by ID.
func (r *PackageRegistry) ListPackages(_ context.Context) ([]domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	packages := make([]domain.GeoPackage, 0, len(r.packages))
	for _, entry := range r.packages {
		packages = append(packages, *entry.Package)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })

	return packages, nil
}

// GetPackage returns a specific GeoPackage by ID.
func (r *PackageRegistry) GetPackage(_ context.Context, id string) (*domain.GeoPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[id]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}

	return entry.Package, nil
}

// GetPackageStatus returns the status of a GeoPackage.
func (r *PackageRegistry) GetPackageStatus(_ context.Context, id string) (domain.GeoPackageStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[id]
	if !ok {
		return "", domain.ErrPackageNotFound
	}

	return entry.Status, nil
}

// FeatureIndex returns the index manager of a feature table.
func (r *PackageRegistry) FeatureIndex(ctx context.Context, packageID, table string) (input.FeatureIndex, error) {
	m, err := r.Manager(ctx, packageID, table)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Manager returns the concrete index manager of a feature table.
func (r *PackageRegistry) Manager(_ context.Context, packageID, table string) (*FeatureIndexManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	m, ok := entry.managers[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTableNotFound, table)
	}
	return m, nil
}

// Managers returns the index managers of a package ordered by table name.
func (r *PackageRegistry) Managers(_ context.Context, packageID string) ([]*FeatureIndexManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	managers := make([]*FeatureIndexManager, 0, len(entry.managers))
	for _, m := range entry.managers {
		managers = append(managers, m)
	}
	sort.Slice(managers, func(i, j int) bool {
		return managers[i].Table().Name < managers[j].Table().Name
	})
	return managers, nil
}

// Status reports the index state of every table of a package.
func (r *PackageRegistry) Status(ctx context.Context, packageID string) ([]domain.TableStatus, error) {
	managers, err := r.Managers(ctx, packageID)
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.TableStatus, len(managers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, m := range managers {
		g.Go(func() error {
			s, err := m.Status(gctx)
			if err != nil {
				return err
			}
			statuses[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// IsReady returns true if a package is ready for queries.
func (r *PackageRegistry) IsReady(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.packages[packageID]
	if !ok {
		return false
	}

	return entry.Status == domain.StatusReady
}

// updateMetrics updates the metrics collector with the current package count.
func (r *PackageRegistry) updateMetrics() {
	r.metrics.SetPackagesLoaded(r.PackageCount())
}

// FetchAll downloads every package from storage into the local path without
// loading it. It returns the local paths.
func (r *PackageRegistry) FetchAll(ctx context.Context) ([]string, error) {
	objects, err := r.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return r.download(ctx, keys), nil
}

// download fetches keys concurrently. Failed downloads are logged and left out.
func (r *PackageRegistry) download(ctx context.Context, keys []string) []string {
	paths := make([]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			localPath := filepath.Join(r.cfg.LocalPath, key)
			start := time.Now()
			err := r.storage.Download(gctx, key, localPath)
			r.metrics.IncStorageOperations("download", err == nil)
			r.metrics.ObserveStorageDuration("download", time.Since(start))
			if err != nil {
				r.logger.Error("failed to download package", "key", key, "error", err)
				return nil
			}
			paths[i] = localPath
			return nil
		})
	}
	_ = g.Wait()

	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadAll downloads and loads all GeoPackages from storage.
func (r *PackageRegistry) LoadAll(ctx context.Context) error {
	r.logger.Info("loading all packages from storage")

	paths, err := r.FetchAll(ctx)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := r.LoadPackage(ctx, path); err != nil {
			r.logger.Error("failed to load package", "path", path, "error", err)
		}
	}

	return nil
}

// IsLoaded returns true if a package with the given ID is already loaded.
func (r *PackageRegistry) IsLoaded(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.packages[packageID]
	return ok
}

// PackageCount returns the number of loaded packages.
func (r *PackageRegistry) PackageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
}

// Sync synchronizes with remote storage, downloading and indexing new
// packages and unloading packages that no longer exist in remote storage.
func (r *PackageRegistry) Sync(ctx context.Context) (SyncStats, error) {
	r.logger.Info("syncing packages from storage")

	objects, err := r.storage.List(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	remotePackages := make(map[string]string) // packageID -> objectKey
	for _, obj := range objects {
		remotePackages[derivePackageID(obj.Key)] = obj.Key
	}

	var newKeys []string
	for packageID, objectKey := range remotePackages {
		if r.IsLoaded(packageID) {
			r.logger.Debug("package already loaded, skipping", "id", packageID)
			continue
		}
		newKeys = append(newKeys, objectKey)
	}
	sort.Strings(newKeys)

	stats := SyncStats{}
	for _, localPath := range r.download(ctx, newKeys) {
		if err := r.LoadPackage(ctx, localPath); err != nil {
			r.logger.Error("failed to load package", "path", localPath, "error", err)
			continue
		}
		stats.Added++
		r.logger.Info("new package synced", "id", derivePackageID(localPath))
	}

	for _, packageID := range r.findPackagesToRemove(remotePackages) {
		r.logger.Info("removing package not in remote storage", "id", packageID)

		localPath := r.getPackagePath(packageID)

		if err := r.UnloadPackage(ctx, packageID); err != nil {
			r.logger.Error("failed to unload removed package", "id", packageID, "error", err)
			continue
		}

		if localPath != "" {
			if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
				r.logger.Warn("failed to delete local cache file", "path", localPath, "error", err)
			} else {
				r.logger.Debug("deleted local cache file", "path", localPath)
			}
		}

		stats.Removed++
	}

	r.logger.Info("sync completed", "added", stats.Added, "removed", stats.Removed, "total", r.PackageCount())
	return stats, nil
}

// findPackagesToRemove returns package IDs that are loaded but not in remote storage.
func (r *PackageRegistry) findPackagesToRemove(remotePackages map[string]string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toRemove []string
	for packageID := range r.packages {
		if _, exists := remotePackages[packageID]; !exists {
			toRemove = append(toRemove, packageID)
		}
	}
	sort.Strings(toRemove)
	return toRemove
}

// getPackagePath returns the local file path for a loaded package.
func (r *PackageRegistry) getPackagePath(packageID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.packages[packageID]; ok && entry.Package != nil {
		return entry.Package.Path
	}
	return ""
}

func (r *PackageRegistry) packageIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	return ids
}

// derivePackageID extracts a package ID from a file path or object key.
func derivePackageID(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
