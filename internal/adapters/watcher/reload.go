package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/jobrunner/gpkgindex/internal/adapters/geopackage"
	"github.com/jobrunner/gpkgindex/internal/adapters/sidestore"
	"github.com/jobrunner/gpkgindex/internal/domain"
)

// PackageLoader loads and unloads packages. It is implemented by the
// package registry.
type PackageLoader interface {
	ReloadPackage(ctx context.Context, path string) error
	UnloadPackage(ctx context.Context, packageID string) error
}

// Reloader keeps loaded packages in step with the watched directory.
type Reloader struct {
	loader PackageLoader
	// side store directory, empty when side stores live next to packages
	sideStoreDir string
	logger       *slog.Logger
}

// NewReloader creates a reloader.
func NewReloader(loader PackageLoader, sideStoreDir string, logger *slog.Logger) *Reloader {
	return &Reloader{loader: loader, sideStoreDir: sideStoreDir, logger: logger}
}

// Handle is a Handler. Created and modified packages are reloaded, which
// rebuilds their indexes. Deleted packages are unloaded and their side store
// file is removed.
func (r *Reloader) Handle(ctx context.Context, event Event) error {
	switch event.Operation {
	case OpCreate, OpModify:
		return r.loader.ReloadPackage(ctx, event.Path)

	case OpDelete:
		packageID := geopackage.DerivePackageID(event.Path)
		if err := r.loader.UnloadPackage(ctx, packageID); err != nil && !errors.Is(err, domain.ErrPackageNotFound) {
			return err
		}

		dir := r.sideStoreDir
		if dir == "" {
			dir = filepath.Dir(event.Path)
		}
		if err := sidestore.Remove(dir, packageID); err != nil {
			r.logger.Warn("failed to remove side store", "id", packageID, "error", err)
		}
		return nil
	}

	return nil
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
}
