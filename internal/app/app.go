// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobrunner/gpkgindex/internal/adapters/geopackage"
	httpAdapter "github.com/jobrunner/gpkgindex/internal/adapters/http"
	"github.com/jobrunner/gpkgindex/internal/adapters/metrics"
	"github.com/jobrunner/gpkgindex/internal/adapters/projection"
	"github.com/jobrunner/gpkgindex/internal/adapters/storage"
	"github.com/jobrunner/gpkgindex/internal/adapters/watcher"
	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/config"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Repository    *geopackage.Repository
	Registry      *application.PackageRegistry
	HealthService *application.HealthService
	SyncService   *application.SyncService
	HTTPServer    *httpAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector

	spatialite *geopackage.Transformer
}

// New creates the components shared by every command. The ops server,
// watcher and sync service are created by EnableWatch.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("gpkgindex")
		metricsCollector = app.Metrics
	}

	store, err := storage.New(ctx, cfg.Storage.Source())
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	app.Repository = geopackage.NewRepository(cfg.Index.SideStoreDir)

	// WGS84 and Web Mercator need no database. Other pairs go through
	// SpatiaLite when mod_spatialite is installed.
	transformers := []output.CoordinateTransformer{projection.NewMercator()}
	if t, err := geopackage.NewTransformer(ctx); err != nil {
		logger.Debug("SpatiaLite transformer unavailable", "error", err)
	} else {
		app.spatialite = t
		transformers = append(transformers, t)
	}

	app.Registry = application.NewPackageRegistry(
		app.Repository,
		app.Storage,
		projection.NewChain(transformers...),
		metricsCollector,
		logger,
		application.RegistryConfig{
			LocalPath: cfg.Storage.LocalPath,
			Manager:   cfg.Index.ManagerConfig(),
			Force:     cfg.Index.Force,
		},
	)

	app.HealthService = application.NewHealthService(app.Registry)

	return app, nil
}

// EnableWatch prepares watch mode: packages are indexed with the configured
// build kinds on load, local packages are reindexed when they change and
// remote packages are pulled periodically.
func (a *App) EnableWatch() error {
	cfg := a.Config

	a.Registry.SetBuild(cfg.Index.BuildKinds())
	a.SyncService = application.NewSyncService(a.Registry, cfg.Sync.Interval, cfg.Sync.Cooldown, a.Logger)

	if cfg.Server.Enabled {
		opts := httpAdapter.Options{Syncer: a.SyncService, MetricsPath: cfg.Metrics.Path}
		if a.Metrics != nil {
			opts.Metrics = a.Metrics.Handler()
		}
		a.HTTPServer = httpAdapter.NewServer(cfg.Server, a.Registry, a.HealthService, opts, a.Logger)
	}

	if output.StorageType(cfg.Storage.Type) == output.StorageTypeLocal {
		reloader := watcher.NewReloader(a.Registry, cfg.Index.SideStoreDir, a.Logger)
		w, err := watcher.New(watcher.Config{Paths: []string{cfg.Storage.LocalPath}}, reloader.Handle, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing file watcher: %w", err)
		}
		a.Watcher = w
	}

	return nil
}

// Start loads every package and starts the watch mode components. It blocks
// while the ops server runs, otherwise until ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to load packages", "error", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	if a.SyncService != nil && a.Config.Sync.Interval > 0 {
		a.SyncService.Start(ctx)
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	err := a.Registry.Close(ctx)

	if a.spatialite != nil {
		_ = a.spatialite.Close()
	}

	return err
}
