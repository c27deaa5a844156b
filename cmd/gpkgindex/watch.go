package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/gpkgindex/internal/app"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download every package from the configured storage",
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the indexes of the stored packages up to date",
	Long: `Load every package from the configured storage and build the configured
index kinds. Local packages are reindexed when they change on disk; remote
storage is synced periodically. The optional ops server exposes health,
metrics, package status and a sync trigger.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	for _, cmd := range []*cobra.Command{fetchCmd, watchCmd} {
		cmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
		cmd.Flags().String("storage-path", "./data", "package directory, or download directory of remote storage")
	}
	watchCmd.Flags().StringSlice("build", nil, "index kinds built for every table on load")
	watchCmd.Flags().Duration("sync-interval", 0, "interval of the remote storage sync (0: disabled)")
	watchCmd.Flags().Bool("server", false, "enable the ops HTTP server")
	watchCmd.Flags().String("host", "127.0.0.1", "ops server host")
	watchCmd.Flags().Int("port", 8080, "ops server port")

	_ = viper.BindPFlag("index.build", watchCmd.Flags().Lookup("build"))
	_ = viper.BindPFlag("sync.interval", watchCmd.Flags().Lookup("sync-interval"))
	_ = viper.BindPFlag("server.enabled", watchCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("server.host", watchCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", watchCmd.Flags().Lookup("port"))
}

// bindStorageFlags binds the storage flags of the running command. Both
// commands define them, and viper keeps one binding per key.
func bindStorageFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("storage.type", cmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", cmd.Flags().Lookup("storage-path"))
}

func runFetch(cmd *cobra.Command, _ []string) error {
	bindStorageFlags(cmd)

	return withApp(func(ctx context.Context, a *app.App) error {
		paths, err := a.Registry.FetchAll(ctx)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), outputFormat, paths, func(w io.Writer) error {
			for _, p := range paths {
				_, _ = fmt.Fprintln(w, p)
			}
			return nil
		})
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	bindStorageFlags(cmd)

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.EnableWatch(); err != nil {
		return err
	}

	a.Logger.Info("starting gpkgindex watch",
		"version", version,
		"storage_type", a.Config.Storage.Type,
		"build", a.Config.Index.Build,
		"server", a.Config.Server.Enabled,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- a.Start(ctx) }()

	select {
	case <-ctx.Done():
		a.Logger.Info("received shutdown signal")
	case err = <-runErr:
		if err != nil {
			a.Logger.Error("watch error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := a.Shutdown(shutdownCtx); shutdownErr != nil {
		a.Logger.Error("shutdown error", "error", shutdownErr)
		if err == nil {
			err = shutdownErr
		}
	}
	return err
}
