// Package main provides the gpkgindex command line tool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/gpkgindex/internal/app"
	"github.com/jobrunner/gpkgindex/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile      string
	outputFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gpkgindex",
	Short: "Build and query spatial indexes of GeoPackage feature tables",
	Long: `gpkgindex manages the spatial indexes of GeoPackage feature tables.

Three index kinds are supported:
  rtree       the RTree Spatial Indexes extension of the GeoPackage
  geopackage  the geometry index extension table inside the GeoPackage
  metadata    an index kept in a side store file next to the GeoPackage

Reads use the first built kind in the configured query order and fall back
to a full table scan when no index is built.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "gpkgindex %s\n", version)
		_, _ = fmt.Fprintf(out, "  Commit:     %s\n", commit)
		_, _ = fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	flags.StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (json, text)")
	flags.StringSlice("order", nil, "query order of index kinds, e.g. rtree,metadata")
	flags.String("location", "", "index kind written by index and drop")
	flags.String("side-store-dir", "", "directory of side store files (default: next to each package)")

	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("index.order", flags.Lookup("order"))
	_ = viper.BindPFlag("index.location", flags.Lookup("location"))
	_ = viper.BindPFlag("index.side_store_dir", flags.Lookup("side-store-dir"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(indexCmd, dropCmd, statusCmd)
	rootCmd.AddCommand(queryCmd, countCmd, boundsCmd)
	rootCmd.AddCommand(fetchCmd, watchCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// newApp loads the configuration and wires the application.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// setupLogger logs to stderr so that stdout only carries command output.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
