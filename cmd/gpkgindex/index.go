package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobrunner/gpkgindex/internal/adapters/geopackage"
	"github.com/jobrunner/gpkgindex/internal/app"
	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/domain"
)

// progressStep is the number of records between two progress log lines.
const progressStep = 10000

var indexCmd = &cobra.Command{
	Use:   "index <package.gpkg>",
	Short: "Build spatial indexes",
	Long: `Build spatial indexes of the feature tables of a GeoPackage.

Without --kind the configured index location is built. An existing index is
only rebuilt with --force. Interrupting the command stops the build after the
current record; the partial index is left unmarked and rebuilt next time.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var dropCmd = &cobra.Command{
	Use:   "drop <package.gpkg>",
	Short: "Delete spatial indexes",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrop,
}

var statusCmd = &cobra.Command{
	Use:   "status <package.gpkg>",
	Short: "Show the index state of every feature table",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	indexCmd.Flags().String("table", "", "feature table (default: all)")
	indexCmd.Flags().StringSlice("kind", nil, "index kinds to build (rtree, geopackage, metadata)")
	indexCmd.Flags().Bool("force", false, "rebuild existing indexes")

	dropCmd.Flags().String("table", "", "feature table (default: all)")
	dropCmd.Flags().StringSlice("kind", nil, "index kinds to delete")
	dropCmd.Flags().Bool("all", false, "delete every index kind of the query order")

	statusCmd.Flags().String("table", "", "feature table (default: all)")
}

// openTables loads a package and returns the managers of the selected table,
// or of every table when table is empty.
func openTables(ctx context.Context, a *app.App, path, table string) ([]*application.FeatureIndexManager, error) {
	if err := a.Registry.LoadPackage(ctx, path); err != nil {
		return nil, err
	}
	id := geopackage.DerivePackageID(path)

	if table != "" {
		m, err := a.Registry.Manager(ctx, id, table)
		if err != nil {
			return nil, err
		}
		return []*application.FeatureIndexManager{m}, nil
	}
	return a.Registry.Managers(ctx, id)
}

func kindsFlag(cmd *cobra.Command) ([]domain.IndexKind, error) {
	names, err := cmd.Flags().GetStringSlice("kind")
	if err != nil {
		return nil, err
	}
	kinds, err := domain.ParseIndexKinds(names)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedIndexKind, k)
		}
	}
	return kinds, nil
}

// withApp runs fn with a wired application and shuts it down afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	return fn(ctx, a)
}

type indexResult struct {
	Table    string        `json:"table" yaml:"table"`
	Indexed  int64         `json:"indexed" yaml:"indexed"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	table, _ := cmd.Flags().GetString("table")
	force, _ := cmd.Flags().GetBool("force")
	kinds, err := kindsFlag(cmd)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		managers, err := openTables(ctx, a, args[0], table)
		if err != nil {
			return err
		}

		// An interrupt cancels the build through its progress so that the
		// backends can finish their current write.
		buildCtx := context.WithoutCancel(ctx)

		var results []indexResult
		for _, m := range managers {
			t := m.Table()
			progress := application.NewBuildProgress(t.FeatureCount, progressStep, a.Logger.With("table", t.Name))
			stopCancel := context.AfterFunc(ctx, progress.Cancel)
			m.SetProgress(progress)

			start := time.Now()
			var n int64
			if len(kinds) > 0 {
				n, err = m.IndexKinds(buildCtx, kinds, force)
			} else {
				n, err = m.Index(buildCtx, force)
			}
			stopCancel()
			m.SetProgress(nil)
			if err != nil {
				return fmt.Errorf("indexing %s: %w", t.Name, err)
			}

			results = append(results, indexResult{Table: t.Name, Indexed: n, Duration: time.Since(start)})
			if ctx.Err() != nil {
				a.Logger.Warn("indexing interrupted", "table", t.Name, "indexed", n)
				break
			}
		}

		return render(cmd.OutOrStdout(), outputFormat, results, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TABLE\tINDEXED\tDURATION")
			for _, r := range results {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Table, r.Indexed, r.Duration.Round(time.Millisecond))
			}
			return tw.Flush()
		})
	})
}

type dropResult struct {
	Table   string `json:"table" yaml:"table"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
}

func runDrop(cmd *cobra.Command, args []string) error {
	table, _ := cmd.Flags().GetString("table")
	all, _ := cmd.Flags().GetBool("all")
	kinds, err := kindsFlag(cmd)
	if err != nil {
		return err
	}
	if all && len(kinds) > 0 {
		return fmt.Errorf("%w: --all and --kind are exclusive", domain.ErrInvalidInput)
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		managers, err := openTables(ctx, a, args[0], table)
		if err != nil {
			return err
		}

		results := make([]dropResult, 0, len(managers))
		for _, m := range managers {
			var deleted bool
			switch {
			case all:
				deleted, err = m.DeleteAllIndexes(ctx)
			case len(kinds) > 0:
				deleted, err = m.DeleteIndexKinds(ctx, kinds)
			default:
				deleted, err = m.DeleteIndex(ctx)
			}
			if err != nil {
				return fmt.Errorf("deleting index of %s: %w", m.Table().Name, err)
			}
			results = append(results, dropResult{Table: m.Table().Name, Deleted: deleted})
		}

		return render(cmd.OutOrStdout(), outputFormat, results, func(w io.Writer) error {
			for _, r := range results {
				_, _ = fmt.Fprintf(w, "%s\tdeleted=%t\n", r.Table, r.Deleted)
			}
			return nil
		})
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	table, _ := cmd.Flags().GetString("table")

	return withApp(func(ctx context.Context, a *app.App) error {
		managers, err := openTables(ctx, a, args[0], table)
		if err != nil {
			return err
		}

		statuses := make([]domain.TableStatus, 0, len(managers))
		for _, m := range managers {
			s, err := m.Status(ctx)
			if err != nil {
				return err
			}
			statuses = append(statuses, s)
		}

		return render(cmd.OutOrStdout(), outputFormat, statuses, func(w io.Writer) error {
			return writeStatusTable(w, statuses)
		})
	})
}

func writeStatusTable(w io.Writer, statuses []domain.TableStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TABLE\tKIND\tINDEXED\tCOUNT\tLAST INDEXED\tQUERIED")
	for _, s := range statuses {
		for _, idx := range s.Indexes {
			last := "-"
			if !idx.LastIndexed.IsZero() {
				last = idx.LastIndexed.UTC().Format(time.RFC3339)
			}
			queried := ""
			if idx.Name == s.IndexedKind {
				queried = "*"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", s.Table, idx.Name, idx.Indexed, idx.Count, last, queried)
		}
	}
	return tw.Flush()
}
