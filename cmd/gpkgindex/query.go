package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jobrunner/gpkgindex/internal/app"
	"github.com/jobrunner/gpkgindex/internal/application"
	"github.com/jobrunner/gpkgindex/internal/domain"
	"github.com/jobrunner/gpkgindex/internal/ports/output"
)

var queryCmd = &cobra.Command{
	Use:   "query <package.gpkg>",
	Short: "List the features of a table",
	Long: `List the features of a feature table that intersect a bounding box and
match a filter. Without --bbox every row matching the filter is listed.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var countCmd = &cobra.Command{
	Use:   "count <package.gpkg>",
	Short: "Count the features of a table",
	Long: `Count the features of a feature table that intersect a bounding box and
match a filter. Rows without a geometry are never counted.`,
	Args: cobra.ExactArgs(1),
	RunE: runCount,
}

var boundsCmd = &cobra.Command{
	Use:   "bounds <package.gpkg>",
	Short: "Print the bounding box of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runBounds,
}

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, countCmd, boundsCmd} {
		cmd.Flags().String("table", "", "feature table (required when the package has several)")
		cmd.Flags().Int("srid", 0, "SRID of --bbox and of the printed bounds (default: table SRID)")
	}
	for _, cmd := range []*cobra.Command{queryCmd, countCmd} {
		cmd.Flags().String("bbox", "", "bounding box minx,miny,maxx,maxy")
		cmd.Flags().String("where", "", "SQL filter on the feature table, e.g. \"class = 'shop'\"")
		cmd.Flags().StringSlice("field", nil, "column filter key=value, may be repeated")
	}
	queryCmd.Flags().Int("limit", 0, "maximum number of features (0: no limit)")
}

// filter is the parsed read selection of query and count.
type filter struct {
	bbox   *domain.Envelope
	srid   int
	where  *domain.Where
	fields map[string]interface{}
}

func parseFilter(cmd *cobra.Command) (filter, error) {
	var f filter
	f.srid, _ = cmd.Flags().GetInt("srid")

	bbox, _ := cmd.Flags().GetString("bbox")
	if bbox != "" {
		env, err := parseBBox(bbox)
		if err != nil {
			return f, err
		}
		f.bbox = &env
	}

	if clause, _ := cmd.Flags().GetString("where"); clause != "" {
		f.where = domain.NewWhere(clause)
	}

	pairs, _ := cmd.Flags().GetStringSlice("field")
	fields, err := parseFields(pairs)
	if err != nil {
		return f, err
	}
	f.fields = fields

	if f.fields != nil && (f.where != nil || f.bbox != nil) {
		return f, fmt.Errorf("%w: --field cannot be combined with --where or --bbox", domain.ErrInvalidInput)
	}
	return f, nil
}

// parseBBox parses "minx,miny,maxx,maxy". The SRID is left unset.
func parseBBox(s string) (domain.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.Envelope{}, fmt.Errorf("%w: bbox needs minx,miny,maxx,maxy", domain.ErrInvalidInput)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("%w: bbox value %q", domain.ErrInvalidInput, p)
		}
		v[i] = f
	}
	env := domain.NewEnvelope(v[0], v[2], v[1], v[3], 0)
	if !env.IsValid() {
		return domain.Envelope{}, fmt.Errorf("%w: bbox minimum exceeds maximum", domain.ErrInvalidInput)
	}
	return env, nil
}

// parseFields parses key=value pairs. Values that parse as numbers are
// compared as numbers.
func parseFields(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: field filter %q is not key=value", domain.ErrInvalidInput, pair)
		}
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			fields[key] = i
		} else if f, err := strconv.ParseFloat(value, 64); err == nil {
			fields[key] = f
		} else {
			fields[key] = value
		}
	}
	return fields, nil
}

// openTable returns the manager of the selected table. The table may be
// omitted when the package has exactly one.
func openTable(ctx context.Context, a *app.App, cmd *cobra.Command, path string) (*application.FeatureIndexManager, error) {
	table, _ := cmd.Flags().GetString("table")
	managers, err := openTables(ctx, a, path, table)
	if err != nil {
		return nil, err
	}
	if len(managers) != 1 {
		return nil, fmt.Errorf("%w: package has %d feature tables, select one with --table",
			domain.ErrInvalidInput, len(managers))
	}
	return managers[0], nil
}

// envelopeIn places bbox in srid, or in the table SRID when srid is unset.
func envelopeIn(bbox domain.Envelope, srid int, table domain.FeatureTable) domain.Envelope {
	if srid > 0 {
		bbox.SRID = srid
	} else {
		bbox.SRID = table.SRID
	}
	return bbox
}

type featureOutput struct {
	ID         int64                  `json:"id" yaml:"id"`
	Bounds     *[4]float64            `json:"bbox,omitempty" yaml:"bbox,omitempty"`
	Properties map[string]interface{} `json:"properties" yaml:"properties"`
}

func toOutput(f *domain.Feature) featureOutput {
	out := featureOutput{ID: f.ID, Properties: f.Properties}
	if f.HasGeometry() {
		e := f.Geometry.Envelope
		out.Bounds = &[4]float64{e.MinX, e.MinY, e.MaxX, e.MaxY}
	}
	return out
}

func runQuery(cmd *cobra.Command, args []string) error {
	f, err := parseFilter(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	return withApp(func(ctx context.Context, a *app.App) error {
		m, err := openTable(ctx, a, cmd, args[0])
		if err != nil {
			return err
		}

		var cursor output.FeatureCursor
		switch {
		case f.bbox != nil:
			cursor, err = m.QueryIn(ctx, envelopeIn(*f.bbox, f.srid, m.Table()), 0, f.where)
		case f.fields != nil:
			cursor, err = m.QueryFields(ctx, f.fields)
		default:
			cursor, err = m.QueryWhere(ctx, f.where)
		}
		if err != nil {
			return err
		}
		defer func() { _ = cursor.Close() }()

		features := make([]featureOutput, 0)
		for cursor.Next() {
			features = append(features, toOutput(cursor.Feature()))
			if limit > 0 && len(features) >= limit {
				break
			}
		}
		if err := cursor.Err(); err != nil {
			return err
		}

		return render(cmd.OutOrStdout(), outputFormat, features, func(w io.Writer) error {
			for _, f := range features {
				_, _ = fmt.Fprintln(w, formatFeature(f))
			}
			return nil
		})
	})
}

// formatFeature renders a feature as one line with sorted properties.
func formatFeature(f featureOutput) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(f.ID, 10))

	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\t%s=%v", k, f.Properties[k])
	}
	return b.String()
}

func runCount(cmd *cobra.Command, args []string) error {
	f, err := parseFilter(cmd)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		m, err := openTable(ctx, a, cmd, args[0])
		if err != nil {
			return err
		}

		var n int64
		switch {
		case f.bbox != nil:
			n, err = m.CountIn(ctx, envelopeIn(*f.bbox, f.srid, m.Table()), 0, f.where)
		case f.fields != nil:
			n, err = m.CountFields(ctx, f.fields)
		default:
			n, err = m.CountWhere(ctx, f.where)
		}
		if err != nil {
			return err
		}

		result := map[string]interface{}{"table": m.Table().Name, "count": n}
		return render(cmd.OutOrStdout(), outputFormat, result, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, n)
			return err
		})
	})
}

type boundsOutput struct {
	Table string  `json:"table" yaml:"table"`
	SRID  int     `json:"srid" yaml:"srid"`
	MinX  float64 `json:"min_x" yaml:"min_x"`
	MinY  float64 `json:"min_y" yaml:"min_y"`
	MaxX  float64 `json:"max_x" yaml:"max_x"`
	MaxY  float64 `json:"max_y" yaml:"max_y"`
}

func runBounds(cmd *cobra.Command, args []string) error {
	srid, _ := cmd.Flags().GetInt("srid")

	return withApp(func(ctx context.Context, a *app.App) error {
		m, err := openTable(ctx, a, cmd, args[0])
		if err != nil {
			return err
		}

		var env domain.Envelope
		var ok bool
		if srid > 0 {
			env, ok, err = m.BoundsIn(ctx, srid)
		} else {
			env, ok, err = m.Bounds(ctx)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %s has no geometries", m.Table().Name)
		}

		result := boundsOutput{Table: m.Table().Name, SRID: env.SRID, MinX: env.MinX, MinY: env.MinY, MaxX: env.MaxX, MaxY: env.MaxY}
		return render(cmd.OutOrStdout(), outputFormat, result, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%g,%g,%g,%g\n", env.MinX, env.MinY, env.MaxX, env.MaxY)
			return err
		})
	})
}
