// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/chart"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

var (
	chartDB      string
	chartSession string
	chartLimit   int
	chartFields  []string
	chartOutput  string
)

var chartCmd = &cobra.Command{
	Use:   "chart [capture]",
	Short: "Render snapshot history as an HTML chart",
	Long: `Render the decoded snapshot history as interactive line charts, one
chart per unit (V, A, %).

The history is read either from a SQLite database written by monitor or
decode (--db, defaulting to the latest session), or by replaying a capture
file given as argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChart,
}

func init() {
	rootCmd.AddCommand(chartCmd)
	chartCmd.Flags().StringVar(&chartDB, "db", "", "SQLite history database (default: sinks.sqlite.path)")
	chartCmd.Flags().StringVar(&chartSession, "session", "", "Session to chart (default: latest)")
	chartCmd.Flags().IntVar(&chartLimit, "limit", 0, "Only chart the newest N snapshots (0 = all)")
	chartCmd.Flags().StringSliceVarP(&chartFields, "fields", "f", nil, "Fields to chart (default: battery, solar, output and charger currents)")
	chartCmd.Flags().StringVarP(&chartOutput, "output", "o", "pmscope_chart.html", "HTML output file")
}

func runChart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	fields, err := lookupFields(chartFields)
	if err != nil {
		return err
	}

	var (
		points []chart.Point
		title  string
	)
	switch {
	case len(args) == 1:
		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()
		points, err = pointsFromCapture(cmd.Context(), in, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		title = args[0]

	default:
		db := chartDB
		if db == "" {
			db = cfg.Sinks.SQLite.Path
		}
		if db == "" {
			return errors.New("either a capture file or --db must be given")
		}
		var session string
		points, session, err = pointsFromDB(cmd.Context(), db, chartSession, chartLimit)
		if err != nil {
			return err
		}
		title = "session " + session
	}

	if len(points) == 0 {
		return errors.New("no snapshots to chart")
	}

	out, err := os.Create(chartOutput)
	if err != nil {
		return err
	}
	if err := chart.RenderHistory(out, "pmscope "+title, points, fields); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	fmt.Printf("Charted %d snapshots to %s\n", len(points), chartOutput)
	return nil
}

// lookupFields resolves field names, rejecting unknown ones
func lookupFields(names []string) ([]projecta.Field, error) {
	var fields []projecta.Field
	for _, name := range names {
		f, ok := projecta.LookupField(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// pointSink collects every snapshot change as a chart point
type pointSink struct {
	points []chart.Point
}

func (s *pointSink) Name() string {
	return "chart"
}

func (s *pointSink) Emit(_ context.Context, u sink.Update) error {
	s.points = append(s.points, chart.Point{Time: u.Time, Values: u.Snapshot.Map()})
	return nil
}

func (s *pointSink) Close() error {
	return nil
}

// pointsFromCapture replays a capture and returns its snapshot changes
func pointsFromCapture(ctx context.Context, r io.Reader, logger *zap.Logger) ([]chart.Point, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	collect := &pointSink{}
	p := pipeline.New(nil, collect, logger)
	if err := p.Replay(ctx, projecta.NewLogReader(r)); err != nil {
		return nil, err
	}
	return collect.points, nil
}

// pointsFromDB reads a session's history from SQLite. It returns the session
// actually read.
func pointsFromDB(ctx context.Context, path, session string, limit int) ([]chart.Point, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, "", err
	}

	db, err := sink.OpenSQLiteSink(path)
	if err != nil {
		return nil, "", err
	}
	defer db.Close()

	if session == "" {
		session, err = db.LatestSession(ctx)
		if err != nil {
			return nil, "", err
		}
	}

	records, err := db.History(ctx, session, limit)
	if err != nil {
		return nil, "", err
	}

	points := make([]chart.Point, len(records))
	for i, rec := range records {
		points[i] = chart.Point{Time: rec.Time, Values: rec.Values}
	}
	return points, session, nil
}
