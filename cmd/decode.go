// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// annotateMinLength skips short frames in the annotated log; they are line
// noise between packets rather than data
const annotateMinLength = 9

var (
	decodeCSV       string
	decodeAnnotated string
	decodeSQLite    string
	decodeVerbose   bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Decode a captured hex log offline",
	Long: `Replay a capture written by raw_log (or monitor) through the decoder.

Every frame is merged into the rolling snapshot exactly as it would be live,
using the capture timestamps. Outputs:

  --csv        one row per snapshot change (default: <capture>-decoded.csv)
  --annotated  the capture again with frame length and decoded fields
  --sqlite     snapshot history for the chart command

Use "-" to write the CSV or annotated log to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeCSV, "csv", "", "Decoded CSV output (default: <capture>-decoded.csv)")
	decodeCmd.Flags().StringVar(&decodeAnnotated, "annotated", "", "Annotated log output")
	decodeCmd.Flags().StringVar(&decodeSQLite, "sqlite", "", "Store snapshot history in this SQLite database")
	decodeCmd.Flags().BoolVarP(&decodeVerbose, "verbose", "v", false, "Print every decoded frame")
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	input := args[0]
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	csvPath := decodeCSV
	if csvPath == "" {
		csvPath = strings.TrimSuffix(input, filepath.Ext(input)) + "-decoded.csv"
	}

	var sinks sink.Multi
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("closing outputs", zap.Error(err))
		}
	}()

	if csvPath == "-" {
		s, err := sink.NewCSVSink(os.Stdout)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	} else {
		// a fresh decode replaces any earlier output
		if err := os.Remove(csvPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		s, err := sink.OpenCSVSink(csvPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}

	if decodeSQLite != "" {
		s, err := sink.OpenSQLiteSink(decodeSQLite)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}

	var annotated io.Writer
	switch decodeAnnotated {
	case "":
	case "-":
		annotated = os.Stdout
	default:
		f, err := os.Create(decodeAnnotated)
		if err != nil {
			return err
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		defer w.Flush()
		annotated = w
	}

	var verbose io.Writer
	if decodeVerbose {
		verbose = os.Stdout
	}

	stats, err := decodeCapture(cmd.Context(), in, sinks, annotated, verbose, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	if csvPath != "-" {
		fmt.Fprintf(os.Stderr, "Decoded CSV: %s\n", csvPath)
	}
	fmt.Fprint(os.Stderr, stats.String())
	return nil
}

// decodeCapture replays a capture into out. annotated and verbose may be nil.
func decodeCapture(ctx context.Context, r io.Reader, out sink.Sink, annotated, verbose io.Writer, logger *zap.Logger) (*projecta.Statistics, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	p := pipeline.New(nil, out, logger)
	p.SessionID = uuid.NewString()

	var writeErr error
	p.OnFrame = func(res pipeline.Result) {
		if verbose != nil {
			fmt.Fprint(verbose, projecta.FormatFrame(res.Time, res.Frame))
		}
		if annotated != nil && writeErr == nil && res.Frame.Len() >= annotateMinLength {
			_, writeErr = fmt.Fprintln(annotated, projecta.FormatAnnotatedLine(res.Time, res.Frame, res.Fields))
		}
	}

	if err := p.Replay(ctx, projecta.NewLogReader(r)); err != nil {
		return p.Stats, err
	}
	if writeErr != nil {
		return p.Stats, fmt.Errorf("annotated log: %w", writeErr)
	}
	return p.Stats, nil
}
