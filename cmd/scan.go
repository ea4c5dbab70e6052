// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

var (
	scanTarget    float64
	scanTolerance float64
	scanLength    int
	scanTop       int
)

var scanCmd = &cobra.Command{
	Use:   "scan <capture>",
	Short: "Search captured frames for a known value",
	Long: `Try every numeric interpretation (signed and unsigned bytes, 16 and
32-bit integers in both byte orders divided by 100 or 1000, and 32-bit floats)
at every offset of every captured frame, and report those within --tolerance
of --target.

Read a value off the display (e.g. a battery voltage of 12.84) while
capturing, then scan for it to locate undocumented fields. The summary lists
the offsets that matched most often.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Float64Var(&scanTarget, "target", 0, "Value to search for")
	scanCmd.Flags().Float64Var(&scanTolerance, "tolerance", 0, "Maximum distance from target")
	scanCmd.Flags().IntVar(&scanLength, "length", 0, "Only scan frames of this length (0 = all)")
	scanCmd.Flags().IntVar(&scanTop, "top", 10, "Number of offsets in the summary")
	scanCmd.MarkFlagRequired("target")
}

func runScan(cmd *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	opts := scanOptions{
		target:    scanTarget,
		tolerance: scanTolerance,
		length:    scanLength,
	}
	summary, err := scanCapture(in, os.Stdout, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	printScanSummary(os.Stdout, summary, scanTop)
	return nil
}

type scanOptions struct {
	target    float64
	tolerance float64
	length    int
}

// scanHit counts frames in which one offset/interpretation pair matched
type scanHit struct {
	offset         int
	interpretation projecta.Interpretation
	frames         int
}

type scanSummary struct {
	frames  int // frames scanned
	matched int // frames with at least one match
	hits    []scanHit
}

// scanCapture prints the matches of every frame and tallies them
func scanCapture(r io.Reader, w io.Writer, opts scanOptions) (scanSummary, error) {
	var sum scanSummary
	index := make(map[string]int)

	lr := projecta.NewLogReader(r)
	for lr.Next() {
		rec := lr.Record()
		if opts.length > 0 && rec.Frame.Len() != opts.length {
			continue
		}
		sum.frames++

		matches := projecta.Scan(rec.Frame, opts.target, opts.tolerance)
		if len(matches) == 0 {
			continue
		}
		sum.matched++

		fmt.Fprintf(w, "\n%s | %d\n", rec.Timestamp.Format("15:04:05"), rec.Frame.Len())
		fmt.Fprintf(w, "RESULT - %g +/- %g\n", opts.target, opts.tolerance)
		for _, m := range matches {
			fmt.Fprintf(w, "  %s\n", projecta.FormatMatch(m))

			key := fmt.Sprintf("%d/%s", m.Offset, m.Interpretation.Label())
			i, ok := index[key]
			if !ok {
				i = len(sum.hits)
				index[key] = i
				sum.hits = append(sum.hits, scanHit{offset: m.Offset, interpretation: m.Interpretation})
			}
			sum.hits[i].frames++
		}
		if fields := projecta.Decode(rec.Frame); len(fields) > 0 {
			fmt.Fprintf(w, "  DATA:\n%s", projecta.FormatFields(fields))
		}
	}
	if err := lr.Err(); err != nil {
		return sum, err
	}

	sort.SliceStable(sum.hits, func(i, j int) bool {
		return sum.hits[i].frames > sum.hits[j].frames
	})
	return sum, nil
}

func printScanSummary(w io.Writer, sum scanSummary, top int) {
	fmt.Fprintf(w, "\n=== Scan Summary ===\n")
	fmt.Fprintf(w, "Frames scanned:  %d\n", sum.frames)
	fmt.Fprintf(w, "Frames matched:  %d\n", sum.matched)
	if len(sum.hits) == 0 {
		return
	}
	fmt.Fprintf(w, "Most frequent:\n")
	for i, h := range sum.hits {
		if i == top {
			break
		}
		fmt.Fprintf(w, "  Offset %03d %-18s %d/%d frames\n", h.offset, h.interpretation.Label(), h.frames, sum.frames)
	}
}
