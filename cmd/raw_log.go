// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

var (
	rawLogOutput string
	rawLogDecode bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Capture frames as timestamped hex lines",
	Long: `Continuously frame the bus and print each frame as it completes.

Every frame is appended to the capture file as "YYYYMMDDTHHMMSS | HEX" so it
can later be replayed with decode, scan or chart. With --decode the frame is
also shown with its decoded fields.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVarP(&rawLogOutput, "output", "o", "", "Capture file (default: capture.file.filename from config)")
	rawLogCmd.Flags().BoolVar(&rawLogDecode, "decode", false, "Also print decoded fields for each frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	conn, connInfo, err := newConnector(cfg).Open()
	if err != nil {
		return err
	}
	defer conn.Close()

	capture := cfg.Capture.File
	if rawLogOutput != "" {
		capture.Filename = rawLogOutput
	}
	frames := sink.OpenFrameLog(capture)
	defer frames.Close()

	fmt.Printf("pmscope - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Capture: %s\n", capture.Filename)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	p := pipeline.New(conn, nil, logger)
	p.Framer = projecta.NewFramer(cfg.Framing.Gap)
	p.PollInterval = cfg.Framing.PollInterval
	p.ReadSize = cfg.Framing.ReadSize
	p.Frames = frames
	p.OnFrame = func(r pipeline.Result) {
		if rawLogDecode {
			fmt.Print(projecta.FormatFrame(r.Time, r.Frame))
			return
		}
		fmt.Println(projecta.FormatLogLine(r.Time, r.Frame))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Printf("\n%s", p.Stats.String())
		return nil
	case errors.Is(err, pipeline.ErrDisconnected):
		// A lost bridge or unplugged adapter ends the capture
		logger.Info("connection closed", zap.Error(err))
		fmt.Printf("\n%s", p.Stats.String())
		return nil
	default:
		return err
	}
}
