// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/httpapi"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/logging"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/metrics"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/pipeline"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

var (
	monitorTUI     bool
	monitorShowAll bool
	monitorCSV     string
	monitorAPI     string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live telemetry monitor",
	Long: `Frame, decode and display bus telemetry in real time.

Each recognized frame is merged into a rolling snapshot. Whenever the
snapshot changes it is delivered to the configured sinks (CSV, HTTP, SQLite)
and, if enabled, to the status API.

Displays:
  - Current snapshot (fields marked * use an unconfirmed scaling)
  - Frame counts, frame rate and frame spacing
  - Recent events (connection changes, implausible values, unknown frames)

The connection is re-opened with exponential backoff (1s to 30s) when the
adapter or bridge goes away. Press 'q' to quit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use the interactive display (false prints plain text)")
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Report every frame, not only snapshot changes")
	monitorCmd.Flags().StringVar(&monitorCSV, "csv", "", "Append decoded snapshots to this CSV file (overrides sinks.csv.path)")
	monitorCmd.Flags().StringVar(&monitorAPI, "http", "", "Serve the status API on this address (enables http)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorCSV != "" {
		cfg.Sinks.CSV.Path = monitorCSV
	}
	if monitorAPI != "" {
		cfg.HTTP.Enable = true
		cfg.HTTP.Addr = monitorAPI
	}

	// The display owns the terminal, so logs only go to the file
	var logger *zap.Logger
	if monitorTUI {
		logger, err = logging.FileOnly(cfg.Logging)
	} else {
		logger, err = newLogger(cfg)
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	sessionID := uuid.NewString()
	logger = logger.With(zap.String("session", sessionID))

	var history *httpapi.History
	if cfg.HTTP.Enable {
		history = httpapi.NewHistory(cfg.HTTP.HistorySize)
	}

	out, closeSinks, err := openSinks(cfg, history, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	reg := metrics.NewRegistry()

	conns := newConnector(cfg)
	conn, connInfo, err := conns.Open()
	if err != nil {
		return err
	}

	p := pipeline.New(conn, out, logger)
	p.Framer = projecta.NewFramer(cfg.Framing.Gap)
	p.PollInterval = cfg.Framing.PollInterval
	p.ReadSize = cfg.Framing.ReadSize
	p.SessionID = sessionID
	p.Metrics = metrics.NewPipelineMetrics(reg)

	if cfg.Capture.Enable {
		frames := sink.OpenFrameLog(cfg.Capture.File)
		defer frames.Close()
		p.Frames = frames
	}

	status := &httpapi.Status{
		Store:     p.Store,
		Stats:     p.Stats,
		History:   history,
		SessionID: sessionID,
	}
	status.SetSource(connInfo)
	status.SetConnected(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Enable {
		var handler http.Handler
		if cfg.Metrics.Enable {
			handler = metrics.Handler(reg)
		}
		server := httpapi.New(cfg.HTTP, cfg.Metrics.Path, handler, status)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API stopped", zap.Error(err))
			}
		}()
		defer server.Shutdown(context.Background())
		logger.Info("status API listening", zap.String("addr", cfg.HTTP.Addr))
	}

	loop := &monitorLoop{
		pipeline: p,
		open:     conns.Open,
		status:   status,
		logger:   logger,
		backoff:  newBackoff(time.Second, 30*time.Second),
	}

	logger.Info("monitor started", zap.String("source", connInfo))

	if !monitorTUI {
		return runMonitorText(ctx, loop, conn, connInfo, sessionID)
	}
	return runMonitorTUI(ctx, stop, loop, conn, connInfo, sessionID)
}

// openSinks builds the snapshot sinks named in the configuration. The
// returned function closes all of them.
func openSinks(cfg *config.Config, history *httpapi.History, logger *zap.Logger) (sink.Sink, func(), error) {
	var sinks sink.Multi
	closeAll := func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("closing sinks", zap.Error(err))
		}
	}

	if cfg.Sinks.CSV.Path != "" {
		s, err := sink.OpenCSVSink(cfg.Sinks.CSV.Path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Sinks.HTTP.Endpoint != "" {
		s, err := sink.NewHTTPSink(cfg.Sinks.HTTP, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Sinks.SQLite.Path != "" {
		s, err := sink.OpenSQLiteSink(cfg.Sinks.SQLite.Path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if history != nil {
		sinks = append(sinks, history)
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	logger.Debug("sinks opened", zap.Strings("sinks", names))

	return sinks, closeAll, nil
}

// monitorEvent is a connection state change reported by the loop
type monitorEvent struct {
	connected bool
	connInfo  string
	err       error
	retryIn   time.Duration
}

// monitorLoop runs the pipeline over successive connections. The framer,
// store and statistics survive reconnects; only the partial frame is lost.
type monitorLoop struct {
	pipeline *pipeline.Pipeline
	open     func() (Connection, string, error)
	status   *httpapi.Status
	logger   *zap.Logger
	backoff  *backoff

	// onEvent observes connection changes; may be nil
	onEvent func(monitorEvent)
}

// run reads from conn until ctx is cancelled, reconnecting after every
// disconnect. Errors other than a disconnect end the loop.
func (l *monitorLoop) run(ctx context.Context, conn Connection) error {
	for {
		l.pipeline.Source = conn
		l.status.SetConnected(true)

		err := l.pipeline.Run(ctx)
		conn.Close()
		l.status.SetConnected(false)

		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, pipeline.ErrDisconnected) {
			return err
		}
		l.logger.Warn("connection lost", zap.Error(err))

		next, err := l.reconnect(ctx, err)
		if err != nil {
			return nil
		}
		conn = next
	}
}

// reconnect retries the transport with exponential backoff until it opens
// or ctx is cancelled
func (l *monitorLoop) reconnect(ctx context.Context, cause error) (Connection, error) {
	l.backoff.Reset()
	for {
		wait := l.backoff.Next()
		l.notify(monitorEvent{err: cause, retryIn: wait})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		conn, connInfo, err := l.open()
		if err == nil {
			l.logger.Info("reconnected", zap.String("source", connInfo))
			l.status.SetSource(connInfo)
			l.notify(monitorEvent{connected: true, connInfo: connInfo})
			return conn, nil
		}
		l.logger.Debug("reconnect failed", zap.Error(err), zap.Duration("backoff", wait))
		cause = err
	}
}

func (l *monitorLoop) notify(ev monitorEvent) {
	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

// backoff doubles the delay on every call to Next, up to max
type backoff struct {
	min, max time.Duration
	next     time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	return &backoff{min: min, max: max, next: min}
}

// Next returns the delay to wait before the next attempt
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset restarts the sequence at min
func (b *backoff) Reset() {
	b.next = b.min
}

// runMonitorText prints frames and snapshot changes as plain text
func runMonitorText(ctx context.Context, loop *monitorLoop, conn Connection, connInfo, sessionID string) error {
	p := loop.pipeline

	fmt.Printf("pmscope - Live Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	p.OnFrame = func(r pipeline.Result) {
		if monitorShowAll {
			fmt.Print(projecta.FormatFrame(r.Time, r.Frame))
		}
		for _, a := range r.Anomalies {
			fmt.Printf("[%s] WARNING: %s\n", r.Time.Format("15:04:05.000"), a.Message)
		}
		if r.Changed {
			fmt.Printf("[%s] Snapshot (%s)\n", r.Time.Format("15:04:05.000"), r.Packet.Label())
			fmt.Print(projecta.FormatSnapshot(r.Snapshot))
		}
	}
	loop.onEvent = func(ev monitorEvent) {
		fmt.Println(describeEvent(ev))
	}

	err := loop.run(ctx, conn)
	fmt.Printf("\n%s", p.Stats.String())
	return err
}

// runMonitorTUI runs the interactive display until the user quits
func runMonitorTUI(ctx context.Context, stop context.CancelFunc, loop *monitorLoop, conn Connection, connInfo, sessionID string) error {
	p := loop.pipeline
	m := newMonitorModel(connInfo, sessionID, p.Store, p.Stats, monitorShowAll)
	prog := tea.NewProgram(m, tea.WithAltScreen())

	p.OnFrame = func(r pipeline.Result) {
		prog.Send(frameMsg{result: r})
	}
	loop.onEvent = func(ev monitorEvent) {
		prog.Send(connectionMsg(ev))
	}

	loopDone := make(chan error, 1)
	go func() {
		err := loop.run(ctx, conn)
		loopDone <- err
		if err != nil {
			prog.Send(fatalMsg{err: err})
		}
	}()

	_, tuiErr := prog.Run()
	stop()
	loopErr := <-loopDone

	if tuiErr != nil {
		return fmt.Errorf("TUI error: %v", tuiErr)
	}
	if loopErr != nil {
		return loopErr
	}
	fmt.Print(p.Stats.String())
	return nil
}

// describeEvent renders a connection change for the event log
func describeEvent(ev monitorEvent) string {
	if ev.connected {
		return "Reconnected: " + ev.connInfo
	}
	if ev.err != nil {
		return fmt.Sprintf("Connection lost (%v), retrying in %s", ev.err, ev.retryIn)
	}
	return fmt.Sprintf("Connection lost, retrying in %s", ev.retryIn)
}
