// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pipeline runs the read → frame → decode → merge → sink loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/metrics"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// ErrDisconnected is returned by a source whose transport has gone away.
// Run discards the partial frame and returns it to the caller.
var ErrDisconnected = errors.New("transport disconnected")

// Result describes one completed frame after it has been processed
type Result struct {
	Time      time.Time
	Frame     projecta.Frame
	Packet    projecta.Packet
	Fields    projecta.Fields
	Changed   bool
	Snapshot  projecta.Snapshot
	Anomalies []projecta.Anomaly
}

// Pipeline owns the framer and store for one bus. It is single-threaded:
// Run, Step and Replay must not be called concurrently. The store and
// statistics may be read from other goroutines.
type Pipeline struct {
	// Source is read with a short timeout; (0, nil) means silence
	Source io.Reader
	Clock  projecta.Clock
	Framer *projecta.Framer
	Store  *projecta.Store
	Stats  *projecta.Statistics
	Sink   sink.Sink
	// Frames receives every completed frame; may be nil
	Frames  sink.FrameSink
	Metrics *metrics.PipelineMetrics
	Logger  *zap.Logger

	SessionID    string
	PollInterval time.Duration
	ReadSize     int

	// WallClock stamps frames for logs and sinks
	WallClock func() time.Time
	// OnFrame observes every processed frame; may be nil
	OnFrame func(Result)
}

// New creates a pipeline with default framing and no-op collaborators
func New(src io.Reader, out sink.Sink, logger *zap.Logger) *Pipeline {
	if out == nil {
		out = sink.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Source:       src,
		Clock:        projecta.NewMonotonicClock(),
		Framer:       projecta.NewFramer(projecta.DefaultGapThreshold),
		Store:        projecta.NewStore(),
		Stats:        projecta.NewStatistics(),
		Sink:         out,
		Metrics:      metrics.NewNop(),
		Logger:       logger,
		PollInterval: projecta.DefaultPollInterval,
		ReadSize:     1024,
		WallClock:    time.Now,
	}
}

// Run reads until the context is cancelled or the source fails. Empty reads
// drive the silence gap; between them the loop waits PollInterval (less the
// time the read itself blocked). A disconnect discards the partial frame and
// is returned wrapped in ErrDisconnected; Run never reconnects.
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]byte, p.ReadSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		n, err := p.Source.Read(buf)
		if n > 0 {
			p.Stats.AddBytes(n)
			p.Metrics.BytesRead.Add(float64(n))
			p.Step(ctx, buf[:n], p.Clock.Now())
		}

		if err != nil {
			if errors.Is(err, ErrDisconnected) || errors.Is(err, io.EOF) {
				p.Disconnect()
				if errors.Is(err, ErrDisconnected) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
			return fmt.Errorf("read: %w", err)
		}

		if n > 0 {
			continue
		}

		p.Step(ctx, nil, p.Clock.Now())

		if wait := p.PollInterval - time.Since(started); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// Step feeds one read result to the framer at the given monotonic time and
// processes the frame it completes, if any
func (p *Pipeline) Step(ctx context.Context, chunk []byte, now time.Duration) (Result, bool) {
	f, ok := p.Framer.Feed(chunk, now)
	if !ok {
		return Result{}, false
	}
	return p.process(ctx, f, p.WallClock(), now), true
}

// Disconnect discards any partial frame
func (p *Pipeline) Disconnect() {
	dropped := p.Framer.Disconnect()
	p.Stats.RecordDisconnect(dropped)
	p.Metrics.Disconnects.Inc()
	p.Logger.Warn("transport disconnected", zap.Int("dropped_bytes", dropped))
}

// Replay processes every frame of a capture, using each record's timestamp
// as the emit time. Frames in a capture are already delimited, so the framer
// is bypassed.
func (p *Pipeline) Replay(ctx context.Context, lr *projecta.LogReader) error {
	var first time.Time
	for lr.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := lr.Record()
		if first.IsZero() {
			first = rec.Timestamp
		}
		p.Stats.AddBytes(rec.Frame.Len())
		p.process(ctx, rec.Frame, rec.Timestamp, rec.Timestamp.Sub(first))
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, f projecta.Frame, wall time.Time, mono time.Duration) Result {
	pkt := projecta.Classify(f)
	res := Result{Time: wall, Frame: f, Packet: pkt}

	if p.Frames != nil {
		if err := p.Frames.WriteFrame(wall, f); err != nil {
			p.Logger.Error("frame log write failed", zap.Error(err))
		}
	}

	res.Fields = projecta.DecodePacket(pkt)
	if len(res.Fields) > 0 {
		res.Anomalies = projecta.CheckFields(res.Fields)
		for _, a := range res.Anomalies {
			p.Logger.Debug("implausible value", zap.String("field", a.Field.String()), zap.Float64("value", a.Value))
		}
		res.Changed, res.Snapshot = p.Store.Merge(res.Fields)
	} else {
		res.Snapshot = p.Store.Snapshot()
		p.Logger.Debug("unrecognized frame", zap.Int("length", f.Len()))
	}

	p.Stats.Update(pkt, mono, res.Changed, len(res.Anomalies))
	p.Metrics.Frames.WithLabelValues(pkt.Variant().String()).Inc()

	if res.Changed {
		p.Metrics.SnapshotChanges.Inc()
		p.Metrics.LastUpdate.Set(float64(wall.Unix()))
		p.emit(ctx, sink.Update{
			Time:      wall,
			SessionID: p.SessionID,
			Variant:   pkt.Variant(),
			Snapshot:  res.Snapshot,
		})
	}

	if p.OnFrame != nil {
		p.OnFrame(res)
	}
	return res
}

// emit delivers an update; failures are logged and counted, never fatal
func (p *Pipeline) emit(ctx context.Context, u sink.Update) {
	err := p.Sink.Emit(ctx, u)
	if err == nil {
		return
	}
	names := sink.FailedSinks(err)
	if len(names) == 1 && names[0] == "unknown" {
		names[0] = p.Sink.Name()
	}
	for _, name := range names {
		p.Metrics.SinkErrors.WithLabelValues(name).Inc()
	}
	p.Logger.Warn("sink emit failed", zap.Strings("sinks", names), zap.Error(err))
}
