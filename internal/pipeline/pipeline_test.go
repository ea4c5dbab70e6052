// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// recordingSink keeps every update it receives
type recordingSink struct {
	mu      sync.Mutex
	updates []sink.Update
	err     error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Emit(_ context.Context, u sink.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// scriptedSource returns its chunks in order, then silence or a final error
type scriptedSource struct {
	chunks [][]byte
	final  error
	after  int // silent reads before final
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	if len(s.chunks) > 0 {
		n := copy(p, s.chunks[0])
		s.chunks = s.chunks[1:]
		return n, nil
	}
	if s.after > 0 {
		s.after--
		return 0, nil
	}
	if s.final != nil {
		return 0, s.final
	}
	return 0, nil
}

// manualClock is advanced explicitly by tests
type manualClock struct{ now time.Duration }

func (c *manualClock) Now() time.Duration { return c.now }

func telemetryFrame(batteryCentivolts int16) []byte {
	data := make([]byte, projecta.TelemetryLength)
	data[20] = byte(uint16(batteryCentivolts) >> 8)
	data[21] = byte(uint16(batteryCentivolts))
	return data
}

func TestStep_GapLaw(t *testing.T) {
	rec := &recordingSink{}
	p := New(nil, rec, nil)
	ctx := context.Background()

	_, ok := p.Step(ctx, telemetryFrame(1250), 0)
	assert.False(t, ok)

	_, ok = p.Step(ctx, nil, 30*time.Millisecond)
	assert.False(t, ok, "30ms of silence must not complete a frame")

	res, ok := p.Step(ctx, nil, 60*time.Millisecond)
	require.True(t, ok, "60ms of silence completes the frame")
	assert.Equal(t, projecta.VariantTelemetry, res.Packet.Variant())
	assert.True(t, res.Changed)
	assert.Equal(t, 12.5, res.Fields[projecta.FieldBatteryVoltage])
	assert.Equal(t, 1, rec.count())
}

func TestStep_ChangeSuppression(t *testing.T) {
	rec := &recordingSink{}
	p := New(nil, rec, nil)
	ctx := context.Background()
	ms := time.Millisecond

	for i := 0; i < 3; i++ {
		base := time.Duration(i) * 200 * ms
		p.Step(ctx, telemetryFrame(1250), base)
		_, ok := p.Step(ctx, nil, base+100*ms)
		require.True(t, ok)
	}
	assert.Equal(t, 1, rec.count(), "identical frames emit once")

	p.Step(ctx, telemetryFrame(1260), time.Second)
	p.Step(ctx, nil, 2*time.Second)
	assert.Equal(t, 2, rec.count())
}

func TestStep_UnknownLengthNotEmitted(t *testing.T) {
	rec := &recordingSink{}
	p := New(nil, rec, nil)
	ctx := context.Background()

	p.Step(ctx, make([]byte, 8), 0)
	res, ok := p.Step(ctx, nil, time.Second)
	require.True(t, ok)
	assert.Equal(t, projecta.VariantUnknown, res.Packet.Variant())
	assert.Empty(t, res.Fields)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, uint64(1), p.Stats.Summary().UnknownFrames)
}

func TestRun_DisconnectDiscardsPartialFrame(t *testing.T) {
	rec := &recordingSink{}
	src := &scriptedSource{
		chunks: [][]byte{telemetryFrame(1250)[:40]},
		final:  ErrDisconnected,
	}
	p := New(src, rec, nil)
	p.PollInterval = time.Millisecond

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, p.Framer.Buffered())
	assert.Equal(t, 0, rec.count())

	sum := p.Stats.Summary()
	assert.Equal(t, uint64(1), sum.Disconnects)
	assert.Equal(t, uint64(40), sum.DroppedBytes)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.Disconnects))
}

func TestRun_FramesOnSilence(t *testing.T) {
	rec := &recordingSink{}
	clock := &manualClock{}
	frame := telemetryFrame(1250)
	src := &scriptedSource{chunks: [][]byte{frame[:50], frame[50:]}, after: 2, final: ErrDisconnected}

	p := New(src, rec, nil)
	p.Clock = clock
	p.PollInterval = time.Millisecond
	p.Source = readerFunc(func(b []byte) (int, error) {
		n, err := src.Read(b)
		if n == 0 {
			clock.now += 100 * time.Millisecond
		}
		return n, err
	})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, uint64(projecta.TelemetryLength), p.Stats.Summary().BytesRead)
}

func TestRun_ContextCancel(t *testing.T) {
	p := New(&scriptedSource{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ReadError(t *testing.T) {
	p := New(&scriptedSource{final: errors.New("bad port")}, nil, nil)
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDisconnected)
}

func TestEmit_SinkErrorsCounted(t *testing.T) {
	rec := &recordingSink{err: errors.New("offline")}
	p := New(nil, rec, nil)
	ctx := context.Background()

	p.Step(ctx, telemetryFrame(1250), 0)
	_, ok := p.Step(ctx, nil, time.Second)
	require.True(t, ok, "a failing sink does not stop the pipeline")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics.SinkErrors.WithLabelValues("recording")))
}

func TestReplay(t *testing.T) {
	pmdcs := make([]byte, projecta.PMDCSLength)
	pmdcs[22], pmdcs[23] = 0x00, 0xC8 // PMDCS_current 2.00

	var capture strings.Builder
	ts := time.Date(2025, 5, 18, 8, 23, 19, 0, time.Local)
	capture.WriteString(projecta.FormatLogLine(ts, projecta.NewFrame(telemetryFrame(1250))) + "\n")
	capture.WriteString(projecta.FormatLogLine(ts.Add(time.Second), projecta.NewFrame(telemetryFrame(1250))) + "\n")
	capture.WriteString(projecta.FormatLogLine(ts.Add(2*time.Second), projecta.NewFrame([]byte{1, 2, 3})) + "\n")
	capture.WriteString(projecta.FormatLogLine(ts.Add(3*time.Second), projecta.NewFrame(pmdcs)) + "\n")

	var out bytes.Buffer
	csvSink, err := sink.NewCSVSink(&out)
	require.NoError(t, err)

	var seen []projecta.Variant
	p := New(nil, csvSink, nil)
	p.OnFrame = func(r Result) { seen = append(seen, r.Packet.Variant()) }

	require.NoError(t, p.Replay(context.Background(), projecta.NewLogReader(strings.NewReader(capture.String()))))
	require.NoError(t, csvSink.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "header plus two changes")
	assert.True(t, strings.HasPrefix(lines[1], "2025-05-18 08:23:19,12.5,"))
	assert.True(t, strings.HasPrefix(lines[2], "2025-05-18 08:23:22,12.5,"))
	assert.True(t, strings.HasSuffix(lines[2], ",2,0,0,-2,0"))

	assert.Equal(t, []projecta.Variant{
		projecta.VariantTelemetry, projecta.VariantTelemetry, projecta.VariantUnknown, projecta.VariantPMDCS,
	}, seen)
}

func TestReplay_MalformedLine(t *testing.T) {
	p := New(nil, nil, nil)
	err := p.Replay(context.Background(), projecta.NewLogReader(strings.NewReader("garbage\n")))
	assert.ErrorIs(t, err, projecta.ErrMalformedLine)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) { return f(b) }
