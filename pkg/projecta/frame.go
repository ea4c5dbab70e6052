// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"strings"
	"time"
)

// Frame is a run of bytes bounded by silence on the bus
type Frame struct {
	data []byte
}

// NewFrame copies data into a new frame
func NewFrame(data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{data: buf}
}

// Len returns the frame length in bytes
func (f Frame) Len() int {
	return len(f.data)
}

// At returns the byte at index i
func (f Frame) At(i int) byte {
	return f.data[i]
}

// Bytes returns a copy of the frame contents
func (f Frame) Bytes() []byte {
	buf := make([]byte, len(f.data))
	copy(buf, f.data)
	return buf
}

// Hex returns the frame as space-separated uppercase hex ("7E 01 FF")
func (f Frame) Hex() string {
	if len(f.data) == 0 {
		return ""
	}
	const digits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(f.data) * 3)
	for i, c := range f.data {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(digits[c>>4])
		b.WriteByte(digits[c&0x0F])
	}
	return b.String()
}

// view exposes the backing slice to package-internal readers that never retain it
func (f Frame) view() []byte {
	return f.data
}

// FramerState is the framer's accumulation state
type FramerState int

const (
	StateIdle FramerState = iota
	StateAccumulating
)

func (s FramerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	default:
		return "UNKNOWN"
	}
}

// Framer delimits a byte stream into frames using inter-byte silence.
//
// Timestamps are offsets on a monotonic clock (see MonotonicClock). The framer
// gives identical results for any chunking of the same bytes, provided the
// timestamps of the last byte before each gap are the same.
type Framer struct {
	gap         time.Duration
	buffer      []byte
	lastArrival time.Duration
	overflowed  int // total bytes discarded because the buffer hit MaxFrameSize
}

// NewFramer creates a framer. A non-positive gap selects DefaultGapThreshold.
func NewFramer(gap time.Duration) *Framer {
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	return &Framer{
		gap:    gap,
		buffer: make([]byte, 0, TelemetryPrefixedLength),
	}
}

// Gap returns the configured silence threshold
func (fr *Framer) Gap() time.Duration {
	return fr.gap
}

// State returns the current framer state
func (fr *Framer) State() FramerState {
	if len(fr.buffer) == 0 {
		return StateIdle
	}
	return StateAccumulating
}

// Buffered returns the number of bytes waiting for a gap
func (fr *Framer) Buffered() int {
	return len(fr.buffer)
}

// Overflowed returns the total number of bytes dropped because the buffer was
// full
func (fr *Framer) Overflowed() int {
	return fr.overflowed
}

// Feed processes one read result.
//
// A non-empty chunk is buffered and never completes a frame. An empty chunk
// completes the buffered frame once now is at least the gap threshold past the
// last arrival. Returns false when no frame is ready.
func (fr *Framer) Feed(chunk []byte, now time.Duration) (Frame, bool) {
	if len(chunk) > 0 {
		room := MaxFrameSize - len(fr.buffer)
		if len(chunk) > room {
			fr.overflowed += len(chunk) - room
			chunk = chunk[:room]
		}
		fr.buffer = append(fr.buffer, chunk...)
		fr.lastArrival = now
		return Frame{}, false
	}

	if len(fr.buffer) == 0 || now-fr.lastArrival < fr.gap {
		return Frame{}, false
	}

	frame := NewFrame(fr.buffer)
	fr.reset()
	return frame, true
}

// Disconnect discards any partial frame without emitting it. A gap following a
// broken connection carries no meaning. Returns the number of bytes dropped.
func (fr *Framer) Disconnect() int {
	dropped := len(fr.buffer)
	fr.reset()
	return dropped
}

func (fr *Framer) reset() {
	fr.buffer = fr.buffer[:0]
	fr.lastArrival = 0
}

// Clock supplies monotonic timestamps for the framer
type Clock interface {
	Now() time.Duration
}

// MonotonicClock measures elapsed time from its creation using the runtime's
// monotonic clock reading, so wall-clock adjustments do not affect framing.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock at zero
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns the time elapsed since the clock was created
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}
