// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"context"
	"sync"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/chart"
	"github.com/danricho/projecta-RS485-reverse-engineering/internal/sink"
)

// History keeps the most recent snapshot changes in memory for /chart.
// It is a sink so the pipeline feeds it like any other consumer.
type History struct {
	mu     sync.RWMutex
	points []chart.Point
	next   int
	full   bool
}

// NewHistory keeps up to size points
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{points: make([]chart.Point, size)}
}

// Name implements sink.Sink
func (h *History) Name() string {
	return "history"
}

// Emit implements sink.Sink
func (h *History) Emit(_ context.Context, u sink.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.points[h.next] = chart.Point{Time: u.Time, Values: u.Snapshot.Map()}
	h.next = (h.next + 1) % len(h.points)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Close implements sink.Sink
func (h *History) Close() error {
	return nil
}

// Points returns the kept points, oldest first
func (h *History) Points() []chart.Point {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		out := make([]chart.Point, h.next)
		copy(out, h.points[:h.next])
		return out
	}
	out := make([]chart.Point, 0, len(h.points))
	out = append(out, h.points[h.next:]...)
	return append(out, h.points[:h.next]...)
}
