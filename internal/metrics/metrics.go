// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the metrics HTTP handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// PipelineMetrics are the counters updated by the read loop
type PipelineMetrics struct {
	BytesRead       prometheus.Counter
	Frames          *prometheus.CounterVec // labels: variant
	SnapshotChanges prometheus.Counter
	Disconnects     prometheus.Counter
	SinkErrors      *prometheus.CounterVec // labels: sink
	LastUpdate      prometheus.Gauge
}

// NewPipelineMetrics registers and returns the pipeline counters
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmscope_bytes_read_total",
			Help: "Total bytes read from the bus.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmscope_frames_total",
			Help: "Frames completed by the framer, by packet variant.",
		}, []string{"variant"}),
		SnapshotChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmscope_snapshot_changes_total",
			Help: "Merges that changed the telemetry snapshot.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmscope_disconnects_total",
			Help: "Transport disconnects observed by the read loop.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmscope_sink_errors_total",
			Help: "Failed sink emits, by sink.",
		}, []string{"sink"}),
		LastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmscope_last_update_timestamp_seconds",
			Help: "Unix time of the last snapshot change.",
		}),
	}
	reg.MustRegister(m.BytesRead, m.Frames, m.SnapshotChanges, m.Disconnects, m.SinkErrors, m.LastUpdate)
	return m
}

// NewNop returns counters registered nowhere, for offline replay
func NewNop() *PipelineMetrics {
	return NewPipelineMetrics(prometheus.NewRegistry())
}
