// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// gapWindow bounds the number of recent inter-frame gaps kept for statistics
const gapWindow = 256

// Statistics tracks frame counts, rates and inter-frame timing
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time
	LastChangeTime time.Time // zero until the snapshot first changes

	// Counters
	TotalFrames     uint64
	PMDCSFrames     uint64
	TelemetryFrames uint64
	PrefixedFrames  uint64 // subset of TelemetryFrames
	UnknownFrames   uint64
	UnknownLengths  map[int]uint64
	SnapshotChanges uint64
	Anomalies       uint64
	Disconnects     uint64
	DroppedBytes    uint64
	BytesRead       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec

	gaps      []float64 // seconds, ring buffer
	gapNext   int
	lastFrame time.Duration
	haveFrame bool
}

// Summary is a point-in-time copy of the statistics
type Summary struct {
	Elapsed         time.Duration  `json:"elapsed"`
	TotalFrames     uint64         `json:"total_frames"`
	PMDCSFrames     uint64         `json:"pmdcs_frames"`
	TelemetryFrames uint64         `json:"telemetry_frames"`
	PrefixedFrames  uint64         `json:"prefixed_frames"`
	UnknownFrames   uint64         `json:"unknown_frames"`
	UnknownLengths  map[int]uint64 `json:"unknown_lengths"`
	SnapshotChanges uint64         `json:"snapshot_changes"`
	Anomalies       uint64         `json:"anomalies"`
	Disconnects     uint64         `json:"disconnects"`
	DroppedBytes    uint64         `json:"dropped_bytes"`
	BytesRead       uint64         `json:"bytes_read"`
	FrameRate       float64        `json:"frame_rate"`
	GapMean         float64        `json:"gap_mean_seconds"`
	GapStdDev       float64        `json:"gap_stddev_seconds"`
	GapSamples      int            `json:"gap_samples"`
	LastChange      time.Time      `json:"last_change"`
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		UnknownLengths: make(map[int]uint64),
		gaps:           make([]float64, 0, gapWindow),
	}
}

// Update records a decoded frame. at is the frame's completion time on the
// framer's monotonic clock; changed reports whether it altered the snapshot.
func (s *Statistics) Update(p Packet, at time.Duration, changed bool, anomalies int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalFrames++
	switch p.Variant() {
	case VariantPMDCS:
		s.PMDCSFrames++
	case VariantTelemetry:
		s.TelemetryFrames++
		if p.Prefixed() {
			s.PrefixedFrames++
		}
	default:
		s.UnknownFrames++
		s.UnknownLengths[p.FrameLength()]++
	}

	if changed {
		s.SnapshotChanges++
		s.LastChangeTime = time.Now()
	}
	s.Anomalies += uint64(anomalies)

	if s.haveFrame && at > s.lastFrame {
		s.recordGap((at - s.lastFrame).Seconds())
	}
	s.lastFrame = at
	s.haveFrame = true

	s.LastUpdateTime = time.Now()
}

// AddBytes records bytes read from the transport
func (s *Statistics) AddBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesRead += uint64(n)
}

// RecordDisconnect records a transport disconnect and the partial frame dropped
func (s *Statistics) RecordDisconnect(dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disconnects++
	s.DroppedBytes += uint64(dropped)
	// the next frame's spacing is not an inter-frame gap
	s.haveFrame = false
}

func (s *Statistics) recordGap(seconds float64) {
	if len(s.gaps) < gapWindow {
		s.gaps = append(s.gaps, seconds)
		return
	}
	s.gaps[s.gapNext] = seconds
	s.gapNext = (s.gapNext + 1) % gapWindow
}

// CalculateRates calculates the frame rate
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
	}
}

// Summary returns a consistent copy of the counters
func (s *Statistics) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	lengths := make(map[int]uint64, len(s.UnknownLengths))
	for k, v := range s.UnknownLengths {
		lengths[k] = v
	}

	sum := Summary{
		Elapsed:         time.Since(s.StartTime),
		TotalFrames:     s.TotalFrames,
		PMDCSFrames:     s.PMDCSFrames,
		TelemetryFrames: s.TelemetryFrames,
		PrefixedFrames:  s.PrefixedFrames,
		UnknownFrames:   s.UnknownFrames,
		UnknownLengths:  lengths,
		SnapshotChanges: s.SnapshotChanges,
		Anomalies:       s.Anomalies,
		Disconnects:     s.Disconnects,
		DroppedBytes:    s.DroppedBytes,
		BytesRead:       s.BytesRead,
		FrameRate:       s.FrameRate,
		GapSamples:      len(s.gaps),
		LastChange:      s.LastChangeTime,
	}
	if len(s.gaps) > 1 {
		sum.GapMean, sum.GapStdDev = stat.MeanStdDev(s.gaps, nil)
	} else if len(s.gaps) == 1 {
		sum.GapMean = s.gaps[0]
	}
	return sum
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	sum := s.Summary()

	percent := func(n uint64) float64 {
		if sum.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(sum.TotalFrames)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", sum.Elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", sum.TotalFrames)
	result += fmt.Sprintf("PMDCS:           %8d (%.1f%%)\n", sum.PMDCSFrames, percent(sum.PMDCSFrames))
	result += fmt.Sprintf("Telemetry:       %8d (%.1f%%)\n", sum.TelemetryFrames, percent(sum.TelemetryFrames))
	if sum.PrefixedFrames > 0 {
		result += fmt.Sprintf("  Prefixed:         %5d\n", sum.PrefixedFrames)
	}
	if sum.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown:         %8d (%.1f%%)\n", sum.UnknownFrames, percent(sum.UnknownFrames))
		lengths := make([]int, 0, len(sum.UnknownLengths))
		for l := range sum.UnknownLengths {
			lengths = append(lengths, l)
		}
		sort.Ints(lengths)
		for _, l := range lengths {
			result += fmt.Sprintf("  %3d bytes:        %5d\n", l, sum.UnknownLengths[l])
		}
	}
	result += fmt.Sprintf("Snapshot Changes:%8d\n", sum.SnapshotChanges)
	if sum.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", sum.Anomalies)
	}
	if sum.Disconnects > 0 {
		result += fmt.Sprintf("Disconnects:     %8d (%d bytes dropped)\n", sum.Disconnects, sum.DroppedBytes)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", sum.FrameRate)
	if sum.GapSamples > 0 {
		result += fmt.Sprintf("Frame Spacing:   %8.1f ms (sd %.1f ms, n=%d)\n",
			sum.GapMean*1000, sum.GapStdDev*1000, sum.GapSamples)
	}
	result += "================================\n"

	return result
}

// Reset resets all statistics counters. LastChangeTime is kept since the
// snapshot it describes is not reset.
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalFrames = 0
	s.PMDCSFrames = 0
	s.TelemetryFrames = 0
	s.PrefixedFrames = 0
	s.UnknownFrames = 0
	s.UnknownLengths = make(map[int]uint64)
	s.SnapshotChanges = 0
	s.Anomalies = 0
	s.Disconnects = 0
	s.DroppedBytes = 0
	s.BytesRead = 0
	s.FrameRate = 0
	s.gaps = s.gaps[:0]
	s.gapNext = 0
	s.haveFrame = false
}
