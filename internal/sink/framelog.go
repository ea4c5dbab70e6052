// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/danricho/projecta-RS485-reverse-engineering/internal/config"
	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// FrameLog appends every frame as a "TIMESTAMP | HEX" capture line. The
// output can be replayed by the decode and scan commands.
type FrameLog struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFrameLog writes capture lines to w
func NewFrameLog(w io.WriteCloser) *FrameLog {
	return &FrameLog{w: w}
}

// OpenFrameLog writes capture lines to a size-rotated file
func OpenFrameLog(cfg config.LumberjackConfig) *FrameLog {
	return NewFrameLog(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

// WriteFrame implements FrameSink
func (l *FrameLog) WriteFrame(ts time.Time, f projecta.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, projecta.FormatLogLine(ts, f)+"\n"); err != nil {
		return fmt.Errorf("write frame log: %w", err)
	}
	return nil
}

// Close implements FrameSink
func (l *FrameLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
