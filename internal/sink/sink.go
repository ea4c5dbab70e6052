// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sink delivers telemetry snapshots and raw frames to their consumers.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// Update is one snapshot change
type Update struct {
	Time      time.Time
	SessionID string
	Variant   projecta.Variant // variant of the frame that caused the change
	Snapshot  projecta.Snapshot
}

// Sink consumes snapshot changes
type Sink interface {
	Name() string
	Emit(ctx context.Context, u Update) error
	Close() error
}

// FrameSink consumes every completed frame, decoded or not
type FrameSink interface {
	WriteFrame(ts time.Time, f projecta.Frame) error
	Close() error
}

// Error attributes an emit failure to a sink
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FailedSinks lists the sinks named by the *Error values in err
func FailedSinks(err error) []string {
	if err == nil {
		return nil
	}
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	var names []string
	for _, e := range errs {
		var se *Error
		if errors.As(e, &se) {
			names = append(names, se.Sink)
		} else {
			names = append(names, "unknown")
		}
	}
	return names
}

// Multi fans every update out to all sinks. One failing sink does not stop
// the others; failures are joined.
type Multi []Sink

// Name implements Sink
func (m Multi) Name() string {
	return "multi"
}

// Emit implements Sink
func (m Multi) Emit(ctx context.Context, u Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, u); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Discard drops every update
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) Emit(context.Context, Update) error { return nil }

func (Discard) Close() error { return nil }
