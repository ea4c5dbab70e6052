// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package projecta decodes the RS-485 telemetry bus of a Projecta PM power and
// water management controller.
//
// The bus carries no framing bytes and no checksum. Packets are delimited only
// by inter-byte silence, classified by their length and decoded from fixed
// byte offsets. Decoded fields are folded into a rolling Snapshot by a Store,
// which also computes derived fields.
package projecta

import "time"

// Frame lengths of the known packet layouts
const (
	PMDCSLength             = 44
	TelemetryLength         = 94
	TelemetryPrefixedLength = 102

	// TelemetryPrefixLength is the number of leading bytes stripped from a
	// prefixed telemetry frame. Their meaning is unknown.
	TelemetryPrefixLength = TelemetryPrefixedLength - TelemetryLength
)

// Framing defaults
const (
	// DefaultGapThreshold is the silence after which buffered bytes form a frame.
	// Longer than any inter-byte delay within a packet at 9600 baud and shorter
	// than the idle time between packets.
	DefaultGapThreshold = 50 * time.Millisecond

	// DefaultPollInterval is how often an idle reader re-checks the gap.
	DefaultPollInterval = 5 * time.Millisecond

	// DefaultBaudRate was determined experimentally on the PM bus.
	DefaultBaudRate = 9600

	// MaxFrameSize bounds the accumulation buffer. A frame this long means the
	// gap threshold is too short for the bus, not a real packet.
	MaxFrameSize = 4096
)

// Derived field parameters
const (
	// ChargerActiveThreshold is the inferred AC charger current (A) above which
	// the charger is reported active. Chosen empirically.
	ChargerActiveThreshold = 15.0
)

// Offline hex log timestamp layout (YYYYMMDDTHHMMSS)
const LogTimestampLayout = "20060102T150405"

// CSVTimestampLayout is the timestamp column layout of decoded CSV output
const CSVTimestampLayout = "2006-01-02 15:04:05"
