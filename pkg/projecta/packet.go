// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import "fmt"

// Variant is the packet layout inferred from a frame's length
type Variant int

const (
	VariantUnknown Variant = iota
	VariantPMDCS
	VariantTelemetry
)

func (v Variant) String() string {
	switch v {
	case VariantPMDCS:
		return "PMDCS"
	case VariantTelemetry:
		return "TELEMETRY"
	default:
		return "UNKNOWN"
	}
}

// Packet is a classified frame
type Packet struct {
	variant  Variant
	payload  []byte // frame bytes with any prefix stripped
	prefix   []byte // leading bytes of a prefixed telemetry frame
	frameLen int
}

// Classify maps a frame to its packet variant. A 102-byte frame is a telemetry
// payload behind an 8-byte prefix; the prefix is kept but never decoded.
func Classify(f Frame) Packet {
	data := f.view()
	p := Packet{frameLen: len(data)}

	switch len(data) {
	case PMDCSLength:
		p.variant = VariantPMDCS
		p.payload = data

	case TelemetryPrefixedLength:
		p.prefix = data[:TelemetryPrefixLength]
		p.payload = data[TelemetryPrefixLength:]
		if len(p.payload) != TelemetryLength {
			panic(fmt.Sprintf("projecta: prefixed frame trimmed to %d bytes, want %d", len(p.payload), TelemetryLength))
		}
		p.variant = VariantTelemetry

	case TelemetryLength:
		p.variant = VariantTelemetry
		p.payload = data

	default:
		p.variant = VariantUnknown
		p.payload = data
	}

	return p
}

// Variant returns the packet layout
func (p Packet) Variant() Variant {
	return p.variant
}

// Prefixed reports whether the frame carried the 8-byte telemetry prefix
func (p Packet) Prefixed() bool {
	return p.prefix != nil
}

// Prefix returns a copy of the stripped prefix bytes (nil if none)
func (p Packet) Prefix() []byte {
	if p.prefix == nil {
		return nil
	}
	buf := make([]byte, len(p.prefix))
	copy(buf, p.prefix)
	return buf
}

// FrameLength returns the length of the original frame
func (p Packet) FrameLength() int {
	return p.frameLen
}

// PayloadLength returns the length of the payload after prefix stripping
func (p Packet) PayloadLength() int {
	return len(p.payload)
}

// Label names the packet for display and metrics ("TELEMETRY+PREFIX")
func (p Packet) Label() string {
	if p.Prefixed() {
		return p.variant.String() + "+PREFIX"
	}
	return p.variant.String()
}
