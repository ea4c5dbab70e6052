// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame and its decoded fields into a human-readable string
func FormatFrame(ts time.Time, f Frame) string {
	p := Classify(f)
	result := fmt.Sprintf("[%s] %s (%d bytes)\n", ts.Format("15:04:05.000"), p.Label(), f.Len())

	fields := DecodePacket(p)
	if len(fields) == 0 {
		return result + formatHexDump(f.view())
	}
	return result + FormatFields(fields)
}

// FormatFields formats decoded fields one per line with units
func FormatFields(fields Fields) string {
	var b strings.Builder
	for _, f := range fields.Sorted() {
		b.WriteString(formatFieldLine(f, fields[f]))
	}
	return b.String()
}

// FormatSnapshot formats every set field of a snapshot one per line
func FormatSnapshot(s Snapshot) string {
	if s.Len() == 0 {
		return "  (no telemetry yet)\n"
	}
	var b strings.Builder
	for _, f := range AllFields() {
		if v, ok := s.Get(f); ok {
			b.WriteString(formatFieldLine(f, v))
		}
	}
	return b.String()
}

func formatFieldLine(f Field, v float64) string {
	info := f.Info()
	marker := ""
	if info.Tentative {
		marker = " *"
	}
	return fmt.Sprintf("  %-22s %10s %s%s\n", info.Name+":", f.FormatValue(v), info.Unit, marker)
}

// formatFieldList renders fields on one line: "name=value name=value"
func formatFieldList(fields Fields) string {
	if len(fields) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields.Sorted() {
		parts = append(parts, f.String()+"="+f.FormatValue(fields[f]))
	}
	return strings.Join(parts, " ")
}

// FormatMatch renders one scanner match ("Offset 020: 12.50000 (int16 BE / 100)")
func FormatMatch(m Match) string {
	return fmt.Sprintf("Offset %03d: %.5f (%s)", m.Offset, m.Value, m.Interpretation.Label())
}

// formatHexDump renders bytes 16 per line
func formatHexDump(data []byte) string {
	if len(data) == 0 {
		return "  (empty)\n"
	}
	result := "  Data: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n        "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
