// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Interpretation describes one way of reading bytes as a number
type Interpretation struct {
	Width   int // bytes
	Signed  bool
	Float   bool
	Little  bool
	Divisor float64 // 1 when unscaled
}

// Label renders the interpretation, e.g. "int16 BE / 100" or "float32 LE"
func (in Interpretation) Label() string {
	order := "BE"
	if in.Little {
		order = "LE"
	}
	kind := "uint"
	switch {
	case in.Float:
		kind = "float"
	case in.Signed:
		kind = "int"
	}
	label := fmt.Sprintf("%s%d %s", kind, in.Width*8, order)
	if in.Divisor != 1 {
		label += fmt.Sprintf(" / %g", in.Divisor)
	}
	return label
}

// Match is one interpretation whose value lies within tolerance of the target
type Match struct {
	Offset         int
	Value          float64
	Interpretation Interpretation
}

// scanInterpretations lists every reading tried at each offset, in report order
var scanInterpretations = buildInterpretations()

func buildInterpretations() []Interpretation {
	var out []Interpretation

	// A single byte has no byte order; both are listed so every width is
	// enumerated the same way.
	for _, signed := range []bool{false, true} {
		for _, little := range []bool{true, false} {
			out = append(out, Interpretation{Width: 1, Signed: signed, Little: little, Divisor: 1})
		}
	}

	for _, width := range []int{2, 4} {
		if width == 4 {
			for _, little := range []bool{true, false} {
				out = append(out, Interpretation{Width: 4, Float: true, Little: little, Divisor: 1})
			}
		}
		for _, signed := range []bool{false, true} {
			for _, little := range []bool{true, false} {
				for _, div := range []float64{1000, 100} {
					out = append(out, Interpretation{Width: width, Signed: signed, Little: little, Divisor: div})
				}
			}
		}
	}

	return out
}

// Interpretations returns the readings Scan tries at each offset
func Interpretations() []Interpretation {
	out := make([]Interpretation, len(scanInterpretations))
	copy(out, scanInterpretations)
	return out
}

// Scan tries every interpretation at every offset of the frame and reports
// those whose value is within tolerance of target. Interpretations that would
// read past the end of the frame are skipped; NaN and infinite floats never
// match. It is an offline aid for locating undocumented fields.
func Scan(f Frame, target, tolerance float64) []Match {
	data := f.view()
	var matches []Match

	for offset := range data {
		for _, in := range scanInterpretations {
			if offset+in.Width > len(data) {
				continue
			}
			v, ok := interpret(data[offset:offset+in.Width], in)
			if !ok {
				continue
			}
			if math.Abs(v-target) <= tolerance {
				matches = append(matches, Match{Offset: offset, Value: v, Interpretation: in})
			}
		}
	}

	return matches
}

// interpret reads b (exactly in.Width bytes) according to in
func interpret(b []byte, in Interpretation) (float64, bool) {
	var order binary.ByteOrder = binary.BigEndian
	if in.Little {
		order = binary.LittleEndian
	}

	var v float64
	switch in.Width {
	case 1:
		if in.Signed {
			v = float64(int8(b[0]))
		} else {
			v = float64(b[0])
		}
	case 2:
		u := order.Uint16(b)
		if in.Signed {
			v = float64(int16(u))
		} else {
			v = float64(u)
		}
	case 4:
		u := order.Uint32(b)
		switch {
		case in.Float:
			v = float64(math.Float32frombits(u))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, false
			}
		case in.Signed:
			v = float64(int32(u))
		default:
			v = float64(u)
		}
	default:
		return 0, false
	}

	if in.Divisor != 1 {
		v /= in.Divisor
	}
	return v, true
}
