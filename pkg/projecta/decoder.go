// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import "encoding/binary"

// Decode extracts the telemetry fields carried by a frame.
//
// Unrecognized lengths yield an empty Fields; that is the normal outcome for
// the bus's undocumented packets, not an error. Recognized lengths cannot fail
// because every offset is within bounds by construction of the length check.
// No range or consistency checks are applied (see CheckFields for those).
func Decode(f Frame) Fields {
	return DecodePacket(Classify(f))
}

// DecodePacket extracts the fields of an already classified packet
func DecodePacket(p Packet) Fields {
	switch p.variant {
	case VariantPMDCS:
		return decodePMDCS(p.payload)
	case VariantTelemetry:
		return decodeTelemetry(p.payload)
	default:
		return Fields{}
	}
}

// decodePMDCS decodes the 44-byte DC charger (PMDCS) packet
func decodePMDCS(payload []byte) Fields {
	return extractLayout(payload, pmdcsLayout)
}

// decodeTelemetry decodes the 94-byte main telemetry packet
func decodeTelemetry(payload []byte) Fields {
	return extractLayout(payload, telemetryLayout)
}

func extractLayout(payload []byte, layout []Field) Fields {
	fields := make(Fields, len(layout))
	for _, f := range layout {
		fields[f] = extractField(payload, fieldInfo[f])
	}
	return fields
}

// extractField reads one big-endian field and applies its scale
func extractField(payload []byte, info FieldInfo) float64 {
	var raw float64
	switch info.Width {
	case 1:
		if info.Signed {
			raw = float64(int8(payload[info.Offset]))
		} else {
			raw = float64(payload[info.Offset])
		}
	case 2:
		u := binary.BigEndian.Uint16(payload[info.Offset : info.Offset+2])
		if info.Signed {
			raw = float64(int16(u))
		} else {
			raw = float64(u)
		}
	default:
		panic("projecta: unsupported field width for " + info.Name)
	}

	if info.Scale == 1 {
		return raw
	}
	return raw / info.Scale
}
