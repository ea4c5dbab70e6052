// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"bufio"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// buildFrame creates a frame of the given length with big-endian 16-bit
// values written at the given offsets
func buildFrame(length int, words map[int]int16) Frame {
	data := make([]byte, length)
	for off, v := range words {
		data[off] = byte(uint16(v) >> 8)
		data[off+1] = byte(uint16(v))
	}
	return NewFrame(data)
}

// buildTelemetry creates a 94-byte telemetry frame with known battery values
func buildTelemetry() []byte {
	data := make([]byte, TelemetryLength)
	data[20], data[21] = 0x04, 0xE2 // battery_voltage 12.50
	data[22], data[23] = 0xFE, 0xD4 // battery_current -3.00
	data[4], data[5] = 0x07, 0xD0   // solar_input_voltage 20.00
	data[6], data[7] = 0x01, 0x2C   // solar_input_current 3.00
	data[12], data[13] = 0xFF, 0xFF // aux_input_voltage 655.35 (unsigned)
	data[14], data[15] = 0x80, 0x00 // aux_input_current 327.68 (unsigned)
	data[16], data[17] = 0x05, 0x14 // output_voltage 13.00
	data[18], data[19] = 0xFF, 0x9C // output_current -1.00
	data[25] = 87                    // battery_soc
	data[41] = 50                    // fresh_tank_1_pct
	data[43] = 0xC8                  // fresh_tank_2_pct 200 (unsigned)
	return data
}

func feedAll(fr *Framer, chunks [][]byte, times []time.Duration) []Frame {
	var frames []Frame
	for i, c := range chunks {
		if f, ok := fr.Feed(c, times[i]); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ============================================================
// Frame Tests
// ============================================================

func TestFrame_Hex(t *testing.T) {
	f := NewFrame([]byte{0x00, 0x0A, 0xFF, 0x7E})
	if got := f.Hex(); got != "00 0A FF 7E" {
		t.Errorf("Hex() = %q, want %q", got, "00 0A FF 7E")
	}
	if got := NewFrame(nil).Hex(); got != "" {
		t.Errorf("empty Hex() = %q, want empty", got)
	}
}

func TestFrame_Immutable(t *testing.T) {
	src := []byte{1, 2, 3}
	f := NewFrame(src)
	src[0] = 99
	if f.At(0) != 1 {
		t.Error("frame should not alias its source slice")
	}
	b := f.Bytes()
	b[1] = 99
	if f.At(1) != 2 {
		t.Error("Bytes() should return a copy")
	}
}

// ============================================================
// Framer Tests
// ============================================================

func TestFramer_GapEmitsFrame(t *testing.T) {
	fr := NewFramer(50 * time.Millisecond)

	if _, ok := fr.Feed([]byte{0xAA}, 0); ok {
		t.Fatal("non-empty chunk must not complete a frame")
	}
	if _, ok := fr.Feed([]byte{0xBB}, 20*time.Millisecond); ok {
		t.Fatal("non-empty chunk must not complete a frame")
	}
	if _, ok := fr.Feed(nil, 60*time.Millisecond); ok {
		t.Fatal("40ms of silence is below the threshold")
	}

	f, ok := fr.Feed(nil, 80*time.Millisecond)
	if !ok {
		t.Fatal("60ms of silence should complete the frame")
	}
	if f.Hex() != "AA BB" {
		t.Errorf("frame = %q, want %q", f.Hex(), "AA BB")
	}
	if fr.State() != StateIdle {
		t.Errorf("state after emit = %s, want IDLE", fr.State())
	}
	if _, ok := fr.Feed(nil, 200*time.Millisecond); ok {
		t.Error("empty buffer must never yield a frame")
	}
}

func TestFramer_ShortGapKeepsBytesTogether(t *testing.T) {
	fr := NewFramer(50 * time.Millisecond)

	fr.Feed([]byte{0x01}, 0)
	if _, ok := fr.Feed(nil, 10*time.Millisecond); ok {
		t.Fatal("frame emitted too early")
	}
	fr.Feed([]byte{0x02}, 30*time.Millisecond)
	if _, ok := fr.Feed(nil, 70*time.Millisecond); ok {
		t.Fatal("40ms since last byte is below threshold")
	}

	f, ok := fr.Feed(nil, 80*time.Millisecond)
	if !ok {
		t.Fatal("expected frame once the gap from the last byte is reached")
	}
	if f.Hex() != "01 02" {
		t.Errorf("frame = %q, want %q", f.Hex(), "01 02")
	}
}

func TestFramer_ExactThresholdEmits(t *testing.T) {
	fr := NewFramer(50 * time.Millisecond)
	fr.Feed([]byte{0x01}, 100*time.Millisecond)
	if _, ok := fr.Feed(nil, 150*time.Millisecond); !ok {
		t.Error("a gap equal to the threshold should complete the frame")
	}
}

func TestFramer_ChunkingIndependent(t *testing.T) {
	payload := buildTelemetry()
	gapAt := 500 * time.Millisecond
	lastByteAt := 100 * time.Millisecond

	// One read of everything
	whole := NewFramer(0)
	whole.Feed(payload, lastByteAt)
	wf, ok := whole.Feed(nil, gapAt)
	if !ok {
		t.Fatal("expected frame from single chunk")
	}

	// Byte at a time, last byte at the same time
	single := NewFramer(0)
	for i, b := range payload {
		at := lastByteAt - time.Duration(len(payload)-1-i)*time.Millisecond
		if _, ok := single.Feed([]byte{b}, at); ok {
			t.Fatal("frame emitted mid-stream")
		}
		// empty polls between bytes, below threshold
		if _, ok := single.Feed(nil, at); ok {
			t.Fatal("frame emitted mid-stream on empty poll")
		}
	}
	sf, ok := single.Feed(nil, gapAt)
	if !ok {
		t.Fatal("expected frame from single-byte chunks")
	}

	if wf.Hex() != sf.Hex() {
		t.Error("chunking changed the framed bytes")
	}
}

func TestFramer_MultipleFrames(t *testing.T) {
	fr := NewFramer(50 * time.Millisecond)
	ms := time.Millisecond
	frames := feedAll(fr,
		[][]byte{{1, 2}, nil, {3}, nil, nil, {4, 5, 6}, nil},
		[]time.Duration{0, 60 * ms, 61 * ms, 70 * ms, 111 * ms, 112 * ms, 200 * ms},
	)

	want := []string{"01 02", "03", "04 05 06"}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.Hex() != want[i] {
			t.Errorf("frame %d = %q, want %q", i, f.Hex(), want[i])
		}
	}
}

func TestFramer_DisconnectDiscards(t *testing.T) {
	fr := NewFramer(50 * time.Millisecond)
	fr.Feed([]byte{1, 2, 3}, 0)

	if dropped := fr.Disconnect(); dropped != 3 {
		t.Errorf("Disconnect() dropped %d bytes, want 3", dropped)
	}
	if fr.State() != StateIdle {
		t.Errorf("state after disconnect = %s, want IDLE", fr.State())
	}
	if _, ok := fr.Feed(nil, time.Second); ok {
		t.Error("gap after disconnect must not emit the discarded bytes")
	}

	// Framing resumes normally
	fr.Feed([]byte{9}, 2*time.Second)
	f, ok := fr.Feed(nil, 3*time.Second)
	if !ok || f.Hex() != "09" {
		t.Errorf("framing after disconnect = %q, %v; want \"09\", true", f.Hex(), ok)
	}
}

func TestFramer_DefaultGap(t *testing.T) {
	if g := NewFramer(0).Gap(); g != DefaultGapThreshold {
		t.Errorf("NewFramer(0).Gap() = %v, want %v", g, DefaultGapThreshold)
	}
	if g := NewFramer(-time.Second).Gap(); g != DefaultGapThreshold {
		t.Errorf("NewFramer(-1s).Gap() = %v, want %v", g, DefaultGapThreshold)
	}
}

func TestFramer_Overflow(t *testing.T) {
	fr := NewFramer(0)
	fr.Feed(make([]byte, MaxFrameSize+10), 0)
	if fr.Buffered() != MaxFrameSize {
		t.Errorf("Buffered() = %d, want %d", fr.Buffered(), MaxFrameSize)
	}
	if fr.Overflowed() != 10 {
		t.Errorf("Overflowed() = %d, want 10", fr.Overflowed())
	}
}

func TestMonotonicClock(t *testing.T) {
	c := NewMonotonicClock()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Errorf("clock went backwards: %v then %v", a, b)
	}
}

// ============================================================
// Classification Tests
// ============================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		length   int
		variant  Variant
		prefixed bool
		payload  int
		label    string
	}{
		{44, VariantPMDCS, false, 44, "PMDCS"},
		{94, VariantTelemetry, false, 94, "TELEMETRY"},
		{102, VariantTelemetry, true, 94, "TELEMETRY+PREFIX"},
		{0, VariantUnknown, false, 0, "UNKNOWN"},
		{8, VariantUnknown, false, 8, "UNKNOWN"},
		{95, VariantUnknown, false, 95, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			p := Classify(NewFrame(make([]byte, tt.length)))
			if p.Variant() != tt.variant {
				t.Errorf("Variant() = %s, want %s", p.Variant(), tt.variant)
			}
			if p.Prefixed() != tt.prefixed {
				t.Errorf("Prefixed() = %v, want %v", p.Prefixed(), tt.prefixed)
			}
			if p.PayloadLength() != tt.payload {
				t.Errorf("PayloadLength() = %d, want %d", p.PayloadLength(), tt.payload)
			}
			if p.FrameLength() != tt.length {
				t.Errorf("FrameLength() = %d, want %d", p.FrameLength(), tt.length)
			}
			if p.Label() != tt.label {
				t.Errorf("Label() = %s, want %s", p.Label(), tt.label)
			}
		})
	}
}

func TestClassify_PrefixBytes(t *testing.T) {
	data := append([]byte{1, 2, 3, 4, 5, 6, 7, 8}, make([]byte, TelemetryLength)...)
	p := Classify(NewFrame(data))
	prefix := p.Prefix()
	if len(prefix) != TelemetryPrefixLength || prefix[0] != 1 || prefix[7] != 8 {
		t.Errorf("Prefix() = %v", prefix)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_BatteryRoundTrip(t *testing.T) {
	fields := Decode(buildFrame(TelemetryLength, map[int]int16{20: 1250, 22: -300}))

	if v := fields[FieldBatteryVoltage]; v != 12.50 {
		t.Errorf("battery_voltage = %v, want 12.50", v)
	}
	if v := fields[FieldBatteryCurrent]; v != -3.00 {
		t.Errorf("battery_current = %v, want -3.00", v)
	}
}

func TestDecode_Telemetry(t *testing.T) {
	fields := Decode(NewFrame(buildTelemetry()))

	want := map[Field]float64{
		FieldSolarInputVoltage: 20.00,
		FieldSolarInputCurrent: 3.00,
		FieldAuxInputVoltage:   655.35,
		FieldAuxInputCurrent:   327.68,
		FieldOutputVoltage:     13.00,
		FieldOutputCurrent:     -1.00,
		FieldBatteryVoltage:    12.50,
		FieldBatteryCurrent:    -3.00,
		FieldBatterySOC:        87,
		FieldFreshTank1:        50,
		FieldFreshTank2:        200,
	}

	if len(fields) != len(want) {
		t.Errorf("decoded %d fields, want %d", len(fields), len(want))
	}
	for f, v := range want {
		got, ok := fields[f]
		if !ok {
			t.Errorf("%s missing", f)
			continue
		}
		if !approxEqual(got, v) {
			t.Errorf("%s = %v, want %v", f, got, v)
		}
	}
}

func TestDecode_PMDCS(t *testing.T) {
	fields := Decode(buildFrame(PMDCSLength, map[int]int16{16: 1380, 20: 1420, 22: -250}))

	want := map[Field]float64{
		FieldPMDCSInputVoltage:  13.80,
		FieldPMDCSOutputVoltage: 14.20,
		FieldPMDCSCurrent:       -2.50,
	}
	if len(fields) != len(want) {
		t.Fatalf("decoded %d fields, want %d: %v", len(fields), len(want), fields.Names())
	}
	for f, v := range want {
		if !approxEqual(fields[f], v) {
			t.Errorf("%s = %v, want %v", f, fields[f], v)
		}
	}
}

func TestDecode_PrefixedEquivalence(t *testing.T) {
	payload := buildTelemetry()
	prefixed := append([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}, payload...)

	direct := Decode(NewFrame(payload))
	viaPrefix := Decode(NewFrame(prefixed))

	if len(direct) != len(viaPrefix) {
		t.Fatalf("field count differs: %d vs %d", len(direct), len(viaPrefix))
	}
	for f, v := range direct {
		if viaPrefix[f] != v {
			t.Errorf("%s = %v via prefix, %v direct", f, viaPrefix[f], v)
		}
	}
}

func TestDecode_UnknownLengths(t *testing.T) {
	for _, n := range []int{0, 1, 8, 43, 45, 93, 95, 101, 103, 256} {
		if fields := Decode(NewFrame(make([]byte, n))); len(fields) != 0 {
			t.Errorf("length %d decoded %d fields, want none", n, len(fields))
		}
	}
}

func TestDecode_Deterministic(t *testing.T) {
	for _, data := range [][]byte{buildTelemetry(), make([]byte, PMDCSLength), make([]byte, TelemetryPrefixedLength)} {
		a := Decode(NewFrame(data))
		b := Decode(NewFrame(data))
		if len(a) != len(b) {
			t.Fatalf("length %d: field counts differ", len(data))
		}
		for f, v := range a {
			if b[f] != v {
				t.Errorf("length %d: %s differs between calls", len(data), f)
			}
		}
	}
}

// ============================================================
// Store Tests
// ============================================================

func TestStore_MergeOverlay(t *testing.T) {
	st := NewStore()

	st.Merge(Fields{FieldBatteryVoltage: 1})
	_, snap := st.Merge(Fields{FieldBatteryCurrent: 2})

	if v, _ := snap.Get(FieldBatteryVoltage); v != 1 {
		t.Errorf("battery_voltage = %v, want 1", v)
	}
	if v, _ := snap.Get(FieldBatteryCurrent); v != 2 {
		t.Errorf("battery_current = %v, want 2", v)
	}

	_, snap = st.Merge(Fields{FieldBatteryVoltage: 3})
	if v, _ := snap.Get(FieldBatteryVoltage); v != 3 {
		t.Errorf("battery_voltage = %v, want 3", v)
	}
	if v, _ := snap.Get(FieldBatteryCurrent); v != 2 {
		t.Errorf("battery_current = %v, want 2 (untouched)", v)
	}
	if snap.Has(FieldOutputVoltage) {
		t.Error("output_voltage was never merged and must stay unset")
	}
}

func TestStore_DerivedFields(t *testing.T) {
	tests := []struct {
		name    string
		battery float64
		current float64
		active  float64
	}{
		{"inactive", 10.0, 6.0, 0},
		{"active", 30.0, 26.0, 1},
		{"threshold is inactive", 19.0, 15.0, 0},
		{"just above threshold", 19.01, 15.01, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewStore()
			_, snap := st.Merge(Fields{
				FieldPMDCSCurrent:      2.0,
				FieldSolarInputCurrent: 3.0,
				FieldBatteryCurrent:    tt.battery,
				FieldOutputCurrent:     1.0,
			})
			current, ok := snap.Get(FieldACChargerCurrent)
			if !ok || !approxEqual(current, tt.current) {
				t.Errorf("ac_charger_current = %v (set=%v), want %v", current, ok, tt.current)
			}
			active, ok := snap.Get(FieldACChargerActive)
			if !ok || active != tt.active {
				t.Errorf("ac_charger_active = %v (set=%v), want %v", active, ok, tt.active)
			}
		})
	}
}

func TestStore_DerivedDefaultsMissingToZero(t *testing.T) {
	st := NewStore()
	_, snap := st.Merge(Fields{FieldBatteryCurrent: 4.567})
	if v, _ := snap.Get(FieldACChargerCurrent); v != 4.57 {
		t.Errorf("ac_charger_current = %v, want 4.57", v)
	}
}

func TestStore_DerivedNotOverwrittenByInput(t *testing.T) {
	st := NewStore()
	_, snap := st.Merge(Fields{FieldACChargerCurrent: 99, FieldBatteryCurrent: 1})
	if v, _ := snap.Get(FieldACChargerCurrent); v != 1 {
		t.Errorf("ac_charger_current = %v, want derived value 1", v)
	}
}

func TestStore_ChangeSuppression(t *testing.T) {
	st := NewStore()
	fields := Decode(NewFrame(buildTelemetry()))

	changed, _ := st.Merge(fields)
	if !changed {
		t.Error("first merge should report a change")
	}
	changed, _ = st.Merge(fields)
	if changed {
		t.Error("identical merge should not report a change")
	}

	merges, changes := st.Counts()
	if merges != 2 || changes != 1 {
		t.Errorf("Counts() = %d, %d; want 2, 1", merges, changes)
	}
}

func TestStore_EmptyMergeIsNoop(t *testing.T) {
	st := NewStore()
	changed, snap := st.Merge(Fields{})
	if changed {
		t.Error("empty merge should not report a change")
	}
	if snap.Len() != 0 {
		t.Errorf("empty merge populated %d fields", snap.Len())
	}
}

func TestSnapshot_Map(t *testing.T) {
	st := NewStore()
	_, snap := st.Merge(Fields{FieldBatterySOC: 85})

	m := snap.Map()
	if m["battery_soc"] != 85 {
		t.Errorf("battery_soc = %v, want 85", m["battery_soc"])
	}
	if _, ok := m["ac_charger_current"]; !ok {
		t.Error("derived field missing from Map()")
	}
	if len(m) != 3 {
		t.Errorf("Map() has %d entries, want 3: %v", len(m), m)
	}
}

// ============================================================
// Scanner Tests
// ============================================================

func TestScan_FindsBatteryVoltage(t *testing.T) {
	matches := Scan(NewFrame(buildTelemetry()), 12.50, 0)

	found := false
	for _, m := range matches {
		if m.Offset == 20 && m.Interpretation.Label() == "int16 BE / 100" {
			found = true
			if m.Value != 12.5 {
				t.Errorf("value = %v, want 12.5", m.Value)
			}
		}
	}
	if !found {
		t.Errorf("expected int16 BE / 100 at offset 20, got %d matches", len(matches))
	}
}

func TestScan_Float32(t *testing.T) {
	data := []byte{0x00, 0x41, 0x48, 0x00, 0x00} // 12.5 as float32 BE at offset 1
	matches := Scan(NewFrame(data), 12.5, 0.0001)

	found := false
	for _, m := range matches {
		if m.Offset == 1 && m.Interpretation.Label() == "float32 BE" {
			found = true
		}
	}
	if !found {
		t.Error("expected float32 BE match at offset 1")
	}
}

func TestScan_SkipsShortTails(t *testing.T) {
	data := []byte{0x10}
	for _, m := range Scan(NewFrame(data), 16, 0) {
		if m.Interpretation.Width > 1 {
			t.Errorf("multi-byte interpretation %s reported on a 1-byte frame", m.Interpretation.Label())
		}
	}
	if len(Scan(NewFrame(nil), 0, 1)) != 0 {
		t.Error("empty frame should produce no matches")
	}
}

func TestScan_NaNNeverMatches(t *testing.T) {
	data := []byte{0x7F, 0xC0, 0x00, 0x00}
	for _, m := range Scan(NewFrame(data), 0, math.MaxFloat64) {
		if m.Interpretation.Float && math.IsNaN(m.Value) {
			t.Error("NaN reported as a match")
		}
	}
}

func TestInterpretations_Exhaustive(t *testing.T) {
	labels := map[string]bool{}
	for _, in := range Interpretations() {
		labels[in.Label()] = true
	}

	for _, want := range []string{
		"uint8 LE", "uint8 BE", "int8 LE", "int8 BE",
		"uint16 LE / 1000", "uint16 BE / 100", "int16 LE / 100", "int16 BE / 1000",
		"uint32 LE / 1000", "uint32 BE / 100", "int32 LE / 100", "int32 BE / 1000",
		"float32 LE", "float32 BE",
	} {
		if !labels[want] {
			t.Errorf("missing interpretation %q", want)
		}
	}
	if len(labels) != 22 {
		t.Errorf("got %d distinct interpretations, want 22", len(labels))
	}
}

// ============================================================
// Hex Log Tests
// ============================================================

func TestLogLine_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 5, 18, 8, 23, 19, 0, time.Local)
	f := NewFrame(buildTelemetry())

	line := FormatLogLine(ts, f)
	if !strings.HasPrefix(line, "20250518T082319 | 00 00 00 00 07 D0") {
		t.Errorf("unexpected line prefix: %q", line[:40])
	}

	rec, err := ParseLogLine(line)
	if err != nil {
		t.Fatalf("ParseLogLine: %v", err)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if rec.Frame.Hex() != f.Hex() {
		t.Error("frame bytes changed in round trip")
	}
}

func TestParseLogLine_Annotated(t *testing.T) {
	rec, err := ParseLogLine("20250518T082319 | 3 | 0A 0B 0C | {}")
	if err != nil {
		t.Fatalf("ParseLogLine: %v", err)
	}
	if rec.Frame.Hex() != "0A 0B 0C" {
		t.Errorf("frame = %q", rec.Frame.Hex())
	}
}

func TestParseLogLine_Errors(t *testing.T) {
	for _, line := range []string{
		"no separator",
		"2025-05-18 | 00",
		"20250518T082319 | 0G",
		"20250518T082319 | 0A0",
	} {
		if _, err := ParseLogLine(line); !errors.Is(err, ErrMalformedLine) {
			t.Errorf("ParseLogLine(%q) error = %v, want ErrMalformedLine", line, err)
		}
	}
}

func TestLogReader(t *testing.T) {
	input := "20250518T082319 | 01 02\n\n20250518T082320 | 03\nbroken\n"
	lr := NewLogReader(strings.NewReader(input))

	var hexes []string
	for lr.Next() {
		hexes = append(hexes, lr.Record().Frame.Hex())
	}
	if len(hexes) != 2 || hexes[0] != "01 02" || hexes[1] != "03" {
		t.Errorf("records = %v", hexes)
	}

	var lineErr *LogLineError
	if !errors.As(lr.Err(), &lineErr) {
		t.Fatalf("Err() = %v, want *LogLineError", lr.Err())
	}
	if lineErr.Line != 4 {
		t.Errorf("error line = %d, want 4", lineErr.Line)
	}
}

func TestLogReader_LineLength(t *testing.T) {
	ts := time.Date(2025, 5, 18, 8, 23, 19, 0, time.Local)
	big := NewFrame(make([]byte, MaxFrameSize))

	records, err := ReadLog(strings.NewReader(FormatAnnotatedLine(ts, big, nil) + "\n"))
	if err != nil {
		t.Fatalf("maximal frame: %v", err)
	}
	if len(records) != 1 || records[0].Frame.Len() != MaxFrameSize {
		t.Fatalf("records = %d, want one frame of %d bytes", len(records), MaxFrameSize)
	}

	long := "20250518T082319 | " + strings.Repeat("00 ", maxLogLineLength/3+1)
	if _, err := ReadLog(strings.NewReader(long + "\n")); !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("oversized line: err = %v, want bufio.ErrTooLong", err)
	}
}

func TestFormatAnnotatedLine(t *testing.T) {
	ts := time.Date(2025, 5, 18, 8, 23, 19, 0, time.Local)
	f := buildFrame(PMDCSLength, map[int]int16{22: 150})
	line := FormatAnnotatedLine(ts, f, Decode(f))

	if !strings.HasPrefix(line, "20250518T082319 | 44 | ") {
		t.Errorf("unexpected prefix: %q", line)
	}
	if !strings.HasSuffix(line, "PMDCS_input_voltage=0 PMDCS_output_voltage=0 PMDCS_current=1.5") {
		t.Errorf("unexpected field list: %q", line)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	ts := time.Date(2025, 5, 18, 8, 23, 19, 0, time.Local)

	out := FormatFrame(ts, NewFrame(buildTelemetry()))
	if !strings.Contains(out, "TELEMETRY (94 bytes)") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "battery_voltage:") || !strings.Contains(out, "12.5 V") {
		t.Errorf("missing battery voltage line: %q", out)
	}

	out = FormatFrame(ts, NewFrame([]byte{0xAB, 0xCD}))
	if !strings.Contains(out, "UNKNOWN (2 bytes)") || !strings.Contains(out, "AB CD") {
		t.Errorf("unknown frame should hex dump: %q", out)
	}
}

func TestFormatSnapshot_Empty(t *testing.T) {
	if out := FormatSnapshot(Snapshot{}); !strings.Contains(out, "no telemetry") {
		t.Errorf("FormatSnapshot(empty) = %q", out)
	}
}

func TestFormatMatch(t *testing.T) {
	m := Match{Offset: 20, Value: 12.5, Interpretation: Interpretation{Width: 2, Signed: true, Divisor: 100}}
	if got := FormatMatch(m); got != "Offset 020: 12.50000 (int16 BE / 100)" {
		t.Errorf("FormatMatch = %q", got)
	}
}

// ============================================================
// Field Metadata Tests
// ============================================================

func TestLookupField(t *testing.T) {
	for _, f := range AllFields() {
		got, ok := LookupField(f.String())
		if !ok || got != f {
			t.Errorf("LookupField(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := LookupField("nope"); ok {
		t.Error("LookupField should fail for unknown names")
	}
}

func TestCSVColumns(t *testing.T) {
	want := []string{
		"battery_voltage", "battery_current", "battery_soc",
		"output_voltage", "output_current",
		"solar_input_voltage", "solar_input_current",
		"aux_input_voltage", "aux_input_current",
		"PMDCS_input_voltage", "PMDCS_output_voltage", "PMDCS_current",
		"fresh_tank_1_pct", "fresh_tank_2_pct",
		"ac_charger_current", "ac_charger_active",
	}
	if len(CSVColumns) != len(want) {
		t.Fatalf("CSVColumns has %d entries, want %d", len(CSVColumns), len(want))
	}
	for i, f := range CSVColumns {
		if f.String() != want[i] {
			t.Errorf("column %d = %s, want %s", i, f, want[i])
		}
	}
}

// ============================================================
// Anomaly Tests
// ============================================================

func TestCheckFields(t *testing.T) {
	fields := Decode(NewFrame(buildTelemetry())) // fresh_tank_2_pct = 200
	anomalies := CheckFields(fields)
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(anomalies))
	}
	if anomalies[0].Field != FieldFreshTank2 || anomalies[0].Type != AnomalyPercentRange {
		t.Errorf("anomaly = %+v", anomalies[0])
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	ms := time.Millisecond

	s.Update(Classify(NewFrame(make([]byte, 94))), 100*ms, true, 0)
	s.Update(Classify(NewFrame(make([]byte, 102))), 300*ms, false, 0)
	s.Update(Classify(NewFrame(make([]byte, 44))), 500*ms, true, 1)
	s.Update(Classify(NewFrame(make([]byte, 8))), 700*ms, false, 0)

	sum := s.Summary()
	if sum.TotalFrames != 4 || sum.TelemetryFrames != 2 || sum.PrefixedFrames != 1 ||
		sum.PMDCSFrames != 1 || sum.UnknownFrames != 1 {
		t.Errorf("unexpected counts: %+v", sum)
	}
	if sum.UnknownLengths[8] != 1 {
		t.Errorf("UnknownLengths[8] = %d, want 1", sum.UnknownLengths[8])
	}
	if sum.SnapshotChanges != 2 || sum.Anomalies != 1 {
		t.Errorf("changes=%d anomalies=%d", sum.SnapshotChanges, sum.Anomalies)
	}
	if sum.GapSamples != 3 || !approxEqual(sum.GapMean, 0.2) {
		t.Errorf("gap mean = %v over %d samples, want 0.2 over 3", sum.GapMean, sum.GapSamples)
	}
	if !strings.Contains(s.String(), "Total Frames:") {
		t.Error("String() missing totals")
	}

	s.RecordDisconnect(5)
	s.Reset()
	if s.Summary().TotalFrames != 0 {
		t.Error("Reset() did not clear counters")
	}
}

func TestStatistics_LastChange(t *testing.T) {
	s := NewStatistics()
	if !s.Summary().LastChange.IsZero() {
		t.Fatal("LastChange set before any change")
	}

	s.Update(Classify(NewFrame(make([]byte, 94))), 0, false, 0)
	if !s.Summary().LastChange.IsZero() {
		t.Error("unchanged frame set LastChange")
	}

	before := time.Now()
	s.Update(Classify(NewFrame(make([]byte, 44))), time.Second, true, 0)
	last := s.Summary().LastChange
	if last.Before(before) {
		t.Errorf("LastChange = %v, want at or after %v", last, before)
	}

	// the snapshot is not reset, so neither is its timestamp
	s.Reset()
	if !s.Summary().LastChange.Equal(last) {
		t.Error("Reset() cleared LastChange")
	}
}
