// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"sort"
	"strconv"
)

// Field identifies one telemetry value, transmitted or derived
type Field int

// Transmitted fields
const (
	FieldPMDCSInputVoltage Field = iota
	FieldPMDCSOutputVoltage
	FieldPMDCSCurrent
	FieldSolarInputVoltage
	FieldSolarInputCurrent
	FieldAuxInputVoltage
	FieldAuxInputCurrent
	FieldOutputVoltage
	FieldOutputCurrent
	FieldBatteryVoltage
	FieldBatteryCurrent
	FieldBatterySOC
	FieldFreshTank1
	FieldFreshTank2

	// Derived fields, computed by the Store from the merged snapshot
	FieldACChargerCurrent
	FieldACChargerActive

	fieldCount
)

// FieldInfo describes where a transmitted field lives and how to scale it.
// Offset is relative to the variant payload (after any prefix is stripped).
type FieldInfo struct {
	Name      string
	Unit      string
	Offset    int
	Width     int // bytes: 1 or 2, big-endian
	Signed    bool
	Scale     float64
	Tentative bool // scale or sign not confirmed against documentation
	Derived   bool
}

var fieldInfo = [fieldCount]FieldInfo{
	FieldPMDCSInputVoltage:  {Name: "PMDCS_input_voltage", Unit: "V", Offset: 16, Width: 2, Signed: true, Scale: 100},
	FieldPMDCSOutputVoltage: {Name: "PMDCS_output_voltage", Unit: "V", Offset: 20, Width: 2, Signed: true, Scale: 100},
	FieldPMDCSCurrent:       {Name: "PMDCS_current", Unit: "A", Offset: 22, Width: 2, Signed: true, Scale: 100},

	FieldSolarInputVoltage: {Name: "solar_input_voltage", Unit: "V", Offset: 4, Width: 2, Signed: true, Scale: 100, Tentative: true},
	FieldSolarInputCurrent: {Name: "solar_input_current", Unit: "A", Offset: 6, Width: 2, Signed: true, Scale: 100},
	FieldAuxInputVoltage:   {Name: "aux_input_voltage", Unit: "V", Offset: 12, Width: 2, Signed: false, Scale: 100, Tentative: true},
	FieldAuxInputCurrent:   {Name: "aux_input_current", Unit: "A", Offset: 14, Width: 2, Signed: false, Scale: 100},
	FieldOutputVoltage:     {Name: "output_voltage", Unit: "V", Offset: 16, Width: 2, Signed: true, Scale: 100},
	FieldOutputCurrent:     {Name: "output_current", Unit: "A", Offset: 18, Width: 2, Signed: true, Scale: 100},
	FieldBatteryVoltage:    {Name: "battery_voltage", Unit: "V", Offset: 20, Width: 2, Signed: true, Scale: 100},
	FieldBatteryCurrent:    {Name: "battery_current", Unit: "A", Offset: 22, Width: 2, Signed: true, Scale: 100},
	FieldBatterySOC:        {Name: "battery_soc", Unit: "%", Offset: 25, Width: 1, Scale: 1},
	FieldFreshTank1:        {Name: "fresh_tank_1_pct", Unit: "%", Offset: 41, Width: 1, Scale: 1},
	FieldFreshTank2:        {Name: "fresh_tank_2_pct", Unit: "%", Offset: 43, Width: 1, Scale: 1},

	FieldACChargerCurrent: {Name: "ac_charger_current", Unit: "A", Scale: 100, Tentative: true, Derived: true},
	FieldACChargerActive:  {Name: "ac_charger_active", Scale: 1, Tentative: true, Derived: true},
}

// Variant layouts, in extraction order
var (
	pmdcsLayout = []Field{
		FieldPMDCSInputVoltage,
		FieldPMDCSOutputVoltage,
		FieldPMDCSCurrent,
	}

	telemetryLayout = []Field{
		FieldSolarInputVoltage,
		FieldSolarInputCurrent,
		FieldAuxInputVoltage,
		FieldAuxInputCurrent,
		FieldOutputVoltage,
		FieldOutputCurrent,
		FieldBatteryVoltage,
		FieldBatteryCurrent,
		FieldBatterySOC,
		FieldFreshTank1,
		FieldFreshTank2,
	}
)

// CSVColumns is the fixed column order of decoded CSV rows (after the timestamp)
var CSVColumns = []Field{
	FieldBatteryVoltage,
	FieldBatteryCurrent,
	FieldBatterySOC,
	FieldOutputVoltage,
	FieldOutputCurrent,
	FieldSolarInputVoltage,
	FieldSolarInputCurrent,
	FieldAuxInputVoltage,
	FieldAuxInputCurrent,
	FieldPMDCSInputVoltage,
	FieldPMDCSOutputVoltage,
	FieldPMDCSCurrent,
	FieldFreshTank1,
	FieldFreshTank2,
	FieldACChargerCurrent,
	FieldACChargerActive,
}

// AllFields returns every field in declaration order
func AllFields() []Field {
	fields := make([]Field, fieldCount)
	for i := range fields {
		fields[i] = Field(i)
	}
	return fields
}

// Info returns the field's metadata
func (f Field) Info() FieldInfo {
	if !f.Valid() {
		return FieldInfo{Name: "field_" + strconv.Itoa(int(f))}
	}
	return fieldInfo[f]
}

// String returns the field's wire name (the key used by sinks)
func (f Field) String() string {
	return f.Info().Name
}

// Valid reports whether f is a known field
func (f Field) Valid() bool {
	return f >= 0 && f < fieldCount
}

// LookupField finds a field by its name
func LookupField(name string) (Field, bool) {
	for i := Field(0); i < fieldCount; i++ {
		if fieldInfo[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// FormatValue renders a value without trailing zeros ("12.5", "85", "-3")
func (f Field) FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Fields holds the values decoded from a single frame
type Fields map[Field]float64

// Names returns the fields keyed by wire name
func (fs Fields) Names() map[string]float64 {
	out := make(map[string]float64, len(fs))
	for f, v := range fs {
		out[f.String()] = v
	}
	return out
}

// Sorted returns the fields present in declaration order
func (fs Fields) Sorted() []Field {
	keys := make([]Field, 0, len(fs))
	for f := range fs {
		keys = append(keys, f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
