// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import "fmt"

// AnomalyType represents different kinds of suspicious decoded values
type AnomalyType int

const (
	AnomalyPercentRange AnomalyType = iota
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyPercentRange:
		return "PERCENT_RANGE"
	default:
		return "UNKNOWN"
	}
}

// Anomaly describes a decoded value that looks implausible.
//
// Anomalies are diagnostics only: the protocol has no checksum, so nothing is
// rejected and the Store merges the value regardless.
type Anomaly struct {
	Type    AnomalyType
	Field   Field
	Value   float64
	Message string
}

// Error implements the error interface
func (a *Anomaly) Error() string {
	return a.Message
}

// CheckFields reports implausible values among decoded fields
func CheckFields(fields Fields) []Anomaly {
	anomalies := []Anomaly{}

	for _, f := range fields.Sorted() {
		v := fields[f]
		if f.Info().Unit == "%" && (v < 0 || v > 100) {
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyPercentRange,
				Field:   f,
				Value:   v,
				Message: fmt.Sprintf("%s=%s outside 0-100%%", f, f.FormatValue(v)),
			})
		}
	}

	return anomalies
}
