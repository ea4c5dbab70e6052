// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package projecta

import (
	"math"
	"sync"
)

// Snapshot is the last known value of every field seen this session.
// It is a plain value: copies are independent.
type Snapshot struct {
	values [fieldCount]float64
	set    [fieldCount]bool
}

// Get returns the field's value and whether it has ever been set
func (s Snapshot) Get(f Field) (float64, bool) {
	if !f.Valid() || !s.set[f] {
		return 0, false
	}
	return s.values[f], true
}

// Has reports whether the field has a value
func (s Snapshot) Has(f Field) bool {
	return f.Valid() && s.set[f]
}

// value returns the field's value, or 0 if unset
func (s Snapshot) value(f Field) float64 {
	if !s.set[f] {
		return 0
	}
	return s.values[f]
}

// Len returns the number of fields with a value
func (s Snapshot) Len() int {
	n := 0
	for _, ok := range s.set {
		if ok {
			n++
		}
	}
	return n
}

// Map returns the set fields keyed by wire name
func (s Snapshot) Map() map[string]float64 {
	out := make(map[string]float64, s.Len())
	for i := Field(0); i < fieldCount; i++ {
		if s.set[i] {
			out[fieldInfo[i].Name] = s.values[i]
		}
	}
	return out
}

// Fields returns the set fields as a Fields map
func (s Snapshot) Fields() Fields {
	out := make(Fields, s.Len())
	for i := Field(0); i < fieldCount; i++ {
		if s.set[i] {
			out[i] = s.values[i]
		}
	}
	return out
}

// Equal reports whether two snapshots hold the same fields and values
func (s Snapshot) Equal(other Snapshot) bool {
	return s.set == other.set && s.values == other.values
}

func (s *Snapshot) put(f Field, v float64) {
	s.values[f] = v
	s.set[f] = true
}

// derive recomputes the derived fields from the transmitted ones
func (s *Snapshot) derive() {
	current := roundTo(
		-s.value(FieldPMDCSCurrent)-
			s.value(FieldSolarInputCurrent)+
			s.value(FieldBatteryCurrent)+
			s.value(FieldOutputCurrent), 2)
	// Avoid reporting -0 when the inputs cancel out.
	if current == 0 {
		current = 0
	}
	s.put(FieldACChargerCurrent, current)

	active := 0.0
	if current > ChargerActiveThreshold {
		active = 1
	}
	s.put(FieldACChargerActive, active)
}

// roundTo rounds half away from zero to the given number of decimals
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Store folds decoded fields into a rolling snapshot.
//
// Merges are applied by a single writer in packet arrival order; readers may
// call Snapshot concurrently.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	merges  uint64
	changes uint64
}

// NewStore creates a store with an empty snapshot
func NewStore() *Store {
	return &Store{}
}

// Merge overlays fields on the snapshot and recomputes derived fields.
// Fields absent from the update keep their previous value. Returns whether any
// value (including derived ones) changed, and the resulting snapshot.
//
// An empty update is not a merge: the snapshot is returned untouched.
func (st *Store) Merge(fields Fields) (bool, Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(fields) == 0 {
		return false, st.snap
	}

	before := st.snap
	for f, v := range fields {
		if !f.Valid() || fieldInfo[f].Derived {
			continue
		}
		st.snap.put(f, v)
	}
	st.snap.derive()

	st.merges++
	changed := !st.snap.Equal(before)
	if changed {
		st.changes++
	}
	return changed, st.snap
}

// Snapshot returns a copy of the current snapshot
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snap
}

// Counts returns the number of merges and of merges that changed the snapshot
func (st *Store) Counts() (merges, changes uint64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.merges, st.changes
}
