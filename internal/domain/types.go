// Package domain contains core business entities and types for closed-loop
// non-opioid anesthesia (NOA) infusion supervision: patient records, clinical
// parameter tables, infusion state, and the supervisory status machine.
//
// All rates are expressed in mass/kg/hour (mcg/kg/h unless a drug's dosing
// entry says otherwise); concentrations in ng/mL; rate constants in 1/min.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SupervisoryStatus represents the state of the per-case interlock loop.
// INITIALIZING is the only start state; GREEN and RED are reachable from
// each other on every tick. There is no terminal state.
type SupervisoryStatus string

const (
	INITIALIZING SupervisoryStatus = "INITIALIZING"
	GREEN        SupervisoryStatus = "GREEN"
	RED          SupervisoryStatus = "RED"
)

// IsValid validates the supervisory status. Only valid statuses may be
// reported to a pump-control layer.
func (s SupervisoryStatus) IsValid() bool {
	switch s {
	case INITIALIZING, GREEN, RED:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s SupervisoryStatus) String() string {
	return string(s)
}

// Interlocked reports whether an active interlock is engaged. A RED status
// is the system's designed self-protective output, not a fault.
func (s SupervisoryStatus) Interlocked() bool {
	return s == RED
}

// LogFields returns structured logging fields for audit trails.
func (s SupervisoryStatus) LogFields() map[string]any {
	return map[string]any{
		"status":      string(s),
		"interlocked": s.Interlocked(),
		"is_valid":    s.IsValid(),
	}
}

// InterlockKind identifies which safety interlock branch fired on a tick.
type InterlockKind string

const (
	InterlockNone        InterlockKind = ""
	InterlockBradycardia InterlockKind = "BRADYCARDIA_HIGH_CE"
	InterlockHypotension InterlockKind = "HYPOTENSION"
)

// PatientProfile is the immutable per-case demographic and clinical record.
// It is created once at case admission and never mutated.
type PatientProfile struct {
	Age           int      `json:"age"`
	WeightKg      float64  `json:"weight_kg"`
	ASAClass      int      `json:"asa_class"`
	EGFR          float64  `json:"egfr"` // estimated glomerular filtration rate, mL/min
	Allergies     []string `json:"allergies"`
	Comorbidities []string `json:"comorbidities"`
}

// Validate ensures the profile is physiologically plausible before a case
// may start. Invalid intake data must never reach the control loop.
func (p *PatientProfile) Validate() error {
	if p.Age <= 0 || p.Age > 130 {
		return fmt.Errorf("patient validation: %w", errors.New("age must be between 1 and 130 years"))
	}
	if p.WeightKg <= 0 || p.WeightKg > 500 {
		return fmt.Errorf("patient validation: %w", errors.New("weight must be between 0 and 500 kg"))
	}
	if p.ASAClass < 1 || p.ASAClass > 6 {
		return fmt.Errorf("patient validation: %w", errors.New("ASA class must be between 1 and 6"))
	}
	if p.EGFR < 0 {
		return fmt.Errorf("patient validation: %w", errors.New("eGFR cannot be negative"))
	}
	return nil
}

// HasComorbidity reports whether the patient carries the named comorbidity.
func (p *PatientProfile) HasComorbidity(name string) bool {
	for _, c := range p.Comorbidities {
		if c == name {
			return true
		}
	}
	return false
}

// HasAllergy reports whether the patient is allergic to the named trigger.
func (p *PatientProfile) HasAllergy(name string) bool {
	for _, a := range p.Allergies {
		if a == name {
			return true
		}
	}
	return false
}

// InfusionRateVector maps drug name to infusion rate (mass/kg/hour). Keys
// are fixed for the case; values are always >= 0. Only titratable drugs
// appear here; bolus-only adjuncts are reported through AvailabilityMap.
type InfusionRateVector map[string]float64

// Clone returns an independent copy of the vector.
func (v InfusionRateVector) Clone() InfusionRateVector {
	out := make(InfusionRateVector, len(v))
	for drug, rate := range v {
		out[drug] = rate
	}
	return out
}

// Rate returns the current rate for a drug, or 0 if the drug is not managed.
func (v InfusionRateVector) Rate(drug string) float64 {
	return v[drug]
}

// AvailabilityMap maps bolus-only adjunct drugs to a human-readable
// availability status. Kept separate from the numeric rate vector so a
// pump-control layer never sees a non-numeric entry.
type AvailabilityMap map[string]string

// Clone returns an independent copy of the map.
func (m AvailabilityMap) Clone() AvailabilityMap {
	out := make(AvailabilityMap, len(m))
	for drug, status := range m {
		out[drug] = status
	}
	return out
}

// LockoutSet is the set of drugs that are absolutely forbidden for the
// case. Computed once at admission; consulted, never mutated, thereafter.
// Membership only is recorded; rationales are recomputed on demand.
type LockoutSet map[string]bool

// Contains reports whether the drug is hard-locked.
func (ls LockoutSet) Contains(drug string) bool {
	return ls[drug]
}

// Drugs returns the locked drugs in deterministic order.
func (ls LockoutSet) Drugs() []string {
	out := make([]string, 0, len(ls))
	for drug := range ls {
		out = append(out, drug)
	}
	sort.Strings(out)
	return out
}

// CheckResult is the outcome of a contraindication check for a single drug.
// Allowed=false always carries a hard-lock rationale; Allowed=true may
// carry a soft-ceiling advisory that callers must not treat as a lock.
type CheckResult struct {
	Drug     string `json:"drug"`
	Allowed  bool   `json:"allowed"`
	Message  string `json:"message"`
	Advisory bool   `json:"advisory"`
}

// VitalsSample is one hemodynamic reading from the patient monitor feed.
type VitalsSample struct {
	HeartRate            float64   `json:"heart_rate"`              // beats/minute
	MeanArterialPressure float64   `json:"mean_arterial_pressure"`  // mmHg
	ObservedAt           time.Time `json:"observed_at,omitempty"`
}

// Validate rejects readings outside a physically sane range. The caller
// layer filters these before they reach the control loop.
func (s *VitalsSample) Validate() error {
	if s.HeartRate <= 0 || s.HeartRate > 300 {
		return fmt.Errorf("vitals validation: heart rate %.1f bpm: %w", s.HeartRate, ErrImplausibleVitals)
	}
	if s.MeanArterialPressure <= 0 || s.MeanArterialPressure > 300 {
		return fmt.Errorf("vitals validation: MAP %.1f mmHg: %w", s.MeanArterialPressure, ErrImplausibleVitals)
	}
	return nil
}
