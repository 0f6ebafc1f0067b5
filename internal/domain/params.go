package domain

import "sort"

// HemodynamicThresholds holds the critical-low vitals limits and the set of
// vasoactive drugs paused by the hypotension interlock.
type HemodynamicThresholds struct {
	HRCriticalLow   float64  `json:"hr_critical_low"`  // beats/minute
	MAPCriticalLow  float64  `json:"map_critical_low"` // mmHg
	VasoactiveDrugs []string `json:"vasoactive_drugs"`
}

// DrugPK holds the two-compartment model constants for a
// concentration-tracked drug.
type DrugPK struct {
	CentralVolumePerKg      float64 `json:"central_volume_per_kg"`               // L/kg
	EliminationRateK10      float64 `json:"elimination_rate_k10"`                // 1/min
	EffectSiteTransferK1e   float64 `json:"effect_site_transfer_k1e"`            // 1/min
	InterventionThresholdCe float64 `json:"concentration_intervention_threshold"` // ng/mL
}

// DrugDosing holds the nominal dosing defaults for one drug. A bolus-only
// adjunct carries an availability label instead of a titratable rate.
type DrugDosing struct {
	StandardDose          float64 `json:"standard_dose"` // mass/kg/hour
	Unit                  string  `json:"unit"`
	GeriatricAgeThreshold int     `json:"geriatric_age_threshold,omitempty"` // 0 = no age adjustment
	GeriatricDose         float64 `json:"geriatric_dose,omitempty"`
	BolusOnly             bool    `json:"bolus_only,omitempty"`
	AvailabilityLabel     string  `json:"availability_label,omitempty"`
}

// DrugContraindications holds the static lockout predicates for one drug.
// Zero values mean the predicate is not configured for the drug.
type DrugContraindications struct {
	CardiacConditions     []string `json:"cardiac_conditions,omitempty"`
	RenalClearanceMinimum float64  `json:"renal_clearance_minimum,omitempty"` // mL/min eGFR floor
	AllergyTriggers       []string `json:"allergy_triggers,omitempty"`
	HardLockRationale     string   `json:"hard_lock_rationale,omitempty"`
}

// DrugParameters is the complete parameter entry for one managed drug.
// PK is nil for drugs whose concentration is not tracked.
type DrugParameters struct {
	Name              string                `json:"name"`
	Dosing            DrugDosing            `json:"dosing"`
	PK                *DrugPK               `json:"pharmacokinetics,omitempty"`
	Contraindications DrugContraindications `json:"contraindications"`
}

// Tracked reports whether the drug's effect-site concentration is estimated.
func (d *DrugParameters) Tracked() bool {
	return d.PK != nil
}

// ClinicalParameters is the immutable per-case snapshot of all clinical
// lookup tables. It may be shared read-only across concurrent cases.
type ClinicalParameters struct {
	Hemodynamics HemodynamicThresholds      `json:"hemodynamic_thresholds"`
	Drugs        map[string]*DrugParameters `json:"drugs"`
}

// Drug returns the parameter entry for a drug, or ErrDrugNotConfigured.
func (p *ClinicalParameters) Drug(name string) (*DrugParameters, error) {
	d, ok := p.Drugs[name]
	if !ok {
		return nil, ErrDrugNotConfigured
	}
	return d, nil
}

// ManagedDrugs returns every configured drug name in deterministic order.
func (p *ClinicalParameters) ManagedDrugs() []string {
	out := make([]string, 0, len(p.Drugs))
	for name := range p.Drugs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TrackedDrugs returns the concentration-tracked drugs in deterministic order.
func (p *ClinicalParameters) TrackedDrugs() []string {
	out := make([]string, 0, len(p.Drugs))
	for name, d := range p.Drugs {
		if d.Tracked() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsVasoactive reports whether the drug belongs to the hypotension
// interlock's affected set.
func (p *ClinicalParameters) IsVasoactive(drug string) bool {
	for _, name := range p.Hemodynamics.VasoactiveDrugs {
		if name == drug {
			return true
		}
	}
	return false
}

// Validate exhaustively checks the parameter snapshot. Every gap found here
// is a case-blocking configuration error; nothing is defaulted silently.
func (p *ClinicalParameters) Validate() error {
	if p.Hemodynamics.HRCriticalLow <= 0 {
		return &ParameterError{Section: "hemodynamic_thresholds", Field: "hr_critical_low", Message: "must be positive"}
	}
	if p.Hemodynamics.MAPCriticalLow <= 0 {
		return &ParameterError{Section: "hemodynamic_thresholds", Field: "map_critical_low", Message: "must be positive"}
	}
	if len(p.Drugs) == 0 {
		return &ParameterError{Section: "drug_dosing", Message: "no drugs configured"}
	}

	for name, d := range p.Drugs {
		if d.Name == "" {
			return NewParameterError("drug_dosing", name, "name", "canonical drug name is required")
		}
		if d.Dosing.BolusOnly {
			if d.Dosing.AvailabilityLabel == "" {
				return NewParameterError("drug_dosing", name, "availability_label", "required for bolus-only adjuncts")
			}
		} else if d.Dosing.StandardDose <= 0 {
			return NewParameterError("drug_dosing", name, "standard_dose", "must be positive for titratable drugs")
		}
		if d.Dosing.GeriatricAgeThreshold > 0 && d.Dosing.GeriatricDose <= 0 {
			return NewParameterError("drug_dosing", name, "geriatric_dose", "required when geriatric_age_threshold is set")
		}
		if d.PK != nil {
			if d.PK.CentralVolumePerKg <= 0 {
				return NewParameterError("pharmacokinetics", name, "central_volume_per_kg", "must be positive")
			}
			if d.PK.EliminationRateK10 <= 0 {
				return NewParameterError("pharmacokinetics", name, "elimination_rate_k10", "must be positive")
			}
			if d.PK.EffectSiteTransferK1e <= 0 {
				return NewParameterError("pharmacokinetics", name, "effect_site_transfer_k1e", "must be positive")
			}
			if d.PK.InterventionThresholdCe <= 0 {
				return NewParameterError("pharmacokinetics", name, "concentration_intervention_threshold", "must be positive")
			}
			if d.Dosing.BolusOnly {
				return NewParameterError("pharmacokinetics", name, "", "bolus-only adjuncts cannot be concentration-tracked")
			}
		}
	}

	for _, name := range p.Hemodynamics.VasoactiveDrugs {
		if _, ok := p.Drugs[name]; !ok {
			return NewParameterError("hemodynamic_thresholds", name, "vasoactive_drugs", "references an unconfigured drug")
		}
	}
	return nil
}
