package domain

import (
	"time"
)

// Config represents the main application configuration as loaded from the
// configuration store. The clinical sections are joined and promoted into a
// typed ClinicalParameters snapshot before any case starts.
type Config struct {
	Server            ServerConfig                     `mapstructure:"server"`
	Logging           LoggingConfig                    `mapstructure:"logging"`
	Case              CaseConfig                       `mapstructure:"case"`
	Hemodynamics      HemodynamicConfig                `mapstructure:"hemodynamic_thresholds"`
	Pharmacokinetics  map[string]PharmacokineticsEntry `mapstructure:"pharmacokinetics"`
	DrugDosing        map[string]DosingEntry           `mapstructure:"drug_dosing"`
	Contraindications map[string]ContraindicationEntry `mapstructure:"contraindications"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests/second per client
	RateBurst    int           `mapstructure:"rate_burst"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// CaseConfig represents per-case control loop configuration.
type CaseConfig struct {
	TickPeriod            time.Duration `mapstructure:"tick_period"`
	VitalsFailureTripAt   uint32        `mapstructure:"vitals_failure_trip_at"`   // consecutive sensor failures before the breaker opens
	VitalsRecoveryTimeout time.Duration `mapstructure:"vitals_recovery_timeout"`  // open-state duration before a probe read
}

// HemodynamicConfig mirrors the hemodynamic_thresholds config section.
type HemodynamicConfig struct {
	HRCriticalLow   float64  `mapstructure:"hr_critical_low"`
	MAPCriticalLow  float64  `mapstructure:"map_critical_low"`
	VasoactiveDrugs []string `mapstructure:"vasoactive_drugs"`
}

// PharmacokineticsEntry mirrors one pharmacokinetics.<drug> config entry.
type PharmacokineticsEntry struct {
	CentralVolumePerKg      float64 `mapstructure:"central_volume_per_kg"`
	EliminationRateK10      float64 `mapstructure:"elimination_rate_k10"`
	EffectSiteTransferK1e   float64 `mapstructure:"effect_site_transfer_k1e"`
	InterventionThresholdCe float64 `mapstructure:"concentration_intervention_threshold"`
}

// DosingEntry mirrors one drug_dosing.<drug> config entry. Name carries the
// canonical display name since config keys are case-folded by the loader.
type DosingEntry struct {
	Name                  string  `mapstructure:"name"`
	StandardDose          float64 `mapstructure:"standard_dose"`
	Unit                  string  `mapstructure:"unit"`
	GeriatricAgeThreshold int     `mapstructure:"geriatric_age_threshold"`
	GeriatricDose         float64 `mapstructure:"geriatric_dose"`
	BolusOnly             bool    `mapstructure:"bolus_only"`
	AvailabilityLabel     string  `mapstructure:"availability_label"`
}

// ContraindicationEntry mirrors one contraindications.<drug> config entry.
type ContraindicationEntry struct {
	CardiacConditions     []string `mapstructure:"cardiac_conditions"`
	RenalClearanceMinimum float64  `mapstructure:"renal_clearance_minimum"`
	AllergyTriggers       []string `mapstructure:"allergy_triggers"`
	HardLockRationale     string   `mapstructure:"hard_lock_rationale"`
}

// ClinicalParameters joins the per-drug config sections into the typed,
// validated snapshot the supervisor consumes. The drug_dosing section is
// authoritative for drug membership: pharmacokinetics or contraindication
// entries for unknown drugs are configuration errors, not extra drugs.
func (c *Config) ClinicalParameters() (*ClinicalParameters, error) {
	params := &ClinicalParameters{
		Hemodynamics: HemodynamicThresholds{
			HRCriticalLow:  c.Hemodynamics.HRCriticalLow,
			MAPCriticalLow: c.Hemodynamics.MAPCriticalLow,
		},
		Drugs: make(map[string]*DrugParameters, len(c.DrugDosing)),
	}

	if len(c.DrugDosing) == 0 {
		return nil, &ParameterError{Section: "drug_dosing", Message: ErrMissingSection.Error()}
	}

	byKey := make(map[string]*DrugParameters, len(c.DrugDosing))
	for key, dosing := range c.DrugDosing {
		if dosing.Name == "" {
			return nil, NewParameterError("drug_dosing", key, "name", "canonical drug name is required")
		}
		d := &DrugParameters{
			Name: dosing.Name,
			Dosing: DrugDosing{
				StandardDose:          dosing.StandardDose,
				Unit:                  dosing.Unit,
				GeriatricAgeThreshold: dosing.GeriatricAgeThreshold,
				GeriatricDose:         dosing.GeriatricDose,
				BolusOnly:             dosing.BolusOnly,
				AvailabilityLabel:     dosing.AvailabilityLabel,
			},
		}
		byKey[key] = d
		params.Drugs[d.Name] = d
	}

	for key, pk := range c.Pharmacokinetics {
		d, ok := byKey[key]
		if !ok {
			return nil, NewParameterError("pharmacokinetics", key, "", "entry has no matching drug_dosing entry")
		}
		d.PK = &DrugPK{
			CentralVolumePerKg:      pk.CentralVolumePerKg,
			EliminationRateK10:      pk.EliminationRateK10,
			EffectSiteTransferK1e:   pk.EffectSiteTransferK1e,
			InterventionThresholdCe: pk.InterventionThresholdCe,
		}
	}

	for key, ci := range c.Contraindications {
		d, ok := byKey[key]
		if !ok {
			return nil, NewParameterError("contraindications", key, "", "entry has no matching drug_dosing entry")
		}
		d.Contraindications = DrugContraindications{
			CardiacConditions:     ci.CardiacConditions,
			RenalClearanceMinimum: ci.RenalClearanceMinimum,
			AllergyTriggers:       ci.AllergyTriggers,
			HardLockRationale:     ci.HardLockRationale,
		}
	}

	// The hypotension interlock's affected set is resolved to canonical
	// names so tick-time comparisons never depend on config key casing.
	for _, key := range c.Hemodynamics.VasoactiveDrugs {
		d, ok := byKey[key]
		if !ok {
			return nil, NewParameterError("hemodynamic_thresholds", key, "vasoactive_drugs", "references an unconfigured drug")
		}
		params.Hemodynamics.VasoactiveDrugs = append(params.Hemodynamics.VasoactiveDrugs, d.Name)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}
