package service

import (
	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// testLogger suppresses output during tests.
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// testParams mirrors the shipped clinical configuration: three titratable
// infusions (dexmedetomidine concentration-tracked) and one bolus-only
// adjunct.
func testParams() *domain.ClinicalParameters {
	return &domain.ClinicalParameters{
		Hemodynamics: domain.HemodynamicThresholds{
			HRCriticalLow:   48,
			MAPCriticalLow:  60,
			VasoactiveDrugs: []string{"Dexmedetomidine", "Lidocaine"},
		},
		Drugs: map[string]*domain.DrugParameters{
			"Dexmedetomidine": {
				Name: "Dexmedetomidine",
				Dosing: domain.DrugDosing{
					StandardDose:          0.5,
					Unit:                  "mcg/kg/h",
					GeriatricAgeThreshold: 65,
					GeriatricDose:         0.25,
				},
				PK: &domain.DrugPK{
					CentralVolumePerKg:      0.8,
					EliminationRateK10:      0.04,
					EffectSiteTransferK1e:   0.1,
					InterventionThresholdCe: 0.1,
				},
				Contraindications: domain.DrugContraindications{
					CardiacConditions: []string{"Heart Block", "AV Block", "Severe Bradycardia"},
					HardLockRationale: "3rd-degree heart block or severe bradycardia risk (ASA/ESRA Guideline)",
				},
			},
			"Ketamine": {
				Name:   "Ketamine",
				Dosing: domain.DrugDosing{StandardDose: 0.2, Unit: "mg/kg/h"},
			},
			"Lidocaine": {
				Name:   "Lidocaine",
				Dosing: domain.DrugDosing{StandardDose: 1.5, Unit: "mg/kg/h"},
			},
			"Ketorolac": {
				Name: "Ketorolac",
				Dosing: domain.DrugDosing{
					BolusOnly:         true,
					AvailabilityLabel: "Available (30mg IV)",
				},
				Contraindications: domain.DrugContraindications{
					RenalClearanceMinimum: 30,
					AllergyTriggers:       []string{"NSAID", "Ketorolac"},
					HardLockRationale:     "Severe renal impairment (eGFR < 30) or known allergy",
				},
			},
		},
	}
}

func healthyAdult() *domain.PatientProfile {
	return &domain.PatientProfile{Age: 30, WeightKg: 85, ASAClass: 2, EGFR: 95}
}

func highRiskGeriatric() *domain.PatientProfile {
	return &domain.PatientProfile{
		Age:           78,
		WeightKg:      72,
		ASAClass:      3,
		EGFR:          24,
		Comorbidities: []string{"Heart Block", "History of Renal Failure"},
	}
}
