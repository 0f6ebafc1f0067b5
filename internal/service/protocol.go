package service

import (
	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// Availability labels for bolus-only adjuncts excluded by a hard lockout.
const lockedOutLabel = "LOCKED OUT (contraindicated)"

// ProtocolGenerator produces the nominal starting infusion-rate vector for
// a case, before any real-time interlock has fired. Generation is
// idempotent: identical inputs always yield identical output, and it is the
// only way rates are reset after an interlock stabilizes.
type ProtocolGenerator struct {
	logger *logrus.Logger
}

// NewProtocolGenerator creates a new protocol generator.
func NewProtocolGenerator(logger *logrus.Logger) *ProtocolGenerator {
	return &ProtocolGenerator{logger: logger}
}

// Generate computes the starting protocol. Titratable drugs land in the
// numeric rate vector; bolus-only adjuncts are reported in the separate
// availability map. A hard lockout forces the rate to 0 and always wins
// over the geriatric age adjustment.
func (g *ProtocolGenerator) Generate(profile *domain.PatientProfile, params *domain.ClinicalParameters, lockouts domain.LockoutSet) (domain.InfusionRateVector, domain.AvailabilityMap) {
	rates := make(domain.InfusionRateVector)
	availability := make(domain.AvailabilityMap)

	for _, name := range params.ManagedDrugs() {
		drug := params.Drugs[name]

		if drug.Dosing.BolusOnly {
			if lockouts.Contains(name) {
				availability[name] = lockedOutLabel
			} else {
				availability[name] = drug.Dosing.AvailabilityLabel
			}
			continue
		}

		switch {
		case lockouts.Contains(name):
			rates[name] = 0.0
		case drug.Dosing.GeriatricAgeThreshold > 0 && profile.Age > drug.Dosing.GeriatricAgeThreshold:
			rates[name] = drug.Dosing.GeriatricDose
		default:
			rates[name] = drug.Dosing.StandardDose
		}
	}

	g.logger.WithFields(logrus.Fields{
		"rates":        rates,
		"availability": availability,
		"age":          profile.Age,
	}).Debug("Generated starting protocol")

	return rates, availability
}
