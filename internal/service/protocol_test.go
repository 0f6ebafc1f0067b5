package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noa-infusion-supervisor/internal/domain"
)

func TestGenerate_StandardAdult(t *testing.T) {
	gen := NewProtocolGenerator(testLogger())

	rates, availability := gen.Generate(healthyAdult(), testParams(), domain.LockoutSet{})

	assert.Equal(t, domain.InfusionRateVector{
		"Dexmedetomidine": 0.5,
		"Ketamine":        0.2,
		"Lidocaine":       1.5,
	}, rates)
	assert.Equal(t, domain.AvailabilityMap{
		"Ketorolac": "Available (30mg IV)",
	}, availability)
}

func TestGenerate_GeriatricDoseSubstitution(t *testing.T) {
	gen := NewProtocolGenerator(testLogger())
	profile := &domain.PatientProfile{Age: 70, WeightKg: 60, ASAClass: 2, EGFR: 80}

	rates, _ := gen.Generate(profile, testParams(), domain.LockoutSet{})

	// Only dexmedetomidine carries an age adjustment.
	assert.Equal(t, 0.25, rates.Rate("Dexmedetomidine"))
	assert.Equal(t, 0.2, rates.Rate("Ketamine"))
	assert.Equal(t, 1.5, rates.Rate("Lidocaine"))
}

func TestGenerate_AgeThresholdBoundary(t *testing.T) {
	gen := NewProtocolGenerator(testLogger())
	profile := &domain.PatientProfile{Age: 65, WeightKg: 60, ASAClass: 2, EGFR: 80}

	rates, _ := gen.Generate(profile, testParams(), domain.LockoutSet{})

	// Age 65 is not geriatric; the threshold is strict.
	assert.Equal(t, 0.5, rates.Rate("Dexmedetomidine"))
}

func TestGenerate_LockoutOverridesDose(t *testing.T) {
	gen := NewProtocolGenerator(testLogger())
	profile := highRiskGeriatric()
	lockouts := domain.LockoutSet{"Dexmedetomidine": true, "Ketorolac": true}

	rates, availability := gen.Generate(profile, testParams(), lockouts)

	// Locked titratable drug stays in the vector pinned at zero, and the
	// lockout beats the geriatric substitution.
	assert.Equal(t, 0.0, rates.Rate("Dexmedetomidine"))
	assert.Contains(t, rates, "Dexmedetomidine")
	assert.Equal(t, 0.2, rates.Rate("Ketamine"))
	assert.Equal(t, 1.5, rates.Rate("Lidocaine"))

	// Locked bolus-only adjunct is reported unavailable, never as a rate.
	assert.Equal(t, "LOCKED OUT (contraindicated)", availability["Ketorolac"])
	assert.NotContains(t, rates, "Ketorolac")
}

func TestGenerate_Idempotent(t *testing.T) {
	gen := NewProtocolGenerator(testLogger())
	profile := highRiskGeriatric()
	params := testParams()
	lockouts := domain.LockoutSet{"Dexmedetomidine": true, "Ketorolac": true}

	first, firstAvail := gen.Generate(profile, params, lockouts)
	second, secondAvail := gen.Generate(profile, params, lockouts)

	assert.Equal(t, first, second)
	assert.Equal(t, firstAvail, secondAvail)
}
