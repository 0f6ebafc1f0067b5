package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// Contraindication check messages. A hard lock must never surface with an
// empty rationale, so Check falls back to the generic one.
const (
	genericHardLockRationale = "Patient-specific contraindication"
	safeMessage              = "Safe within protocol limits"
)

// ContraindicationEngine computes the absolute lockout set for a case and
// evaluates per-drug contraindication checks on demand. The engine itself
// is stateless; all inputs arrive per call.
type ContraindicationEngine struct {
	logger *logrus.Logger
}

// NewContraindicationEngine creates a new contraindication engine.
func NewContraindicationEngine(logger *logrus.Logger) *ContraindicationEngine {
	return &ContraindicationEngine{logger: logger}
}

// ComputeLockouts derives the set of absolutely forbidden drugs from the
// patient profile and the configured per-drug predicates. A drug may match
// more than one predicate; the set records membership only, and rationales
// are recomputed by Check for operator display.
func (e *ContraindicationEngine) ComputeLockouts(profile *domain.PatientProfile, params *domain.ClinicalParameters) domain.LockoutSet {
	lockouts := make(domain.LockoutSet)

	for _, name := range params.ManagedDrugs() {
		drug := params.Drugs[name]
		ci := drug.Contraindications

		if ci.RenalClearanceMinimum > 0 && profile.EGFR < ci.RenalClearanceMinimum {
			lockouts[name] = true
		}
		for _, condition := range ci.CardiacConditions {
			if profile.HasComorbidity(condition) {
				lockouts[name] = true
				break
			}
		}
		for _, trigger := range ci.AllergyTriggers {
			if profile.HasAllergy(trigger) {
				lockouts[name] = true
				break
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"locked_drugs": lockouts.Drugs(),
		"age":          profile.Age,
		"egfr":         profile.EGFR,
	}).Info("Computed hard lockouts")

	return lockouts
}

// Check verifies whether a specific drug is allowed for the patient. A
// locked drug returns Allowed=false with the configured hard-lock
// rationale. An allowed drug whose geriatric age threshold is exceeded
// returns Allowed=true with a dose-reduction advisory; the advisory never
// blocks administration and callers must not conflate it with a hard lock.
func (e *ContraindicationEngine) Check(drugName string, profile *domain.PatientProfile, params *domain.ClinicalParameters, lockouts domain.LockoutSet) (domain.CheckResult, error) {
	drug, err := params.Drug(drugName)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("contraindication check for %q: %w", drugName, err)
	}

	if lockouts.Contains(drugName) {
		rationale := drug.Contraindications.HardLockRationale
		if rationale == "" {
			rationale = genericHardLockRationale
		}
		return domain.CheckResult{
			Drug:    drugName,
			Allowed: false,
			Message: fmt.Sprintf("HARD LOCK: %s", rationale),
		}, nil
	}

	if t := drug.Dosing.GeriatricAgeThreshold; t > 0 && profile.Age > t {
		return domain.CheckResult{
			Drug:     drugName,
			Allowed:  true,
			Advisory: true,
			Message:  fmt.Sprintf("SOFT WARNING: Geriatric patient (>%dyo). Suggest reduced maintenance dose.", t),
		}, nil
	}

	return domain.CheckResult{
		Drug:    drugName,
		Allowed: true,
		Message: safeMessage,
	}, nil
}
