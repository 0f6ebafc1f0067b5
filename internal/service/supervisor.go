package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/pkg/pkmodel"
)

// Concentration is the estimated (Cp, Ce) pair for one tracked drug.
type Concentration struct {
	Plasma     float64 `json:"plasma"`      // Cp, ng/mL
	EffectSite float64 `json:"effect_site"` // Ce, ng/mL
}

// Snapshot is the externally visible state of a case after a tick. All
// maps are copies; holders never alias supervisor state.
type Snapshot struct {
	Tick           int64                    `json:"tick"`
	Status         domain.SupervisoryStatus `json:"status"`
	Interlock      domain.InterlockKind     `json:"interlock,omitempty"`
	Rates          domain.InfusionRateVector `json:"rates"`
	Availability   domain.AvailabilityMap   `json:"availability"`
	Concentrations map[string]Concentration `json:"concentrations"`
	Vitals         *domain.VitalsSample     `json:"vitals,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// TickObserver receives per-tick outcomes from a running supervisor loop.
// Implementations must not block; slow consumers drop updates on their own
// side, never in the loop.
type TickObserver interface {
	ObserveTick(snap Snapshot)
	ObserveVitalsFailure(err error)
}

// Supervisor is the per-case interlock control core. It owns the live
// infusion-rate vector, the supervisory status, and one effect-site
// estimator per concentration-tracked drug. The loop itself is strictly
// sequential; the mutex exists only so HTTP observers can read snapshots
// while the loop runs.
type Supervisor struct {
	mu sync.RWMutex

	logger    *logrus.Logger
	profile   *domain.PatientProfile
	params    *domain.ClinicalParameters
	engine    *ContraindicationEngine
	generator *ProtocolGenerator

	lockouts     domain.LockoutSet
	estimators   map[string]*pkmodel.Estimator
	status       domain.SupervisoryStatus
	rates        domain.InfusionRateVector
	availability domain.AvailabilityMap
	tick         int64
	lastVitals   *domain.VitalsSample
}

// NewSupervisor validates the case inputs, computes the lockout set, builds
// the estimators, and generates the initial protocol. Any configuration gap
// for a managed drug fails here, before the first tick ever runs.
func NewSupervisor(logger *logrus.Logger, profile *domain.PatientProfile, params *domain.ClinicalParameters) (*Supervisor, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor setup: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor setup: %w", err)
	}

	engine := NewContraindicationEngine(logger)
	generator := NewProtocolGenerator(logger)
	lockouts := engine.ComputeLockouts(profile, params)

	estimators := make(map[string]*pkmodel.Estimator)
	for _, name := range params.TrackedDrugs() {
		pk := params.Drugs[name].PK
		estimators[name] = pkmodel.NewEstimator(
			profile.WeightKg,
			pk.CentralVolumePerKg,
			pk.EliminationRateK10,
			pk.EffectSiteTransferK1e,
		)
	}

	rates, availability := generator.Generate(profile, params, lockouts)

	logger.WithFields(logrus.Fields{
		"age":           profile.Age,
		"weight_kg":     profile.WeightKg,
		"asa_class":     profile.ASAClass,
		"locked_drugs":  lockouts.Drugs(),
		"tracked_drugs": params.TrackedDrugs(),
	}).Info("Supervisor initialized")

	return &Supervisor{
		logger:       logger,
		profile:      profile,
		params:       params,
		engine:       engine,
		generator:    generator,
		lockouts:     lockouts,
		estimators:   estimators,
		status:       domain.INITIALIZING,
		rates:        rates,
		availability: availability,
	}, nil
}

// Lockouts returns the case's immutable hard lockout set.
func (s *Supervisor) Lockouts() domain.LockoutSet {
	return s.lockouts
}

// Check evaluates the contraindication status of a named drug on demand.
func (s *Supervisor) Check(drug string) (domain.CheckResult, error) {
	return s.engine.Check(drug, s.profile, s.params, s.lockouts)
}

// Snapshot returns the current externally visible state. Safe to call
// concurrently with the loop, including after cancellation: the last
// computed rate vector stays inspectable.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(domain.InterlockNone)
}

// snapshotLocked builds a deep-copied snapshot; callers hold the lock.
func (s *Supervisor) snapshotLocked(kind domain.InterlockKind) Snapshot {
	conc := make(map[string]Concentration, len(s.estimators))
	for name, est := range s.estimators {
		cp, ce := est.Concentrations()
		conc[name] = Concentration{Plasma: cp, EffectSite: ce}
	}
	var vitals *domain.VitalsSample
	if s.lastVitals != nil {
		v := *s.lastVitals
		vitals = &v
	}
	return Snapshot{
		Tick:           s.tick,
		Status:         s.status,
		Interlock:      kind,
		Rates:          s.rates.Clone(),
		Availability:   s.availability.Clone(),
		Concentrations: conc,
		Vitals:         vitals,
		Timestamp:      time.Now().UTC(),
	}
}

// Tick advances the case by one evaluation cycle. The vitals sample is
// assumed pre-validated; delta is the elapsed tick duration. Exactly one
// interlock branch executes per tick, in strict precedence order.
func (s *Supervisor) Tick(sample domain.VitalsSample, delta time.Duration) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltaMin := delta.Minutes()

	// 1. Advance every tracked estimator, interlocked or not: decay while
	// an infusion is paused is itself safety-relevant and must be
	// observable.
	for _, name := range s.params.TrackedDrugs() {
		est := s.estimators[name]
		est.Advance(s.ratePerMinLocked(name), deltaMin)
	}

	kind := domain.InterlockNone
	switch {
	// 2. Interlock A: critical bradycardia with clinically significant
	// drug effect. Both conditions are required; a low heart rate with
	// negligible drug on board does not implicate the infusion.
	case s.bradycardiaLocked(sample.HeartRate):
		kind = domain.InterlockBradycardia
		for _, name := range s.params.TrackedDrugs() {
			drug := s.params.Drugs[name]
			if s.estimators[name].EffectSite() > drug.PK.InterventionThresholdCe {
				s.rates[name] = 0.0
				s.logger.WithFields(logrus.Fields{
					"tick":        s.tick,
					"drug":        name,
					"heart_rate":  sample.HeartRate,
					"effect_site": s.estimators[name].EffectSite(),
				}).Warn("Bradycardia with significant drug effect, infusion stopped")
			}
		}
		s.status = domain.RED

	// 3. Interlock B: critical hypotension. Treated as an emergency
	// regardless of estimated concentration: every configured vasoactive
	// drug is paused.
	case sample.MeanArterialPressure < s.params.Hemodynamics.MAPCriticalLow:
		kind = domain.InterlockHypotension
		for _, name := range s.params.Hemodynamics.VasoactiveDrugs {
			if _, ok := s.rates[name]; ok {
				s.rates[name] = 0.0
			}
		}
		s.status = domain.RED
		s.logger.WithFields(logrus.Fields{
			"tick":             s.tick,
			"map":              sample.MeanArterialPressure,
			"vasoactive_drugs": s.params.Hemodynamics.VasoactiveDrugs,
		}).Warn("Critical hypotension, vasoactive infusions paused")

	// 4. Stabilization: vitals in safe range. Recovery regenerates the
	// full protocol, re-applying lockouts and age adjustments; it never
	// restores a stale pre-interlock snapshot.
	default:
		if s.status != domain.GREEN {
			s.rates, s.availability = s.generator.Generate(s.profile, s.params, s.lockouts)
			s.logger.WithFields(logrus.Fields{
				"tick":  s.tick,
				"rates": s.rates,
			}).Info("Vitals stabilized, protocol resumed")
		}
		s.status = domain.GREEN
	}

	s.tick++
	sampleCopy := sample
	s.lastVitals = &sampleCopy

	return s.snapshotLocked(kind)
}

// bradycardiaLocked reports whether any tracked drug meets both Interlock A
// conditions under the given heart rate; callers hold the lock.
func (s *Supervisor) bradycardiaLocked(heartRate float64) bool {
	if heartRate >= s.params.Hemodynamics.HRCriticalLow {
		return false
	}
	for _, name := range s.params.TrackedDrugs() {
		if s.estimators[name].EffectSite() > s.params.Drugs[name].PK.InterventionThresholdCe {
			return true
		}
	}
	return false
}

// ratePerMinLocked converts a drug's current rate (mass/kg/hour) to the
// estimator's input unit (mass/min) using the patient weight.
func (s *Supervisor) ratePerMinLocked(drug string) float64 {
	return s.rates[drug] * s.profile.WeightKg / 60.0
}

// Run drives the tick loop at a fixed cadence until the context is
// cancelled. A failed or implausible vitals read holds the previous rate
// vector, status, and concentration state for that tick (fail-safe: do
// nothing rather than guess). Cancellation is immediate and leaves the
// last-computed snapshot inspectable via Snapshot.
func (s *Supervisor) Run(ctx context.Context, source domain.VitalsSource, period time.Duration, observer TickObserver) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"tick_period": period.String(),
	}).Info("Closed-loop supervision active")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sample, err := source.Next(ctx)
		if err == nil {
			err = sample.Validate()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).Warn("Vitals reading unavailable, holding previous state")
			if observer != nil {
				observer.ObserveVitalsFailure(err)
			}
			continue
		}

		snap := s.Tick(sample, period)
		if observer != nil {
			observer.ObserveTick(snap)
		}
	}
}
