// Package pkmodel implements a simplified two-compartment pharmacokinetic
// model used to estimate effect-site drug concentration from an infusion
// rate history. The model is advanced by explicit forward-Euler stepping:
// given a consistent step size it is deterministic and bit-for-bit
// reproducible across runs.
//
// Units: infusion rate in mcg/min, time in minutes, rate constants in
// 1/min, volumes in litres, concentrations in ng/mL (mcg/L).
package pkmodel

// Estimator tracks plasma (Cp) and effect-site (Ce) concentration for one
// drug. The central-compartment volume is fixed at construction from the
// patient's weight; mid-case weight changes are out of scope.
type Estimator struct {
	vc  float64 // central compartment volume, L
	k10 float64 // elimination rate constant, 1/min
	k1e float64 // effect-site transfer rate constant, 1/min

	cp float64 // plasma concentration, ng/mL
	ce float64 // effect-site concentration, ng/mL
}

// NewEstimator creates an estimator with zero initial concentrations.
// centralVolPerKg is the central compartment volume normalized by weight
// (L/kg); the constants come from the per-drug clinical parameter table.
func NewEstimator(weightKg, centralVolPerKg, k10, k1e float64) *Estimator {
	return &Estimator{
		vc:  centralVolPerKg * weightKg,
		k10: k10,
		k1e: k1e,
	}
}

// Advance steps the model by timeDelta minutes under the given infusion
// rate (mcg/min, never negative by caller contract) and returns the updated
// (Cp, Ce) pair. Both concentrations are clamped to zero if a step would
// drive them negative: Euler overshoot at large steps or high k10 can
// eliminate more drug than is present, and the clamp keeps that numerical
// artifact from propagating into subsequent ticks.
func (e *Estimator) Advance(infusionRate, timeDelta float64) (cp, ce float64) {
	// Plasma update: mass balance over the central compartment.
	infusedMass := infusionRate * timeDelta
	eliminatedMass := e.cp * e.k10 * e.vc * timeDelta

	newMass := e.cp*e.vc + infusedMass - eliminatedMass
	if newMass < 0 {
		e.cp = 0
	} else {
		e.cp = newMass / e.vc
	}

	// Effect-site update: transfer proportional to the Cp-Ce gradient.
	dCeDt := e.k1e * (e.cp - e.ce)
	e.ce += dCeDt * timeDelta
	if e.ce < 0 {
		e.ce = 0
	}

	return e.cp, e.ce
}

// Concentrations returns the current (Cp, Ce) pair without advancing time.
func (e *Estimator) Concentrations() (cp, ce float64) {
	return e.cp, e.ce
}

// EffectSite returns the current effect-site concentration.
func (e *Estimator) EffectSite() float64 {
	return e.ce
}

// CentralVolume returns the fixed central compartment volume in litres.
func (e *Estimator) CentralVolume() float64 {
	return e.vc
}
