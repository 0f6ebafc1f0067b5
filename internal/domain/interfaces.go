package domain

import "context"

// VitalsSource delivers hemodynamic readings to the control loop. The core
// imposes no transport; implementations may wrap a monitor feed, a
// simulator, or a recorded sequence for deterministic replay. Next blocks
// until a reading is available or the context is cancelled. A returned
// error means no reading is available for this tick; the loop holds its
// previous state rather than guess.
type VitalsSource interface {
	Next(ctx context.Context) (VitalsSample, error)
}
