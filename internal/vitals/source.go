// Package vitals provides hemodynamic input sources for the supervision
// loop: a pseudo-random simulator standing in for a patient monitor feed, a
// replay source for deterministic testing, and a circuit-breaker wrapper
// that converts a degraded sensor feed into fast fail-safe holds.
package vitals

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// Simulated produces pseudo-random vitals in the ranges a NOA case
// typically crosses its interlock thresholds in: HR 40-95 bpm, MAP 50-105
// mmHg. It stands in for the monitor transport in demos; it is not part of
// the control core.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated source from a seed. Equal seeds yield
// identical reading sequences.
func NewSimulated(seed int64) *Simulated {
	return &Simulated{rng: rand.New(rand.NewSource(seed))}
}

// Next returns the next simulated reading.
func (s *Simulated) Next(ctx context.Context) (domain.VitalsSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.VitalsSample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.VitalsSample{
		HeartRate:            float64(40 + s.rng.Intn(56)),  // 40..95
		MeanArterialPressure: float64(50 + s.rng.Intn(56)),  // 50..105
		ObservedAt:           time.Now().UTC(),
	}, nil
}

// Replay yields a fixed sequence of readings and then reports
// ErrVitalsUnavailable. It exists so tests can drive the loop through the
// exact scenarios they assert on, without real time or randomness.
type Replay struct {
	mu      sync.Mutex
	samples []domain.VitalsSample
	next    int
}

// NewReplay creates a replay source over the given sequence.
func NewReplay(samples ...domain.VitalsSample) *Replay {
	return &Replay{samples: samples}
}

// Next returns the next recorded reading, or ErrVitalsUnavailable once the
// sequence is exhausted.
func (r *Replay) Next(ctx context.Context) (domain.VitalsSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.VitalsSample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.samples) {
		return domain.VitalsSample{}, domain.ErrVitalsUnavailable
	}
	sample := r.samples[r.next]
	r.next++
	return sample, nil
}
