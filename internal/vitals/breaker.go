package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/noa-infusion-supervisor/internal/domain"
)

// BreakerConfig configures the sensor-feed circuit breaker.
type BreakerConfig struct {
	// TripAt is the consecutive-failure count that opens the breaker.
	TripAt uint32
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a probe read.
	RecoveryTimeout time.Duration
}

// BreakerSource wraps a vitals source with a circuit breaker. While the
// underlying feed is failing, reads fail fast instead of blocking the tick
// loop on a dead sensor; the supervisor treats each failure as a fail-safe
// hold of the previous state. Probe reads resume once the recovery timeout
// elapses.
type BreakerSource struct {
	source  domain.VitalsSource
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSource wraps source with a circuit breaker.
func NewBreakerSource(source domain.VitalsSource, cfg BreakerConfig, logger *logrus.Logger) *BreakerSource {
	if cfg.TripAt == 0 {
		cfg.TripAt = 3
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "VitalsFeed",
		Timeout: cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAt
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Vitals feed circuit breaker state changed")
		},
	}

	return &BreakerSource{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Next reads through the breaker. An open breaker returns an error
// immediately so the loop holds instead of stalling past its tick cadence.
func (b *BreakerSource) Next(ctx context.Context) (domain.VitalsSample, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.source.Next(ctx)
	})
	if err != nil {
		return domain.VitalsSample{}, fmt.Errorf("vitals feed: %w", err)
	}
	return result.(domain.VitalsSample), nil
}
