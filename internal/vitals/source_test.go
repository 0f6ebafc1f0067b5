package vitals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noa-infusion-supervisor/internal/domain"
)

func TestSimulated_ProducesPlausibleReadings(t *testing.T) {
	source := NewSimulated(1)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		sample, err := source.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if sample.HeartRate < 40 || sample.HeartRate > 95 {
			t.Errorf("heart rate %v outside 40..95", sample.HeartRate)
		}
		if sample.MeanArterialPressure < 50 || sample.MeanArterialPressure > 105 {
			t.Errorf("MAP %v outside 50..105", sample.MeanArterialPressure)
		}
		if err := sample.Validate(); err != nil {
			t.Errorf("simulated reading failed validation: %v", err)
		}
	}
}

func TestSimulated_DeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	a, b := NewSimulated(42), NewSimulated(42)

	for i := 0; i < 50; i++ {
		sa, _ := a.Next(ctx)
		sb, _ := b.Next(ctx)
		if sa.HeartRate != sb.HeartRate || sa.MeanArterialPressure != sb.MeanArterialPressure {
			t.Fatalf("reading %d diverged: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestSimulated_HonorsCancellation(t *testing.T) {
	source := NewSimulated(7)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := source.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() error = %v, want context.Canceled", err)
	}
}

func TestReplay_YieldsSequenceThenExhausts(t *testing.T) {
	ctx := context.Background()
	first := domain.VitalsSample{HeartRate: 70, MeanArterialPressure: 80}
	second := domain.VitalsSample{HeartRate: 45, MeanArterialPressure: 55}
	source := NewReplay(first, second)

	got, err := source.Next(ctx)
	if err != nil || got.HeartRate != 70 {
		t.Fatalf("first read = %+v, %v", got, err)
	}
	got, err = source.Next(ctx)
	if err != nil || got.HeartRate != 45 {
		t.Fatalf("second read = %+v, %v", got, err)
	}
	if _, err := source.Next(ctx); !errors.Is(err, domain.ErrVitalsUnavailable) {
		t.Fatalf("exhausted read error = %v, want ErrVitalsUnavailable", err)
	}
	if _, err := source.Next(ctx); !errors.Is(err, domain.ErrVitalsUnavailable) {
		t.Fatalf("exhausted source must stay exhausted, got %v", err)
	}
}

// failingSource always errors; drives the breaker tests.
type failingSource struct{ calls int }

func (f *failingSource) Next(ctx context.Context) (domain.VitalsSample, error) {
	f.calls++
	return domain.VitalsSample{}, domain.ErrVitalsUnavailable
}

func TestBreakerSource_TripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	inner := &failingSource{}
	source := NewBreakerSource(inner, BreakerConfig{TripAt: 3, RecoveryTimeout: time.Minute}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := source.Next(ctx); err == nil {
			t.Fatalf("read %d: expected error", i)
		}
	}
	if inner.calls != 3 {
		t.Fatalf("inner source called %d times before trip, want 3", inner.calls)
	}

	// Breaker is now open: reads fail fast without touching the sensor.
	if _, err := source.Next(ctx); err == nil {
		t.Fatal("expected fail-fast error from open breaker")
	}
	if inner.calls != 3 {
		t.Fatalf("open breaker still reached the sensor (%d calls)", inner.calls)
	}
}

func TestBreakerSource_PassesThroughHealthyFeed(t *testing.T) {
	ctx := context.Background()
	replay := NewReplay(domain.VitalsSample{HeartRate: 70, MeanArterialPressure: 80})
	source := NewBreakerSource(replay, BreakerConfig{}, testLogger())

	sample, err := source.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if sample.HeartRate != 70 {
		t.Fatalf("HeartRate = %v, want 70", sample.HeartRate)
	}
}
