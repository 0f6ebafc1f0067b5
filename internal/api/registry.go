package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/internal/service"
	"github.com/noa-infusion-supervisor/internal/telemetry"
	"github.com/noa-infusion-supervisor/internal/vitals"
)

// Case is one admitted patient case: a supervisor plus the goroutine
// driving its tick loop. Each case runs in its own goroutine with no
// shared mutable state across cases, so one case's processing never blocks
// another's.
type Case struct {
	ID      string
	Profile domain.PatientProfile

	sup    *service.Supervisor
	cancel context.CancelFunc
	done   chan struct{}

	metrics *telemetry.Metrics

	mu          sync.Mutex
	subscribers map[chan service.Snapshot]struct{}
}

// Snapshot returns the case's current externally visible state.
func (c *Case) Snapshot() service.Snapshot {
	return c.sup.Snapshot()
}

// Lockouts returns the case's hard lockout set.
func (c *Case) Lockouts() domain.LockoutSet {
	return c.sup.Lockouts()
}

// Check evaluates the contraindication status of a named drug.
func (c *Case) Check(drug string) (domain.CheckResult, error) {
	return c.sup.Check(drug)
}

// Subscribe registers a telemetry stream subscriber. The returned cancel
// function must be called when the consumer goes away.
func (c *Case) Subscribe() (<-chan service.Snapshot, func()) {
	ch := make(chan service.Snapshot, 16)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
}

// Done is closed when the case's loop has stopped.
func (c *Case) Done() <-chan struct{} {
	return c.done
}

// ObserveTick implements service.TickObserver: publish metrics and fan the
// snapshot out to stream subscribers. Slow subscribers drop updates; the
// loop never blocks on a consumer.
func (c *Case) ObserveTick(snap service.Snapshot) {
	if c.metrics != nil {
		c.metrics.ObserveTick(c.ID, snap)
	}
	c.mu.Lock()
	for ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	c.mu.Unlock()
}

// ObserveVitalsFailure implements service.TickObserver.
func (c *Case) ObserveVitalsFailure(err error) {
	if c.metrics != nil {
		c.metrics.ObserveVitalsFailure(c.ID)
	}
}

// Registry owns all active cases. The clinical parameter snapshot is
// shared read-only across cases; everything else is per-case.
type Registry struct {
	logger  *logrus.Logger
	params  *domain.ClinicalParameters
	caseCfg domain.CaseConfig
	metrics *telemetry.Metrics

	// newSource builds the vitals feed for a new case. Overridable in
	// tests to inject deterministic sequences.
	newSource func(caseID string) domain.VitalsSource

	mu    sync.RWMutex
	cases map[string]*Case
}

// NewRegistry creates a case registry. The default vitals feed is the
// simulated monitor wrapped in the sensor circuit breaker.
func NewRegistry(logger *logrus.Logger, params *domain.ClinicalParameters, caseCfg domain.CaseConfig, metrics *telemetry.Metrics) *Registry {
	r := &Registry{
		logger:  logger,
		params:  params,
		caseCfg: caseCfg,
		metrics: metrics,
		cases:   make(map[string]*Case),
	}
	r.newSource = func(caseID string) domain.VitalsSource {
		return vitals.NewBreakerSource(
			vitals.NewSimulated(time.Now().UnixNano()),
			vitals.BreakerConfig{
				TripAt:          caseCfg.VitalsFailureTripAt,
				RecoveryTimeout: caseCfg.VitalsRecoveryTimeout,
			},
			logger,
		)
	}
	return r
}

// Admit validates the patient profile, builds a supervisor (all clinical
// parameter gaps surface here, before the first tick), and starts the
// case's loop goroutine.
func (r *Registry) Admit(profile domain.PatientProfile) (*Case, error) {
	sup, err := service.NewSupervisor(r.logger, &profile, r.params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Case{
		ID:          uuid.New().String(),
		Profile:     profile,
		sup:         sup,
		cancel:      cancel,
		done:        make(chan struct{}),
		metrics:     r.metrics,
		subscribers: make(map[chan service.Snapshot]struct{}),
	}

	r.mu.Lock()
	r.cases[c.ID] = c
	r.mu.Unlock()

	source := r.newSource(c.ID)
	go func() {
		defer close(c.done)
		_ = sup.Run(ctx, source, r.caseCfg.TickPeriod, c)
	}()

	r.logger.WithFields(logrus.Fields{
		"case_id": c.ID,
		"age":     profile.Age,
	}).Info("Case admitted")

	return c, nil
}

// Get returns an active case by ID.
func (r *Registry) Get(id string) (*Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return c, nil
}

// Discharge cancels a case's loop immediately and removes it from the
// registry. The last-computed snapshot remains valid on the returned case.
func (r *Registry) Discharge(id string) (*Case, error) {
	r.mu.Lock()
	c, ok := r.cases[id]
	if ok {
		delete(r.cases, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrCaseNotFound
	}

	c.cancel()
	<-c.done
	if r.metrics != nil {
		r.metrics.DropCase(c.ID)
	}

	r.logger.WithField("case_id", c.ID).Info("Case discharged")
	return c, nil
}

// Close cancels every active case's loop. Used at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	cases := make([]*Case, 0, len(r.cases))
	for _, c := range r.cases {
		cases = append(cases, c)
	}
	r.cases = make(map[string]*Case)
	r.mu.Unlock()

	for _, c := range cases {
		c.cancel()
		<-c.done
	}
}
