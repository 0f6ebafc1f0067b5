// Package telemetry exposes per-case supervision metrics in Prometheus
// format. Metrics are an observation surface only; the control core never
// reads them back.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noa-infusion-supervisor/internal/domain"
	"github.com/noa-infusion-supervisor/internal/service"
)

// Metrics holds the Prometheus collectors for the supervision loop.
type Metrics struct {
	ticksTotal      *prometheus.CounterVec
	interlocksTotal *prometheus.CounterVec
	vitalsFailures  *prometheus.CounterVec
	statusGauge     *prometheus.GaugeVec
	infusionRate    *prometheus.GaugeVec
	effectSite      *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "ticks_total",
			Help:      "Evaluation cycles processed per case.",
		}, []string{"case_id"}),
		interlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "interlock_engagements_total",
			Help:      "Safety interlock engagements per case and interlock kind.",
		}, []string{"case_id", "interlock"}),
		vitalsFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "vitals_read_failures_total",
			Help:      "Ticks held because no vitals reading was available.",
		}, []string{"case_id"}),
		statusGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "status",
			Help:      "Supervisory status per case (0=INITIALIZING, 1=GREEN, 2=RED).",
		}, []string{"case_id"}),
		infusionRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "infusion_rate",
			Help:      "Current infusion rate per case and drug (mass/kg/hour).",
		}, []string{"case_id", "drug"}),
		effectSite: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "noa",
			Subsystem: "supervisor",
			Name:      "effect_site_concentration",
			Help:      "Estimated effect-site concentration per case and drug (ng/mL).",
		}, []string{"case_id", "drug"}),
	}

	reg.MustRegister(
		m.ticksTotal,
		m.interlocksTotal,
		m.vitalsFailures,
		m.statusGauge,
		m.infusionRate,
		m.effectSite,
	)
	return m
}

// ObserveTick records the outcome of one evaluation cycle.
func (m *Metrics) ObserveTick(caseID string, snap service.Snapshot) {
	m.ticksTotal.WithLabelValues(caseID).Inc()
	m.statusGauge.WithLabelValues(caseID).Set(statusValue(snap.Status))
	if snap.Interlock != domain.InterlockNone {
		m.interlocksTotal.WithLabelValues(caseID, string(snap.Interlock)).Inc()
	}
	for drug, rate := range snap.Rates {
		m.infusionRate.WithLabelValues(caseID, drug).Set(rate)
	}
	for drug, conc := range snap.Concentrations {
		m.effectSite.WithLabelValues(caseID, drug).Set(conc.EffectSite)
	}
}

// ObserveVitalsFailure records a held tick.
func (m *Metrics) ObserveVitalsFailure(caseID string) {
	m.vitalsFailures.WithLabelValues(caseID).Inc()
}

// DropCase removes a closed case's series so the scrape surface does not
// accumulate labels from finished cases.
func (m *Metrics) DropCase(caseID string) {
	labels := prometheus.Labels{"case_id": caseID}
	m.ticksTotal.DeletePartialMatch(labels)
	m.interlocksTotal.DeletePartialMatch(labels)
	m.vitalsFailures.DeletePartialMatch(labels)
	m.statusGauge.DeletePartialMatch(labels)
	m.infusionRate.DeletePartialMatch(labels)
	m.effectSite.DeletePartialMatch(labels)
}

func statusValue(s domain.SupervisoryStatus) float64 {
	switch s {
	case domain.GREEN:
		return 1
	case domain.RED:
		return 2
	default:
		return 0
	}
}
