// Package metrics holds the Prometheus collectors shared by the scanner and
// the ticket service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	ScanStepsTotal   *prometheus.CounterVec
	PreemptionsTotal prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	ProgramSize      prometheus.Gauge
	PassDuration     prometheus.Histogram
	PurchasesTotal   *prometheus.CounterVec
	SessionResets    prometheus.Counter
}

// New constructs and registers all metrics on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_scan_steps_total",
			Help: "Scanner steps by kind (program, screening, skip).",
		},
		[]string{"kind"},
	)
	preemptions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_scan_preemptions_total",
			Help: "Scanner steps abandoned for a waiting foreground operation.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_errors_total",
			Help: "Errors by component and kind.",
		},
		[]string{"component", "kind"},
	)
	programSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketwatch_program_size",
			Help: "Screenings in the last full program scan.",
		},
	)
	passDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketwatch_program_refresh_duration_seconds",
			Help:    "Duration of full program scans.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		},
	)
	purchases := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_purchases_total",
			Help: "Purchase attempts by status.",
		},
		[]string{"status"},
	)
	resets := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_session_resets_total",
			Help: "Automation sessions torn down after a failure.",
		},
	)

	registry.MustRegister(
		steps, preemptions, errorsTotal, programSize, passDuration, purchases, resets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:         registry,
		ScanStepsTotal:   steps,
		PreemptionsTotal: preemptions,
		ErrorsTotal:      errorsTotal,
		ProgramSize:      programSize,
		PassDuration:     passDuration,
		PurchasesTotal:   purchases,
		SessionResets:    resets,
	}
}

// IncStep counts one scanner step.
func (m *Metrics) IncStep(kind string) {
	if m == nil {
		return
	}
	m.ScanStepsTotal.WithLabelValues(kind).Inc()
}

// IncPreemption counts a yield to a waiting operation.
func (m *Metrics) IncPreemption() {
	if m == nil {
		return
	}
	m.PreemptionsTotal.Inc()
}

// IncError counts an error of kind raised in component.
func (m *Metrics) IncError(component, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// ObservePass records a completed full program scan.
func (m *Metrics) ObservePass(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.ProgramSize.Set(float64(size))
	m.PassDuration.Observe(d.Seconds())
}

// IncPurchase counts a purchase attempt by ledger status.
func (m *Metrics) IncPurchase(status string) {
	if m == nil {
		return
	}
	m.PurchasesTotal.WithLabelValues(status).Inc()
}

// IncReset counts a session teardown.
func (m *Metrics) IncReset() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}
