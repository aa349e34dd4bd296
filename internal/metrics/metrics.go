// Package metrics exposes stabilizer counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

const namespace = "serp"

// Direction labels.
const (
	Expand   = "expand"
	Contract = "contract"
)

// UnknownCurrency labels adjustments of currencies without a configured base
// unit.
const UnknownCurrency ledger.CurrencyID = "unknown"

// Recorder collects supply adjustment metrics. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	adjustments *prometheus.CounterVec
	units       *prometheus.CounterVec
	failures    *prometheus.CounterVec
	quoted      *prometheus.GaugeVec
}

// NewRecorder builds a recorder with its own registry, which also carries the
// Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supply_adjustments_total",
			Help:      "Committed supply adjustments",
		}, []string{"currency", "direction"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supply_adjusted_units_total",
			Help:      "Units minted or burned by supply adjustments",
		}, []string{"currency", "direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supply_adjustment_failures_total",
			Help:      "Rejected supply adjustments by reason",
		}, []string{"currency", "direction", "reason"}),
		quoted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quoted_price",
			Help:      "Latest serp quote per currency",
		}, []string{"currency"}),
	}
	r.registry.MustRegister(
		r.adjustments, r.units, r.failures, r.quoted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the Prometheus registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Adjusted records a committed adjustment.
func (r *Recorder) Adjusted(currency ledger.CurrencyID, direction string, amount uint64) {
	if r == nil {
		return
	}
	r.adjustments.WithLabelValues(string(currency), direction).Inc()
	r.units.WithLabelValues(string(currency), direction).Add(float64(amount))
}

// Failed records a rejected adjustment.
func (r *Recorder) Failed(currency ledger.CurrencyID, direction, reason string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(string(currency), direction, reason).Inc()
}

// Quoted records the latest quoted price.
func (r *Recorder) Quoted(currency ledger.CurrencyID, price fixed.Price) {
	if r == nil {
		return
	}
	r.quoted.WithLabelValues(string(currency)).Set(price.Decimal().InexactFloat64())
}
