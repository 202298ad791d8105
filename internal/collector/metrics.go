package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks classification throughput. A nil *Metrics records nothing.
type Metrics struct {
	ObjectsTotal     *prometheus.CounterVec
	SkippedEntries   *prometheus.CounterVec
	ComputerProbes   *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec
}

// Skip reasons.
const (
	SkipUnresolved = "unresolved"
	SkipInvalidDN  = "invalid_dn"
	SkipBaseLabel  = "base_label"
	SkipTrustEntry = "trust_entry"
)

// NewMetrics registers the collector metrics with reg, or the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ObjectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adcollector_objects_total",
			Help: "Total number of records assembled, by label",
		}, []string{"label"}),
		SkippedEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adcollector_skipped_entries_total",
			Help: "Total number of entries or trust results skipped, by reason",
		}, []string{"reason"}),
		ComputerProbes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "adcollector_computer_probes_total",
			Help: "Total number of computer availability probes, by result",
		}, []string{"result"}),
		ClassifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcollector_classify_duration_seconds",
			Help:    "Duration of record assembly, by label",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"label"}),
	}
}

// ObserveRecord records one assembled record.
func (m *Metrics) ObserveRecord(label Label, start time.Time) {
	if m == nil {
		return
	}
	m.ObjectsTotal.WithLabelValues(string(label)).Inc()
	m.ClassifyDuration.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
}

// IncrementSkipped records a skipped entry.
func (m *Metrics) IncrementSkipped(reason string) {
	if m == nil {
		return
	}
	m.SkippedEntries.WithLabelValues(reason).Inc()
}

// IncrementProbe records a probe outcome.
func (m *Metrics) IncrementProbe(connectable bool) {
	if m == nil {
		return
	}
	result := "unreachable"
	if connectable {
		result = "connectable"
	}
	m.ComputerProbes.WithLabelValues(result).Inc()
}
