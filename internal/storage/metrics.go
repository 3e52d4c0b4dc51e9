package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/coven-storage/internal/tier"
)

// Metrics contains Prometheus metrics for the storage manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Tier I/O
	reads  *prometheus.CounterVec
	writes *prometheus.CounterVec

	// Value sizes as seen by the quota check
	writeBytes *prometheus.HistogramVec

	// Overflow migrations between tiers
	migrations *prometheus.CounterVec

	// Version-driven resets
	resets *prometheus.CounterVec

	// Persistence jobs waiting in per-key queues
	pending prometheus.Gauge

	// Registry contents as of the last reload
	overflowing *prometheus.GaugeVec
	versions    *prometheus.GaugeVec
}

// NewMetrics creates the storage collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_storage_reads_total",
				Help: "Total number of tier reads by outcome",
			},
			[]string{"tier", "result"},
		),

		writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_storage_writes_total",
				Help: "Total number of tier writes by outcome",
			},
			[]string{"tier", "result"},
		),

		writeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coven_storage_write_bytes",
				Help:    "Serialized size of written items",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
			[]string{"tier"},
		),

		migrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_storage_migrations_total",
				Help: "Total number of overflow migrations between tiers",
			},
			[]string{"direction"},
		),

		resets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coven_storage_version_resets_total",
				Help: "Total number of values reset to default after a version change",
			},
			[]string{"key"},
		),

		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "coven_storage_pending_writes",
				Help: "Persistence jobs queued but not yet finished",
			},
		),

		overflowing: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coven_storage_overflowing",
				Help: "1 for each key currently moved to the local tier",
			},
			[]string{"key"},
		),

		versions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coven_storage_recorded_version",
				Help: "1 for the recorded cache version of each key",
			},
			[]string{"key", "version"},
		),
	}
}

// ObserveRegistries replaces the registry gauges with the given contents.
func (m *Metrics) ObserveRegistries(overflowing []string, versions map[string]string) {
	if m == nil {
		return
	}
	m.overflowing.Reset()
	for _, k := range overflowing {
		m.overflowing.WithLabelValues(k).Set(1)
	}
	m.versions.Reset()
	for k, v := range versions {
		m.versions.WithLabelValues(k, v).Set(1)
	}
}

func (m *Metrics) recordRead(t tier.Tier, result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(t.String(), result).Inc()
}

func (m *Metrics) recordWrite(t tier.Tier, result string, size int) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(t.String(), result).Inc()
	if result == "ok" {
		m.writeBytes.WithLabelValues(t.String()).Observe(float64(size))
	}
}

func (m *Metrics) recordMigration(to tier.Tier) {
	if m == nil {
		return
	}
	m.migrations.WithLabelValues("to_" + to.String()).Inc()
}

func (m *Metrics) recordReset(key string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(key).Inc()
}

func (m *Metrics) pendingAdd(delta float64) {
	if m == nil {
		return
	}
	m.pending.Add(delta)
}
