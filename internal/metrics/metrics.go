// Package metrics holds the prometheus collectors for compiles and loads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "specforge"

// Metrics provides the process-wide collectors.
var Metrics = New()

// Collectors holds prometheus metrics for schema compiles and record loads.
type Collectors struct {
	compileDuration *prometheus.HistogramVec
	schemaVersion   prometheus.Gauge
	records         *prometheus.CounterVec
	fuzzyMatches    *prometheus.CounterVec
	unresolvedFKs   *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		compileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "compile_duration_seconds",
				Help:      "Schema compile time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"result"}, // "success" or "error"
		),
		schemaVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "version",
			Help:      "Version of the active schema snapshot.",
		}),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "records_total",
				Help:      "Imported records by entity and outcome.",
			},
			[]string{"entity", "outcome"}, // loaded, updated, skipped, rejected, failed
		),
		fuzzyMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "fuzzy_matches_total",
				Help:      "Foreign key labels resolved by fuzzy matching.",
			},
			[]string{"target"},
		),
		unresolvedFKs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolve",
				Name:      "unresolved_total",
				Help:      "Foreign key values that resolved to no row.",
			},
			[]string{"target"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "import",
				Name:      "batch_duration_seconds",
				Help:      "Import batch time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entity", "dry_run"},
		),
	}
}

// ObserveCompile records a compile duration and, on success, the new version.
func (m *Collectors) ObserveCompile(d time.Duration, version int64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	} else {
		m.schemaVersion.Set(float64(version))
	}
	m.compileDuration.WithLabelValues(result).Observe(d.Seconds())
}

// AddRecords counts n records of an entity with the given outcome.
func (m *Collectors) AddRecords(entity, outcome string, n int) {
	if n > 0 {
		m.records.WithLabelValues(entity, outcome).Add(float64(n))
	}
}

// FuzzyMatch counts one accepted fuzzy resolution.
func (m *Collectors) FuzzyMatch(target string) {
	m.fuzzyMatches.WithLabelValues(target).Inc()
}

// Unresolved counts one unresolved FK value.
func (m *Collectors) Unresolved(target string) {
	m.unresolvedFKs.WithLabelValues(target).Inc()
}

// ObserveBatch records the duration of an import batch.
func (m *Collectors) ObserveBatch(entity string, dryRun bool, d time.Duration) {
	label := "false"
	if dryRun {
		label = "true"
	}
	m.batchDuration.WithLabelValues(entity, label).Observe(d.Seconds())
}

// MustRegister registers the collectors with the given registry.
func (m *Collectors) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.compileDuration,
		m.schemaVersion,
		m.records,
		m.fuzzyMatches,
		m.unresolvedFKs,
		m.batchDuration,
	)
}
