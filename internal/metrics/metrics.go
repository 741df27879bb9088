// Package metrics holds the Prometheus collectors of the workers.
//
// Every method is safe on a nil *Metrics so services can run without a
// registry (CLI, tests).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for fintrack.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	schedulerRuns      *prometheus.CounterVec
	schedulerDuration  prometheus.Histogram
	occurrencesCreated prometheus.Counter
	schedulesExhausted prometheus.Counter
	recordFailures     *prometheus.CounterVec
	budgetAlerts       prometheus.Counter
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	publishFailures    *prometheus.CounterVec
	storeRetries       prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry lets tests build as many
// instances as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		schedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_scheduler_runs_total",
				Help: "Recurring scheduler runs by outcome.",
			},
			[]string{"outcome"},
		),
		schedulerDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fintrack_scheduler_run_duration_seconds",
				Help:    "Duration of one ProcessDue run.",
				Buckets: prometheus.DefBuckets,
			},
		),
		occurrencesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_recurring_occurrences_created_total",
				Help: "Transactions materialized from recurring schedules.",
			},
		),
		schedulesExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_recurring_schedules_exhausted_total",
				Help: "Recurring schedules that passed their end date.",
			},
		),
		recordFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_recurring_record_failures_total",
				Help: "Recurring schedules that failed to process, by kind.",
			},
			[]string{"kind"},
		),
		budgetAlerts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_budget_alerts_total",
				Help: "Budget threshold alerts raised.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		publishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fintrack_event_publish_failures_total",
				Help: "Transaction events that could not be published.",
			},
			[]string{"event"},
		),
		storeRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fintrack_store_busy_total",
				Help: "Storage transactions that found the database locked.",
			},
		),
	}
}

// RecordSchedulerRun records one scheduler run and its duration.
func (m *Metrics) RecordSchedulerRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(outcome).Inc()
	m.schedulerDuration.Observe(d.Seconds())
}

func (m *Metrics) AddOccurrencesCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.occurrencesCreated.Add(float64(n))
}

func (m *Metrics) IncrScheduleExhausted() {
	if m == nil {
		return
	}
	m.schedulesExhausted.Inc()
}

// IncrRecordFailure counts a failed schedule; kind is "transient" or "paused".
func (m *Metrics) IncrRecordFailure(kind string) {
	if m == nil {
		return
	}
	m.recordFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrBudgetAlert() {
	if m == nil {
		return
	}
	m.budgetAlerts.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrPublishFailure(event string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) IncrStoreBusy() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}
