// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	matchesStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchforge_matches_stored_total",
		Help: "The total number of match records persisted.",
	})
	frontierEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchforge_frontier_enqueued_total",
		Help: "The total number of frontier entries enqueued, by kind.",
	}, []string{"kind"})
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchforge_fetch_requests_total",
		Help: "The total number of remote API requests, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
	fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchforge_fetch_duration_seconds",
		Help:    "Remote API request latency, by endpoint.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchforge_rate_limit_wait_seconds",
		Help:    "Time spent waiting out upstream rate-limit cooldowns.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	})
	entriesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchforge_entries_failed_total",
		Help: "The total number of frontier entries marked failed, by reason.",
	}, []string{"reason"})
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchforge_active_workers",
		Help: "The number of workers currently processing a batch.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveMatchStored increments the stored-match counter.
func ObserveMatchStored() {
	matchesStoredTotal.Inc()
}

// ObserveFrontierEnqueued counts newly enqueued frontier entries.
func ObserveFrontierEnqueued(kind string, n int) {
	if n > 0 {
		frontierEnqueuedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveFetch records one remote API request.
func ObserveFetch(endpoint, outcome string, duration time.Duration) {
	fetchRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRateLimitWait records time spent blocked on a cooldown.
func ObserveRateLimitWait(duration time.Duration) {
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveEntryFailed increments the failed-entry counter for the reason.
func ObserveEntryFailed(reason string) {
	entriesFailedTotal.WithLabelValues(reason).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
