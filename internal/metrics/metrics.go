// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchPagesTotal    prometheus.Counter
	searchItemsTotal    prometheus.Counter
	searchRetriesTotal  prometheus.Counter
	searchFailuresTotal prometheus.Counter

	recordsTotal        *prometheus.CounterVec
	enrichRetriesTotal  prometheus.Counter
	enrichDurationSecs  prometheus.Histogram
	checkpointsTotal    prometheus.Counter
	harvestProcessed    prometheus.Gauge
	harvestRemaining    prometheus.Gauge
	harvestActiveLeases prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times; the Observe
// helpers call it implicitly.
func Init() {
	once.Do(func() {
		searchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_search_pages_total",
			Help: "Total search result pages fetched successfully.",
		})
		searchItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_search_items_total",
			Help: "Total record summaries returned by the search API.",
		})
		searchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_search_retries_total",
			Help: "Total page fetch retry attempts.",
		})
		searchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_search_failures_total",
			Help: "Total page fetches abandoned after retry exhaustion.",
		})
		recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Output records written, labeled complete or partial.",
		}, []string{"outcome"})
		enrichRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_enrich_retries_total",
			Help: "Total per-item enrichment retries.",
		})
		enrichDurationSecs = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_enrich_duration_seconds",
			Help:    "Histogram of per-item enrichment latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		})
		checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_checkpoints_total",
			Help: "Total progress checkpoints persisted.",
		})
		harvestProcessed = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_processed",
			Help: "Records processed so far in the current run.",
		})
		harvestRemaining = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_remaining",
			Help: "Records remaining in the current run.",
		})
		harvestActiveLeases = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_browser_leases_active",
			Help: "Browser leases currently held by enrichment tasks.",
		})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total ops API requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of ops API request latencies by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler exposing the collectors.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveSearchPage records a successfully fetched page.
func ObserveSearchPage(items int) {
	Init()
	searchPagesTotal.Inc()
	searchItemsTotal.Add(float64(items))
}

// ObserveSearchRetry records one page-fetch retry attempt.
func ObserveSearchRetry() {
	Init()
	searchRetriesTotal.Inc()
}

// ObserveSearchFailure records a page abandoned after retry exhaustion.
func ObserveSearchFailure() {
	Init()
	searchFailuresTotal.Inc()
}

// ObserveRecord counts an output record by outcome ("complete"/"partial").
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichRetry counts a per-item enrichment retry.
func ObserveEnrichRetry() {
	Init()
	enrichRetriesTotal.Inc()
}

// ObserveEnrichDuration records one enrichment latency sample.
func ObserveEnrichDuration(d time.Duration) {
	Init()
	enrichDurationSecs.Observe(d.Seconds())
}

// ObserveCheckpoint counts a persisted checkpoint.
func ObserveCheckpoint() {
	Init()
	checkpointsTotal.Inc()
}

// SetProgress publishes the current processed/remaining gauges.
func SetProgress(processed, remaining int) {
	Init()
	harvestProcessed.Set(float64(processed))
	harvestRemaining.Set(float64(remaining))
}

// LeaseAcquired increments the active browser lease gauge.
func LeaseAcquired() {
	Init()
	harvestActiveLeases.Inc()
}

// LeaseReleased decrements the active browser lease gauge.
func LeaseReleased() {
	Init()
	harvestActiveLeases.Dec()
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
