// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/channel-discovery-crawler/internal/crawler"
)

var (
	crawlerPagesTotal          prometheus.Counter
	crawlerClaimsTotal         *prometheus.CounterVec
	crawlerEnqueuedTotal       prometheus.Counter
	crawlerJobsTotal           *prometheus.CounterVec
	crawlerJobDurationSeconds  *prometheus.HistogramVec
	crawlerActiveWorkers       prometheus.Gauge
	sourceRequestsTotal        *prometheus.CounterVec
	sourceKeyRotationsTotal    prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Job result labels beyond the crawler outcomes.
const (
	JobResultInvalid  = "invalid_argument"
	JobResultUpstream = "upstream_failure"
	JobResultStorage  = "storage_failure"
	JobResultUnknown  = "unknown_operation"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of source pages processed.",
			},
		)

		crawlerClaimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_claims_total",
				Help: "Child claim attempts, labeled by result (won, lost, blocked).",
			},
			[]string{"result"},
		)

		crawlerEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_child_jobs_enqueued_total",
				Help: "Total number of child crawl jobs enqueued.",
			},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs processed, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_job_duration_seconds",
				Help:    "Histogram of crawl job durations, labeled by result.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_source_requests_total",
				Help: "Upstream API requests, labeled by endpoint and status code.",
			},
			[]string{"endpoint", "code"},
		)

		sourceKeyRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_source_key_rotations_total",
				Help: "Times an exhausted or invalid API key was skipped.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawlResult records the page and claim counters of a crawl pass.
func ObserveCrawlResult(res crawler.Result) {
	Init()
	crawlerPagesTotal.Add(float64(res.Pages))
	crawlerClaimsTotal.WithLabelValues("won").Add(float64(res.Claimed))
	crawlerClaimsTotal.WithLabelValues("lost").Add(float64(res.AlreadyClaimed))
	crawlerClaimsTotal.WithLabelValues("blocked").Add(float64(res.Blocked))
	crawlerEnqueuedTotal.Add(float64(res.Enqueued))
}

// ObserveJob increments the job counter and duration histogram for result.
func ObserveJob(result string, duration time.Duration) {
	Init()
	crawlerJobsTotal.WithLabelValues(result).Inc()
	crawlerJobDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveSourceRequest counts an upstream API call.
func ObserveSourceRequest(endpoint string, code int) {
	Init()
	sourceRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveKeyRotation counts a skipped API key.
func ObserveKeyRotation() {
	Init()
	sourceKeyRotationsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}
