// Package metrics exposes Prometheus collectors for the acquisition service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tierAttemptsTotal          *prometheus.CounterVec
	acquisitionsTotal          *prometheus.CounterVec
	documentBytes              prometheus.Histogram
	acquisitionDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	handshakeRetriesTotal      *prometheus.CounterVec
	batchItemsTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tierAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dce_tier_attempts_total",
				Help: "Acquisition tier attempts, labeled by tier and status.",
			},
			[]string{"tier", "status"},
		)

		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dce_acquisitions_total",
				Help: "Terminal acquisition outcomes, labeled by status and fetch method.",
			},
			[]string{"status", "method"},
		)

		documentBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dce_document_bytes",
				Help:    "Size of accepted documents in bytes.",
				Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
			},
		)

		acquisitionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dce_acquisition_duration_seconds",
				Help:    "Wall-clock duration of acquisition runs, labeled by status.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)

		handshakeRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dce_fetch_tls_handshake_retries_total",
				Help: "TLS handshake timeouts retried by the direct fetcher, labeled by site.",
			},
			[]string{"site"},
		)

		batchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dce_batch_items_total",
				Help: "Batch items processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dce_active_workers",
				Help: "Number of batch workers currently processing an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dce_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTierAttempt counts one tier attempt.
func ObserveTierAttempt(tier, status string) {
	Init()
	tierAttemptsTotal.WithLabelValues(tier, status).Inc()
}

// ObserveAcquisition records a terminal outcome. method is empty on failure.
func ObserveAcquisition(status, method string, sizeBytes int, duration time.Duration) {
	Init()
	if method == "" {
		method = "none"
	}
	acquisitionsTotal.WithLabelValues(status, method).Inc()
	acquisitionDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if sizeBytes > 0 {
		documentBytes.Observe(float64(sizeBytes))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveHandshakeRetry counts a retried TLS handshake timeout.
func ObserveHandshakeRetry(site string) {
	Init()
	handshakeRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveBatchItem counts a processed batch item.
func ObserveBatchItem(status string) {
	Init()
	batchItemsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
