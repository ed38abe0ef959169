// Package metrics exposes Prometheus collectors for the watcher.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	sourceTierTotal            *prometheus.CounterVec
	recordsFetchedTotal        prometheus.Counter
	newRecordsTotal            prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	lastSuccessTimestamp       prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egpwatch_fetch_attempts_total",
				Help: "Transport attempts, labeled by transport and outcome.",
			},
			[]string{"transport", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egpwatch_fetch_duration_seconds",
				Help:    "Latency of single transport attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"transport"},
		)

		sourceTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egpwatch_source_tier_total",
				Help: "Record source tier outcomes, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		recordsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "egpwatch_records_fetched_total",
				Help: "Records returned by the record source.",
			},
		)

		newRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "egpwatch_new_records_total",
				Help: "Records not present in the previous snapshot.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egpwatch_notifications_total",
				Help: "Notification deliveries, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egpwatch_runs_total",
				Help: "Watcher runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egpwatch_run_duration_seconds",
				Help:    "Wall time of watcher runs, labeled by outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		)

		lastSuccessTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "egpwatch_last_success_timestamp_seconds",
				Help: "Unix time of the last run that completed.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "egpwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
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

// ObserveFetchAttempt records one transport attempt.
func ObserveFetchAttempt(transport, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(transport, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(transport).Observe(duration.Seconds())
}

// ObserveSourceTier records whether a record source tier produced data.
func ObserveSourceTier(tier, outcome string) {
	Init()
	sourceTierTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveRecords records the size of a fetched batch and how many were new.
func ObserveRecords(fetched, fresh int) {
	Init()
	recordsFetchedTotal.Add(float64(fetched))
	newRecordsTotal.Add(float64(fresh))
}

// ObserveNotification records one delivery attempt to a sink.
func ObserveNotification(sink string, err error) {
	Init()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	notificationsTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveRun records the outcome and wall time of a watcher run.
func ObserveRun(outcome string, finished time.Time, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "success" {
		lastSuccessTimestamp.Set(float64(finished.Unix()))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway.
// One-shot runs exit before a scraper would see them.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
