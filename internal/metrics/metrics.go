// Package metrics exposes Prometheus collectors shared by the API and scraper services.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scrapeTasksTotal           *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	llmRequestsTotal           *prometheus.CounterVec
	llmRequestDurationSeconds  *prometheus.HistogramVec
	mcpCallsTotal              *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter

	once sync.Once
)

// Init registers the collectors. It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		scrapeTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagops_scrape_tasks_total",
				Help: "Scrape tasks seen by the scraper service, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tagops_scraper_active_workers",
				Help: "Number of workers currently processing a scrape task.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tagops_rate_limit_delays_seconds",
				Help:    "Histogram of per-host navigation wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagops_llm_requests_total",
				Help: "LLM completions requested, labeled by purpose and result.",
			},
			[]string{"purpose", "result"},
		)

		llmRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tagops_llm_request_duration_seconds",
				Help:    "LLM completion latency, labeled by purpose.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 240},
			},
			[]string{"purpose"},
		)

		mcpCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagops_mcp_calls_total",
				Help: "MCP tool calls proxied, labeled by tool and normalized status.",
			},
			[]string{"tool", "status"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tagops_robots_fallback_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScrapeTask counts a scrape task outcome (accepted, rejected, completed, failed).
func ObserveScrapeTask(outcome string) {
	Init()
	scrapeTasksTotal.WithLabelValues(outcome).Inc()
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveLLMRequest records one completion call.
func ObserveLLMRequest(purpose string, err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	llmRequestsTotal.WithLabelValues(purpose, result).Inc()
	llmRequestDurationSeconds.WithLabelValues(purpose).Observe(duration.Seconds())
}

// ObserveMCPCall counts a proxied tool call.
func ObserveMCPCall(tool, status string) {
	Init()
	mcpCallsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}
