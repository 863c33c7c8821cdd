package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "peerlend"

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LendingMetrics records engine flow outcomes and matching behaviour.
type LendingMetrics struct {
	flows      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	iterations *prometheus.HistogramVec
	matched    *prometheus.CounterVec
	deltas     *prometheus.GaugeVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// HTTP returns the lazily-initialised registry used by the API middleware.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded".
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// Lending returns the registry tracking engine flows.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			flows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "flows_total",
				Help:      "Engine flows segmented by action, market and outcome.",
			}, []string{"action", "market", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "flow_duration_seconds",
				Help:      "Latency of engine flows including pool interactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "matching_iterations",
				Help:      "Counterparties visited by the matching engine per flow.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
			}, []string{"action"}),
			matched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "routed_total",
				Help:      "Underlying routed by flows, segmented by destination (delta, p2p, pool).",
			}, []string{"market", "route"}),
			deltas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "p2p_delta",
				Help:      "Last observed P2P delta per market and side, in pool-scaled units.",
			}, []string{"market", "side"}),
		}
		prometheus.MustRegister(
			lendingRegistry.flows,
			lendingRegistry.latency,
			lendingRegistry.iterations,
			lendingRegistry.matched,
			lendingRegistry.deltas,
		)
	})
	return lendingRegistry
}

// ObserveFlow records one engine flow. Iterations are only observed for
// successful flows.
func (m *LendingMetrics) ObserveFlow(action, market string, err error, iterations uint64, duration time.Duration) {
	if m == nil {
		return
	}
	market = normalizeMarket(market)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.flows.WithLabelValues(action, market, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
	if err == nil {
		m.iterations.WithLabelValues(action).Observe(float64(iterations))
	}
}

// AddRouted adds an amount of underlying routed to delta, p2p or pool.
func (m *LendingMetrics) AddRouted(market, route string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.matched.WithLabelValues(normalizeMarket(market), route).Add(amount)
}

// SetDelta publishes the latest delta for a market side.
func (m *LendingMetrics) SetDelta(market, side string, value float64) {
	if m == nil {
		return
	}
	m.deltas.WithLabelValues(normalizeMarket(market), side).Set(value)
}

func normalizeMarket(market string) string {
	normalized := strings.TrimSpace(strings.ToUpper(market))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
