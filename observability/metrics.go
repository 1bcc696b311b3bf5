package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	registrarMetricsOnce sync.Once
	registrarRegistry    *RegistrarMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// HTTP returns the lazily-initialised metrics registry used to record API
// request activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "registrar",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
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
	route = normalizeLabel(route)
	method = strings.ToUpper(strings.TrimSpace(method))
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route.
func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

// RegistrarMetrics tracks lifecycle operations and fee collection.
type RegistrarMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	fees       *prometheus.CounterVec
	domains    prometheus.Gauge
	paused     prometheus.Gauge
}

// Registrar returns the registrar metrics registry.
func Registrar() *RegistrarMetrics {
	registrarMetricsOnce.Do(func() {
		registrarRegistry = &RegistrarMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "names",
				Name:      "operations_total",
				Help:      "Lifecycle and admin operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "registrar",
				Subsystem: "names",
				Name:      "operation_duration_seconds",
				Help:      "Latency of registry operations including the price quote and commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "names",
				Name:      "fees_collected_base_units_total",
				Help:      "Native base units collected into custody, by operation.",
			}, []string{"operation"}),
			domains: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "registrar",
				Subsystem: "names",
				Name:      "domains_registered",
				Help:      "Value of the registry's registration counter.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "registrar",
				Subsystem: "names",
				Name:      "paused",
				Help:      "Indicates whether lifecycle operations are paused (1) or open (0).",
			}),
		}
		prometheus.MustRegister(
			registrarRegistry.operations,
			registrarRegistry.duration,
			registrarRegistry.fees,
			registrarRegistry.domains,
			registrarRegistry.paused,
		)
	})
	return registrarRegistry
}

// Observe records an operation outcome. outcome is derived from err via
// classify so that each sentinel error gets its own series.
func (m *RegistrarMetrics) Observe(operation string, duration time.Duration, err error, classify func(error) string) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if classify != nil {
			if code := classify(err); code != "" {
				outcome = code
			}
		}
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFee adds collected base units for an operation.
func (m *RegistrarMetrics) RecordFee(operation string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.fees.WithLabelValues(normalizeLabel(operation)).Add(float64(amount))
}

// SetRegistry mirrors the registry counter and pause flag.
func (m *RegistrarMetrics) SetRegistry(domainsRegistered uint64, paused bool) {
	if m == nil {
		return
	}
	m.domains.Set(float64(domainsRegistered))
	if paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

// OracleMetrics tracks price feed health.
type OracleMetrics struct {
	age      *prometheus.GaugeVec
	failures *prometheus.CounterVec
}

// Oracle returns the price feed metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			age: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "registrar",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the last quote served by each price source.",
			}, []string{"source"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Price source failures segmented by source and reason.",
			}, []string{"source", "reason"}),
		}
		prometheus.MustRegister(oracleRegistry.age, oracleRegistry.failures)
	})
	return oracleRegistry
}

// RecordQuoteAge stores the observed quote age for source.
func (m *OracleMetrics) RecordQuoteAge(source string, age time.Duration) {
	if m == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.age.WithLabelValues(normalizeLabel(source)).Set(age.Seconds())
}

// RecordFailure increments the failure counter for source.
func (m *OracleMetrics) RecordFailure(source string, err error) {
	if m == nil {
		return
	}
	reason := "error"
	switch {
	case err == nil:
		return
	case strings.Contains(strings.ToLower(err.Error()), "stale"):
		reason = "stale"
	case strings.Contains(strings.ToLower(err.Error()), "deadline"):
		reason = "timeout"
	}
	m.failures.WithLabelValues(normalizeLabel(source), reason).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
