package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recipient outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeUnregistered = "unregistered"
	OutcomeUnavailable  = "unavailable"
)

// Metrics stores Prometheus collectors used by the API and the dispatcher.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	gcmRequestsTotal    *prometheus.CounterVec
	gcmRequestDuration  prometheus.Histogram
	recipientsTotal     *prometheus.CounterVec
	canonicalIDsTotal   prometheus.Counter
	retriesTotal        *prometheus.CounterVec
	dispatchInflight    prometheus.Gauge
	deliveriesTotal     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gcm_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		gcmRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "gcm_requests_total",
				Help:      "Total number of requests sent to the push provider by result.",
			},
			[]string{"result"},
		),
		gcmRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gcm_relay",
				Name:      "gcm_request_duration_seconds",
				Help:      "Push provider round trip duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		recipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "recipients_total",
				Help:      "Total number of recipient outcomes reported by the push provider.",
			},
			[]string{"outcome"},
		),
		canonicalIDsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "canonical_ids_total",
				Help:      "Total number of replacement registration tokens reported by the push provider.",
			},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "retries_total",
				Help:      "Total number of resends scheduled by reason.",
			},
			[]string{"reason"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gcm_relay",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight provider requests.",
			},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcm_relay",
				Name:      "deliveries_total",
				Help:      "Total number of queued deliveries finished by the worker, by final status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.gcmRequestsTotal,
		m.gcmRequestDuration,
		m.recipientsTotal,
		m.canonicalIDsTotal,
		m.retriesTotal,
		m.dispatchInflight,
		m.deliveriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// ObserveGCMRequest records one provider round trip. result is a status class
// such as "2xx" or "transport_error".
func (m *Metrics) ObserveGCMRequest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gcmRequestsTotal.WithLabelValues(normalizeLabel(result)).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.gcmRequestDuration.Observe(seconds)
}

func (m *Metrics) AddRecipients(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recipientsTotal.WithLabelValues(normalizeLabel(outcome)).Add(float64(count))
}

func (m *Metrics) AddCanonicalIDs(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.canonicalIDsTotal.Add(float64(count))
}

func (m *Metrics) IncRetryScheduled(reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncDeliveryFinished(status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

// StatusClass maps an HTTP status to a low-cardinality label.
func StatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "unknown"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
