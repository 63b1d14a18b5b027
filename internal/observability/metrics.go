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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	jobsDeliveredTotal  *prometheus.CounterVec
	jobsDiscardedTotal  *prometheus.CounterVec
	jobsFailedTotal     *prometheus.CounterVec
	jobSendDuration     *prometheus.HistogramVec
	workerInflight      prometheus.Gauge
	retryScheduledTotal *prometheus.CounterVec
	otpIssuedTotal      prometheus.Counter
	otpVerifyTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tg_notifier",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsDeliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "jobs_delivered_total",
				Help:      "Total number of notification jobs delivered to the chat channel.",
			},
			[]string{"source"},
		),
		jobsDiscardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "jobs_discarded_total",
				Help:      "Total number of jobs discarded without delivery, by reason.",
			},
			[]string{"source", "reason"},
		),
		jobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "jobs_failed_total",
				Help:      "Total number of jobs that exhausted their retry budget.",
			},
			[]string{"source"},
		),
		jobSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tg_notifier",
				Name:      "job_send_duration_seconds",
				Help:      "Channel send duration in seconds grouped by source.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"source"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tg_notifier",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight delivery attempts.",
			},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "retry_scheduled_total",
				Help:      "Total number of jobs scheduled for a backoff retry.",
			},
			[]string{"source"},
		),
		otpIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "otp_issued_total",
				Help:      "Total number of one-time codes issued.",
			},
		),
		otpVerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tg_notifier",
				Name:      "otp_verify_total",
				Help:      "Total number of code verification attempts by outcome.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsDeliveredTotal,
		m.jobsDiscardedTotal,
		m.jobsFailedTotal,
		m.jobSendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.otpIssuedTotal,
		m.otpVerifyTotal,
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

func (m *Metrics) IncJobDelivered(source string) {
	if m == nil {
		return
	}
	m.jobsDeliveredTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncJobDiscarded(source string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := normalizeLabel(reason)
	m.jobsDiscardedTotal.WithLabelValues(normalizeLabel(source), reasonLabel).Inc()
}

func (m *Metrics) IncJobFailed(source string) {
	if m == nil {
		return
	}
	m.jobsFailedTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) ObserveJobSendDuration(source string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.jobSendDuration.WithLabelValues(normalizeLabel(source)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled(source string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncOTPIssued() {
	if m == nil {
		return
	}
	m.otpIssuedTotal.Inc()
}

func (m *Metrics) IncOTPVerify(result string) {
	if m == nil {
		return
	}
	m.otpVerifyTotal.WithLabelValues(normalizeLabel(result)).Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
