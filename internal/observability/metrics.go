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

const metricsNamespace = "notification_dispatch"

// Metrics stores Prometheus collectors used by the API, lifecycle and worker flows.
// Every method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	notificationsCreatedTotal *prometheus.CounterVec
	statusUpdatesTotal        *prometheus.CounterVec
	mirrorReconcileTotal      *prometheus.CounterVec
	chunkTransactionsTotal    *prometheus.CounterVec
	historyQueriesTotal       *prometheus.CounterVec
	enqueuedTotal             *prometheus.CounterVec

	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationSendDuration *prometheus.HistogramVec
	workerInflight           *prometheus.GaugeVec
	retryScheduledTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help},
			labels,
		)
	}

	m := &Metrics{
		registry:          registry,
		httpRequestsTotal: counter("http_requests_total", "Total number of HTTP requests processed by method, path, and status.", "method", "path", "status"),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: counter("notifications_created_total", "Total number of notification records created.", "type"),
		statusUpdatesTotal:        counter("status_updates_total", "Total number of notification records written by status.", "type", "status"),
		mirrorReconcileTotal:      counter("mirror_reconcile_total", "Event store reconciliation outcomes.", "result"),
		chunkTransactionsTotal:    counter("chunk_transactions_total", "Table store chunk transactions by table and result.", "table", "result"),
		historyQueriesTotal:       counter("history_queries_total", "History report queries by type and result.", "type", "result"),
		enqueuedTotal:             counter("delivery_messages_enqueued_total", "Delivery messages published by type.", "type"),
		notificationsSentTotal:    counter("notifications_sent_total", "Total number of notifications handed to the mail provider.", "type"),
		notificationsFailedTotal:  counter("notifications_failed_total", "Total number of notifications that ended in failed state.", "type", "reason"),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Mail provider send duration in seconds grouped by type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"type"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight deliveries grouped by type.",
			},
			[]string{"type"},
		),
		retryScheduledTotal: counter("retry_scheduled_total", "Total number of deliveries scheduled for retry.", "type"),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.statusUpdatesTotal,
		m.mirrorReconcileTotal,
		m.chunkTransactionsTotal,
		m.historyQueriesTotal,
		m.enqueuedTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationSendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
	)

	return m
}

// Gatherer exposes the registry backing the metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) AddNotificationsCreated(notificationType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsCreatedTotal.WithLabelValues(normalizeLabel(notificationType)).Add(float64(n))
}

func (m *Metrics) IncStatusUpdate(notificationType string, status string) {
	if m == nil {
		return
	}
	m.statusUpdatesTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(status)).Inc()
}

// IncMirrorReconcile counts one reconciliation outcome: updated, missing or error.
func (m *Metrics) IncMirrorReconcile(result string) {
	if m == nil {
		return
	}
	m.mirrorReconcileTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncChunkTransaction(table string, result string) {
	if m == nil {
		return
	}
	m.chunkTransactionsTotal.WithLabelValues(normalizeLabel(table), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncHistoryQuery(notificationType string, result string) {
	if m == nil {
		return
	}
	m.historyQueriesTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(result)).Inc()
}

func (m *Metrics) AddEnqueued(notificationType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueuedTotal.WithLabelValues(normalizeLabel(notificationType)).Add(float64(n))
}

func (m *Metrics) IncNotificationSent(notificationType string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncNotificationFailed(notificationType string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(notificationType), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(notificationType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(notificationType)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight(notificationType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) DecWorkerInFlight(notificationType string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(notificationType)).Dec()
}

func (m *Metrics) IncRetryScheduled(notificationType string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(notificationType)).Inc()
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
