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

// Metrics stores Prometheus collectors used by the API and the error recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	batchOperationsTotal     *prometheus.CounterVec
	cacheHitsTotal           prometheus.Counter
	cacheMissesTotal         prometheus.Counter
	batchErrorsRecordedTotal *prometheus.CounterVec
	labelDispatchTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shipbatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "batch_operations_total",
				Help:      "Total number of completed batch aggregate operations.",
			},
			[]string{"operation"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "batch_cache_hits_total",
				Help:      "Total number of batch reads served from the cache.",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "batch_cache_misses_total",
				Help:      "Total number of batch reads that fell through to the store.",
			},
		),
		batchErrorsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "batch_errors_recorded_total",
				Help:      "Total number of provider-reported errors appended to batches.",
			},
			[]string{"source"},
		),
		labelDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shipbatch",
				Name:      "label_dispatch_total",
				Help:      "Total number of label job dispatch attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchOperationsTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.batchErrorsRecordedTotal,
		m.labelDispatchTotal,
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

func (m *Metrics) IncBatchOperation(operation string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(operation))
	if label == "" {
		label = "unknown"
	}
	m.batchOperationsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

func (m *Metrics) IncErrorRecorded(source string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(source))
	if label == "" {
		label = "unknown"
	}
	m.batchErrorsRecordedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncLabelDispatch(outcome string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(outcome))
	if label == "" {
		label = "unknown"
	}
	m.labelDispatchTotal.WithLabelValues(label).Inc()
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
