// Package metrics exposes Prometheus collectors for the crew layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crew_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crew_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	rosterBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew_layer",
			Subsystem: "roster",
			Name:      "batches_total",
			Help:      "Total number of processed roster batches.",
		},
		[]string{"operation"},
	)

	ordersQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew_layer",
			Subsystem: "roster",
			Name:      "orders_queued_total",
			Help:      "Total number of pending orders created.",
		},
		[]string{"direction"},
	)

	ordersExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew_layer",
			Subsystem: "roster",
			Name:      "orders_executed_total",
			Help:      "Total number of matured orders executed.",
		},
		[]string{"direction"},
	)

	sharesSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crew_layer",
			Subsystem: "roster",
			Name:      "shares_settled_total",
			Help:      "Total voting shares minted or burned at execution.",
		},
		[]string{"direction"},
	)

	pendingOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crew_layer",
			Subsystem: "roster",
			Name:      "pending_orders",
			Help:      "Pending orders observed by the last sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rosterBatches,
		ordersQueued,
		ordersExecuted,
		sharesSettled,
		pendingOrders,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBatch counts one processed batch for the given operation.
func RecordBatch(operation string) {
	rosterBatches.WithLabelValues(operation).Inc()
}

// RecordQueued counts newly created pending orders.
func RecordQueued(direction string, n int) {
	if n > 0 {
		ordersQueued.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordExecuted counts one executed order and its settled share amount.
func RecordExecuted(direction string, shares uint64) {
	ordersExecuted.WithLabelValues(direction).Inc()
	sharesSettled.WithLabelValues(direction).Add(float64(shares))
}

// SetPendingOrders reports the pending-order count seen by a sweep.
func SetPendingOrders(n int) {
	pendingOrders.Set(float64(n))
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "roster" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/roster"
	}
	return "/roster/" + parts[1]
}
