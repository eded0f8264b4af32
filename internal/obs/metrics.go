package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_total",
			Help: "Change-feed events by entity and outcome (applied/dropped/deferred).",
		},
		[]string{"entity", "outcome"},
	)

	syncApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_apply_duration_seconds",
			Help:    "Latency of applying one change event to the relational store.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	authResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_resolutions_total",
			Help: "Tenant resolutions by source (relational/document/bootstrap) or failure code.",
		},
		[]string{"result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service reports ready, 0 otherwise.",
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		syncEventsTotal, syncApplyDuration, authResolutionsTotal,
		readyGauge,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// ObserveSyncEvent records one propagation attempt.
func ObserveSyncEvent(entity, outcome string, d time.Duration) {
	syncEventsTotal.WithLabelValues(entity, outcome).Inc()
	syncApplyDuration.WithLabelValues(entity).Observe(d.Seconds())
}

// CountResolution records one authorization resolution by its source or failure.
func CountResolution(result string) {
	authResolutionsTotal.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
