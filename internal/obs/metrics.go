package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics.
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
)

// Security domain metrics. Counters here are observational; authoritative
// figures are always recomputed from the threat/incident stores.
var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access-control decisions by outcome reason.",
		},
		[]string{"reason"},
	)

	threatsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threats_detected_total",
			Help: "Security threats reported, by type and severity.",
		},
		[]string{"type", "severity"},
	)

	threatsAutoBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threats_auto_blocked_total",
		Help: "Threats blocked automatically on detection.",
	})

	incidentsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidents_opened_total",
		Help: "Security incidents opened from escalated threats.",
	})

	auditEmitFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_emit_failures_total",
		Help: "Audit events that could not be recorded (calls fail closed).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessDecisions, threatsDetected, threatsAutoBlocked,
		incidentsOpened, auditEmitFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision records an access-control decision outcome.
func ObserveDecision(reason string) {
	accessDecisions.WithLabelValues(reason).Inc()
}

// ObserveThreatDetected records a reported threat.
func ObserveThreatDetected(threatType, severity string) {
	threatsDetected.WithLabelValues(threatType, severity).Inc()
}

// ObserveThreatAutoBlocked records a threat blocked by the response policy.
func ObserveThreatAutoBlocked() {
	threatsAutoBlocked.Inc()
}

// ObserveIncidentOpened records an escalation.
func ObserveIncidentOpened() {
	incidentsOpened.Inc()
}

// ObserveAuditFailure records a failed audit emission.
func ObserveAuditFailure() {
	auditEmitFailures.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
