package frontend

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "agent_web"

// Metrics holds the Prometheus collectors for the front end.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	InFlightRequests  prometheus.Gauge
	OutcomesTotal     *prometheus.CounterVec
	AgentCallDuration prometheus.Histogram
	LastRequestID     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status code class",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		InFlightRequests: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests being served",
			},
		),
		OutcomesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_outcomes_total",
				Help:      "Total dispatches by outcome",
			},
			[]string{"outcome"},
		),
		AgentCallDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "agent_call_duration_seconds",
				Help:      "Duration of agent calls in seconds, including the wait for the agent",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		LastRequestID: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_request_id",
				Help:      "Most recently assigned dispatcher request id",
			},
		),
	}
}

// MetricsMiddleware records request counts, durations and in-flight requests.
// route maps a request onto a bounded label value.
func MetricsMiddleware(metrics *Metrics, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.InFlightRequests.Inc()
			defer metrics.InFlightRequests.Dec()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			label := route(r)
			metrics.RequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(label, statusToLabel(wrapped.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusToLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// MetricsHandler serves /metrics from gatherer and a /healthz liveness probe.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, contentTypeText, "ok")
	})
	return mux
}
