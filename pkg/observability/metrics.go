package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal           *prometheus.CounterVec
	LockoutsTotal         prometheus.Counter
	TokenRedemptionsTotal *prometheus.CounterVec
	TokenRotationsTotal   prometheus.Counter
	LogoutsTotal          prometheus.Counter

	registry *prometheus.Registry
}

// Login outcome label values
const (
	LoginOutcomeSuccess            = "success"
	LoginOutcomeInvalidCredentials = "invalid_credentials"
	LoginOutcomeLockedOut          = "locked_out"
	LoginOutcomeError              = "error"
)

// NewMetrics creates and registers all Prometheus metrics on the given
// registry. A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardvault_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_logins_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cardvault_lockouts_total",
				Help: "Total number of account lockouts set",
			},
		),
		TokenRedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_token_redemptions_total",
				Help: "Total number of remember-me token redemptions by outcome",
			},
			[]string{"outcome"},
		),
		TokenRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cardvault_token_rotations_total",
				Help: "Total number of remember-me token rotations",
			},
		),
		LogoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cardvault_logouts_total",
				Help: "Total number of logouts",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.LockoutsTotal,
		m.TokenRedemptionsTotal,
		m.TokenRotationsTotal,
		m.LogoutsTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments HTTP requests with count and duration metrics.
// The path label uses the value returned by pathFn, so callers can supply
// the route template instead of the raw URL to bound label cardinality.
func (m *Metrics) Middleware(pathFn func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathFn(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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
