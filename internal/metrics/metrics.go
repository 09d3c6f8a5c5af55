package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcomes used as the "outcome" label of ldapauth_login_attempts_total
const (
	OutcomeSuccess         = "success"
	OutcomeNotFound        = "not_found"
	OutcomeConflict        = "conflict"
	OutcomeProvisioning    = "provisioning_error"
	OutcomeSession         = "session_error"
	OutcomeConnectionError = "connection_error"
	OutcomeSearchError     = "search_error"
)

// Recorder defines the interface for recording application metrics.
// Implementations include Metrics (Prometheus-based) and NoopMetrics (no-op).
type Recorder interface {
	// Authentication
	RecordLogin(outcome string, duration time.Duration)
	RecordLogout()

	// Health
	RecordHealthCheck(service string, healthy bool)
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Authentication Metrics
	LoginAttemptsTotal *prometheus.CounterVec
	LoginDuration      prometheus.Histogram
	LogoutTotal        prometheus.Counter

	// Health Metrics
	ServiceUp *prometheus.GaugeVec

	// HTTP Request Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on enabled flag.
// Prometheus collectors are registered at most once per process.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		LoginAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapauth_login_attempts_total",
				Help: "Total number of directory login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LoginDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ldapauth_login_duration_seconds",
				Help:    "Time taken to authenticate a user against the directory",
				Buckets: prometheus.DefBuckets,
			},
		),
		LogoutTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ldapauth_logout_total",
				Help: "Total number of logouts",
			},
		),

		ServiceUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ldapauth_service_up",
				Help: "Result of the last health check per dependency (1 healthy, 0 unhealthy)",
			},
			[]string{"service"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldapauth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ldapauth_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ldapauth_http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
		),
	}
}

// RecordLogin records a login attempt and how long it took
func (m *Metrics) RecordLogin(outcome string, duration time.Duration) {
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	m.LoginDuration.Observe(duration.Seconds())
}

// RecordLogout records a logout
func (m *Metrics) RecordLogout() {
	m.LogoutTotal.Inc()
}

// RecordHealthCheck records the result of a dependency health check
func (m *Metrics) RecordHealthCheck(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.ServiceUp.WithLabelValues(service).Set(value)
}
