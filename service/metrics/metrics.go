package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct is passed
// to all components that need to record metrics. A nil *Metrics is valid and
// records nothing, so tests and minimal wiring can skip instrumentation.
type Metrics struct {
	// Chain adapter metrics
	chainCallsTotal   *prometheus.CounterVec
	chainCallDuration *prometheus.HistogramVec

	// Price oracle metrics
	priceLookupsTotal *prometheus.CounterVec

	// Monitor engine metrics
	sessionsStartedTotal  *prometheus.CounterVec
	sessionOutcomesTotal  *prometheus.CounterVec
	activeSessions        prometheus.Gauge
	pollsTotal            *prometheus.CounterVec
	transactionsInspected *prometheus.CounterVec
	sessionDuration       *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		chainCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_calls_total",
				Help: "Total number of chain adapter calls by currency, method and status",
			},
			[]string{"currency", "method", "status"},
		),
		chainCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_call_duration_seconds",
				Help:    "Duration of chain adapter calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"currency", "method"},
		),
		priceLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_lookups_total",
				Help: "Total number of price oracle lookups by symbol and status",
			},
			[]string{"symbol", "status"},
		),
		sessionsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_sessions_started_total",
				Help: "Total number of monitor sessions started",
			},
			[]string{"currency"},
		),
		sessionOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_session_outcomes_total",
				Help: "Total number of terminal monitor session outcomes by status",
			},
			[]string{"currency", "status"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_sessions",
				Help: "Number of monitor sessions currently pending",
			},
		),
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_polls_total",
				Help: "Total number of poll iterations by currency and result",
			},
			[]string{"currency", "result"},
		),
		transactionsInspected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_transactions_inspected_total",
				Help: "Total number of transactions fed to the payment matcher",
			},
			[]string{"currency"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitor_session_duration_seconds",
				Help:    "Time from session start to terminal outcome in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
			},
			[]string{"currency", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
	}
}

// Chain adapter metric helpers

// RecordChainCall records a chain adapter call with duration.
func (m *Metrics) RecordChainCall(currency, method, status string, duration float64) {
	if m == nil {
		return
	}
	m.chainCallsTotal.WithLabelValues(currency, method, status).Inc()
	m.chainCallDuration.WithLabelValues(currency, method).Observe(duration)
}

// Price oracle metric helpers

// RecordPriceLookup records a price oracle lookup.
func (m *Metrics) RecordPriceLookup(symbol, status string) {
	if m == nil {
		return
	}
	m.priceLookupsTotal.WithLabelValues(symbol, status).Inc()
}

// Monitor engine metric helpers

// RecordSessionStarted records a new monitor session and bumps the active gauge.
func (m *Metrics) RecordSessionStarted(currency string) {
	if m == nil {
		return
	}
	m.sessionsStartedTotal.WithLabelValues(currency).Inc()
	m.activeSessions.Inc()
}

// RecordSessionOutcome records a terminal outcome and drops the active gauge.
func (m *Metrics) RecordSessionOutcome(currency, status string, duration float64) {
	if m == nil {
		return
	}
	m.sessionOutcomesTotal.WithLabelValues(currency, status).Inc()
	m.sessionDuration.WithLabelValues(currency, status).Observe(duration)
	m.activeSessions.Dec()
}

// RecordPoll records a single poll iteration with its result
// ("match", "no_match", "transient_error", "fatal_error").
func (m *Metrics) RecordPoll(currency, result string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(currency, result).Inc()
}

// RecordTransactionsInspected records transactions fed to the matcher.
func (m *Metrics) RecordTransactionsInspected(currency string, count int) {
	if m == nil {
		return
	}
	m.transactionsInspected.WithLabelValues(currency).Add(float64(count))
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
