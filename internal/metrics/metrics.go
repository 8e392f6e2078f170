package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "honeysync"

	resourceLabel = "resource"
	outcomeLabel  = "outcome"
	methodLabel   = "method"
	statusLabel   = "status"
)

const refreshPath = "/api/v1/auth/token/refresh/"

// Metrics aggregates the sync engine's instrumentation on a private registry.
type Metrics struct {
	Reg             *prometheus.Registry
	PollTicks       *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokenRefreshes  prometheus.Counter
	PendingIntents  prometheus.Gauge
}

// New builds and registers the metric set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Reg: reg,
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
		}, []string{resourceLabel, outcomeLabel}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
		}, []string{methodLabel, statusLabel}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20},
		}, []string{methodLabel}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
		}),
		PendingIntents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_intents",
		}),
	}

	reg.MustRegister(m.PollTicks)
	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.TokenRefreshes)
	reg.MustRegister(m.PendingIntents)

	return m
}

// ObserveRequest records one dispatched API request. It satisfies the REST
// client's observer signature.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if path == refreshPath {
		m.TokenRefreshes.Inc()
	}
}

// ObserveTick records one completed poll tick.
func (m *Metrics) ObserveTick(resource string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PollTicks.WithLabelValues(resource, outcome).Inc()
}
