package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billpay"

// Attempt outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeDeclined = "declined"
	OutcomePending  = "pending"
	OutcomeError    = "error"
)

// Metrics holds service collectors
// Nil *Metrics is valid and records nothing
type Metrics struct {
	providerAttempts     *prometheus.CounterVec
	providerDuration     *prometheus.HistogramVec
	settlementRequests   *prometheus.CounterVec
	billerFallbacks      *prometheus.CounterVec
	fraudRejections      *prometheus.CounterVec
	notificationFailures prometheus.Counter
	pendingSettled       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers collectors in reg
// Pass prometheus.NewRegistry() in tests to get isolated collectors
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		providerAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Total number of payment attempts sent to providers",
			},
			[]string{"provider", "outcome"},
		),
		providerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_attempt_duration_seconds",
				Help:      "Duration of payment attempts sent to providers",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 15},
			},
			[]string{"provider"},
		),
		settlementRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_requests_total",
				Help:      "Total number of bill payment requests by outcome",
			},
			[]string{"outcome"},
		),
		billerFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "biller_fallback_total",
				Help:      "Total number of unmapped billers replaced with the bill type default",
			},
			// Unmapped names come from clients and are logged, not labeled
			[]string{"bill_type"},
		),
		fraudRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fraud_rejections_total",
				Help:      "Total number of requests denied by fraud rules",
			},
			[]string{"reason"},
		),
		notificationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Total number of notifications that failed to dispatch",
			},
		),
		pendingSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_settled_total",
				Help:      "Total number of pending transactions moved to a terminal status",
			},
			[]string{"status"},
		),
		gatherer: reg,
	}
}

func (m *Metrics) ProviderAttempt(provider string, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) SettlementRequest(outcome string) {
	if m == nil {
		return
	}
	m.settlementRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BillerFallback(billType string) {
	if m == nil {
		return
	}
	m.billerFallbacks.WithLabelValues(billType).Inc()
}

func (m *Metrics) FraudRejection(reason string) {
	if m == nil {
		return
	}
	m.fraudRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotificationFailure() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}

func (m *Metrics) PendingSettled(status string) {
	if m == nil {
		return
	}
	m.pendingSettled.WithLabelValues(status).Inc()
}

// Handler exposes collected metrics in prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
