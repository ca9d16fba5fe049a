// Package metrics holds the Prometheus collectors of the settlement engine.
// A nil *Engine is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketplace"

type Engine struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	stockConflicts   prometheus.Counter
	txRetries        *prometheus.CounterVec
	payments         *prometheus.CounterVec
	settlements      prometheus.Counter
	earningsCreated  prometheus.Counter
	payouts          *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	outboxPublish    *prometheus.CounterVec
	outboxPending    prometheus.Gauge
	outboxOldestAge  prometheus.Gauge
}

// New registers the engine collectors on registerer, reusing collectors that
// are already registered under the same name.
func New(registerer prometheus.Registerer) *Engine {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Engine{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts grouped by result code.",
		}, []string{"result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Duration of checkout transactions including retries.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		})),
		stockConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_conflicts_total",
			Help:      "Stock compare-and-swap attempts lost to a concurrent writer.",
		})),
		txRetries: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_retries_total",
			Help:      "Database transactions retried after a transient failure.",
		}, []string{"operation"})),
		payments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Payment attempts recorded grouped by gateway status.",
		}, []string{"status"})),
		settlements: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Transactions settled into vendor earnings.",
		})),
		earningsCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_earnings_created_total",
			Help:      "Vendor earnings created by settlement.",
		})),
		payouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Vendor payouts grouped by lifecycle status.",
		}, []string{"status"})),
		orderTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions grouped by target status.",
		}, []string{"to"})),
		outboxPublish: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_attempts_total",
			Help:      "Outbox publish attempts grouped by result.",
		}, []string{"result"})),
		outboxPending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_records",
			Help:      "Current number of pending outbox records.",
		})),
		outboxOldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_oldest_pending_age_seconds",
			Help:      "Age in seconds of the oldest pending outbox record.",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

func (m *Engine) CheckoutFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(elapsed.Seconds())
}

func (m *Engine) StockConflict() {
	if m == nil {
		return
	}
	m.stockConflicts.Inc()
}

func (m *Engine) TransactionRetry(operation string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(operation).Inc()
}

func (m *Engine) PaymentRecorded(status string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
}

func (m *Engine) Settled(earnings int) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	m.earningsCreated.Add(float64(earnings))
}

func (m *Engine) Payout(status string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(status).Inc()
}

func (m *Engine) OrderTransition(to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to).Inc()
}

func (m *Engine) OutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublish.WithLabelValues(result).Inc()
}

// OutboxBacklog sets the backlog gauges. A zero oldest time means no backlog.
func (m *Engine) OutboxBacklog(pending int, oldest time.Time) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.outboxOldestAge.Set(0)
		return
	}
	age := time.Since(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.outboxOldestAge.Set(age)
}
