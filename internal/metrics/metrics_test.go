package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CheckoutFinished("success", 20*time.Millisecond)
	m.CheckoutFinished("success", 10*time.Millisecond)
	m.CheckoutFinished("insufficient_stock", time.Millisecond)
	m.StockConflict()
	m.PaymentRecorded("success")
	m.Settled(3)
	m.Payout("pending")
	m.OrderTransition("cancelled")
	m.TransactionRetry("checkout")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stockConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.earningsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderTransitions.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries.WithLabelValues("checkout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.checkoutDuration))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.StockConflict()
	second.StockConflict()

	require.Same(t, first.stockConflicts, second.stockConflicts)
	assert.Equal(t, 2.0, testutil.ToFloat64(second.stockConflicts))
}

func TestOutboxBacklog(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OutboxBacklog(4, time.Now().Add(-time.Minute))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.outboxPending))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.outboxOldestAge), 59.0)

	m.OutboxBacklog(0, time.Time{})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.outboxOldestAge))
}

func TestNilEngineIsNoop(t *testing.T) {
	var m *Engine
	assert.NotPanics(t, func() {
		m.CheckoutFinished("success", time.Second)
		m.StockConflict()
		m.Settled(1)
		m.OutboxBacklog(1, time.Now())
	})
}
