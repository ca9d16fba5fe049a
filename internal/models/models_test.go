package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusProcessing, OrderStatusCancelled, true},
		{OrderStatusProcessing, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusProcessing, false},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatus("lost").Valid())
}

func TestRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleBuyer, RoleVendor, RoleAdministrator} {
		parsed, err := ParseRole(role.String())
		require.NoError(t, err)
		assert.Equal(t, role, parsed)
	}

	_, err := ParseRole("superuser")
	assert.Error(t, err)

	var u struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"vendor"}`), &u))
	assert.Equal(t, RoleVendor, u.Role)
	assert.Error(t, json.Unmarshal([]byte(`{"role":"root"}`), &u))
}

func TestOrderReconciles(t *testing.T) {
	order := Order{
		TotalAmount: dec("50.00"),
		Items: []OrderItem{{
			VendorID:      3,
			Quantity:      2,
			UnitPrice:     dec("25.00"),
			Price:         dec("50.00"),
			PlatformFee:   dec("4.00"),
			VendorEarning: dec("46.00"),
		}},
	}
	assert.True(t, order.Reconciles())
	assert.True(t, order.HasVendor(3))
	assert.False(t, order.HasVendor(4))

	order.Items[0].VendorEarning = dec("45.99")
	assert.False(t, order.Reconciles())
}

func TestVendorMetricsApplyAndNegate(t *testing.T) {
	day := Day(time.Date(2026, 3, 4, 23, 59, 0, 0, time.FixedZone("x", -3600)))
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), day)

	snapshot := VendorDailyMetrics{VendorID: 1, Day: day, TotalSales: dec("10"), TotalEarnings: dec("9"), PlatformFees: dec("1")}
	delta := VendorMetricsDelta{Sales: dec("50"), Orders: 1, ProductsSold: 2, Earnings: dec("46"), PlatformFees: dec("4")}

	next := snapshot.Apply(delta)
	assert.True(t, next.TotalSales.Equal(dec("60")))
	assert.Equal(t, 1, next.TotalOrders)
	assert.Equal(t, 2, next.TotalProductsSold)
	assert.True(t, snapshot.TotalSales.Equal(dec("10")), "Apply must not mutate its receiver")

	back := next.Apply(delta.Negate())
	assert.True(t, back.TotalSales.Equal(snapshot.TotalSales))
	assert.True(t, back.TotalEarnings.Equal(snapshot.TotalEarnings))
	assert.Equal(t, 0, back.TotalOrders)
}

func TestSettlementDeltas(t *testing.T) {
	items := []OrderItem{
		{VendorID: 1, Quantity: 2, Price: dec("50.00"), PlatformFee: dec("4.00"), VendorEarning: dec("46.00")},
		{VendorID: 1, Quantity: 1, Price: dec("10.00"), PlatformFee: dec("0.80"), VendorEarning: dec("9.20")},
		{VendorID: 2, Quantity: 1, Price: dec("9.99"), PlatformFee: dec("1.00"), VendorEarning: dec("8.99")},
	}

	vendors, platform := SettlementDeltas(items)
	require.Len(t, vendors, 2)

	v1 := vendors[1]
	assert.Equal(t, 1, v1.Orders)
	assert.Equal(t, 3, v1.ProductsSold)
	assert.True(t, v1.Sales.Equal(dec("60.00")))
	assert.True(t, v1.Earnings.Equal(dec("55.20")))
	assert.True(t, v1.PlatformFees.Equal(dec("4.80")))

	assert.Equal(t, 1, platform.Orders)
	assert.Equal(t, 3, platform.PendingPayouts)
	assert.True(t, platform.Sales.Equal(dec("69.99")))
	assert.True(t, platform.Commission.Equal(dec("5.80")))

	_, empty := SettlementDeltas(nil)
	assert.Equal(t, 0, empty.Orders)
}

func TestGatewayStatusMapping(t *testing.T) {
	assert.Equal(t, TransactionStatusCompleted, GatewaySuccess.TransactionStatus())
	assert.Equal(t, TransactionStatusFailed, GatewayFailure.TransactionStatus())
	assert.Equal(t, TransactionStatusFailed, GatewayTimeout.TransactionStatus())
	assert.False(t, GatewayStatus("maybe").Valid())
}
