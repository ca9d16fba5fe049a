package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Day truncates t to its UTC calendar date, the key of every daily metric row.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type VendorDailyMetrics struct {
	VendorID          int64           `json:"vendor_id"`
	Day               time.Time       `json:"day"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalOrders       int             `json:"total_orders"`
	TotalProductsSold int             `json:"total_products_sold"`
	TotalEarnings     decimal.Decimal `json:"total_earnings"`
	PlatformFees      decimal.Decimal `json:"platform_fees"`
}

// VendorMetricsDelta is the contribution of one settlement (or its reversal)
// to a vendor's daily row.
type VendorMetricsDelta struct {
	Sales        decimal.Decimal
	Orders       int
	ProductsSold int
	Earnings     decimal.Decimal
	PlatformFees decimal.Decimal
}

// Apply returns the snapshot after adding delta. The receiver is not modified.
func (m VendorDailyMetrics) Apply(delta VendorMetricsDelta) VendorDailyMetrics {
	m.TotalSales = m.TotalSales.Add(delta.Sales)
	m.TotalOrders += delta.Orders
	m.TotalProductsSold += delta.ProductsSold
	m.TotalEarnings = m.TotalEarnings.Add(delta.Earnings)
	m.PlatformFees = m.PlatformFees.Add(delta.PlatformFees)
	return m
}

// Negate returns the delta that undoes d.
func (d VendorMetricsDelta) Negate() VendorMetricsDelta {
	return VendorMetricsDelta{
		Sales:        d.Sales.Neg(),
		Orders:       -d.Orders,
		ProductsSold: -d.ProductsSold,
		Earnings:     d.Earnings.Neg(),
		PlatformFees: d.PlatformFees.Neg(),
	}
}

type PlatformDailyMetrics struct {
	Day             time.Time       `json:"day"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	TotalOrders     int             `json:"total_orders"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	PendingPayouts  int             `json:"pending_payouts"`
}

type PlatformMetricsDelta struct {
	Sales          decimal.Decimal
	Orders         int
	Commission     decimal.Decimal
	PendingPayouts int
}

func (m PlatformDailyMetrics) Apply(delta PlatformMetricsDelta) PlatformDailyMetrics {
	m.TotalSales = m.TotalSales.Add(delta.Sales)
	m.TotalOrders += delta.Orders
	m.TotalCommission = m.TotalCommission.Add(delta.Commission)
	m.PendingPayouts += delta.PendingPayouts
	return m
}

func (d PlatformMetricsDelta) Negate() PlatformMetricsDelta {
	return PlatformMetricsDelta{
		Sales:          d.Sales.Neg(),
		Orders:         -d.Orders,
		Commission:     d.Commission.Neg(),
		PendingPayouts: -d.PendingPayouts,
	}
}

// SettlementDeltas folds settled order items into per-vendor and platform
// deltas. Each vendor with at least one item counts the order once.
func SettlementDeltas(items []OrderItem) (map[int64]VendorMetricsDelta, PlatformMetricsDelta) {
	vendors := make(map[int64]VendorMetricsDelta)
	platform := PlatformMetricsDelta{Sales: decimal.Zero, Commission: decimal.Zero}

	for _, item := range items {
		delta, seen := vendors[item.VendorID]
		if !seen {
			delta = VendorMetricsDelta{
				Sales:        decimal.Zero,
				Orders:       1,
				Earnings:     decimal.Zero,
				PlatformFees: decimal.Zero,
			}
		}
		delta.Sales = delta.Sales.Add(item.Price)
		delta.ProductsSold += item.Quantity
		delta.Earnings = delta.Earnings.Add(item.VendorEarning)
		delta.PlatformFees = delta.PlatformFees.Add(item.PlatformFee)
		vendors[item.VendorID] = delta

		platform.Sales = platform.Sales.Add(item.Price)
		platform.Commission = platform.Commission.Add(item.PlatformFee)
		platform.PendingPayouts++
	}
	if len(items) > 0 {
		platform.Orders = 1
	}

	return vendors, platform
}
