package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
)

const vendorMetricColumns = `vendor_id, day, total_sales, total_orders, total_products_sold, total_earnings, platform_fees`

const platformMetricColumns = `day, total_sales, total_orders, total_commission, pending_payouts`

func scanVendorMetrics(row rowScanner) (models.VendorDailyMetrics, error) {
	var m models.VendorDailyMetrics
	err := row.Scan(&m.VendorID, &m.Day, &m.TotalSales, &m.TotalOrders, &m.TotalProductsSold, &m.TotalEarnings, &m.PlatformFees)
	return m, err
}

func scanPlatformMetrics(row rowScanner) (models.PlatformDailyMetrics, error) {
	var m models.PlatformDailyMetrics
	err := row.Scan(&m.Day, &m.TotalSales, &m.TotalOrders, &m.TotalCommission, &m.PendingPayouts)
	return m, err
}

// ApplyVendorDelta locks the vendor's row for day, creating it when missing,
// and stores the snapshot with delta applied.
func ApplyVendorDelta(ctx context.Context, tx *sql.Tx, vendorID int64, day time.Time, delta models.VendorMetricsDelta) (models.VendorDailyMetrics, error) {
	day = models.Day(day)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO vendor_daily_metrics (vendor_id, day) VALUES ($1, $2) ON CONFLICT (vendor_id, day) DO NOTHING`,
		vendorID, day)
	if err != nil {
		return models.VendorDailyMetrics{}, fmt.Errorf("ensure vendor metrics: %w", err)
	}

	current, err := scanVendorMetrics(tx.QueryRowContext(ctx,
		`SELECT `+vendorMetricColumns+` FROM vendor_daily_metrics WHERE vendor_id = $1 AND day = $2 FOR UPDATE`,
		vendorID, day))
	if err != nil {
		return models.VendorDailyMetrics{}, fmt.Errorf("lock vendor metrics: %w", err)
	}

	next := current.Apply(delta)
	_, err = tx.ExecContext(ctx, `
		UPDATE vendor_daily_metrics
		SET total_sales = $1, total_orders = $2, total_products_sold = $3, total_earnings = $4, platform_fees = $5
		WHERE vendor_id = $6 AND day = $7`,
		next.TotalSales, next.TotalOrders, next.TotalProductsSold, next.TotalEarnings, next.PlatformFees,
		vendorID, day)
	if err != nil {
		return models.VendorDailyMetrics{}, fmt.Errorf("update vendor metrics: %w", err)
	}

	return next, nil
}

// ApplyPlatformDelta is the platform-wide counterpart of ApplyVendorDelta.
func ApplyPlatformDelta(ctx context.Context, tx *sql.Tx, day time.Time, delta models.PlatformMetricsDelta) (models.PlatformDailyMetrics, error) {
	day = models.Day(day)

	_, err := tx.ExecContext(ctx,
		`INSERT INTO platform_daily_metrics (day) VALUES ($1) ON CONFLICT (day) DO NOTHING`,
		day)
	if err != nil {
		return models.PlatformDailyMetrics{}, fmt.Errorf("ensure platform metrics: %w", err)
	}

	current, err := scanPlatformMetrics(tx.QueryRowContext(ctx,
		`SELECT `+platformMetricColumns+` FROM platform_daily_metrics WHERE day = $1 FOR UPDATE`,
		day))
	if err != nil {
		return models.PlatformDailyMetrics{}, fmt.Errorf("lock platform metrics: %w", err)
	}

	next := current.Apply(delta)
	_, err = tx.ExecContext(ctx, `
		UPDATE platform_daily_metrics
		SET total_sales = $1, total_orders = $2, total_commission = $3, pending_payouts = $4
		WHERE day = $5`,
		next.TotalSales, next.TotalOrders, next.TotalCommission, next.PendingPayouts, day)
	if err != nil {
		return models.PlatformDailyMetrics{}, fmt.Errorf("update platform metrics: %w", err)
	}

	return next, nil
}

// GetVendorMetrics returns the vendor's row for day, or a zero snapshot when
// nothing settled that day.
func GetVendorMetrics(ctx context.Context, q Querier, vendorID int64, day time.Time) (models.VendorDailyMetrics, error) {
	day = models.Day(day)
	m, err := scanVendorMetrics(q.QueryRowContext(ctx,
		`SELECT `+vendorMetricColumns+` FROM vendor_daily_metrics WHERE vendor_id = $1 AND day = $2`,
		vendorID, day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VendorDailyMetrics{
				VendorID:      vendorID,
				Day:           day,
				TotalSales:    decimal.Zero,
				TotalEarnings: decimal.Zero,
				PlatformFees:  decimal.Zero,
			}, nil
		}
		return m, fmt.Errorf("get vendor metrics: %w", err)
	}
	return m, nil
}

// ListVendorMetrics returns every stored row for the vendor in [from, to].
func ListVendorMetrics(ctx context.Context, q Querier, vendorID int64, from, to time.Time) ([]models.VendorDailyMetrics, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+vendorMetricColumns+`
		FROM vendor_daily_metrics
		WHERE vendor_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day`,
		vendorID, models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("query vendor metrics: %w", err)
	}
	defer rows.Close()

	out := []models.VendorDailyMetrics{}
	for rows.Next() {
		m, err := scanVendorMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor metrics: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func GetPlatformMetrics(ctx context.Context, q Querier, day time.Time) (models.PlatformDailyMetrics, error) {
	day = models.Day(day)
	m, err := scanPlatformMetrics(q.QueryRowContext(ctx,
		`SELECT `+platformMetricColumns+` FROM platform_daily_metrics WHERE day = $1`,
		day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PlatformDailyMetrics{
				Day:             day,
				TotalSales:      decimal.Zero,
				TotalCommission: decimal.Zero,
			}, nil
		}
		return m, fmt.Errorf("get platform metrics: %w", err)
	}
	return m, nil
}

func ListPlatformMetrics(ctx context.Context, q Querier, from, to time.Time) ([]models.PlatformDailyMetrics, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+platformMetricColumns+`
		FROM platform_daily_metrics
		WHERE day BETWEEN $1 AND $2
		ORDER BY day`,
		models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("query platform metrics: %w", err)
	}
	defer rows.Close()

	out := []models.PlatformDailyMetrics{}
	for rows.Next() {
		m, err := scanPlatformMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan platform metrics: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// EarningTotals sums a vendor's earnings per status.
type EarningTotals struct {
	Pending   decimal.Decimal `json:"pending"`
	Paid      decimal.Decimal `json:"paid"`
	Cancelled decimal.Decimal `json:"cancelled"`
}

func SumVendorEarnings(ctx context.Context, q Querier, vendorID int64) (EarningTotals, error) {
	totals := EarningTotals{Pending: decimal.Zero, Paid: decimal.Zero, Cancelled: decimal.Zero}
	err := q.QueryRowContext(ctx, `
		SELECT
		    COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
		    COALESCE(SUM(amount) FILTER (WHERE status = 'paid'), 0),
		    COALESCE(SUM(amount) FILTER (WHERE status = 'cancelled'), 0)
		FROM vendor_earnings
		WHERE vendor_id = $1`,
		vendorID).Scan(&totals.Pending, &totals.Paid, &totals.Cancelled)
	if err != nil {
		return totals, fmt.Errorf("sum vendor earnings: %w", err)
	}
	return totals, nil
}
