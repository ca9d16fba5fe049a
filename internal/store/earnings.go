package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

const earningColumns = `id, vendor_id, order_item_id, order_id, amount, status, payout_id, payout_reference, payout_date, created_at, updated_at`

func scanEarning(row rowScanner) (models.VendorEarning, error) {
	var e models.VendorEarning
	err := row.Scan(
		&e.ID,
		&e.VendorID,
		&e.OrderItemID,
		&e.OrderID,
		&e.Amount,
		&e.Status,
		&e.PayoutID,
		&e.PayoutReference,
		&e.PayoutDate,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}

func collectEarnings(rows *sql.Rows) ([]models.VendorEarning, error) {
	defer rows.Close()

	earnings := []models.VendorEarning{}
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		earnings = append(earnings, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return earnings, nil
}

// InsertEarningIfAbsent creates the pending earning of an order item. It
// reports false, and writes nothing, when the item already has an earning.
func InsertEarningIfAbsent(ctx context.Context, tx *sql.Tx, item models.OrderItem) (*models.VendorEarning, bool, error) {
	e, err := scanEarning(tx.QueryRowContext(ctx, `
		INSERT INTO vendor_earnings (vendor_id, order_item_id, order_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW(), NOW())
		ON CONFLICT (order_item_id) DO NOTHING
		RETURNING `+earningColumns,
		item.VendorID, item.ID, item.OrderID, item.VendorEarning))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("insert earning: %w", err)
	}
	return &e, true, nil
}

func ListEarningsByOrder(ctx context.Context, q Querier, orderID int64) ([]models.VendorEarning, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+earningColumns+` FROM vendor_earnings WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query earnings: %w", err)
	}
	return collectEarnings(rows)
}

// ListEarningsByOrderForUpdate locks every earning of an order.
func ListEarningsByOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.VendorEarning, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+earningColumns+` FROM vendor_earnings WHERE order_id = $1 ORDER BY id FOR UPDATE`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("lock earnings: %w", err)
	}
	return collectEarnings(rows)
}

// ListVendorEarnings lists a vendor's earnings, optionally restricted to one status.
func ListVendorEarnings(ctx context.Context, q Querier, vendorID int64, status models.EarningStatus) ([]models.VendorEarning, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+earningColumns+`
		FROM vendor_earnings
		WHERE vendor_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`,
		vendorID, string(status))
	if err != nil {
		return nil, fmt.Errorf("query vendor earnings: %w", err)
	}
	return collectEarnings(rows)
}

// LockEarnings locks the given earnings in id order. Unknown IDs are simply
// absent from the result.
func LockEarnings(ctx context.Context, tx *sql.Tx, ids []int64) ([]models.VendorEarning, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+earningColumns+` FROM vendor_earnings WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock earnings: %w", err)
	}
	return collectEarnings(rows)
}

// LockPendingEarnings locks every pending earning of a vendor.
func LockPendingEarnings(ctx context.Context, tx *sql.Tx, vendorID int64) ([]models.VendorEarning, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+earningColumns+`
		FROM vendor_earnings
		WHERE vendor_id = $1 AND status = 'pending'
		ORDER BY id
		FOR UPDATE`,
		vendorID)
	if err != nil {
		return nil, fmt.Errorf("lock pending earnings: %w", err)
	}
	return collectEarnings(rows)
}

// MarkEarningsPaid attaches the earnings to a payout. Only pending rows move;
// the returned count lets callers detect a row that changed underneath them.
func MarkEarningsPaid(ctx context.Context, tx *sql.Tx, ids []int64, payout *models.VendorPayout) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE vendor_earnings
		SET status = 'paid', payout_id = $1, payout_reference = $2, payout_date = $3, updated_at = NOW()
		WHERE id = ANY($4) AND status = 'pending'`,
		payout.ID, payout.Reference, payout.CreatedAt, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("mark earnings paid: %w", err)
	}
	return rowsAffected(res)
}

// ReleasePayoutEarnings returns the earnings of a failed payout to pending.
func ReleasePayoutEarnings(ctx context.Context, tx *sql.Tx, payoutID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE vendor_earnings
		SET status = 'pending', payout_id = NULL, payout_reference = NULL, payout_date = NULL, updated_at = NOW()
		WHERE payout_id = $1 AND status = 'paid'`,
		payoutID)
	if err != nil {
		return 0, fmt.Errorf("release payout earnings: %w", err)
	}
	return rowsAffected(res)
}

// CancelOrderEarnings cancels the pending earnings of an order.
func CancelOrderEarnings(ctx context.Context, tx *sql.Tx, orderID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE vendor_earnings
		SET status = 'cancelled', updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'`,
		orderID)
	if err != nil {
		return 0, fmt.Errorf("cancel earnings: %w", err)
	}
	return rowsAffected(res)
}

func GetEarning(ctx context.Context, q Querier, id int64) (*models.VendorEarning, error) {
	e, err := scanEarning(q.QueryRowContext(ctx, `SELECT `+earningColumns+` FROM vendor_earnings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrEarningNotFound
		}
		return nil, fmt.Errorf("get earning: %w", err)
	}
	return &e, nil
}
