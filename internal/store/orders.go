package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

const orderColumns = `id, user_id, order_number, status, total_amount, shipping_address, notes, tracking_number, created_at, updated_at, version`

const orderItemColumns = `id, order_id, product_id, variant_id, vendor_id, quantity, unit_price, price, commission_rate, platform_fee, vendor_earning, restocked, created_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.Notes,
		&order.TrackingNumber,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	return order, err
}

func scanOrderItem(row rowScanner) (models.OrderItem, error) {
	var item models.OrderItem
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.VariantID,
		&item.VendorID,
		&item.Quantity,
		&item.UnitPrice,
		&item.Price,
		&item.CommissionRate,
		&item.PlatformFee,
		&item.VendorEarning,
		&item.Restocked,
		&item.CreatedAt,
	)
	return item, err
}

// InsertOrder persists order and its items, filling in generated IDs and
// timestamps.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, order_number, status, total_amount, shipping_address, notes, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.TotalAmount, order.ShippingAddress, order.Notes,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, vendor_id, quantity, unit_price, price, commission_rate, platform_fee, vendor_earning, restocked, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NOW())
			RETURNING id, created_at`,
			item.OrderID, item.ProductID, item.VariantID, item.VendorID, item.Quantity,
			item.UnitPrice, item.Price, item.CommissionRate, item.PlatformFee, item.VendorEarning,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func GetOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetOrderForUpdate locks the order row for the rest of tx. All status
// changes go through it so concurrent transitions serialize per order.
func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return getOrder(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func getOrder(ctx context.Context, q Querier, query string, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := GetOrderItems(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func GetOrderItems(ctx context.Context, q Querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpdateOrderStatus moves the order from one status to another. It fails with
// apperr.ErrInvalidTransition when the row is no longer in from.
func UpdateOrderStatus(ctx context.Context, q Querier, orderID int64, from, to models.OrderStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND status = $3`,
		to, orderID, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrInvalidTransition
	}
	return nil
}

func SetTrackingNumber(ctx context.Context, q Querier, orderID int64, tracking string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE orders SET tracking_number = $1, updated_at = NOW() WHERE id = $2`,
		tracking, orderID)
	if err != nil {
		return fmt.Errorf("set tracking number: %w", err)
	}
	return nil
}

// MarkRestocked flips the restocked flag of one order item. It reports false
// when the item was already restocked, so stock is returned at most once.
func MarkRestocked(ctx context.Context, q Querier, itemID int64) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE order_items SET restocked = TRUE WHERE id = $1 AND NOT restocked`,
		itemID)
	if err != nil {
		return false, fmt.Errorf("mark restocked: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListOrdersCursor pages through the orders visible to a user, newest first.
// vendorID, when non-zero, restricts the list to orders containing that
// vendor's items instead of orders placed by userID.
func ListOrdersCursor(ctx context.Context, q Querier, userID, vendorID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, apperr.ErrInvalidCursor
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE (
		    ($1::bigint <> 0 AND o.user_id = $1)
		    OR ($2::bigint <> 0 AND EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.vendor_id = $2))
		)
		AND ($3::timestamptz IS NULL OR (o.created_at, o.id) < ($3, $4::bigint))
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $5`

	afterTime, afterID := c.bound()
	rows, err := q.QueryContext(ctx, query, userID, vendorID, afterTime, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return keysetPage(orders, limit, func(o models.Order) OrderCursor {
		return OrderCursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}
