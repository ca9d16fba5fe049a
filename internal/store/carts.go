package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/money"
)

// EnsureCart returns the cart of userID, creating it on first use.
func EnsureCart(ctx context.Context, q Querier, userID int64) (*models.Cart, error) {
	cart := &models.Cart{}
	err := q.QueryRowContext(ctx, `
		INSERT INTO carts (user_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, user_id, created_at, updated_at`,
		userID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure cart: %w", err)
	}
	return cart, nil
}

// AddCartItem adds quantity units to the cart, merging with an existing line
// for the same product and variant.
func AddCartItem(ctx context.Context, q Querier, cartID int64, line models.CheckoutLine) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, variant_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (cart_id, product_id, COALESCE(variant_id, 0))
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id`,
		cartID, line.ProductID, line.VariantID, line.Quantity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("add cart item: %w", err)
	}
	return id, nil
}

func SetCartItemQuantity(ctx context.Context, q Querier, cartID, itemID int64, quantity int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1 WHERE id = $2 AND cart_id = $3`,
		quantity, itemID, cartID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrCartItemNotFound
	}
	return nil
}

func RemoveCartItem(ctx context.Context, q Querier, cartID, itemID int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrCartItemNotFound
	}
	return nil
}

func ClearCart(ctx context.Context, q Querier, cartID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// GetCart returns the cart of userID priced at current catalog prices. A user
// without a cart gets an empty one that is not persisted.
func GetCart(ctx context.Context, q Querier, userID int64) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID, Items: []models.CartItem{}, Total: decimal.Zero}
	err := q.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cart, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, ci.variant_id, ci.quantity,
		       p.price + COALESCE(v.price_adjustment, 0), ci.created_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN product_variants v ON v.id = ci.variant_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`,
		cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := models.CartItem{CartID: cart.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.Quantity, &item.UnitPrice, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		item.Subtotal = money.LineTotal(item.UnitPrice, item.Quantity)
		cart.Total = cart.Total.Add(item.Subtotal)
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

// CartLines returns the cart contents as checkout lines, in insertion order.
func CartLines(ctx context.Context, q Querier, cartID int64) ([]models.CheckoutLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, variant_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []models.CheckoutLine
	for rows.Next() {
		var line models.CheckoutLine
		if err := rows.Scan(&line.ProductID, &line.VariantID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
