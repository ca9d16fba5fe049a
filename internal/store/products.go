package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

const productColumns = `id, vendor_id, sku, name, description, price, stock_quantity, is_active, approval_status, created_at, updated_at, version`

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.VendorID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.IsActive,
		&product.ApprovalStatus,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	return product, err
}

type NewProduct struct {
	VendorID       int64
	SKU            string
	Name           string
	Description    string
	Price          decimal.Decimal
	StockQuantity  int
	ApprovalStatus models.ApprovalStatus
}

func CreateProduct(ctx context.Context, q Querier, p NewProduct) (*models.Product, error) {
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = models.ApprovalPending
	}

	query := `
		INSERT INTO products (vendor_id, sku, name, description, price, stock_quantity, is_active, approval_status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		p.VendorID, p.SKU, p.Name, p.Description, p.Price, p.StockQuantity, p.ApprovalStatus))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func CreateVariant(ctx context.Context, q Querier, productID int64, name string, adjustment decimal.Decimal, stock int) (*models.ProductVariant, error) {
	variant := &models.ProductVariant{}
	err := q.QueryRowContext(ctx, `
		INSERT INTO product_variants (product_id, name, price_adjustment, stock_quantity, version)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING id, product_id, name, price_adjustment, stock_quantity, version`,
		productID, name, adjustment, stock,
	).Scan(&variant.ID, &variant.ProductID, &variant.Name, &variant.PriceAdjustment, &variant.StockQuantity, &variant.Version)
	if err != nil {
		return nil, fmt.Errorf("create variant: %w", err)
	}

	return variant, nil
}

func GetProduct(ctx context.Context, q Querier, id int64) (*models.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func GetVariant(ctx context.Context, q Querier, id int64) (*models.ProductVariant, error) {
	variant := &models.ProductVariant{}
	err := q.QueryRowContext(ctx,
		`SELECT id, product_id, name, price_adjustment, stock_quantity, version FROM product_variants WHERE id = $1`,
		id,
	).Scan(&variant.ID, &variant.ProductID, &variant.Name, &variant.PriceAdjustment, &variant.StockQuantity, &variant.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrProductNotFound
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	return variant, nil
}

// ListProductsByApproval pages through products in one approval state, the
// administrator review queue.
func ListProductsByApproval(ctx context.Context, q Querier, status models.ApprovalStatus, page, pageSize int) (*OffsetPage[models.Product], error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE approval_status = $1`, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE approval_status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

func SetProductApproval(ctx context.Context, q Querier, productID int64, status models.ApprovalStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE products SET approval_status = $1, updated_at = NOW(), version = version + 1 WHERE id = $2`,
		status, productID)
	if err != nil {
		return fmt.Errorf("set product approval: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}

func SetProductActive(ctx context.Context, q Querier, productID int64, active bool) error {
	res, err := q.ExecContext(ctx,
		`UPDATE products SET is_active = $1, updated_at = NOW(), version = version + 1 WHERE id = $2`,
		active, productID)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}

// DeleteProduct removes a product that no order item references. Products
// that were ever sold must be deactivated instead.
func DeleteProduct(ctx context.Context, q Querier, productID int64) error {
	var referenced bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = $1)`,
		productID).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check order items: %w", err)
	}
	if referenced {
		return apperr.ErrProductHasOrders
	}

	res, err := q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}

// Catalog reads checkout-time prices and availability.
type Catalog struct {
	q Querier
}

func NewCatalog(q Querier) *Catalog {
	return &Catalog{q: q}
}

// Priceable returns the sellable view of a product, or of one of its variants
// when variantID is set. A variant of another product is reported as not found.
func (c *Catalog) Priceable(ctx context.Context, productID int64, variantID *int64) (*models.Priceable, error) {
	return GetPriceable(ctx, c.q, productID, variantID)
}

func GetPriceable(ctx context.Context, q Querier, productID int64, variantID *int64) (*models.Priceable, error) {
	p := &models.Priceable{ProductID: productID, VariantID: variantID}

	var err error
	if variantID == nil {
		err = q.QueryRowContext(ctx, `
			SELECT p.price, p.vendor_id, u.commission_rate, p.stock_quantity, p.is_active, p.approval_status
			FROM products p
			JOIN users u ON u.id = p.vendor_id
			WHERE p.id = $1`,
			productID,
		).Scan(&p.UnitPrice, &p.VendorID, &p.CommissionRate, &p.Stock, &p.IsActive, &p.ApprovalStatus)
	} else {
		err = q.QueryRowContext(ctx, `
			SELECT p.price + v.price_adjustment, p.vendor_id, u.commission_rate, v.stock_quantity, p.is_active, p.approval_status
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			JOIN users u ON u.id = p.vendor_id
			WHERE v.id = $1 AND v.product_id = $2`,
			*variantID, productID,
		).Scan(&p.UnitPrice, &p.VendorID, &p.CommissionRate, &p.Stock, &p.IsActive, &p.ApprovalStatus)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrProductNotFound
		}
		return nil, fmt.Errorf("get priceable: %w", err)
	}

	return p, nil
}

// StockLevel is the stock counter of a product or variant together with the
// version it was read at.
type StockLevel struct {
	Quantity int
	Version  int
}

func ReadStock(ctx context.Context, q Querier, productID int64, variantID *int64) (StockLevel, error) {
	var level StockLevel
	var err error
	if variantID == nil {
		err = q.QueryRowContext(ctx,
			`SELECT stock_quantity, version FROM products WHERE id = $1`,
			productID).Scan(&level.Quantity, &level.Version)
	} else {
		err = q.QueryRowContext(ctx,
			`SELECT stock_quantity, version FROM product_variants WHERE id = $1 AND product_id = $2`,
			*variantID, productID).Scan(&level.Quantity, &level.Version)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return level, apperr.ErrProductNotFound
		}
		return level, fmt.Errorf("read stock: %w", err)
	}
	return level, nil
}

// CompareAndSwapStock sets the stock counter to quantity only if the row is
// still at expectedVersion. It reports false when another writer got there first.
func CompareAndSwapStock(ctx context.Context, q Querier, productID int64, variantID *int64, expectedVersion, quantity int) (bool, error) {
	var res sql.Result
	var err error
	if variantID == nil {
		res, err = q.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = $1, version = version + 1, updated_at = NOW()
			WHERE id = $2 AND version = $3`,
			quantity, productID, expectedVersion)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE product_variants
			SET stock_quantity = $1, version = version + 1
			WHERE id = $2 AND product_id = $3 AND version = $4`,
			quantity, *variantID, productID, expectedVersion)
	}
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// AddStock increments the stock counter unconditionally. Used when returning
// reserved units, which can never drive the counter negative.
func AddStock(ctx context.Context, q Querier, productID int64, variantID *int64, quantity int) error {
	var res sql.Result
	var err error
	if variantID == nil {
		res, err = q.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1, version = version + 1, updated_at = NOW()
			WHERE id = $2`,
			quantity, productID)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE product_variants
			SET stock_quantity = stock_quantity + $1, version = version + 1
			WHERE id = $2 AND product_id = $3`,
			quantity, *variantID, productID)
	}
	if err != nil {
		return fmt.Errorf("add stock: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrProductNotFound
	}
	return nil
}

// ReserveStockNoWait takes a row lock without waiting and decrements the
// counter. A held lock surfaces as lock_not_available, which callers retry.
func ReserveStockNoWait(ctx context.Context, tx *sql.Tx, productID int64, variantID *int64, quantity int) error {
	var stock int
	var err error
	if variantID == nil {
		err = tx.QueryRowContext(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE NOWAIT`,
			productID).Scan(&stock)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT stock_quantity FROM product_variants WHERE id = $1 AND product_id = $2 FOR UPDATE NOWAIT`,
			*variantID, productID).Scan(&stock)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrProductNotFound
		}
		return fmt.Errorf("lock stock: %w", err)
	}

	if stock < quantity {
		return apperr.ErrInsufficientStock
	}

	return AddStock(ctx, tx, productID, variantID, -quantity)
}
