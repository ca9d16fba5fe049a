package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Role           Role            `json:"role"`
	VendorVerified bool            `json:"vendor_verified"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is a known approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

type Product struct {
	ID             int64           `json:"id"`
	VendorID       int64           `json:"vendor_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Price          decimal.Decimal `json:"price"`
	StockQuantity  int             `json:"stock_quantity"`
	IsActive       bool            `json:"is_active"`
	ApprovalStatus ApprovalStatus  `json:"approval_status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
}

type ProductVariant struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	StockQuantity   int             `json:"stock_quantity"`
	Version         int             `json:"version"`
}

// Priceable is the checkout-time view of a product or variant. UnitPrice
// already includes the variant price adjustment.
type Priceable struct {
	ProductID      int64           `json:"product_id"`
	VariantID      *int64          `json:"variant_id,omitempty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	VendorID       int64           `json:"vendor_id"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Stock          int             `json:"stock"`
	IsActive       bool            `json:"is_active"`
	ApprovalStatus ApprovalStatus  `json:"approval_status"`
}

// Sellable reports whether the line may be checked out. Inactive products are
// reported separately from unapproved ones.
func (p Priceable) Sellable() (inactive, unapproved bool) {
	return !p.IsActive, p.ApprovalStatus != ApprovalApproved
}

type Cart struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartItem prices are read from the catalog on every fetch and are not
// frozen until checkout.
type CartItem struct {
	ID        int64           `json:"id"`
	CartID    int64           `json:"cart_id"`
	ProductID int64           `json:"product_id"`
	VariantID *int64          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

// CheckoutLine is one requested purchase: a product, optionally a variant of
// it, and a quantity.
type CheckoutLine struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}
