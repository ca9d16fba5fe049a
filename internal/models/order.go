package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions lists every forward edge of the order state machine.
// cancelled is reachable from any non-terminal state that has not shipped.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	Notes           string          `json:"notes,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem is frozen at creation. Price is the line amount
// (UnitPrice * Quantity) and always equals PlatformFee + VendorEarning.
type OrderItem struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	ProductID      int64           `json:"product_id"`
	VariantID      *int64          `json:"variant_id,omitempty"`
	VendorID       int64           `json:"vendor_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Price          decimal.Decimal `json:"price"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	VendorEarning  decimal.Decimal `json:"vendor_earning"`
	Restocked      bool            `json:"restocked"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HasVendor reports whether any line of the order is sold by vendorID.
func (o *Order) HasVendor(vendorID int64) bool {
	for _, item := range o.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

// Reconciles checks the money invariants of a freshly built order.
func (o *Order) Reconciles() bool {
	total := decimal.Zero
	for _, item := range o.Items {
		if !item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Equal(item.Price) {
			return false
		}
		if !item.PlatformFee.Add(item.VendorEarning).Equal(item.Price) {
			return false
		}
		total = total.Add(item.Price)
	}
	return total.Equal(o.TotalAmount)
}
