package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// GatewayStatus is the final outcome reported by the payment capability.
type GatewayStatus string

const (
	GatewaySuccess GatewayStatus = "success"
	GatewayFailure GatewayStatus = "failure"
	GatewayTimeout GatewayStatus = "timeout"
)

func (s GatewayStatus) Valid() bool {
	switch s {
	case GatewaySuccess, GatewayFailure, GatewayTimeout:
		return true
	default:
		return false
	}
}

// TransactionStatus maps a gateway outcome onto the stored transaction status.
// A timeout is not a capture, so it is recorded as failed and may be retried.
func (s GatewayStatus) TransactionStatus() TransactionStatus {
	if s == GatewaySuccess {
		return TransactionStatusCompleted
	}
	return TransactionStatusFailed
}

type Transaction struct {
	ID              int64             `json:"id"`
	OrderID         int64             `json:"order_id"`
	Reference       string            `json:"reference"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	PaymentMethod   string            `json:"payment_method"`
	GatewayResponse json.RawMessage   `json:"gateway_response,omitempty"`
	AttemptCount    int               `json:"attempt_count"`
	AdminApproved   bool              `json:"admin_approved"`
	AdminNote       string            `json:"admin_note,omitempty"`
	ApprovedBy      *int64            `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type PaymentAttempt struct {
	ID               int64           `json:"id"`
	TransactionID    int64           `json:"transaction_id"`
	Attempt          int             `json:"attempt"`
	GatewayReference string          `json:"gateway_reference"`
	GatewayStatus    GatewayStatus   `json:"gateway_status"`
	RawResponse      json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type EarningStatus string

const (
	EarningStatusPending   EarningStatus = "pending"
	EarningStatusPaid      EarningStatus = "paid"
	EarningStatusCancelled EarningStatus = "cancelled"
)

func (s EarningStatus) Valid() bool {
	switch s {
	case EarningStatusPending, EarningStatusPaid, EarningStatusCancelled:
		return true
	default:
		return false
	}
}

type VendorEarning struct {
	ID              int64           `json:"id"`
	VendorID        int64           `json:"vendor_id"`
	OrderItemID     int64           `json:"order_item_id"`
	OrderID         int64           `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          EarningStatus   `json:"status"`
	PayoutID        *int64          `json:"payout_id,omitempty"`
	PayoutReference *string         `json:"payout_reference,omitempty"`
	PayoutDate      *time.Time      `json:"payout_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// VendorPayout keeps the amount snapshot taken at creation; it is never
// recomputed from its earnings.
type VendorPayout struct {
	ID                int64           `json:"id"`
	VendorID          int64           `json:"vendor_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PayoutStatus    `json:"status"`
	Reference         string          `json:"reference"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Note              string          `json:"note,omitempty"`
	EarningIDs        []int64         `json:"earning_ids"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
