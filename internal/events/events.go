// Package events defines the domain events written to the transactional
// outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
)

const (
	AggregateOrder       = "order"
	AggregateTransaction = "transaction"
	AggregatePayout      = "payout"
)

const (
	TypeOrderPlaced         = "order.placed"
	TypeOrderStatusChanged  = "order.status_changed"
	TypePaymentRecorded     = "payment.recorded"
	TypeTransactionApproved = "transaction.approved"
	TypePayoutCreated       = "payout.created"
	TypePayoutCompleted     = "payout.completed"
	TypePayoutFailed        = "payout.failed"
)

type OrderPlaced struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     int64           `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       int             `json:"items"`
	PlacedAt    time.Time       `json:"placed_at"`
}

type OrderStatusChanged struct {
	OrderID   int64              `json:"order_id"`
	From      models.OrderStatus `json:"from"`
	To        models.OrderStatus `json:"to"`
	ActorID   int64              `json:"actor_id"`
	ChangedAt time.Time          `json:"changed_at"`
}

type PaymentRecorded struct {
	TransactionID int64                    `json:"transaction_id"`
	OrderID       int64                    `json:"order_id"`
	Reference     string                   `json:"reference"`
	Amount        decimal.Decimal          `json:"amount"`
	Status        models.TransactionStatus `json:"status"`
	Attempt       int                      `json:"attempt"`
}

type TransactionApproved struct {
	TransactionID   int64     `json:"transaction_id"`
	OrderID         int64     `json:"order_id"`
	ApprovedBy      int64     `json:"approved_by"`
	EarningsCreated int       `json:"earnings_created"`
	ApprovedAt      time.Time `json:"approved_at"`
}

type PayoutChanged struct {
	PayoutID          int64               `json:"payout_id"`
	VendorID          int64               `json:"vendor_id"`
	Reference         string              `json:"reference"`
	Amount            decimal.Decimal     `json:"amount"`
	Status            models.PayoutStatus `json:"status"`
	EarningIDs        []int64             `json:"earning_ids"`
	ExternalReference string              `json:"external_reference,omitempty"`
}

// NewMessage encodes payload into an outbox message keyed by aggregate id.
func NewMessage(aggregateType string, aggregateID int64, eventType string, payload any) (models.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return models.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   strconv.FormatInt(aggregateID, 10),
		EventType:     eventType,
		Payload:       data,
	}, nil
}

// Enqueue writes the event through q, normally the transaction that made the
// change the event describes.
func Enqueue(ctx context.Context, q store.Querier, aggregateType string, aggregateID int64, eventType string, payload any) error {
	msg, err := NewMessage(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	if _, err := store.EnqueueOutbox(ctx, q, msg); err != nil {
		return err
	}
	return nil
}
