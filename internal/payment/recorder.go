// Package payment records payment attempts against orders and drives the
// pending to processing transition.
package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/events"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/money"
	"github.com/safar/go-marketplace/internal/settlement"
	"github.com/safar/go-marketplace/internal/store"
)

type Options struct {
	Currency     string
	AutoApprove  bool
	TxMaxRetries int
}

type Recorder struct {
	db         *sql.DB
	gateway    Gateway
	settlement *settlement.Service
	metrics    *metrics.Engine
	opts       Options
	txOpts     database.TxOptions
	logger     *log.Entry
}

func NewRecorder(db *sql.DB, gateway Gateway, settler *settlement.Service, m *metrics.Engine, opts Options) *Recorder {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	r := &Recorder{
		db:         db,
		gateway:    gateway,
		settlement: settler,
		metrics:    m,
		opts:       opts,
		txOpts:     database.DefaultTxOptions(),
		logger:     log.WithField("component", "payment"),
	}
	if opts.TxMaxRetries > 0 {
		r.txOpts.MaxRetries = opts.TxMaxRetries
	}
	r.txOpts.OnRetry = func(attempt int, err error) {
		m.TransactionRetry("payment")
		r.logger.WithError(err).WithField("attempt", attempt+1).Warn("payment transaction retried")
	}
	return r
}

// Outcome is a payment result reported for an order.
type Outcome struct {
	Amount        decimal.Decimal
	Reference     string
	Status        models.GatewayStatus
	PaymentMethod string
	RawResponse   []byte
}

// Receipt is the state after one recorded attempt.
type Receipt struct {
	Transaction *models.Transaction
	Attempt     *models.PaymentAttempt
	Order       *models.Order
	// Settlement is set when the payment was auto-approved.
	Settlement *settlement.Result
}

// RecordPayment stores an attempt against the order's single transaction.
// A successful attempt moves the order to processing; any other outcome
// leaves it pending so the buyer can retry.
func (r *Recorder) RecordPayment(ctx context.Context, actor authz.Actor, orderID int64, outcome Outcome) (*Receipt, error) {
	if !outcome.Status.Valid() {
		return nil, apperr.ErrInvalidStatus
	}
	if outcome.Amount.IsNegative() {
		return nil, apperr.ErrNegativeAmount
	}
	if outcome.Reference == "" {
		// References are unique per transaction; a gateway that failed
		// before issuing one still gets a traceable attempt.
		outcome.Reference = "PAY-" + uuid.NewString()
	}

	var receipt *Receipt
	err := database.WithRetry(ctx, r.db, r.txOpts, func(tx *sql.Tx) error {
		var err error
		receipt, err = r.record(ctx, tx, actor, orderID, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.metrics.PaymentRecorded(string(outcome.Status))
	r.logger.WithFields(log.Fields{
		"order_id":       receipt.Order.ID,
		"transaction_id": receipt.Transaction.ID,
		"attempt":        receipt.Attempt.Attempt,
		"status":         outcome.Status,
		"auto_approved":  receipt.Settlement != nil,
	}).Info("payment recorded")

	return receipt, nil
}

func (r *Recorder) record(ctx context.Context, tx *sql.Tx, actor authz.Actor, orderID int64, outcome Outcome) (*Receipt, error) {
	order, err := store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanPay(actor, order); err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.ErrOrderNotPayable
	}
	if !money.Round(outcome.Amount).Equal(order.TotalAmount) {
		return nil, apperr.ErrAmountMismatch
	}

	txn, err := store.GetTransactionByOrderForUpdate(ctx, tx, order.ID)
	switch {
	case errors.Is(err, apperr.ErrTransactionNotFound):
		txn = &models.Transaction{
			OrderID:         order.ID,
			Reference:       outcome.Reference,
			Amount:          order.TotalAmount,
			Currency:        r.opts.Currency,
			Status:          outcome.Status.TransactionStatus(),
			PaymentMethod:   outcome.PaymentMethod,
			GatewayResponse: outcome.RawResponse,
			AttemptCount:    1,
		}
		if err := store.InsertTransaction(ctx, tx, txn); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		// A completed transaction always has its order past pending, so only
		// failed attempts reach this branch.
		txn.Reference = outcome.Reference
		txn.Amount = order.TotalAmount
		txn.Status = outcome.Status.TransactionStatus()
		txn.PaymentMethod = outcome.PaymentMethod
		txn.GatewayResponse = outcome.RawResponse
		txn.AttemptCount++
		if err := store.UpdateTransactionOutcome(ctx, tx, txn); err != nil {
			return nil, err
		}
	}

	attempt := &models.PaymentAttempt{
		TransactionID:    txn.ID,
		Attempt:          txn.AttemptCount,
		GatewayReference: outcome.Reference,
		GatewayStatus:    outcome.Status,
		RawResponse:      outcome.RawResponse,
	}
	if err := store.InsertPaymentAttempt(ctx, tx, attempt); err != nil {
		return nil, err
	}

	err = events.Enqueue(ctx, tx, events.AggregateTransaction, txn.ID, events.TypePaymentRecorded, events.PaymentRecorded{
		TransactionID: txn.ID,
		OrderID:       order.ID,
		Reference:     outcome.Reference,
		Amount:        txn.Amount,
		Status:        txn.Status,
		Attempt:       attempt.Attempt,
	})
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Transaction: txn, Attempt: attempt, Order: order}
	if txn.Status != models.TransactionStatusCompleted {
		return receipt, nil
	}

	if err := r.advance(ctx, tx, order, actor.UserID); err != nil {
		return nil, err
	}

	if r.opts.AutoApprove && r.settlement != nil {
		result, err := r.settlement.ApproveInTx(ctx, tx, order, txn, nil, "auto-approved")
		if err != nil {
			return nil, err
		}
		receipt.Settlement = result
	}

	return receipt, nil
}

func (r *Recorder) advance(ctx context.Context, tx *sql.Tx, order *models.Order, actorID int64) error {
	from := order.Status
	if err := store.UpdateOrderStatus(ctx, tx, order.ID, from, models.OrderStatusProcessing); err != nil {
		return err
	}
	order.Status = models.OrderStatusProcessing

	r.metrics.OrderTransition(string(models.OrderStatusProcessing))
	return events.Enqueue(ctx, tx, events.AggregateOrder, order.ID, events.TypeOrderStatusChanged, events.OrderStatusChanged{
		OrderID:   order.ID,
		From:      from,
		To:        models.OrderStatusProcessing,
		ActorID:   actorID,
		ChangedAt: time.Now().UTC(),
	})
}

// PayOrder captures the order total through the gateway and records the
// outcome. The capture runs outside any database transaction; a gateway
// error is recorded as a timeout so the order stays payable.
func (r *Recorder) PayOrder(ctx context.Context, actor authz.Actor, orderID int64, method string) (*Receipt, error) {
	order, err := store.GetOrder(ctx, r.db, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanPay(actor, order); err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.ErrOrderNotPayable
	}

	result, err := r.gateway.Capture(ctx, order.ID, order.TotalAmount, r.opts.Currency)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.WithError(err).WithField("order_id", order.ID).Warn("gateway capture failed")
		result = CaptureResult{Status: models.GatewayTimeout}
	}

	return r.RecordPayment(ctx, actor, order.ID, Outcome{
		Amount:        order.TotalAmount,
		Reference:     result.Reference,
		Status:        result.Status,
		PaymentMethod: method,
		RawResponse:   result.RawResponse,
	})
}
