// Package settlement approves paid transactions and turns their order items
// into vendor earnings.
package settlement

import (
	"context"
	"database/sql"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/events"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/sanitize"
	"github.com/safar/go-marketplace/internal/store"
)

const maxNoteLength = 1000

type Service struct {
	db      *sql.DB
	metrics *metrics.Engine
	txOpts  database.TxOptions
	logger  *log.Entry
	now     func() time.Time
}

func NewService(db *sql.DB, m *metrics.Engine, txMaxRetries int) *Service {
	s := &Service{
		db:      db,
		metrics: m,
		txOpts:  database.DefaultTxOptions(),
		logger:  log.WithField("component", "settlement"),
		now:     time.Now,
	}
	if txMaxRetries > 0 {
		s.txOpts.MaxRetries = txMaxRetries
	}
	s.txOpts.OnRetry = func(attempt int, err error) {
		m.TransactionRetry("settlement")
		s.logger.WithError(err).WithField("attempt", attempt+1).Warn("settlement transaction retried")
	}
	return s
}

// Result describes one approval call.
type Result struct {
	Transaction *models.Transaction
	// Earnings holds the earnings created by this call. It is empty when the
	// transaction had already been approved.
	Earnings        []models.VendorEarning
	AlreadyApproved bool
}

// Approve records the administrator approval of a paid transaction and
// settles it. Approving an approved transaction is a no-op.
func (s *Service) Approve(ctx context.Context, actor authz.Actor, transactionID int64, note string) (*Result, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}

	note = sanitize.Text(note, maxNoteLength)
	approver := actor.UserID

	var result *Result
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		// The order row is locked before the transaction row, in the same
		// order Cancel takes them, so approval and cancellation serialize.
		current, err := store.GetTransaction(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		order, err := store.GetOrderForUpdate(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		txn, err := store.GetTransactionForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		result, err = s.ApproveInTx(ctx, tx, order, txn, &approver, note)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logResult(result)
	return result, nil
}

// ApproveInTx approves and settles txn inside tx. The caller must hold the
// row locks on order and txn. Only a processing order can be settled.
func (s *Service) ApproveInTx(ctx context.Context, tx *sql.Tx, order *models.Order, txn *models.Transaction, approvedBy *int64, note string) (*Result, error) {
	if txn.AdminApproved {
		return &Result{Transaction: txn, AlreadyApproved: true}, nil
	}
	if txn.Status != models.TransactionStatusCompleted {
		return nil, apperr.ErrPaymentNotDone
	}
	switch order.Status {
	case models.OrderStatusProcessing:
	case models.OrderStatusCancelled:
		return nil, apperr.ErrOrderCancelled
	default:
		return nil, apperr.ErrInvalidTransition
	}

	if err := store.ApproveTransaction(ctx, tx, txn, approvedBy, note); err != nil {
		return nil, err
	}

	earnings, err := s.Settle(ctx, tx, txn)
	if err != nil {
		return nil, err
	}

	var by int64
	if approvedBy != nil {
		by = *approvedBy
	}
	err = events.Enqueue(ctx, tx, events.AggregateTransaction, txn.ID, events.TypeTransactionApproved, events.TransactionApproved{
		TransactionID:   txn.ID,
		OrderID:         txn.OrderID,
		ApprovedBy:      by,
		EarningsCreated: len(earnings),
		ApprovedAt:      *txn.ApprovedAt,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Settled(len(earnings))
	return &Result{Transaction: txn, Earnings: earnings}, nil
}

// Settle creates the missing earnings of the transaction's order and folds
// only those new earnings into the daily metrics. Calling it again for the
// same transaction creates nothing and changes no metric.
func (s *Service) Settle(ctx context.Context, tx *sql.Tx, txn *models.Transaction) ([]models.VendorEarning, error) {
	items, err := store.GetOrderItems(ctx, tx, txn.OrderID)
	if err != nil {
		return nil, err
	}

	created := []models.VendorEarning{}
	settled := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		earning, inserted, err := store.InsertEarningIfAbsent(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		if !inserted {
			continue
		}
		created = append(created, *earning)
		settled = append(settled, item)
	}

	if len(settled) == 0 {
		return created, nil
	}

	day := s.now()
	if txn.ApprovedAt != nil {
		day = *txn.ApprovedAt
	}
	vendorDeltas, platformDelta := models.SettlementDeltas(settled)
	for _, vendorID := range sortedVendors(vendorDeltas) {
		if _, err := store.ApplyVendorDelta(ctx, tx, vendorID, day, vendorDeltas[vendorID]); err != nil {
			return nil, err
		}
	}
	if _, err := store.ApplyPlatformDelta(ctx, tx, day, platformDelta); err != nil {
		return nil, err
	}

	return created, nil
}

func (s *Service) logResult(r *Result) {
	entry := s.logger.WithFields(log.Fields{
		"transaction_id": r.Transaction.ID,
		"order_id":       r.Transaction.OrderID,
	})
	if r.AlreadyApproved {
		entry.Debug("transaction already approved")
		return
	}
	entry.WithField("earnings", len(r.Earnings)).Info("transaction approved and settled")
}

// sortedVendors fixes the order in which vendor metric rows are locked so
// concurrent settlements cannot deadlock on them.
func sortedVendors(deltas map[int64]models.VendorMetricsDelta) []int64 {
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
