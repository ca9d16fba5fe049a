// Package orders drives an order after payment: shipping, delivery and
// cancellation.
package orders

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
	"github.com/safar/go-marketplace/internal/inventory"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/sanitize"
	"github.com/safar/go-marketplace/internal/store"
)

const (
	maxTrackingLength = 100
	maxReasonLength   = 1000

	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	db      *sql.DB
	guard   *inventory.Guard
	metrics *metrics.Engine
	txOpts  database.TxOptions
	logger  *log.Entry
}

func NewService(db *sql.DB, guard *inventory.Guard, m *metrics.Engine, txMaxRetries int) *Service {
	s := &Service{
		db:      db,
		guard:   guard,
		metrics: m,
		txOpts:  database.DefaultTxOptions(),
		logger:  log.WithField("component", "orders"),
	}
	if txMaxRetries > 0 {
		s.txOpts.MaxRetries = txMaxRetries
	}
	s.txOpts.OnRetry = func(attempt int, err error) {
		m.TransactionRetry("orders")
		s.logger.WithError(err).WithField("attempt", attempt+1).Warn("order transaction retried")
	}
	return s
}

func (s *Service) Get(ctx context.Context, actor authz.Actor, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanView(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

// List pages through the actor's orders. Vendors also see orders that
// contain their items.
func (s *Service) List(ctx context.Context, actor authz.Actor, cursor string, limit int) (*store.CursorPage[models.Order], error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var vendorID int64
	if actor.Role == models.RoleVendor {
		vendorID = actor.UserID
	}
	return store.ListOrdersCursor(ctx, s.db, actor.UserID, vendorID, cursor, limit)
}

// Ship moves a processing order to shipped. The payment must have been
// approved by an administrator first.
func (s *Service) Ship(ctx context.Context, actor authz.Actor, orderID int64, trackingNumber string) (*models.Order, error) {
	trackingNumber = sanitize.Text(trackingNumber, maxTrackingLength)

	return s.transition(ctx, actor, orderID, models.OrderStatusShipped, func(tx *sql.Tx, order *models.Order) error {
		if err := authz.CanShip(actor, order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusProcessing {
			return apperr.ErrInvalidTransition
		}

		txn, err := store.GetTransactionByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !txn.AdminApproved {
			return apperr.ErrPaymentNotApproved
		}

		if trackingNumber != "" {
			if err := store.SetTrackingNumber(ctx, tx, order.ID, trackingNumber); err != nil {
				return err
			}
			order.TrackingNumber = trackingNumber
		}
		return nil
	})
}

// Deliver confirms receipt of a shipped order.
func (s *Service) Deliver(ctx context.Context, actor authz.Actor, orderID int64) (*models.Order, error) {
	return s.transition(ctx, actor, orderID, models.OrderStatusDelivered, func(tx *sql.Tx, order *models.Order) error {
		if err := authz.CanConfirmDelivery(actor, order); err != nil {
			return err
		}
		if !order.Status.CanTransition(models.OrderStatusDelivered) {
			return apperr.ErrInvalidTransition
		}
		return nil
	})
}

// Cancel cancels a pending or processing order, returns its units to stock
// and cancels its still-pending earnings. Cancelling a cancelled order is a
// no-op. An order with paid-out earnings cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, actor authz.Actor, orderID int64, reason string) (*models.Order, error) {
	reason = sanitize.Text(reason, maxReasonLength)

	var (
		order     *models.Order
		noop      bool
		restocked int
	)
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		noop, restocked = false, 0

		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := authz.CanCancel(actor, order); err != nil {
			return err
		}
		if order.Status == models.OrderStatusCancelled {
			noop = true
			return nil
		}
		if !order.Status.CanTransition(models.OrderStatusCancelled) {
			return apperr.ErrInvalidTransition
		}

		if err := s.reverseSettlement(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range order.Items {
			ok, err := s.guard.Restore(ctx, tx, item)
			if err != nil {
				return err
			}
			if ok {
				restocked++
			}
		}

		return s.applyStatus(ctx, tx, actor, order, models.OrderStatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	entry := s.logger.WithFields(log.Fields{"order_id": order.ID, "actor_id": actor.UserID})
	if noop {
		entry.Debug("order already cancelled")
		return order, nil
	}
	s.metrics.OrderTransition(string(models.OrderStatusCancelled))
	entry.WithFields(log.Fields{"restocked_items": restocked, "reason": reason}).Info("order cancelled")

	return order, nil
}

// reverseSettlement cancels the pending earnings of order and subtracts them
// from the metric rows of the days they were settled on.
func (s *Service) reverseSettlement(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	earnings, err := store.ListEarningsByOrderForUpdate(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	if len(earnings) == 0 {
		return nil
	}
	for _, e := range earnings {
		if e.Status == models.EarningStatusPaid {
			return apperr.ErrAlreadyPaid
		}
	}

	items := make(map[int64]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		items[item.ID] = item
	}

	byDay := make(map[time.Time][]models.OrderItem)
	var days []time.Time
	for _, e := range earnings {
		if e.Status != models.EarningStatusPending {
			continue
		}
		day := models.Day(e.CreatedAt)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], items[e.OrderItemID])
	}

	if _, err := store.CancelOrderEarnings(ctx, tx, order.ID); err != nil {
		return err
	}

	for _, day := range days {
		vendorDeltas, platformDelta := models.SettlementDeltas(byDay[day])
		for _, vendorID := range sortedKeys(vendorDeltas) {
			if _, err := store.ApplyVendorDelta(ctx, tx, vendorID, day, vendorDeltas[vendorID].Negate()); err != nil {
				return err
			}
		}
		if _, err := store.ApplyPlatformDelta(ctx, tx, day, platformDelta.Negate()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, actor authz.Actor, orderID int64, to models.OrderStatus, check func(*sql.Tx, *models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := check(tx, order); err != nil {
			return err
		}
		return s.applyStatus(ctx, tx, actor, order, to)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderTransition(string(to))
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   to,
		"actor_id": actor.UserID,
	}).Info("order status changed")

	return order, nil
}

func (s *Service) applyStatus(ctx context.Context, tx *sql.Tx, actor authz.Actor, order *models.Order, to models.OrderStatus) error {
	from := order.Status
	if err := store.UpdateOrderStatus(ctx, tx, order.ID, from, to); err != nil {
		return err
	}
	order.Status = to

	return events.Enqueue(ctx, tx, events.AggregateOrder, order.ID, events.TypeOrderStatusChanged, events.OrderStatusChanged{
		OrderID:   order.ID,
		From:      from,
		To:        to,
		ActorID:   actor.UserID,
		ChangedAt: time.Now().UTC(),
	})
}

func sortedKeys(m map[int64]models.VendorMetricsDelta) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
