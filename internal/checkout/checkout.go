// Package checkout keeps buyer carts and turns them into orders.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/events"
	"github.com/safar/go-marketplace/internal/inventory"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/money"
	"github.com/safar/go-marketplace/internal/sanitize"
	"github.com/safar/go-marketplace/internal/store"
)

const (
	maxAddressLength = 500
	maxNotesLength   = 1000
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
		logger:  log.WithField("component", "checkout"),
	}
	if txMaxRetries > 0 {
		s.txOpts.MaxRetries = txMaxRetries
	}
	s.txOpts.OnRetry = func(attempt int, err error) {
		m.TransactionRetry("checkout")
		s.logger.WithError(err).WithField("attempt", attempt+1).Warn("checkout transaction retried")
	}
	return s
}

// Request is a checkout call. When Lines is empty the buyer's cart is used
// and cleared in the same transaction that creates the order.
type Request struct {
	Lines           []models.CheckoutLine
	ShippingAddress string
	Notes           string
}

// PlaceOrder builds an order from the request. Stock decrements, the order,
// its items and the cart clearing commit together or not at all.
func (s *Service) PlaceOrder(ctx context.Context, actor authz.Actor, req Request) (*models.Order, error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}

	started := time.Now()
	var order *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		order, err = s.placeOrder(ctx, tx, actor, req)
		return err
	})
	err = contendedStock(err)

	s.metrics.CheckoutFinished(resultCode(err), time.Since(started))
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"buyer_id":     order.UserID,
		"total":        order.TotalAmount.StringFixed(money.Places),
		"items":        len(order.Items),
	}).Info("order placed")

	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, tx *sql.Tx, actor authz.Actor, req Request) (*models.Order, error) {
	lines := req.Lines
	var cartID int64
	if len(lines) == 0 {
		// The upsert row-locks the cart, so concurrent checkouts of one cart
		// serialize here and the loser sees it empty.
		cart, err := store.EnsureCart(ctx, tx, actor.UserID)
		if err != nil {
			return nil, err
		}
		cartID = cart.ID
		lines, err = store.CartLines(ctx, tx, cartID)
		if err != nil {
			return nil, err
		}
	}
	if len(lines) == 0 {
		return nil, apperr.ErrEmptyCheckout
	}

	priced := make([]*models.Priceable, len(lines))
	for i, line := range lines {
		p, err := s.resolveLine(ctx, tx, line)
		if err != nil {
			return nil, lineError(i, line, err)
		}
		priced[i] = p
	}

	for _, i := range reservationOrder(lines) {
		if _, err := s.guard.Reserve(ctx, tx, lines[i]); err != nil {
			if database.HasCode(err, database.CodeLockNotAvailable) {
				// The lock error stays reachable so the retry loop still
				// treats it as transient.
				return nil, &apperr.CheckoutFailed{Reason: err, Line: i, ProductID: lines[i].ProductID, VariantID: lines[i].VariantID}
			}
			return nil, lineError(i, lines[i], err)
		}
	}

	order, err := buildOrder(actor.UserID, lines, priced)
	if err != nil {
		return nil, err
	}
	order.ShippingAddress = sanitize.Text(req.ShippingAddress, maxAddressLength)
	order.Notes = sanitize.Text(req.Notes, maxNotesLength)

	if err := store.InsertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	if cartID != 0 {
		if err := store.ClearCart(ctx, tx, cartID); err != nil {
			return nil, err
		}
	}

	err = events.Enqueue(ctx, tx, events.AggregateOrder, order.ID, events.TypeOrderPlaced, events.OrderPlaced{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.UserID,
		TotalAmount: order.TotalAmount,
		Items:       len(order.Items),
		PlacedAt:    order.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Service) resolveLine(ctx context.Context, tx *sql.Tx, line models.CheckoutLine) (*models.Priceable, error) {
	if line.Quantity <= 0 {
		return nil, apperr.ErrInvalidQuantity
	}
	p, err := store.GetPriceable(ctx, tx, line.ProductID, line.VariantID)
	if err != nil {
		return nil, err
	}
	inactive, unapproved := p.Sellable()
	switch {
	case inactive:
		return nil, fmt.Errorf("%w: %w", apperr.ErrProductUnavailable, apperr.ErrProductInactive)
	case unapproved:
		return nil, apperr.ErrProductUnavailable
	}
	return p, nil
}

// buildOrder prices every line and freezes the commission split into the
// items. Nothing here is recomputed after persistence.
func buildOrder(buyerID int64, lines []models.CheckoutLine, priced []*models.Priceable) (*models.Order, error) {
	order := &models.Order{
		UserID:      buyerID,
		OrderNumber: newOrderNumber(time.Now()),
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.Zero,
		Items:       make([]models.OrderItem, 0, len(lines)),
	}

	for i, line := range lines {
		p := priced[i]
		price := money.LineTotal(p.UnitPrice, line.Quantity)
		fee, earning, err := money.Split(price, p.CommissionRate)
		if err != nil {
			return nil, lineError(i, line, err)
		}

		order.Items = append(order.Items, models.OrderItem{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			VendorID:       p.VendorID,
			Quantity:       line.Quantity,
			UnitPrice:      money.Round(p.UnitPrice),
			Price:          price,
			CommissionRate: p.CommissionRate,
			PlatformFee:    fee,
			VendorEarning:  earning,
		})
		order.TotalAmount = order.TotalAmount.Add(price)
	}

	if !order.Reconciles() {
		return nil, fmt.Errorf("order for buyer %d does not reconcile", buyerID)
	}
	return order, nil
}

// reservationOrder returns line indexes sorted by (product, variant) so two
// checkouts touching the same rows lock them in the same order.
func reservationOrder(lines []models.CheckoutLine) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		la, lb := lines[idx[a]], lines[idx[b]]
		if la.ProductID != lb.ProductID {
			return la.ProductID < lb.ProductID
		}
		return variantKey(la.VariantID) < variantKey(lb.VariantID)
	})
	return idx
}

func variantKey(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func lineError(i int, line models.CheckoutLine, reason error) error {
	var engineErr *apperr.Error
	if !errors.As(reason, &engineErr) {
		// Storage failures stay unwrapped so the retry loop can classify them.
		return reason
	}
	return &apperr.CheckoutFailed{
		Reason:    reason,
		Line:      i,
		ProductID: line.ProductID,
		VariantID: line.VariantID,
	}
}

// contendedStock turns a line whose stock row stayed locked through every
// retry into the same failure a sold-out line reports.
func contendedStock(err error) error {
	var failed *apperr.CheckoutFailed
	if !database.HasCode(err, database.CodeLockNotAvailable) || !errors.As(err, &failed) {
		return err
	}
	return &apperr.CheckoutFailed{
		Reason:    apperr.ErrInsufficientStock,
		Line:      failed.Line,
		ProductID: failed.ProductID,
		VariantID: failed.VariantID,
	}
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func resultCode(err error) string {
	if err == nil {
		return "success"
	}
	return apperr.As(err).Code
}
