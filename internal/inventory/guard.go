// Package inventory guards product and variant stock counters.
package inventory

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/metrics"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
)

const DefaultMaxRetries = 5

// Strategy selects how a decrement is made atomic.
type Strategy int

const (
	// CompareAndSwap reads the counter and its version, then updates only if
	// the version is unchanged, retrying on conflict.
	CompareAndSwap Strategy = iota
	// LockNoWait takes the row lock with NOWAIT. A held lock fails the
	// transaction with a retryable lock_not_available error.
	LockNoWait
)

type Guard struct {
	strategy   Strategy
	maxRetries int
	metrics    *metrics.Engine
	logger     *log.Entry
}

func NewGuard(strategy Strategy, maxRetries int, m *metrics.Engine) *Guard {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Guard{
		strategy:   strategy,
		maxRetries: maxRetries,
		metrics:    m,
		logger:     log.WithField("component", "inventory-guard"),
	}
}

// Reserve decrements the stock of line inside tx and returns the new level.
// It never decrements partially: either the full quantity is taken or the
// counter is left as it was.
func (g *Guard) Reserve(ctx context.Context, tx *sql.Tx, line models.CheckoutLine) (int, error) {
	if line.Quantity <= 0 {
		return 0, apperr.ErrInvalidQuantity
	}

	if g.strategy == LockNoWait {
		if err := store.ReserveStockNoWait(ctx, tx, line.ProductID, line.VariantID, line.Quantity); err != nil {
			return 0, err
		}
		level, err := store.ReadStock(ctx, tx, line.ProductID, line.VariantID)
		if err != nil {
			return 0, err
		}
		return level.Quantity, nil
	}

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		level, err := store.ReadStock(ctx, tx, line.ProductID, line.VariantID)
		if err != nil {
			return 0, err
		}
		if level.Quantity < line.Quantity {
			return 0, apperr.ErrInsufficientStock
		}

		remaining := level.Quantity - line.Quantity
		swapped, err := store.CompareAndSwapStock(ctx, tx, line.ProductID, line.VariantID, level.Version, remaining)
		if err != nil {
			return 0, err
		}
		if swapped {
			return remaining, nil
		}

		g.metrics.StockConflict()
		g.logger.WithFields(log.Fields{
			"product_id": line.ProductID,
			"attempt":    attempt + 1,
		}).Debug("stock version changed, retrying")
	}

	g.logger.WithField("product_id", line.ProductID).Warn("stock contention retries exhausted")
	return 0, apperr.ErrInsufficientStock
}

// Restore returns the units of item to stock once. It reports false when the
// item had already been restocked.
func (g *Guard) Restore(ctx context.Context, tx *sql.Tx, item models.OrderItem) (bool, error) {
	flipped, err := store.MarkRestocked(ctx, tx, item.ID)
	if err != nil {
		return false, err
	}
	if !flipped {
		return false, nil
	}

	if err := store.AddStock(ctx, tx, item.ProductID, item.VariantID, item.Quantity); err != nil {
		return false, fmt.Errorf("restore stock for item %d: %w", item.ID, err)
	}
	return true, nil
}

// ParseStrategy maps the configured strategy name onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "cas":
		return CompareAndSwap, nil
	case "nowait":
		return LockNoWait, nil
	default:
		return CompareAndSwap, fmt.Errorf("unknown stock strategy %q", name)
	}
}
