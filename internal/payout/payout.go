// Package payout batches pending vendor earnings into payouts and tracks the
// payout through completion or failure.
package payout

import (
	"context"
	"database/sql"
	"sort"
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
	"github.com/safar/go-marketplace/internal/sanitize"
	"github.com/safar/go-marketplace/internal/store"
)

const maxNoteLength = 1000

type Service struct {
	db       *sql.DB
	metrics  *metrics.Engine
	currency string
	txOpts   database.TxOptions
	logger   *log.Entry
}

func NewService(db *sql.DB, m *metrics.Engine, currency string, txMaxRetries int) *Service {
	if currency == "" {
		currency = "USD"
	}
	s := &Service{
		db:       db,
		metrics:  m,
		currency: currency,
		txOpts:   database.DefaultTxOptions(),
		logger:   log.WithField("component", "payout"),
	}
	if txMaxRetries > 0 {
		s.txOpts.MaxRetries = txMaxRetries
	}
	s.txOpts.OnRetry = func(attempt int, err error) {
		m.TransactionRetry("payout")
		s.logger.WithError(err).WithField("attempt", attempt+1).Warn("payout transaction retried")
	}
	return s
}

// CreatePayout batches the given pending earnings of vendorID. Every id must
// exist, belong to the vendor and be pending; otherwise nothing changes.
func (s *Service) CreatePayout(ctx context.Context, actor authz.Actor, vendorID int64, earningIDs []int64, note string) (*models.VendorPayout, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return nil, err
	}
	ids := dedupe(earningIDs)
	if len(ids) == 0 {
		return nil, apperr.ErrNoEligibleEarnings
	}

	return s.create(ctx, vendorID, note, func(tx *sql.Tx) ([]models.VendorEarning, error) {
		locked, err := store.LockEarnings(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		if len(locked) == 0 {
			return nil, apperr.ErrNoEligibleEarnings
		}
		if len(locked) != len(ids) {
			return nil, apperr.ErrEarningNotFound
		}
		for _, e := range locked {
			if e.VendorID != vendorID {
				return nil, apperr.ErrCrossVendorEarning
			}
		}
		for _, e := range locked {
			if e.Status != models.EarningStatusPending {
				return nil, apperr.ErrAlreadyPaid
			}
		}
		return locked, nil
	})
}

// CreatePayoutForPending batches every pending earning of vendorID.
func (s *Service) CreatePayoutForPending(ctx context.Context, actor authz.Actor, vendorID int64, note string) (*models.VendorPayout, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return nil, err
	}

	return s.create(ctx, vendorID, note, func(tx *sql.Tx) ([]models.VendorEarning, error) {
		locked, err := store.LockPendingEarnings(ctx, tx, vendorID)
		if err != nil {
			return nil, err
		}
		if len(locked) == 0 {
			return nil, apperr.ErrNoEligibleEarnings
		}
		return locked, nil
	})
}

func (s *Service) create(ctx context.Context, vendorID int64, note string, selectEarnings func(*sql.Tx) ([]models.VendorEarning, error)) (*models.VendorPayout, error) {
	note = sanitize.Text(note, maxNoteLength)

	var payout *models.VendorPayout
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		earnings, err := selectEarnings(tx)
		if err != nil {
			return err
		}

		ids := make([]int64, len(earnings))
		amount := decimal.Zero
		for i, e := range earnings {
			ids[i] = e.ID
			amount = amount.Add(e.Amount)
		}

		p := &models.VendorPayout{
			VendorID:   vendorID,
			Amount:     money.Round(amount),
			Currency:   s.currency,
			Status:     models.PayoutStatusPending,
			Reference:  "PO-" + uuid.NewString(),
			Note:       note,
			EarningIDs: ids,
		}
		if err := store.InsertPayout(ctx, tx, p); err != nil {
			return err
		}

		n, err := store.MarkEarningsPaid(ctx, tx, ids, p)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return apperr.ErrAlreadyPaid
		}

		delta := models.PlatformMetricsDelta{Sales: decimal.Zero, Commission: decimal.Zero, PendingPayouts: -len(ids)}
		if _, err := store.ApplyPlatformDelta(ctx, tx, p.CreatedAt, delta); err != nil {
			return err
		}

		if err := s.emit(ctx, tx, events.TypePayoutCreated, p); err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Payout(string(models.PayoutStatusPending))
	s.logger.WithFields(log.Fields{
		"payout_id": payout.ID,
		"vendor_id": payout.VendorID,
		"amount":    payout.Amount.StringFixed(money.Places),
		"earnings":  len(payout.EarningIDs),
	}).Info("payout created")

	return payout, nil
}

// CompletePayout records the external transfer reference of a pending payout.
func (s *Service) CompletePayout(ctx context.Context, actor authz.Actor, payoutID int64, externalRef string) (*models.VendorPayout, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	externalRef = sanitize.Text(externalRef, 255)

	return s.finish(ctx, payoutID, func(tx *sql.Tx, p *models.VendorPayout) error {
		if err := store.FinishPayout(ctx, tx, p, models.PayoutStatusCompleted, externalRef, p.Note); err != nil {
			return err
		}
		return s.emit(ctx, tx, events.TypePayoutCompleted, p)
	})
}

// FailPayout marks a pending payout failed and returns its earnings to
// pending. The payout keeps its amount snapshot and earning list.
func (s *Service) FailPayout(ctx context.Context, actor authz.Actor, payoutID int64, note string) (*models.VendorPayout, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	note = sanitize.Text(note, maxNoteLength)

	return s.finish(ctx, payoutID, func(tx *sql.Tx, p *models.VendorPayout) error {
		if note == "" {
			note = p.Note
		}
		if err := store.FinishPayout(ctx, tx, p, models.PayoutStatusFailed, "", note); err != nil {
			return err
		}

		released, err := store.ReleasePayoutEarnings(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		delta := models.PlatformMetricsDelta{Sales: decimal.Zero, Commission: decimal.Zero, PendingPayouts: int(released)}
		if _, err := store.ApplyPlatformDelta(ctx, tx, time.Now(), delta); err != nil {
			return err
		}

		return s.emit(ctx, tx, events.TypePayoutFailed, p)
	})
}

func (s *Service) finish(ctx context.Context, payoutID int64, fn func(*sql.Tx, *models.VendorPayout) error) (*models.VendorPayout, error) {
	var payout *models.VendorPayout
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		p, err := store.GetPayoutForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if p.Status != models.PayoutStatusPending {
			return apperr.ErrPayoutNotPending
		}
		if err := fn(tx, p); err != nil {
			return err
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Payout(string(payout.Status))
	s.logger.WithFields(log.Fields{
		"payout_id": payout.ID,
		"vendor_id": payout.VendorID,
		"status":    payout.Status,
	}).Info("payout finished")

	return payout, nil
}

func (s *Service) emit(ctx context.Context, tx *sql.Tx, eventType string, p *models.VendorPayout) error {
	return events.Enqueue(ctx, tx, events.AggregatePayout, p.ID, eventType, events.PayoutChanged{
		PayoutID:          p.ID,
		VendorID:          p.VendorID,
		Reference:         p.Reference,
		Amount:            p.Amount,
		Status:            p.Status,
		EarningIDs:        p.EarningIDs,
		ExternalReference: p.ExternalReference,
	})
}

// ListPayouts returns a vendor's payouts, newest first.
func (s *Service) ListPayouts(ctx context.Context, actor authz.Actor, vendorID int64) ([]models.VendorPayout, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return nil, err
	}
	return store.ListVendorPayouts(ctx, s.db, vendorID)
}

// ListEarnings returns a vendor's earnings, optionally filtered by status.
func (s *Service) ListEarnings(ctx context.Context, actor authz.Actor, vendorID int64, status models.EarningStatus) ([]models.VendorEarning, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.ErrInvalidStatus
	}
	return store.ListVendorEarnings(ctx, s.db, vendorID, status)
}

// Totals sums a vendor's earnings per status.
func (s *Service) Totals(ctx context.Context, actor authz.Actor, vendorID int64) (store.EarningTotals, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return store.EarningTotals{}, err
	}
	return store.SumVendorEarnings(ctx, s.db, vendorID)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
