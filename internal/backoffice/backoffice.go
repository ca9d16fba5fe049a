// Package backoffice holds the administrator actions on vendors and the
// catalog, and the dashboard reads over daily metrics.
package backoffice

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/money"
	"github.com/safar/go-marketplace/internal/sanitize"
	"github.com/safar/go-marketplace/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxMetricsRange bounds dashboard range queries.
	maxMetricsRange = 366 * 24 * time.Hour
)

type Service struct {
	db          *sql.DB
	defaultRate decimal.Decimal
	logger      *log.Entry
}

func NewService(db *sql.DB, defaultRate decimal.Decimal) *Service {
	return &Service{
		db:          db,
		defaultRate: defaultRate,
		logger:      log.WithField("component", "backoffice"),
	}
}

// CreateUser registers an account. Vendors without an explicit rate get the
// configured default commission rate.
func (s *Service) CreateUser(ctx context.Context, actor authz.Actor, u store.NewUser) (*models.User, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	u.Email = strings.TrimSpace(u.Email)
	u.Name = sanitize.Text(u.Name, 255)
	if u.Role == models.RoleVendor && u.CommissionRate == nil {
		rate := s.defaultRate
		u.CommissionRate = &rate
	}
	if u.CommissionRate != nil {
		if err := money.ValidateRate(*u.CommissionRate); err != nil {
			return nil, err
		}
	}

	user, err := store.CreateUser(ctx, s.db, u)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"user_id": user.ID, "role": user.Role.String()}).Info("user created")
	return user, nil
}

func (s *Service) ListVendors(ctx context.Context, actor authz.Actor, unverifiedOnly bool, page, pageSize int) (*store.OffsetPage[models.User], error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	page, pageSize = clampPage(page, pageSize)
	return store.ListVendors(ctx, s.db, unverifiedOnly, page, pageSize)
}

func (s *Service) VerifyVendor(ctx context.Context, actor authz.Actor, vendorID int64, verified bool) error {
	if err := authz.RequireAdministrator(actor); err != nil {
		return err
	}
	if err := store.SetVendorVerified(ctx, s.db, vendorID, verified); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"vendor_id": vendorID, "verified": verified, "admin_id": actor.UserID}).Info("vendor verification changed")
	return nil
}

// SetCommissionRate changes the rate applied to future order items.
func (s *Service) SetCommissionRate(ctx context.Context, actor authz.Actor, vendorID int64, rate decimal.Decimal) error {
	if err := authz.RequireAdministrator(actor); err != nil {
		return err
	}
	if err := money.ValidateRate(rate); err != nil {
		return err
	}
	if err := store.SetCommissionRate(ctx, s.db, vendorID, rate); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"vendor_id": vendorID, "rate": rate.String(), "admin_id": actor.UserID}).Info("commission rate changed")
	return nil
}

func (s *Service) ReviewProduct(ctx context.Context, actor authz.Actor, productID int64, status models.ApprovalStatus) (*models.Product, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.ErrInvalidStatus
	}
	if err := store.SetProductApproval(ctx, s.db, productID, status); err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"product_id": productID, "status": status, "admin_id": actor.UserID}).Info("product reviewed")
	return store.GetProduct(ctx, s.db, productID)
}

// DeleteProduct removes a product that was never sold.
func (s *Service) DeleteProduct(ctx context.Context, actor authz.Actor, productID int64) error {
	if err := authz.RequireAdministrator(actor); err != nil {
		return err
	}
	if err := store.DeleteProduct(ctx, s.db, productID); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"product_id": productID, "admin_id": actor.UserID}).Info("product deleted")
	return nil
}

func (s *Service) PendingProducts(ctx context.Context, actor authz.Actor, page, pageSize int) (*store.OffsetPage[models.Product], error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	page, pageSize = clampPage(page, pageSize)
	return store.ListProductsByApproval(ctx, s.db, models.ApprovalPending, page, pageSize)
}

// PlatformMetrics returns the platform rows for the days in [from, to].
func (s *Service) PlatformMetrics(ctx context.Context, actor authz.Actor, from, to time.Time) ([]models.PlatformDailyMetrics, error) {
	if err := authz.RequireAdministrator(actor); err != nil {
		return nil, err
	}
	from, to, err := metricsRange(from, to)
	if err != nil {
		return nil, err
	}
	return store.ListPlatformMetrics(ctx, s.db, from, to)
}

// VendorMetrics returns a vendor's rows for the days in [from, to].
func (s *Service) VendorMetrics(ctx context.Context, actor authz.Actor, vendorID int64, from, to time.Time) ([]models.VendorDailyMetrics, error) {
	if err := authz.CanManageEarnings(actor, vendorID); err != nil {
		return nil, err
	}
	from, to, err := metricsRange(from, to)
	if err != nil {
		return nil, err
	}
	return store.ListVendorMetrics(ctx, s.db, vendorID, from, to)
}

func metricsRange(from, to time.Time) (time.Time, time.Time, error) {
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) || to.Sub(from) > maxMetricsRange {
		return time.Time{}, time.Time{}, apperr.ErrInvalidRange
	}
	return from, to, nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
