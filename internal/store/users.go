package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/models"
)

const userColumns = `id, email, name, user_type, vendor_verified, commission_rate, created_at, updated_at, version`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var userType string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&userType,
		&user.VendorVerified,
		&user.CommissionRate,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}
	role, err := models.ParseRole(userType)
	if err != nil {
		return nil, err
	}
	user.Role = role
	return user, nil
}

type NewUser struct {
	Email          string
	Name           string
	Role           models.Role
	VendorVerified bool
	// CommissionRate defaults to the column default when nil.
	CommissionRate *decimal.Decimal
}

func CreateUser(ctx context.Context, q Querier, u NewUser) (*models.User, error) {
	if u.Role == 0 {
		u.Role = models.RoleBuyer
	}

	query := `
		INSERT INTO users (email, name, user_type, vendor_verified, commission_rate, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, COALESCE($5::numeric, 10.00), NOW(), NOW(), 1)
		RETURNING ` + userColumns

	var rate any
	if u.CommissionRate != nil {
		rate = *u.CommissionRate
	}

	user, err := scanUser(q.QueryRowContext(ctx, query, u.Email, u.Name, u.Role.String(), u.VendorVerified, rate))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q Querier, id int64) (*models.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// ListVendors pages through vendor accounts, optionally only those awaiting verification.
func ListVendors(ctx context.Context, q Querier, unverifiedOnly bool, page, pageSize int) (*OffsetPage[models.User], error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE user_type = 'vendor' AND (NOT $1 OR NOT vendor_verified)`,
		unverifiedOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count vendors: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_type = 'vendor' AND (NOT $1 OR NOT vendor_verified)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, unverifiedOnly, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}

func SetVendorVerified(ctx context.Context, q Querier, vendorID int64, verified bool) error {
	res, err := q.ExecContext(ctx,
		`UPDATE users
		 SET vendor_verified = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND user_type = 'vendor'`,
		verified, vendorID)
	if err != nil {
		return fmt.Errorf("set vendor verified: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// SetCommissionRate changes the rate used for future order items only. Items
// already created keep the rate frozen into them.
func SetCommissionRate(ctx context.Context, q Querier, vendorID int64, rate decimal.Decimal) error {
	res, err := q.ExecContext(ctx,
		`UPDATE users
		 SET commission_rate = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND user_type = 'vendor'`,
		rate, vendorID)
	if err != nil {
		return fmt.Errorf("set commission rate: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// Directory answers role lookups from the users table.
type Directory struct {
	q Querier
}

func NewDirectory(q Querier) *Directory {
	return &Directory{q: q}
}

func (d *Directory) Role(ctx context.Context, userID int64) (models.Role, error) {
	var userType string
	err := d.q.QueryRowContext(ctx, `SELECT user_type FROM users WHERE id = $1`, userID).Scan(&userType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.ErrUserNotFound
		}
		return 0, fmt.Errorf("get role: %w", err)
	}
	return models.ParseRole(userType)
}

func (d *Directory) IsVendorVerified(ctx context.Context, userID int64) (bool, error) {
	var verified bool
	err := d.q.QueryRowContext(ctx,
		`SELECT user_type = 'vendor' AND vendor_verified FROM users WHERE id = $1`,
		userID).Scan(&verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperr.ErrUserNotFound
		}
		return false, fmt.Errorf("get vendor verification: %w", err)
	}
	return verified, nil
}

var _ authz.Directory = (*Directory)(nil)
