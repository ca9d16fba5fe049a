// Package authz resolves actors and decides who may drive each engine transition.
package authz

import (
	"context"
	"fmt"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

// Directory is the external user/role lookup.
type Directory interface {
	Role(ctx context.Context, userID int64) (models.Role, error)
	IsVendorVerified(ctx context.Context, userID int64) (bool, error)
}

// Actor is the resolved caller of an engine operation.
type Actor struct {
	UserID int64
	Role   models.Role
}

// Resolve looks up the role of userID.
func Resolve(ctx context.Context, dir Directory, userID int64) (Actor, error) {
	role, err := dir.Role(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: userID, Role: role}, nil
}

// RequireAdministrator fails with apperr.ErrNotAdministrator for any other role.
func RequireAdministrator(a Actor) error {
	switch a.Role {
	case models.RoleAdministrator:
		return nil
	case models.RoleBuyer, models.RoleVendor:
		return apperr.ErrNotAdministrator
	default:
		return unknownRole(a)
	}
}

// CanPay allows only the buyer who placed the order.
func CanPay(a Actor, order *models.Order) error {
	switch a.Role {
	case models.RoleBuyer, models.RoleVendor, models.RoleAdministrator:
		if a.UserID == order.UserID {
			return nil
		}
		return apperr.ErrPermissionDenied
	default:
		return unknownRole(a)
	}
}

// CanShip allows a vendor that sells at least one line of the order.
func CanShip(a Actor, order *models.Order) error {
	switch a.Role {
	case models.RoleVendor:
		if order.HasVendor(a.UserID) {
			return nil
		}
		return apperr.ErrPermissionDenied
	case models.RoleBuyer, models.RoleAdministrator:
		return apperr.ErrPermissionDenied
	default:
		return unknownRole(a)
	}
}

// CanConfirmDelivery allows the buyer, a vendor on the order, or an administrator.
func CanConfirmDelivery(a Actor, order *models.Order) error {
	switch a.Role {
	case models.RoleAdministrator:
		return nil
	case models.RoleVendor:
		if order.HasVendor(a.UserID) || order.UserID == a.UserID {
			return nil
		}
		return apperr.ErrPermissionDenied
	case models.RoleBuyer:
		if order.UserID == a.UserID {
			return nil
		}
		return apperr.ErrPermissionDenied
	default:
		return unknownRole(a)
	}
}

// CanView allows the parties of an order to read it.
func CanView(a Actor, order *models.Order) error {
	return CanConfirmDelivery(a, order)
}

// CanCancel allows the buyer of the order or an administrator.
func CanCancel(a Actor, order *models.Order) error {
	switch a.Role {
	case models.RoleAdministrator:
		return nil
	case models.RoleBuyer, models.RoleVendor:
		if order.UserID == a.UserID {
			return nil
		}
		return apperr.ErrPermissionDenied
	default:
		return unknownRole(a)
	}
}

// CanManageEarnings allows the vendor itself or an administrator to act on a
// vendor's earnings and payouts.
func CanManageEarnings(a Actor, vendorID int64) error {
	switch a.Role {
	case models.RoleAdministrator:
		return nil
	case models.RoleVendor:
		if a.UserID == vendorID {
			return nil
		}
		return apperr.ErrPermissionDenied
	case models.RoleBuyer:
		return apperr.ErrPermissionDenied
	default:
		return unknownRole(a)
	}
}

// CanShop allows any known role to keep a cart and check out.
func CanShop(a Actor) error {
	switch a.Role {
	case models.RoleBuyer, models.RoleVendor, models.RoleAdministrator:
		return nil
	default:
		return unknownRole(a)
	}
}

func unknownRole(a Actor) error {
	return fmt.Errorf("user %d has unknown role %s: %w", a.UserID, a.Role, apperr.ErrPermissionDenied)
}
