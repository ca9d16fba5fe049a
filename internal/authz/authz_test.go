package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/models"
)

type stubDirectory struct {
	roles map[int64]models.Role
}

func (s stubDirectory) Role(ctx context.Context, userID int64) (models.Role, error) {
	role, ok := s.roles[userID]
	if !ok {
		return 0, apperr.ErrUserNotFound
	}
	return role, nil
}

func (s stubDirectory) IsVendorVerified(ctx context.Context, userID int64) (bool, error) {
	return s.roles[userID] == models.RoleVendor, nil
}

func testOrder() *models.Order {
	return &models.Order{
		ID:     1,
		UserID: 10,
		Items:  []models.OrderItem{{VendorID: 20}},
	}
}

func TestResolve(t *testing.T) {
	dir := stubDirectory{roles: map[int64]models.Role{1: models.RoleAdministrator}}

	actor, err := Resolve(context.Background(), dir, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, actor.Role)

	_, err = Resolve(context.Background(), dir, 2)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestRules(t *testing.T) {
	order := testOrder()
	buyer := Actor{UserID: 10, Role: models.RoleBuyer}
	otherBuyer := Actor{UserID: 11, Role: models.RoleBuyer}
	vendor := Actor{UserID: 20, Role: models.RoleVendor}
	otherVendor := Actor{UserID: 21, Role: models.RoleVendor}
	admin := Actor{UserID: 1, Role: models.RoleAdministrator}
	unknown := Actor{UserID: 99, Role: models.Role(42)}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"admin is admin", RequireAdministrator(admin), nil},
		{"buyer is not admin", RequireAdministrator(buyer), apperr.ErrNotAdministrator},
		{"vendor is not admin", RequireAdministrator(vendor), apperr.ErrNotAdministrator},
		{"buyer pays own order", CanPay(buyer, order), nil},
		{"other buyer cannot pay", CanPay(otherBuyer, order), apperr.ErrPermissionDenied},
		{"admin cannot pay for buyer", CanPay(admin, order), apperr.ErrPermissionDenied},
		{"vendor on line ships", CanShip(vendor, order), nil},
		{"other vendor cannot ship", CanShip(otherVendor, order), apperr.ErrPermissionDenied},
		{"buyer cannot ship", CanShip(buyer, order), apperr.ErrPermissionDenied},
		{"admin cannot ship", CanShip(admin, order), apperr.ErrPermissionDenied},
		{"buyer confirms delivery", CanConfirmDelivery(buyer, order), nil},
		{"vendor confirms delivery", CanConfirmDelivery(vendor, order), nil},
		{"other buyer cannot confirm", CanConfirmDelivery(otherBuyer, order), apperr.ErrPermissionDenied},
		{"buyer cancels", CanCancel(buyer, order), nil},
		{"admin cancels", CanCancel(admin, order), nil},
		{"vendor cannot cancel", CanCancel(vendor, order), apperr.ErrPermissionDenied},
		{"vendor manages own earnings", CanManageEarnings(vendor, 20), nil},
		{"vendor cannot manage others", CanManageEarnings(otherVendor, 20), apperr.ErrPermissionDenied},
		{"buyer cannot manage earnings", CanManageEarnings(buyer, 10), apperr.ErrPermissionDenied},
		{"admin manages any earnings", CanManageEarnings(admin, 20), nil},
		{"unknown role shops", CanShop(unknown), apperr.ErrPermissionDenied},
		{"unknown role ships", CanShip(unknown, order), apperr.ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == nil {
				assert.NoError(t, tt.err)
				return
			}
			assert.True(t, errors.Is(tt.err, tt.want), "got %v, want %v", tt.err, tt.want)
		})
	}
}
