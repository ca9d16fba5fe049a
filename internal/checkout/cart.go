package checkout

import (
	"context"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
)

// GetCart returns the caller's cart priced at current catalog prices.
func (s *Service) GetCart(ctx context.Context, actor authz.Actor) (*models.Cart, error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}
	return store.GetCart(ctx, s.db, actor.UserID)
}

// AddToCart adds a line, merging it into an existing line for the same
// product and variant. Stock is not reserved until checkout.
func (s *Service) AddToCart(ctx context.Context, actor authz.Actor, line models.CheckoutLine) (*models.Cart, error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}
	if line.Quantity <= 0 {
		return nil, apperr.ErrInvalidQuantity
	}

	p, err := store.GetPriceable(ctx, s.db, line.ProductID, line.VariantID)
	if err != nil {
		return nil, err
	}
	if inactive, unapproved := p.Sellable(); inactive || unapproved {
		return nil, apperr.ErrProductUnavailable
	}

	cart, err := store.EnsureCart(ctx, s.db, actor.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := store.AddCartItem(ctx, s.db, cart.ID, line); err != nil {
		return nil, err
	}

	return store.GetCart(ctx, s.db, actor.UserID)
}

// UpdateCartItem sets the quantity of a cart line. A quantity of zero removes it.
func (s *Service) UpdateCartItem(ctx context.Context, actor authz.Actor, itemID int64, quantity int) (*models.Cart, error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, apperr.ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.RemoveCartItem(ctx, actor, itemID)
	}

	cart, err := store.EnsureCart(ctx, s.db, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := store.SetCartItemQuantity(ctx, s.db, cart.ID, itemID, quantity); err != nil {
		return nil, err
	}

	return store.GetCart(ctx, s.db, actor.UserID)
}

func (s *Service) RemoveCartItem(ctx context.Context, actor authz.Actor, itemID int64) (*models.Cart, error) {
	if err := authz.CanShop(actor); err != nil {
		return nil, err
	}

	cart, err := store.EnsureCart(ctx, s.db, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := store.RemoveCartItem(ctx, s.db, cart.ID, itemID); err != nil {
		return nil, err
	}

	return store.GetCart(ctx, s.db, actor.UserID)
}
