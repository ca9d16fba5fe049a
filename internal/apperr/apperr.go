// Package apperr defines the stable error codes returned by the settlement engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups codes by how callers should react to them.
type Kind int

const (
	KindValidation Kind = iota
	KindContention
	KindAuthorization
	KindIntegrity
	KindNotFound
	KindInternal
)

// Error is an engine error with a stable machine code.
type Error struct {
	Code    string
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Code: code, Message: message, Kind: kind}
}

var (
	ErrInvalidRate        = newError(KindValidation, "invalid_rate", "commission rate must be between 0 and 100")
	ErrNegativeAmount     = newError(KindValidation, "negative_amount", "amount must not be negative")
	ErrInvalidQuantity    = newError(KindValidation, "invalid_quantity", "quantity must be greater than zero")
	ErrEmptyCheckout      = newError(KindValidation, "empty_checkout", "checkout has no lines")
	ErrAmountMismatch     = newError(KindValidation, "amount_mismatch", "payment amount does not match order total")
	ErrOrderNotPayable    = newError(KindValidation, "order_not_payable", "order is not awaiting payment")
	ErrInvalidTransition  = newError(KindValidation, "invalid_transition", "order status transition is not allowed")
	ErrPaymentNotDone     = newError(KindValidation, "payment_not_completed", "transaction has no successful payment")
	ErrPaymentNotApproved = newError(KindValidation, "payment_not_approved", "transaction is not approved by an administrator")
	ErrInvalidStatus      = newError(KindValidation, "invalid_status", "unknown status value")
	ErrInvalidCursor      = newError(KindValidation, "invalid_cursor", "malformed page cursor")
	ErrInvalidRange       = newError(KindValidation, "invalid_range", "date range is empty or too long")
	ErrOrderCancelled     = newError(KindValidation, "order_cancelled", "order is cancelled")

	ErrInsufficientStock = newError(KindContention, "insufficient_stock", "insufficient stock")

	ErrProductNotFound     = newError(KindNotFound, "product_not_found", "product not found")
	ErrOrderNotFound       = newError(KindNotFound, "order_not_found", "order not found")
	ErrTransactionNotFound = newError(KindNotFound, "transaction_not_found", "transaction not found")
	ErrEarningNotFound     = newError(KindNotFound, "earning_not_found", "vendor earning not found")
	ErrPayoutNotFound      = newError(KindNotFound, "payout_not_found", "vendor payout not found")
	ErrUserNotFound        = newError(KindNotFound, "user_not_found", "user not found")
	ErrCartItemNotFound    = newError(KindNotFound, "cart_item_not_found", "cart item not found")

	ErrProductInactive    = newError(KindValidation, "product_inactive", "product is not active")
	ErrProductUnavailable = newError(KindValidation, "product_unavailable", "product is not available for sale")

	ErrNotAdministrator = newError(KindAuthorization, "not_administrator", "administrator role required")
	ErrPermissionDenied = newError(KindAuthorization, "permission_denied", "permission denied")

	ErrNoEligibleEarnings = newError(KindIntegrity, "no_eligible_earnings", "no eligible earnings for payout")
	ErrCrossVendorEarning = newError(KindIntegrity, "cross_vendor_earning", "earning belongs to a different vendor")
	ErrAlreadyPaid        = newError(KindIntegrity, "already_paid", "earning is not pending")
	ErrProductHasOrders   = newError(KindIntegrity, "product_has_orders", "product is referenced by order items")
	ErrPayoutNotPending   = newError(KindIntegrity, "payout_not_pending", "payout is not pending")
	ErrDuplicateReference = newError(KindIntegrity, "duplicate_reference", "payment reference is already used by another transaction")

	ErrCheckoutFailed = newError(KindValidation, "checkout_failed", "checkout failed")

	ErrInternal = newError(KindInternal, "internal", "internal error")
)

// CheckoutFailed reports which checkout line stopped an order from being built.
// Line is the zero-based index into the submitted lines.
type CheckoutFailed struct {
	Reason    error
	Line      int
	ProductID int64
	VariantID *int64
}

func (e *CheckoutFailed) Error() string {
	return fmt.Sprintf("checkout failed at line %d (product %d): %v", e.Line, e.ProductID, e.Reason)
}

func (e *CheckoutFailed) Unwrap() []error {
	return []error{ErrCheckoutFailed, e.Reason}
}

// As returns the engine error carried by err, or ErrInternal when err is not
// an engine error. Storage errors never leak through the returned value.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var checkout *CheckoutFailed
	if errors.As(err, &checkout) {
		var reason *Error
		if errors.As(checkout.Reason, &reason) {
			return reason
		}
		return ErrCheckoutFailed
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

// Is reports whether err carries the given engine code.
func Is(err error, code string) bool {
	e := As(err)
	return e != nil && e.Code == code
}
