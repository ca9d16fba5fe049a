package payment_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/checkout"
	"github.com/safar/go-marketplace/internal/inventory"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/payment"
	"github.com/safar/go-marketplace/internal/settlement"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/testdb"
)

func actorOf(u *models.User) authz.Actor {
	return authz.Actor{UserID: u.ID, Role: u.Role}
}

type fixture struct {
	buyer  *models.User
	vendor *models.User
	order  *models.Order
}

func placeOrder(t *testing.T, db *sql.DB, price string, qty int) fixture {
	t.Helper()
	ctx := context.Background()

	vendor := testdb.Vendor(t, db, "10")
	buyer := testdb.Buyer(t, db)
	product := testdb.Product(t, db, vendor.ID, price, 10)

	svc := checkout.NewService(db, inventory.NewGuard(inventory.CompareAndSwap, 5, nil), nil, 3)
	order, err := svc.PlaceOrder(ctx, actorOf(buyer), checkout.Request{
		Lines: []models.CheckoutLine{{ProductID: product.ID, Quantity: qty}},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	return fixture{buyer: buyer, vendor: vendor, order: order}
}

func TestRecordPaymentSuccessMovesOrderToProcessing(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	f := placeOrder(t, db, "20.00", 2)

	rec := payment.NewRecorder(db, payment.NewSimulatedGateway(), nil, nil, payment.Options{})
	receipt, err := rec.RecordPayment(ctx, actorOf(f.buyer), f.order.ID, payment.Outcome{
		Amount:        decimal.RequireFromString("40.00"),
		Reference:     "GW-1",
		Status:        models.GatewaySuccess,
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("Record payment: %v", err)
	}

	if receipt.Transaction.Status != models.TransactionStatusCompleted {
		t.Errorf("Expected completed transaction, got %s", receipt.Transaction.Status)
	}
	if receipt.Transaction.AdminApproved {
		t.Error("Expected transaction to wait for admin approval")
	}

	order, err := store.GetOrder(ctx, db, f.order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != models.OrderStatusProcessing {
		t.Errorf("Expected processing, got %s", order.Status)
	}

	if n := testdb.Count(t, db, "vendor_earnings"); n != 0 {
		t.Errorf("Expected no earnings before approval, got %d", n)
	}
}

func TestRecordPaymentFailureThenRetryReusesTransaction(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	f := placeOrder(t, db, "15.00", 1)
	rec := payment.NewRecorder(db, payment.NewSimulatedGateway(), nil, nil, payment.Options{})
	actor := actorOf(f.buyer)

	first, err := rec.RecordPayment(ctx, actor, f.order.ID, payment.Outcome{
		Amount:    decimal.RequireFromString("15.00"),
		Reference: "GW-FAIL",
		Status:    models.GatewayFailure,
	})
	if err != nil {
		t.Fatalf("Record failed payment: %v", err)
	}
	if first.Transaction.Status != models.TransactionStatusFailed {
		t.Errorf("Expected failed, got %s", first.Transaction.Status)
	}
	if first.Order.Status != models.OrderStatusPending {
		t.Errorf("Expected order to stay pending, got %s", first.Order.Status)
	}

	second, err := rec.RecordPayment(ctx, actor, f.order.ID, payment.Outcome{
		Amount:    decimal.RequireFromString("15.00"),
		Reference: "GW-OK",
		Status:    models.GatewaySuccess,
	})
	if err != nil {
		t.Fatalf("Record retried payment: %v", err)
	}

	if second.Transaction.ID != first.Transaction.ID {
		t.Errorf("Expected the same transaction, got %d and %d", first.Transaction.ID, second.Transaction.ID)
	}
	if second.Transaction.AttemptCount != 2 || second.Attempt.Attempt != 2 {
		t.Errorf("Expected attempt 2, got count=%d attempt=%d", second.Transaction.AttemptCount, second.Attempt.Attempt)
	}
	if n := testdb.Count(t, db, "transactions"); n != 1 {
		t.Errorf("Expected one transaction, got %d", n)
	}

	attempts, err := store.ListPaymentAttempts(ctx, db, second.Transaction.ID)
	if err != nil {
		t.Fatalf("List attempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].GatewayStatus != models.GatewayFailure || attempts[1].GatewayReference != "GW-OK" {
		t.Errorf("Unexpected attempts log: %+v", attempts)
	}
}

func TestRecordPaymentRejections(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	f := placeOrder(t, db, "10.00", 1)
	rec := payment.NewRecorder(db, payment.NewSimulatedGateway(), nil, nil, payment.Options{})
	stranger := testdb.Buyer(t, db)

	ok := payment.Outcome{Amount: decimal.RequireFromString("10.00"), Reference: "GW", Status: models.GatewaySuccess}

	tests := []struct {
		name    string
		actor   authz.Actor
		outcome payment.Outcome
		want    error
	}{
		{"wrong amount", actorOf(f.buyer), payment.Outcome{Amount: decimal.RequireFromString("9.99"), Status: models.GatewaySuccess}, apperr.ErrAmountMismatch},
		{"unknown status", actorOf(f.buyer), payment.Outcome{Amount: ok.Amount, Status: "maybe"}, apperr.ErrInvalidStatus},
		{"not the buyer", actorOf(stranger), ok, apperr.ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.RecordPayment(ctx, tt.actor, f.order.ID, tt.outcome)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if n := testdb.Count(t, db, "transactions"); n != 0 {
		t.Fatalf("Expected rejected payments to leave no transaction, got %d", n)
	}

	if _, err := rec.RecordPayment(ctx, actorOf(f.buyer), f.order.ID, ok); err != nil {
		t.Fatalf("Record payment: %v", err)
	}
	_, err := rec.RecordPayment(ctx, actorOf(f.buyer), f.order.ID, ok)
	if !errors.Is(err, apperr.ErrOrderNotPayable) {
		t.Fatalf("Expected order_not_payable on second payment, got %v", err)
	}
}

func TestPayOrderWithAutoApproveSettles(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	f := placeOrder(t, db, "10.00", 3)

	settler := settlement.NewService(db, nil, 3)
	rec := payment.NewRecorder(db, payment.NewSimulatedGateway(), settler, nil, payment.Options{AutoApprove: true})

	receipt, err := rec.PayOrder(ctx, actorOf(f.buyer), f.order.ID, "card")
	if err != nil {
		t.Fatalf("Pay order: %v", err)
	}

	if receipt.Settlement == nil || len(receipt.Settlement.Earnings) != 1 {
		t.Fatalf("Expected one settled earning, got %+v", receipt.Settlement)
	}
	if !receipt.Transaction.AdminApproved || receipt.Transaction.ApprovedBy != nil {
		t.Errorf("Expected system approval without approver, got approved=%v by=%v",
			receipt.Transaction.AdminApproved, receipt.Transaction.ApprovedBy)
	}
	if !receipt.Settlement.Earnings[0].Amount.Equal(decimal.RequireFromString("27.00")) {
		t.Errorf("Expected earning 27.00, got %s", receipt.Settlement.Earnings[0].Amount)
	}
}

func TestPayOrderGatewayFailureKeepsOrderPending(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	f := placeOrder(t, db, "10.00", 1)

	gw := payment.NewSimulatedGateway()
	gw.SetOutcome(f.order.ID, models.GatewayTimeout)
	rec := payment.NewRecorder(db, gw, nil, nil, payment.Options{})

	receipt, err := rec.PayOrder(ctx, actorOf(f.buyer), f.order.ID, "card")
	if err != nil {
		t.Fatalf("Pay order: %v", err)
	}
	if receipt.Transaction.Status != models.TransactionStatusFailed {
		t.Errorf("Expected timeout recorded as failed, got %s", receipt.Transaction.Status)
	}
	if receipt.Attempt.GatewayStatus != models.GatewayTimeout {
		t.Errorf("Expected attempt status timeout, got %s", receipt.Attempt.GatewayStatus)
	}
	if receipt.Order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending order, got %s", receipt.Order.Status)
	}
}

func TestRecordPaymentDuplicateReferenceIsIntegrityError(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	first := placeOrder(t, db, "10.00", 1)
	second := placeOrder(t, db, "12.00", 1)
	rec := payment.NewRecorder(db, payment.NewSimulatedGateway(), nil, nil, payment.Options{})

	if _, err := rec.RecordPayment(ctx, actorOf(first.buyer), first.order.ID, payment.Outcome{
		Amount: decimal.RequireFromString("10.00"), Reference: "GW-SHARED", Status: models.GatewaySuccess,
	}); err != nil {
		t.Fatalf("Record first payment: %v", err)
	}

	_, err := rec.RecordPayment(ctx, actorOf(second.buyer), second.order.ID, payment.Outcome{
		Amount: decimal.RequireFromString("12.00"), Reference: "GW-SHARED", Status: models.GatewaySuccess,
	})
	if !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("Expected duplicate_reference, got %v", err)
	}
	if e := apperr.As(err); e.Kind != apperr.KindIntegrity {
		t.Errorf("Expected integrity kind, got %v", e.Kind)
	}

	order, err := store.GetOrder(ctx, db, second.order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected second order to stay pending, got %s", order.Status)
	}
	if n := testdb.Count(t, db, "transactions"); n != 1 {
		t.Errorf("Expected one transaction, got %d", n)
	}
}
