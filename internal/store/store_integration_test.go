package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/checkout"
	"github.com/safar/go-marketplace/internal/inventory"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
	"github.com/safar/go-marketplace/internal/testdb"
)

func TestDeleteProductPolicy(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	vendor := testdb.Vendor(t, db, "10")
	buyer := testdb.Buyer(t, db)
	unsold := testdb.Product(t, db, vendor.ID, "3.00", 1)
	sold := testdb.Product(t, db, vendor.ID, "3.00", 1)

	svc := checkout.NewService(db, inventory.NewGuard(inventory.CompareAndSwap, 0, nil), nil, 3)
	_, err := svc.PlaceOrder(ctx, authz.Actor{UserID: buyer.ID, Role: buyer.Role}, checkout.Request{
		Lines: []models.CheckoutLine{{ProductID: sold.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if err := store.DeleteProduct(ctx, db, unsold.ID); err != nil {
		t.Fatalf("Delete unsold product: %v", err)
	}
	if _, err := store.GetProduct(ctx, db, unsold.ID); !errors.Is(err, apperr.ErrProductNotFound) {
		t.Errorf("Expected product_not_found after delete, got %v", err)
	}

	if err := store.DeleteProduct(ctx, db, sold.ID); !errors.Is(err, apperr.ErrProductHasOrders) {
		t.Errorf("Expected product_has_orders, got %v", err)
	}
	if err := store.DeleteProduct(ctx, db, unsold.ID); !errors.Is(err, apperr.ErrProductNotFound) {
		t.Errorf("Expected product_not_found on second delete, got %v", err)
	}
}

func TestProductApprovalQueue(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	vendor := testdb.Vendor(t, db, "10")

	var pending []int64
	for i := 0; i < 3; i++ {
		p, err := store.CreateProduct(ctx, db, store.NewProduct{
			VendorID: vendor.ID,
			SKU:      "QUEUE-" + string(rune('A'+i)),
			Name:     "Queued",
			Price:    decimal.RequireFromString("1.00"),
		})
		if err != nil {
			t.Fatalf("Create product: %v", err)
		}
		if p.ApprovalStatus != models.ApprovalPending {
			t.Fatalf("Expected pending by default, got %s", p.ApprovalStatus)
		}
		pending = append(pending, p.ID)
	}

	if err := store.SetProductApproval(ctx, db, pending[0], models.ApprovalApproved); err != nil {
		t.Fatalf("Approve product: %v", err)
	}

	page, err := store.ListProductsByApproval(ctx, db, models.ApprovalPending, 1, 10)
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Expected 2 pending products, got %d", page.Total)
	}

	if err := store.SetProductApproval(ctx, db, pending[0]+1000, models.ApprovalApproved); !errors.Is(err, apperr.ErrProductNotFound) {
		t.Errorf("Expected product_not_found, got %v", err)
	}
}

func TestGetPriceableVariantMustBelongToProduct(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	vendor := testdb.Vendor(t, db, "12.5")
	a := testdb.Product(t, db, vendor.ID, "20.00", 1)
	b := testdb.Product(t, db, vendor.ID, "20.00", 1)

	variant, err := store.CreateVariant(ctx, db, a.ID, "Red", decimal.RequireFromString("-2.50"), 4)
	if err != nil {
		t.Fatalf("Create variant: %v", err)
	}

	p, err := store.NewCatalog(db).Priceable(ctx, a.ID, &variant.ID)
	if err != nil {
		t.Fatalf("Priceable: %v", err)
	}
	if !p.UnitPrice.Equal(decimal.RequireFromString("17.50")) || p.Stock != 4 {
		t.Errorf("Unexpected variant priceable: price=%s stock=%d", p.UnitPrice, p.Stock)
	}
	if !p.CommissionRate.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected vendor rate 12.5, got %s", p.CommissionRate)
	}

	if _, err := store.GetPriceable(ctx, db, b.ID, &variant.ID); !errors.Is(err, apperr.ErrProductNotFound) {
		t.Errorf("Expected product_not_found for foreign variant, got %v", err)
	}
}

func TestCompareAndSwapStockRejectsStaleVersion(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	vendor := testdb.Vendor(t, db, "10")
	product := testdb.Product(t, db, vendor.ID, "1.00", 5)

	level, err := store.ReadStock(ctx, db, product.ID, nil)
	if err != nil {
		t.Fatalf("Read stock: %v", err)
	}

	ok, err := store.CompareAndSwapStock(ctx, db, product.ID, nil, level.Version, 4)
	if err != nil || !ok {
		t.Fatalf("Expected first swap to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.CompareAndSwapStock(ctx, db, product.ID, nil, level.Version, 3)
	if err != nil {
		t.Fatalf("Second swap: %v", err)
	}
	if ok {
		t.Error("Expected stale version to be rejected")
	}
	if got := testdb.Stock(t, db, product.ID, nil); got != 4 {
		t.Errorf("Expected stock 4, got %d", got)
	}
}

func TestDirectoryAndVendorAdmin(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	dir := store.NewDirectory(db)

	buyer := testdb.Buyer(t, db)
	vendor, err := store.CreateUser(ctx, db, store.NewUser{
		Email: "new-vendor@example.test",
		Name:  "New Vendor",
		Role:  models.RoleVendor,
	})
	if err != nil {
		t.Fatalf("Create vendor: %v", err)
	}
	if !vendor.CommissionRate.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected default rate 10, got %s", vendor.CommissionRate)
	}

	role, err := dir.Role(ctx, buyer.ID)
	if err != nil || role != models.RoleBuyer {
		t.Errorf("Expected buyer role, got %v (%v)", role, err)
	}
	if _, err := dir.Role(ctx, vendor.ID+1000); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("Expected user_not_found, got %v", err)
	}

	page, err := store.ListVendors(ctx, db, true, 1, 10)
	if err != nil {
		t.Fatalf("List vendors: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Expected 1 unverified vendor, got %d", page.Total)
	}

	if ok, _ := dir.IsVendorVerified(ctx, vendor.ID); ok {
		t.Error("Expected vendor to start unverified")
	}
	if err := store.SetVendorVerified(ctx, db, vendor.ID, true); err != nil {
		t.Fatalf("Verify vendor: %v", err)
	}
	if ok, _ := dir.IsVendorVerified(ctx, vendor.ID); !ok {
		t.Error("Expected vendor to be verified")
	}
	if ok, _ := dir.IsVendorVerified(ctx, buyer.ID); ok {
		t.Error("Expected buyer never to be a verified vendor")
	}

	if err := store.SetCommissionRate(ctx, db, vendor.ID, decimal.RequireFromString("7.5")); err != nil {
		t.Fatalf("Set commission rate: %v", err)
	}
	if err := store.SetCommissionRate(ctx, db, buyer.ID, decimal.RequireFromString("7.5")); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("Expected user_not_found for non-vendor, got %v", err)
	}
}

func TestOutboxRepository(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	repo := store.NewOutboxRepository(db)

	first, err := store.EnqueueOutbox(ctx, db, models.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "1",
		EventType:     "order.placed",
		Payload:       []byte(`{"order_id":1}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Fatalf("Expected id and created_at to be set, got %+v", first)
	}
	if _, err := store.EnqueueOutbox(ctx, db, models.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "2",
		EventType:     "order.placed",
		Payload:       []byte(`{"order_id":2}`),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PendingCount != 2 || time.Since(stats.OldestPendingAt) > time.Minute {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID {
		t.Fatalf("Expected 2 messages oldest first, got %+v", pending)
	}

	if err := repo.MarkSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("Mark sent: %v", err)
	}
	if err := repo.MarkFailed(ctx, pending[1].ID); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	pending, err = repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending messages, got %d", len(pending))
	}

	if err := repo.MarkSent(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrOutboxMessageNotFound) {
		t.Errorf("Expected ErrOutboxMessageNotFound, got %v", err)
	}
}

func TestOutboxPullClaimsAndSkipsLockedRows(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()
	repo := store.NewOutboxRepository(db)

	msg, err := store.EnqueueOutbox(ctx, db, models.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "7",
		EventType:     "order.placed",
		Payload:       []byte(`{"order_id":7}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	holder, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin holder transaction: %v", err)
	}
	if _, err := holder.ExecContext(ctx, `SELECT id FROM outbox_messages WHERE id = $1 FOR UPDATE`, msg.ID); err != nil {
		t.Fatalf("Lock outbox row: %v", err)
	}
	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull while locked: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected locked row to be skipped, got %d messages", len(pending))
	}
	if err := holder.Rollback(); err != nil {
		t.Fatalf("Release outbox row: %v", err)
	}

	pending, err = repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("Expected the message to be claimed, got %+v", pending)
	}

	pending, err = repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull claimed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected claimed message to stay hidden, got %d messages", len(pending))
	}

	if _, err := db.ExecContext(ctx,
		`UPDATE outbox_messages SET claimed_until = NOW() - INTERVAL '1 second' WHERE id = $1`, msg.ID); err != nil {
		t.Fatalf("Expire claim: %v", err)
	}
	pending, err = repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("Pull expired: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected expired claim to be pulled again, got %d messages", len(pending))
	}
}
