// Package testdb starts a throwaway Postgres for integration tests and seeds
// the rows most tests need.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
)

// New starts a postgres:14-alpine container, applies the migrations and
// returns a pool connected to it. The container is removed when t ends.
// Tests are skipped under -short.
func New(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(30)

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := database.Migrate(db, migrationsDir(), database.Up); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	return db
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

var seq atomic.Int64

func next() int64 {
	return seq.Add(1)
}

func Buyer(t *testing.T, db *sql.DB) *models.User {
	t.Helper()
	return user(t, db, models.RoleBuyer, nil)
}

func Admin(t *testing.T, db *sql.DB) *models.User {
	t.Helper()
	return user(t, db, models.RoleAdministrator, nil)
}

// Vendor creates a verified vendor with the given commission rate in percent.
func Vendor(t *testing.T, db *sql.DB, rate string) *models.User {
	t.Helper()
	r := decimal.RequireFromString(rate)
	return user(t, db, models.RoleVendor, &r)
}

func user(t *testing.T, db *sql.DB, role models.Role, rate *decimal.Decimal) *models.User {
	t.Helper()
	n := next()
	u, err := store.CreateUser(context.Background(), db, store.NewUser{
		Email:          fmt.Sprintf("%s-%d@example.test", role, n),
		Name:           fmt.Sprintf("%s %d", role, n),
		Role:           role,
		VendorVerified: role == models.RoleVendor,
		CommissionRate: rate,
	})
	if err != nil {
		t.Fatalf("Create %s: %v", role, err)
	}
	return u
}

// Product creates an active, approved product.
func Product(t *testing.T, db *sql.DB, vendorID int64, price string, stock int) *models.Product {
	t.Helper()
	p, err := store.CreateProduct(context.Background(), db, store.NewProduct{
		VendorID:       vendorID,
		SKU:            fmt.Sprintf("SKU-%d", next()),
		Name:           "Test Product",
		Price:          decimal.RequireFromString(price),
		StockQuantity:  stock,
		ApprovalStatus: models.ApprovalApproved,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return p
}

func Stock(t *testing.T, db *sql.DB, productID int64, variantID *int64) int {
	t.Helper()
	level, err := store.ReadStock(context.Background(), db, productID, variantID)
	if err != nil {
		t.Fatalf("Read stock: %v", err)
	}
	return level.Quantity
}

func Count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}
