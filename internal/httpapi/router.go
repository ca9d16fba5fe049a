// Package httpapi exposes the settlement engine as a JSON API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/authz"
	"github.com/safar/go-marketplace/internal/checkout"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/payment"
	"github.com/safar/go-marketplace/internal/settlement"
	"github.com/safar/go-marketplace/internal/store"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
)

type CheckoutService interface {
	GetCart(ctx context.Context, actor authz.Actor) (*models.Cart, error)
	AddToCart(ctx context.Context, actor authz.Actor, line models.CheckoutLine) (*models.Cart, error)
	UpdateCartItem(ctx context.Context, actor authz.Actor, itemID int64, quantity int) (*models.Cart, error)
	RemoveCartItem(ctx context.Context, actor authz.Actor, itemID int64) (*models.Cart, error)
	PlaceOrder(ctx context.Context, actor authz.Actor, req checkout.Request) (*models.Order, error)
}

type OrderService interface {
	Get(ctx context.Context, actor authz.Actor, orderID int64) (*models.Order, error)
	List(ctx context.Context, actor authz.Actor, cursor string, limit int) (*store.CursorPage[models.Order], error)
	Ship(ctx context.Context, actor authz.Actor, orderID int64, trackingNumber string) (*models.Order, error)
	Deliver(ctx context.Context, actor authz.Actor, orderID int64) (*models.Order, error)
	Cancel(ctx context.Context, actor authz.Actor, orderID int64, reason string) (*models.Order, error)
}

type PaymentService interface {
	RecordPayment(ctx context.Context, actor authz.Actor, orderID int64, outcome payment.Outcome) (*payment.Receipt, error)
	PayOrder(ctx context.Context, actor authz.Actor, orderID int64, method string) (*payment.Receipt, error)
}

type SettlementService interface {
	Approve(ctx context.Context, actor authz.Actor, transactionID int64, note string) (*settlement.Result, error)
}

type PayoutService interface {
	CreatePayout(ctx context.Context, actor authz.Actor, vendorID int64, earningIDs []int64, note string) (*models.VendorPayout, error)
	CreatePayoutForPending(ctx context.Context, actor authz.Actor, vendorID int64, note string) (*models.VendorPayout, error)
	CompletePayout(ctx context.Context, actor authz.Actor, payoutID int64, externalRef string) (*models.VendorPayout, error)
	FailPayout(ctx context.Context, actor authz.Actor, payoutID int64, note string) (*models.VendorPayout, error)
	ListPayouts(ctx context.Context, actor authz.Actor, vendorID int64) ([]models.VendorPayout, error)
	ListEarnings(ctx context.Context, actor authz.Actor, vendorID int64, status models.EarningStatus) ([]models.VendorEarning, error)
	Totals(ctx context.Context, actor authz.Actor, vendorID int64) (store.EarningTotals, error)
}

type BackofficeService interface {
	CreateUser(ctx context.Context, actor authz.Actor, u store.NewUser) (*models.User, error)
	ListVendors(ctx context.Context, actor authz.Actor, unverifiedOnly bool, page, pageSize int) (*store.OffsetPage[models.User], error)
	VerifyVendor(ctx context.Context, actor authz.Actor, vendorID int64, verified bool) error
	SetCommissionRate(ctx context.Context, actor authz.Actor, vendorID int64, rate decimal.Decimal) error
	ReviewProduct(ctx context.Context, actor authz.Actor, productID int64, status models.ApprovalStatus) (*models.Product, error)
	DeleteProduct(ctx context.Context, actor authz.Actor, productID int64) error
	PendingProducts(ctx context.Context, actor authz.Actor, page, pageSize int) (*store.OffsetPage[models.Product], error)
	PlatformMetrics(ctx context.Context, actor authz.Actor, from, to time.Time) ([]models.PlatformDailyMetrics, error)
	VendorMetrics(ctx context.Context, actor authz.Actor, vendorID int64, from, to time.Time) ([]models.VendorDailyMetrics, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services bundles the engine operations the router exposes.
type Services struct {
	Directory  authz.Directory
	Checkout   CheckoutService
	Orders     OrderService
	Payments   PaymentService
	Settlement SettlementService
	Payouts    PayoutService
	Backoffice BackofficeService
	Health     Pinger
	// Metrics serves /metrics. It defaults to the default Prometheus gatherer.
	Metrics http.Handler
}

type handlers struct {
	Services
	now func() time.Time
}

// NewRouter builds the chi router with the shared middleware stack.
func NewRouter(svc Services) chi.Router {
	h := &handlers{Services: svc, now: time.Now}
	if h.Metrics == nil {
		h.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(req.Context(), w, newAPIError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(req.Context(), w, newAPIError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", h.Metrics)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Use(requireActor(svc.Directory))

		api.Route("/cart", func(cr chi.Router) {
			cr.Get("/", h.getCart)
			cr.Post("/items", h.addCartItem)
			cr.Patch("/items/{itemID}", h.updateCartItem)
			cr.Delete("/items/{itemID}", h.removeCartItem)
		})
		api.Post("/checkout", h.checkout)

		api.Route("/orders", func(or chi.Router) {
			or.Get("/", h.listOrders)
			or.Get("/{orderID}", h.getOrder)
			or.Post("/{orderID}/payments", h.recordPayment)
			or.Post("/{orderID}/pay", h.payOrder)
			or.Post("/{orderID}/ship", h.shipOrder)
			or.Post("/{orderID}/deliver", h.deliverOrder)
			or.Post("/{orderID}/cancel", h.cancelOrder)
		})

		api.Route("/vendors/{vendorID}", func(vr chi.Router) {
			vr.Get("/metrics", h.vendorMetrics)
			vr.Get("/earnings", h.listEarnings)
			vr.Get("/earnings/totals", h.earningTotals)
			vr.Get("/payouts", h.listPayouts)
			vr.Post("/payouts", h.createPayout)
		})

		api.Route("/admin", func(ar chi.Router) {
			ar.Post("/users", h.createUser)
			ar.Get("/vendors", h.listVendors)
			ar.Post("/vendors/{vendorID}/verify", h.verifyVendor)
			ar.Put("/vendors/{vendorID}/commission", h.setCommission)
			ar.Get("/products/pending", h.pendingProducts)
			ar.Post("/products/{productID}/approval", h.reviewProduct)
			ar.Delete("/products/{productID}", h.deleteProduct)
			ar.Post("/transactions/{transactionID}/approve", h.approveTransaction)
			ar.Post("/payouts/{payoutID}/complete", h.completePayout)
			ar.Post("/payouts/{payoutID}/fail", h.failPayout)
			ar.Get("/metrics/platform", h.platformMetrics)
		})
	})

	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.Health != nil {
		if err := h.Health.PingContext(r.Context()); err != nil {
			log.WithError(err).Warn("health check failed")
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// actor returns the resolved caller. requireActor guarantees it is present
// on every /api/v1 route.
func actor(r *http.Request) authz.Actor {
	a, _ := actorFromContext(r.Context())
	return a
}
