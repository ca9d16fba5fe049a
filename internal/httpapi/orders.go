package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/checkout"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/payment"
)

type lineRequest struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (l lineRequest) line() models.CheckoutLine {
	return models.CheckoutLine{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type checkoutRequest struct {
	Lines           []lineRequest `json:"lines"`
	ShippingAddress string        `json:"shipping_address"`
	Notes           string        `json:"notes"`
}

type recordPaymentRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	Reference     string           `json:"reference"`
	Status        string           `json:"status"`
	PaymentMethod string           `json:"payment_method"`
	RawResponse   json.RawMessage  `json:"raw_response"`
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.Checkout.GetCart(r.Context(), actor(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *handlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req lineRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	if req.ProductID <= 0 {
		writeAPIError(ctx, w, invalidRequest("product_id is required"))
		return
	}

	cart, err := h.Checkout.AddToCart(ctx, actor(r), req.line())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *handlers) updateCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req quantityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	if req.Quantity == nil {
		writeAPIError(ctx, w, invalidRequest("quantity is required"))
		return
	}

	cart, err := h.Checkout.UpdateCartItem(ctx, actor(r), itemID, *req.Quantity)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *handlers) removeCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	cart, err := h.Checkout.RemoveCartItem(ctx, actor(r), itemID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	lines := make([]models.CheckoutLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = l.line()
	}

	order, err := h.Checkout.PlaceOrder(ctx, actor(r), checkout.Request{
		Lines:           lines,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	page, err := h.Orders.List(ctx, actor(r), strings.TrimSpace(r.URL.Query().Get("cursor")), limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	order, err := h.Orders.Get(ctx, actor(r), orderID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req recordPaymentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	if req.Amount == nil {
		writeAPIError(ctx, w, invalidRequest("amount is required"))
		return
	}

	receipt, err := h.Payments.RecordPayment(ctx, actor(r), orderID, payment.Outcome{
		Amount:        *req.Amount,
		Reference:     strings.TrimSpace(req.Reference),
		Status:        models.GatewayStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		PaymentMethod: req.PaymentMethod,
		RawResponse:   req.RawResponse,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req payRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	receipt, err := h.Payments.PayOrder(ctx, actor(r), orderID, req.PaymentMethod)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req shipRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	order, err := h.Orders.Ship(ctx, actor(r), orderID, req.TrackingNumber)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	order, err := h.Orders.Deliver(ctx, actor(r), orderID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := pathID(r, "orderID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req cancelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	order, err := h.Orders.Cancel(ctx, actor(r), orderID, req.Reason)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
