package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/store"
)

type createUserRequest struct {
	Email          string           `json:"email"`
	Name           string           `json:"name"`
	Role           models.Role      `json:"role"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
	VendorVerified bool             `json:"vendor_verified"`
}

type verifyRequest struct {
	Verified *bool `json:"verified"`
}

type commissionRequest struct {
	Rate *decimal.Decimal `json:"rate"`
}

type approvalRequest struct {
	Status string `json:"status"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type completePayoutRequest struct {
	ExternalReference string `json:"external_reference"`
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Role == 0 {
		writeAPIError(ctx, w, invalidRequest("email and role are required"))
		return
	}

	user, err := h.Backoffice.CreateUser(ctx, actor(r), store.NewUser{
		Email:          req.Email,
		Name:           req.Name,
		Role:           req.Role,
		VendorVerified: req.VendorVerified,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *handlers) listVendors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, size, ok := h.pageParams(w, r)
	if !ok {
		return
	}
	unverified, _ := strconv.ParseBool(r.URL.Query().Get("unverified"))

	result, err := h.Backoffice.ListVendors(ctx, actor(r), unverified, page, size)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) verifyVendor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}

	if err := h.Backoffice.VerifyVendor(ctx, actor(r), vendorID, verified); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "verified": verified})
}

func (h *handlers) setCommission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req commissionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	if req.Rate == nil {
		writeAPIError(ctx, w, invalidRequest("rate is required"))
		return
	}

	if err := h.Backoffice.SetCommissionRate(ctx, actor(r), vendorID, *req.Rate); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "commission_rate": req.Rate})
}

func (h *handlers) pendingProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, size, ok := h.pageParams(w, r)
	if !ok {
		return
	}

	result, err := h.Backoffice.PendingProducts(ctx, actor(r), page, size)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) reviewProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, err := pathID(r, "productID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	status := models.ApprovalStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	product, err := h.Backoffice.ReviewProduct(ctx, actor(r), productID, status)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *handlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, err := pathID(r, "productID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	if err := h.Backoffice.DeleteProduct(ctx, actor(r), productID); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) approveTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txnID, err := pathID(r, "transactionID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req noteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	result, err := h.Settlement.Approve(ctx, actor(r), txnID, req.Note)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction":      result.Transaction,
		"earnings":         result.Earnings,
		"already_approved": result.AlreadyApproved,
	})
}

func (h *handlers) completePayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := pathID(r, "payoutID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req completePayoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	p, err := h.Payouts.CompletePayout(ctx, actor(r), payoutID, req.ExternalReference)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) failPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payoutID, err := pathID(r, "payoutID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req noteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	p, err := h.Payouts.FailPayout(ctx, actor(r), payoutID, req.Note)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) platformMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := dayRange(r, h.now())
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	rows, err := h.Backoffice.PlatformMetrics(ctx, actor(r), from, to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": rows})
}

func (h *handlers) pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, err := queryInt(r, "page", 1)
	if err == nil {
		var size int
		size, err = queryInt(r, "page_size", 0)
		if err == nil {
			return page, size, true
		}
	}
	writeAPIError(r.Context(), w, invalidRequest(err.Error()))
	return 0, 0, false
}
