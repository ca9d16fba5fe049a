package httpapi

import (
	"net/http"
	"strings"

	"github.com/safar/go-marketplace/internal/models"
)

type createPayoutRequest struct {
	// EarningIDs selects the earnings to batch; empty means every pending one.
	EarningIDs []int64 `json:"earning_ids"`
	Note       string  `json:"note"`
}

func (h *handlers) vendorMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	from, to, err := dayRange(r, h.now())
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	rows, err := h.Backoffice.VendorMetrics(ctx, actor(r), vendorID, from, to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendor_id": vendorID, "days": rows})
}

func (h *handlers) listEarnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	status := models.EarningStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))

	earnings, err := h.Payouts.ListEarnings(ctx, actor(r), vendorID, status)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": earnings})
}

func (h *handlers) earningTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	totals, err := h.Payouts.Totals(ctx, actor(r), vendorID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *handlers) listPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	payouts, err := h.Payouts.ListPayouts(ctx, actor(r), vendorID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payouts})
}

func (h *handlers) createPayout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}
	var req createPayoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(ctx, w, invalidRequest(err.Error()))
		return
	}

	var p *models.VendorPayout
	if len(req.EarningIDs) == 0 {
		p, err = h.Payouts.CreatePayoutForPending(ctx, actor(r), vendorID, req.Note)
	} else {
		p, err = h.Payouts.CreatePayout(ctx, actor(r), vendorID, req.EarningIDs, req.Note)
	}
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
