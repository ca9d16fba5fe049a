package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/safar/go-marketplace/internal/apperr"
)

// apiError is the single JSON error envelope of the API.
type apiError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func newAPIError(code, message string, status int) apiError {
	return apiError{Code: code, Message: message, Status: status}
}

func writeAPIError(ctx context.Context, w http.ResponseWriter, e apiError) {
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if id := middleware.GetReqID(ctx); id != "" {
		payload["request_id"] = id
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	writeJSON(w, e.Status, payload)
}

// writeError maps an engine error onto the envelope. Errors that carry no
// engine code are logged and reported as internal without their text.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e == nil || e == apperr.ErrInternal {
		log.WithError(err).WithField("request_id", middleware.GetReqID(ctx)).Error("request failed")
		e = apperr.ErrInternal
	}

	out := newAPIError(e.Code, e.Message, statusFor(e.Kind))

	var checkout *apperr.CheckoutFailed
	if errors.As(err, &checkout) {
		out.Details = map[string]any{
			"checkout_failed": true,
			"line":            checkout.Line,
			"product_id":      checkout.ProductID,
		}
		if checkout.VariantID != nil {
			out.Details["variant_id"] = *checkout.VariantID
		}
	}

	writeAPIError(ctx, w, out)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindContention, apperr.KindIntegrity:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
