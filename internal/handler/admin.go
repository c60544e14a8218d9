package handler

import (
	"encoding/json"
	"net/http"

	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

type fulfillmentRequest struct {
	FulfillmentStatus string `json:"fulfillment_status"`
}

// handleSetFulfillment is the back-office endpoint for moving an order along
// the fulfillment axis. Cancellation refunds and restocks; everything else is
// a one-step advance.
func (h *Handler) handleSetFulfillment(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")

	var req fulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "malformed request body"})
		return
	}

	var (
		o   *order.Order
		err error
	)
	switch to := order.FulfillmentStatus(req.FulfillmentStatus); to {
	case order.FulfillmentProcessing, order.FulfillmentShipped, order.FulfillmentDelivered:
		o, err = h.fulfillment.Advance(r.Context(), reference, to)
	case order.FulfillmentCancelled:
		o, err = h.fulfillment.Cancel(r.Context(), reference)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "unknown fulfillment status"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
