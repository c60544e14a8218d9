package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/checkout"
	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/domain/pricing"
	"github.com/vesna-shop/checkout-api/internal/domain/webhook"
)

// errorResponse is the uniform error body. Kind is a stable machine-readable
// discriminator; Message is human-readable and never leaks internals.
type errorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error to its HTTP representation. Unrecognized
// errors are logged and collapsed to an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidInput *checkout.InvalidInputError
		invalidQty   *cart.InvalidQuantityError
		mismatch     *checkout.PriceMismatchError
		outOfStock   *inventory.OutOfStockError
		unknownVar   *pricing.UnknownVariantError
		unavailable  *pricing.VariantUnavailableError
		transition   *order.InvalidTransitionError
		gatewayErr   *payment.GatewayError
	)

	switch {
	case errors.As(err, &invalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", invalidInput.Error()})
	case errors.As(err, &invalidQty):
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", invalidQty.Error()})
	case errors.Is(err, checkout.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "empty_cart", "cart is empty"})
	case errors.Is(err, cart.ErrAlreadyCheckedOut):
		writeJSON(w, http.StatusConflict, errorResponse{409, "cart_already_checked_out", "cart was already submitted"})
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{422, "price_mismatch", mismatch.Error()})
	case errors.As(err, &outOfStock):
		writeJSON(w, http.StatusConflict, errorResponse{409, "out_of_stock", outOfStock.Error()})
	case errors.As(err, &unknownVar):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{422, "invalid_input", unknownVar.Error()})
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{422, "out_of_stock", unavailable.Error()})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorResponse{409, "invalid_transition", transition.Error()})
	case errors.Is(err, webhook.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_signature", "signature verification failed"})
	case errors.Is(err, webhook.ErrUnknownEvent):
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "unrecognized event payload"})
	case errors.Is(err, webhook.ErrUnknownProvider):
		writeJSON(w, http.StatusNotFound, errorResponse{404, "not_found", "unknown webhook provider"})
	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{404, "not_found", "resource not found"})
	case errors.As(err, &gatewayErr):
		// The provider's raw error stays in the logs, not the response.
		zctx.From(r.Context()).Warn("Gateway call failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{502, "gateway_error", "payment provider unavailable or payment rejected"})
	default:
		zctx.From(r.Context()).Error("Unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{500, "internal", "internal server error"})
	}
}
