package handler

import (
	"net/http"
	"time"

	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

type orderLineResponse struct {
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type orderResponse struct {
	Reference         string              `json:"reference"`
	PaymentStatus     string              `json:"payment_status"`
	FulfillmentStatus string              `json:"fulfillment_status"`
	PaymentMethod     string              `json:"payment_method"`
	Lines             []orderLineResponse `json:"lines"`
	ShippingCost      string              `json:"shipping_cost"`
	Total             string              `json:"total"`
	CreatedAt         time.Time           `json:"created_at"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
}

// handleGetOrder looks an order up by its external reference. Internal ids
// and gateway secrets never appear in the response.
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByReference(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *order.Order) orderResponse {
	lines := make([]orderLineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLineResponse{
			VariantID: l.VariantID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Quantity:  l.Quantity,
		}
	}
	return orderResponse{
		Reference:         o.Reference,
		PaymentStatus:     string(o.PaymentStatus),
		FulfillmentStatus: string(o.FulfillmentStatus),
		PaymentMethod:     string(o.PaymentMethod),
		Lines:             lines,
		ShippingCost:      o.ShippingCost.StringFixed(2),
		Total:             o.TotalPrice.StringFixed(2),
		CreatedAt:         o.CreatedAt,
		PaidAt:            o.PaidAt,
	}
}
