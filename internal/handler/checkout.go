package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vesna-shop/checkout-api/internal/domain/checkout"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

type checkoutRequest struct {
	Customer struct {
		Email              string `json:"email"`
		Phone              string `json:"phone_number"`
		Country            string `json:"country"`
		Address            string `json:"address"`
		City               string `json:"city"`
		PostalCode         string `json:"postal_code"`
		DeliveryAddress    string `json:"delivery_address"`
		DeliveryCity       string `json:"delivery_city"`
		DeliveryPostalCode string `json:"delivery_postal_code"`
	} `json:"customer"`
	PaymentMethod string          `json:"payment_method"`
	DeclaredTotal decimal.Decimal `json:"declared_total"`
}

type checkoutResponse struct {
	Reference     string `json:"reference"`
	PaymentStatus string `json:"payment_status"`
	Total         string `json:"total"`
	ClientSecret  string `json:"client_secret,omitempty"`
	ApprovalURL   string `json:"approval_url,omitempty"`
}

// handleCheckout turns the caller's cart into an order. The cart is addressed
// by the session carried in the cookie or header, never by a body field, so a
// checkout can only ever consume the caller's own cart.
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	session, ok := cartSession(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "no cart session"})
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "malformed request body"})
		return
	}

	result, err := h.checkout.CreateOrder(r.Context(), checkout.Request{
		CartSessionID: session,
		Customer: order.Customer{
			Email:              req.Customer.Email,
			Phone:              req.Customer.Phone,
			Country:            req.Customer.Country,
			Address:            req.Customer.Address,
			City:               req.Customer.City,
			PostalCode:         req.Customer.PostalCode,
			DeliveryAddress:    req.Customer.DeliveryAddress,
			DeliveryCity:       req.Customer.DeliveryCity,
			DeliveryPostalCode: req.Customer.DeliveryPostalCode,
		},
		PaymentMethod: req.PaymentMethod,
		DeclaredTotal: req.DeclaredTotal,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		Reference:     result.Order.Reference,
		PaymentStatus: string(result.Order.PaymentStatus),
		Total:         result.Order.TotalPrice.StringFixed(2),
		ClientSecret:  result.ClientSecret,
		ApprovalURL:   result.ApprovalURL,
	})
}

type walletExecuteRequest struct {
	Reference  string `json:"reference"`
	ProviderID string `json:"provider_order_id"`
	PayerID    string `json:"payer_id"`
}

// handleWalletExecute completes a wallet payment after the customer returns
// from the provider's approval page.
func (h *Handler) handleWalletExecute(w http.ResponseWriter, r *http.Request) {
	var req walletExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "malformed request body"})
		return
	}
	if req.Reference == "" || req.ProviderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "reference and provider_order_id are required"})
		return
	}

	o, err := h.checkout.ConfirmWalletPayment(r.Context(), req.Reference, req.ProviderID, req.PayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Reference:     o.Reference,
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.TotalPrice.StringFixed(2),
	})
}
