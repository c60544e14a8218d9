// Package handler exposes the checkout, cart, order and webhook HTTP
// endpoints, delegating business logic to the injected domain services.
package handler

import (
	"net/http"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/checkout"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/webhook"
)

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	checkout    *checkout.Service
	fulfillment *order.Service
	orders      order.Store
	carts       cart.Repository
	catalog     catalog.Repository
	reconciler  *webhook.Reconciler

	// adminAuth guards the back-office endpoints; nil means no guard, which
	// only tests use.
	adminAuth func(http.Handler) http.Handler
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	checkoutSvc *checkout.Service,
	fulfillment *order.Service,
	orders order.Store,
	carts cart.Repository,
	variants catalog.Repository,
	reconciler *webhook.Reconciler,
	adminAuth func(http.Handler) http.Handler,
) *Handler {
	return &Handler{
		checkout:    checkoutSvc,
		fulfillment: fulfillment,
		orders:      orders,
		carts:       carts,
		catalog:     variants,
		reconciler:  reconciler,
		adminAuth:   adminAuth,
	}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/checkout", h.handleCheckout)
	mux.HandleFunc("POST /api/payments/wallet/execute", h.handleWalletExecute)
	mux.HandleFunc("POST /api/webhooks/{provider}", h.handleWebhook)
	mux.HandleFunc("GET /api/orders/{reference}", h.handleGetOrder)

	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("POST /api/cart/items", h.handleUpsertCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{variantID}", h.handleRemoveCartItem)

	admin := http.Handler(http.HandlerFunc(h.handleSetFulfillment))
	if h.adminAuth != nil {
		admin = h.adminAuth(admin)
	}
	mux.Handle("PATCH /api/admin/orders/{reference}/status", admin)

	return mux
}
