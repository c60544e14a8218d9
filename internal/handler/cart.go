package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
)

const (
	cartSessionCookie = "cart_session"
	cartSessionHeader = "X-Cart-Session"

	cartSessionTTL = 8 * 24 * time.Hour
)

// cartSession extracts the cart session id from the request header or cookie.
func cartSession(r *http.Request) (string, bool) {
	if s := r.Header.Get(cartSessionHeader); s != "" {
		return s, true
	}
	if c, err := r.Cookie(cartSessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// ensureCartSession returns the request's cart session, minting a fresh one
// and setting the cookie when the caller has none yet.
func ensureCartSession(w http.ResponseWriter, r *http.Request) string {
	if s, ok := cartSession(r); ok {
		return s
	}
	s := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     cartSessionCookie,
		Value:    s,
		Path:     "/",
		MaxAge:   int(cartSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

type cartItemResponse struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	SessionID string             `json:"session_id"`
	Items     []cartItemResponse `json:"items"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := make([]cartItemResponse, len(c.Items))
	for i, it := range c.Items {
		items[i] = cartItemResponse{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return cartResponse{SessionID: c.SessionID, Items: items}
}

// handleGetCart returns the caller's cart. A session without a stored cart is
// simply an empty cart, not an error.
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	session := ensureCartSession(w, r)

	c, err := h.carts.Get(r.Context(), session)
	if errors.Is(err, cart.ErrNotFound) {
		writeJSON(w, http.StatusOK, cartResponse{SessionID: session, Items: []cartItemResponse{}})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type upsertCartItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// handleUpsertCartItem sets the quantity of one cart line, creating the cart
// on first use. Quantities outside bounds are rejected, never clamped.
func (h *Handler) handleUpsertCartItem(w http.ResponseWriter, r *http.Request) {
	session := ensureCartSession(w, r)

	var req upsertCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{400, "invalid_input", "malformed request body"})
		return
	}
	if err := cart.ValidateQuantity(req.VariantID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}

	// Only catalog variants can enter a cart.
	if _, err := h.catalog.GetByID(r.Context(), req.VariantID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{422, "invalid_input", "unknown variant"})
			return
		}
		writeError(w, r, err)
		return
	}

	c, err := h.carts.UpsertItem(r.Context(), session, cart.Item{
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		AddedAt:   time.Now(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// handleRemoveCartItem drops one line from the cart.
func (h *Handler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	session, ok := cartSession(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{404, "not_found", "no cart session"})
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), session, r.PathValue("variantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
