package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

// CardConfig configures the card-network intent API client.
type CardConfig struct {
	BaseURL string
	APIKey  string
}

// CardGateway implements payment.Gateway for the card-network intent flow:
// an intent is created server-side with the canonical amount, the returned
// client secret is confirmed client-side, and settlement arrives via webhook.
type CardGateway struct {
	cfg  CardConfig
	http httpDoer
}

var _ payment.Gateway = (*CardGateway)(nil)

// NewCardGateway creates a CardGateway. A nil client uses a default with a
// 10s timeout.
func NewCardGateway(cfg CardConfig, client httpDoer) *CardGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CardGateway{cfg: cfg, http: client}
}

type cardIntentRequest struct {
	Amount      int64             `json:"amount"` // minor units
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// CreateIntent creates a payment intent for the canonical amount. The order
// reference rides along twice: as the idempotency key, so provider-side
// retries cannot create duplicate charges, and in metadata, so the webhook
// can locate the order without trusting client input.
func (g *CardGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	in := cardIntentRequest{
		Amount:      req.Amount.Shift(2).IntPart(),
		Currency:    req.Currency,
		Description: "Order " + req.OrderReference,
		Metadata: map[string]string{
			"order_reference": req.OrderReference,
			"customer_email":  req.CustomerEmail,
		},
	}
	headers := map[string]string{
		"Authorization":   "Bearer " + g.cfg.APIKey,
		"Idempotency-Key": req.OrderReference,
	}

	var out cardIntentResponse
	err := retryTransient(ctx, func() error {
		return postJSON(ctx, g.http, "card", g.cfg.BaseURL+"/v1/payment_intents", headers, in, &out)
	})
	if err != nil {
		return nil, err
	}

	return &payment.Intent{
		ProviderID:   out.ID,
		ClientSecret: out.ClientSecret,
	}, nil
}

// Confirm is not part of the card flow: confirmation happens client-side
// with the client secret, and the authoritative outcome arrives via webhook.
func (g *CardGateway) Confirm(_ context.Context, _ payment.ConfirmRequest) (*payment.ConfirmResult, error) {
	return nil, errors.New("card payments are confirmed client-side")
}

type cardRefundRequest struct {
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
}

// Refund reverses a settled card charge. The call is idempotent on the
// provider side keyed by the order reference, so transient failures retry.
func (g *CardGateway) Refund(ctx context.Context, req payment.RefundRequest) error {
	in := cardRefundRequest{
		PaymentIntent: req.TransactionID,
		Amount:        req.Amount.Shift(2).IntPart(),
	}
	headers := map[string]string{
		"Authorization":   "Bearer " + g.cfg.APIKey,
		"Idempotency-Key": "refund-" + req.OrderReference,
	}
	return retryTransient(ctx, func() error {
		return postJSON(ctx, g.http, "card", g.cfg.BaseURL+"/v1/refunds", headers, in, nil)
	})
}
