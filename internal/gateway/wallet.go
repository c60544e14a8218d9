package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

// WalletConfig configures the redirect-wallet API client.
type WalletConfig struct {
	BaseURL   string
	ClientID  string
	Secret    string
	ReturnURL string
	CancelURL string
}

// WalletGateway implements payment.Gateway for the redirect flow: the
// customer approves the payment on the provider's site and is redirected
// back, after which Confirm executes the capture.
type WalletGateway struct {
	cfg  WalletConfig
	http httpDoer
}

var _ payment.Gateway = (*WalletGateway)(nil)

// NewWalletGateway creates a WalletGateway. A nil client uses a default with
// a 10s timeout.
func NewWalletGateway(cfg WalletConfig, client httpDoer) *WalletGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WalletGateway{cfg: cfg, http: client}
}

type walletOrderRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	CustomID  string `json:"custom_id"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type walletOrderResponse struct {
	ID          string `json:"id"`
	ApprovalURL string `json:"approval_url"`
	Status      string `json:"status"`
}

// CreateIntent creates a provider order and returns the approval URL the
// customer is redirected to. Idempotent by custom id, so transient failures
// retry.
func (g *WalletGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	in := walletOrderRequest{
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		CustomID:  req.OrderReference,
		ReturnURL: g.cfg.ReturnURL,
		CancelURL: g.cfg.CancelURL,
	}
	headers := map[string]string{
		"Authorization":   "Basic " + basicAuth(g.cfg.ClientID, g.cfg.Secret),
		"Idempotency-Key": req.OrderReference,
	}

	var out walletOrderResponse
	err := retryTransient(ctx, func() error {
		return postJSON(ctx, g.http, "wallet", g.cfg.BaseURL+"/v2/checkout/orders", headers, in, &out)
	})
	if err != nil {
		return nil, err
	}

	return &payment.Intent{
		ProviderID:  out.ID,
		ApprovalURL: out.ApprovalURL,
	}, nil
}

type walletCaptureRequest struct {
	PayerID string `json:"payer_id"`
}

type walletCaptureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Confirm captures an approved wallet payment. Capture is not safely
// retryable: an ambiguous timeout here is surfaced as-is and the order stays
// pending for the webhook or the sweep to resolve.
func (g *WalletGateway) Confirm(ctx context.Context, req payment.ConfirmRequest) (*payment.ConfirmResult, error) {
	in := walletCaptureRequest{PayerID: req.PayerID}
	headers := map[string]string{
		"Authorization": "Basic " + basicAuth(g.cfg.ClientID, g.cfg.Secret),
	}

	var out walletCaptureResponse
	url := g.cfg.BaseURL + "/v2/checkout/orders/" + req.ProviderID + "/capture"
	if err := postJSON(ctx, g.http, "wallet", url, headers, in, &out); err != nil {
		return nil, err
	}

	return &payment.ConfirmResult{
		TransactionID: out.ID,
		Succeeded:     out.Status == "COMPLETED",
		Reason:        out.Reason,
	}, nil
}

type walletRefundRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Refund reverses a captured wallet payment.
func (g *WalletGateway) Refund(ctx context.Context, req payment.RefundRequest) error {
	in := walletRefundRequest{
		Amount:   req.Amount.StringFixed(2),
		Currency: req.Currency,
	}
	headers := map[string]string{
		"Authorization":   "Basic " + basicAuth(g.cfg.ClientID, g.cfg.Secret),
		"Idempotency-Key": "refund-" + req.OrderReference,
	}
	url := g.cfg.BaseURL + "/v2/payments/captures/" + req.TransactionID + "/refund"
	return retryTransient(ctx, func() error {
		return postJSON(ctx, g.http, "wallet", url, headers, in, nil)
	})
}
