package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method identifies how the customer pays.
type Method string

const (
	// MethodCard is the card-network intent flow: an intent is created
	// server-side and confirmed client-side with the returned secret.
	MethodCard Method = "card"
	// MethodWallet is the redirect flow: the customer approves the payment
	// on the provider's site and is redirected back for execution.
	MethodWallet Method = "wallet"
	// MethodCashOnDelivery and MethodBankTransfer are offline methods: the
	// order stays pending until settled out of band.
	MethodCashOnDelivery Method = "cashOnDelivery"
	MethodBankTransfer   Method = "bankTransfer"
)

// ErrUnknownMethod is returned for a payment method the registry cannot serve.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates a client-supplied payment method selector.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCard, MethodWallet, MethodCashOnDelivery, MethodBankTransfer:
		return m, nil
	default:
		return "", ErrUnknownMethod
	}
}

// Offline reports whether the method settles without a gateway call.
func (m Method) Offline() bool {
	return m == MethodCashOnDelivery || m == MethodBankTransfer
}

// IntentRequest carries the server-canonical charge amount. The order
// reference doubles as the idempotency key and is embedded in gateway
// metadata so webhooks can look the order up without trusting client input.
type IntentRequest struct {
	OrderReference string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
}

// Intent is the provider-side handle for a not-yet-settled charge.
type Intent struct {
	ProviderID string
	// ClientSecret is set for the card flow and handed to the client for
	// confirmation.
	ClientSecret string
	// ApprovalURL is set for the wallet flow; the customer is redirected
	// there to approve the payment.
	ApprovalURL string
}

// ConfirmRequest finalizes a charge after client-side approval.
type ConfirmRequest struct {
	OrderReference string
	ProviderID     string
	// PayerID is the wallet provider's payer handle from the redirect.
	PayerID string
}

// ConfirmResult reports the outcome of a synchronous confirmation.
type ConfirmResult struct {
	TransactionID string
	Succeeded     bool
	Reason        string
}

// RefundRequest reverses a settled charge.
type RefundRequest struct {
	OrderReference string
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
}

// GatewayError wraps a provider failure. Transient errors are retry-safe for
// idempotent calls; everything else must be surfaced, never retried blindly.
type GatewayError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway is the uniform surface over heterogeneous payment providers.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// Registry resolves the gateway responsible for a payment method.
type Registry map[Method]Gateway

// For returns the gateway for m or ErrUnknownMethod.
func (r Registry) For(m Method) (Gateway, error) {
	g, ok := r[m]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "method %q", m)
	}
	return g, nil
}
