package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/domain/pricing"
)

// Sentinel errors for checkout.
var (
	ErrEmptyCart = errors.New("cart is empty")
)

// InvalidInputError rejects malformed customer input before any reservation
// is taken.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PriceMismatchError rejects a checkout whose client-declared total diverges
// from the server-computed total beyond the verification epsilon. The order
// is not created.
type PriceMismatchError struct {
	Declared decimal.Decimal
	Computed decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("declared total %s does not match computed total %s", e.Declared, e.Computed)
}

// Request is a checkout intent submitted by the client. DeclaredTotal is the
// total the client displayed to the customer; it is verified against the
// server-computed truth and never used for charging.
type Request struct {
	CartSessionID string
	Customer      order.Customer
	PaymentMethod string
	DeclaredTotal decimal.Decimal
}

// Result is a successfully created order plus whatever the client needs to
// finish the payment.
type Result struct {
	Order *order.Order
	// ClientSecret is set for the card flow.
	ClientSecret string
	// ApprovalURL is set for the wallet redirect flow.
	ApprovalURL string
}

// priceEpsilon tolerates sub-cent float drift in client-declared totals.
var priceEpsilon = decimal.RequireFromString("0.01")

// Service orchestrates cart -> pricing -> inventory -> order -> gateway. It
// owns the atomicity boundary: reservation decrements and the pending order
// insert commit together; the gateway call happens after that commit so a
// slow provider never holds locks on stock rows.
type Service struct {
	carts    cart.Repository
	pricing  *pricing.Engine
	orders   order.Store
	ledger   inventory.Ledger
	gateways payment.Registry
	currency string
	now      func() time.Time
}

// NewService creates the checkout orchestrator.
func NewService(
	carts cart.Repository,
	engine *pricing.Engine,
	orders order.Store,
	ledger inventory.Ledger,
	gateways payment.Registry,
	currency string,
) *Service {
	return &Service{
		carts:    carts,
		pricing:  engine,
		orders:   orders,
		ledger:   ledger,
		gateways: gateways,
		currency: currency,
		now:      time.Now,
	}
}

// CreateOrder turns a cart into a durable order and initiates payment.
//
// The cart claim is the first durable action: a concurrent double submit of
// the same cart loses the claim and fails with cart.ErrAlreadyCheckedOut. On
// any later failure the claim is reverted and reservations released, so no
// order row is left silently pending without a payment attempt in flight.
func (s *Service) CreateOrder(ctx context.Context, req Request) (*Result, error) {
	lg := zctx.From(ctx)

	method, err := validateCustomer(req)
	if err != nil {
		return nil, err
	}

	// Atomic claim: exactly one concurrent checkout observes the cart.
	c, err := s.carts.Claim(ctx, req.CartSessionID)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		s.unclaim(ctx, req.CartSessionID)
		return nil, ErrEmptyCart
	}

	items := make([]pricing.Item, len(c.Items))
	for i, it := range c.Items {
		if err := cart.ValidateQuantity(it.VariantID, it.Quantity); err != nil {
			s.unclaim(ctx, req.CartSessionID)
			return nil, &InvalidInputError{Field: "quantity", Reason: err.Error()}
		}
		items[i] = pricing.Item{VariantID: it.VariantID, Quantity: it.Quantity}
	}

	dest := pricing.Destination{Country: req.Customer.Country}
	quote, err := s.pricing.ComputeTotal(ctx, items, dest)
	if err != nil {
		s.unclaim(ctx, req.CartSessionID)
		return nil, err
	}

	// Verify the client's declared total before taking any reservation.
	if quote.Total.Sub(req.DeclaredTotal).Abs().GreaterThan(priceEpsilon) {
		s.unclaim(ctx, req.CartSessionID)
		return nil, &PriceMismatchError{Declared: req.DeclaredTotal, Computed: quote.Total}
	}

	o := &order.Order{
		ID:                uuid.New().String(),
		Reference:         order.NewReference(),
		Customer:          req.Customer,
		ShippingCost:      quote.ShippingCost,
		TotalPrice:        quote.Total,
		PaymentMethod:     method,
		PaymentStatus:     order.PaymentUnpaid,
		FulfillmentStatus: order.FulfillmentPlaced,
		CreatedAt:         s.now(),
	}
	o.Lines = make([]order.Line, len(quote.Lines))
	for i, l := range quote.Lines {
		o.Lines[i] = order.Line{
			VariantID: l.VariantID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		}
	}

	// Reservations and the pending order commit together or not at all.
	if err := s.orders.CreateWithReservations(ctx, o); err != nil {
		s.unclaim(ctx, req.CartSessionID)
		return nil, err
	}

	result, err := s.initiatePayment(ctx, o, method)
	if err != nil {
		// The order exists; fail it, give the stock back, and return the
		// cart to the customer.
		s.failOrder(ctx, o)
		s.unclaim(ctx, req.CartSessionID)
		return nil, err
	}

	if err := s.carts.Clear(ctx, req.CartSessionID); err != nil {
		lg.Error("Clearing cart after checkout", zap.String("order", o.Reference), zap.Error(err))
	}

	lg.Info("Order created",
		zap.String("order", o.Reference),
		zap.String("method", string(method)),
		zap.String("total", o.TotalPrice.String()),
	)
	return result, nil
}

// initiatePayment invokes the gateway with the canonical total. The amount is
// recomputed from the immutable snapshot immediately before the charge, so a
// stale in-memory figure can never reach the provider.
func (s *Service) initiatePayment(ctx context.Context, o *order.Order, method payment.Method) (*Result, error) {
	if method.Offline() {
		if err := s.orders.BeginPayment(ctx, o.Reference, "", "", ""); err != nil {
			return nil, err
		}
		o.PaymentStatus = order.PaymentPending
		return &Result{Order: o}, nil
	}

	gw, err := s.gateways.For(method)
	if err != nil {
		return nil, err
	}

	amount := o.SnapshotTotal()
	if !amount.Equal(o.TotalPrice) {
		return nil, errors.Errorf("snapshot total %s diverged from order total %s", amount, o.TotalPrice)
	}

	intent, err := gw.CreateIntent(ctx, payment.IntentRequest{
		OrderReference: o.Reference,
		Amount:         amount,
		Currency:       s.currency,
		CustomerEmail:  o.Customer.Email,
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.BeginPayment(ctx, o.Reference, intent.ProviderID, intent.ClientSecret, intent.ApprovalURL); err != nil {
		return nil, err
	}
	o.PaymentStatus = order.PaymentPending
	o.IntentID = intent.ProviderID
	o.ClientSecret = intent.ClientSecret
	o.ApprovalURL = intent.ApprovalURL

	return &Result{
		Order:        o,
		ClientSecret: intent.ClientSecret,
		ApprovalURL:  intent.ApprovalURL,
	}, nil
}

// ConfirmWalletPayment executes a wallet payment after the customer approved
// it on the provider's site. This is the synchronous confirmation path; the
// webhook reconciler remains authoritative for anything it does not cover.
func (s *Service) ConfirmWalletPayment(ctx context.Context, reference, providerID, payerID string) (*order.Order, error) {
	lg := zctx.From(ctx)

	o, err := s.orders.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	// The provider handle must be the one this order's checkout created. A
	// client-supplied id for some other (cheaper) payment would otherwise
	// mark this order paid off a charge for the wrong amount.
	if o.PaymentMethod != payment.MethodWallet {
		return nil, &InvalidInputError{Field: "reference", Reason: "order is not a wallet payment"}
	}
	if providerID == "" || providerID != o.IntentID {
		return nil, &InvalidInputError{Field: "provider_order_id", Reason: "does not match the order's payment"}
	}
	if o.PaymentStatus == order.PaymentPaid {
		// The webhook settled first; the redirect completion is a no-op.
		return o, nil
	}

	gw, err := s.gateways.For(payment.MethodWallet)
	if err != nil {
		return nil, err
	}

	res, err := gw.Confirm(ctx, payment.ConfirmRequest{
		OrderReference: reference,
		ProviderID:     providerID,
		PayerID:        payerID,
	})
	if err != nil {
		// Ambiguous outcome: leave the order pending for the webhook or the
		// sweep to resolve. Guessing paid here could double-charge.
		return nil, err
	}

	from := o.PaymentStatus
	if res.Succeeded {
		if err := o.MarkPaid(res.TransactionID, s.now()); err != nil {
			return nil, err
		}
		if err := s.orders.SetPaymentStatus(ctx, reference, from, order.PaymentPaid, res.TransactionID); err != nil {
			// The customer did pay: if the webhook got there first, hand
			// back the settled order instead of an error.
			if errors.Is(err, order.ErrStale) {
				settled, gerr := s.orders.GetByReference(ctx, reference)
				if gerr == nil && settled.PaymentStatus == order.PaymentPaid {
					lg.Info("Wallet payment already settled by webhook", zap.String("order", reference))
					return settled, nil
				}
			}
			return nil, err
		}
		lg.Info("Wallet payment confirmed", zap.String("order", reference))
		return o, nil
	}

	if err := o.MarkFailed(); err != nil {
		return nil, err
	}
	if err := s.orders.SetPaymentStatus(ctx, reference, from, order.PaymentFailed, res.TransactionID); err != nil {
		return nil, err
	}
	if err := inventory.ReleaseAll(ctx, s.ledger, o.Reservations()); err != nil {
		lg.Error("Releasing reservations after declined wallet payment", zap.Error(err))
	}
	return nil, &payment.GatewayError{Provider: "wallet", Err: errors.Errorf("payment declined: %s", res.Reason)}
}

// failOrder marks a just-created order failed and releases its stock. Best
// effort: the pending sweep is the backstop if any step fails here.
func (s *Service) failOrder(ctx context.Context, o *order.Order) {
	lg := zctx.From(ctx)
	if err := s.orders.SetPaymentStatus(ctx, o.Reference, o.PaymentStatus, order.PaymentFailed, ""); err != nil {
		lg.Error("Failing order after gateway error", zap.String("order", o.Reference), zap.Error(err))
		return
	}
	if err := inventory.ReleaseAll(ctx, s.ledger, o.Reservations()); err != nil {
		lg.Error("Releasing reservations after gateway error", zap.String("order", o.Reference), zap.Error(err))
	}
}

func (s *Service) unclaim(ctx context.Context, sessionID string) {
	if err := s.carts.Unclaim(ctx, sessionID); err != nil {
		zctx.From(ctx).Error("Reverting cart claim", zap.String("session", sessionID), zap.Error(err))
	}
}

// validateCustomer rejects malformed input early, before any stock is locked.
func validateCustomer(req Request) (payment.Method, error) {
	c := req.Customer
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return "", &InvalidInputError{Field: "email", Reason: "not a valid email address"}
	}
	required := []struct {
		field, value string
	}{
		{"address", c.Address},
		{"city", c.City},
		{"postal_code", c.PostalCode},
		{"phone_number", c.Phone},
	}
	for _, f := range required {
		if f.value == "" {
			return "", &InvalidInputError{Field: f.field, Reason: "required"}
		}
	}

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		return "", &InvalidInputError{Field: "payment_method", Reason: fmt.Sprintf("unknown method %q", req.PaymentMethod)}
	}
	return method, nil
}
