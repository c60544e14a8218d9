package webhook

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

// Verifier checks a raw payload against its signature header.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) error
}

// Provider bundles everything needed to handle one gateway's webhooks.
type Provider struct {
	// SignatureHeader is the HTTP header carrying the payload signature.
	SignatureHeader string
	Verifier        Verifier
	Parse           ParseFunc
}

// Reconciler verifies and idempotently applies asynchronous gateway
// notifications to orders. Gateways are treated as adversarial, unordered
// senders: every transition is guarded by the order state machine and a
// conditional store update, independent of delivery order.
type Reconciler struct {
	providers map[string]Provider
	orders    order.Store
	ledger    inventory.Ledger
	now       func() time.Time
}

// NewReconciler creates a Reconciler for the given provider set.
func NewReconciler(providers map[string]Provider, orders order.Store, ledger inventory.Ledger) *Reconciler {
	return &Reconciler{
		providers: providers,
		orders:    orders,
		ledger:    ledger,
		now:       time.Now,
	}
}

// SignatureHeader returns the signature header name for a provider, or false
// when the provider is not configured.
func (r *Reconciler) SignatureHeader(provider string) (string, bool) {
	p, ok := r.providers[provider]
	if !ok {
		return "", false
	}
	return p.SignatureHeader, true
}

// Handle verifies the payload signature, parses the event, and applies it to
// the referenced order exactly once. Replays of an already-applied event
// (same transaction id, same target state) return nil so the gateway stops
// retrying; transitions the state machine forbids return
// *order.InvalidTransitionError and leave the order untouched.
func (r *Reconciler) Handle(ctx context.Context, provider string, payload []byte, signatureHeader string) error {
	lg := zctx.From(ctx).With(zap.String("provider", provider))

	p, ok := r.providers[provider]
	if !ok {
		return errors.Wrapf(ErrUnknownProvider, "%q", provider)
	}

	if err := p.Verifier.Verify(payload, signatureHeader); err != nil {
		lg.Warn("Webhook signature verification failed", zap.Error(err))
		return ErrInvalidSignature
	}

	ev, err := p.Parse(payload)
	if err != nil {
		lg.Warn("Webhook payload rejected", zap.Error(err))
		return err
	}

	lg = lg.With(
		zap.String("event", string(ev.Type)),
		zap.String("order", ev.OrderReference),
		zap.String("transaction", ev.TransactionID),
	)

	// Conditional updates can lose a race to a concurrent delivery of the
	// same event; one reload is enough to observe the winner's result.
	for attempt := 0; attempt < 2; attempt++ {
		err := r.apply(ctx, lg, ev)
		if errors.Is(err, order.ErrStale) {
			continue
		}
		return err
	}
	return errors.Wrap(order.ErrStale, "webhook apply retry exhausted")
}

func (r *Reconciler) apply(ctx context.Context, lg *zap.Logger, ev *Event) error {
	o, err := r.orders.GetByReference(ctx, ev.OrderReference)
	if err != nil {
		return errors.Wrapf(err, "load order %s", ev.OrderReference)
	}

	if r.alreadyApplied(o, ev) {
		lg.Info("Webhook replay acknowledged as no-op")
		return nil
	}

	from := o.PaymentStatus
	switch ev.Type {
	case EventPaymentConfirmed:
		if err := o.MarkPaid(ev.TransactionID, r.now()); err != nil {
			return err
		}
		if err := r.orders.SetPaymentStatus(ctx, o.Reference, from, order.PaymentPaid, ev.TransactionID); err != nil {
			return err
		}
		// Reservation is confirmed by keeping it: paid stock stays decremented.
		lg.Info("Order marked paid")
		return nil

	case EventPaymentFailed:
		if err := o.MarkFailed(); err != nil {
			return err
		}
		if err := r.orders.SetPaymentStatus(ctx, o.Reference, from, order.PaymentFailed, ev.TransactionID); err != nil {
			return err
		}
		if err := inventory.ReleaseAll(ctx, r.ledger, o.Reservations()); err != nil {
			lg.Error("Releasing reservations after failed payment", zap.Error(err))
		}
		lg.Info("Order marked failed, stock released")
		return nil

	case EventRefund:
		if err := o.MarkRefunded(); err != nil {
			return err
		}
		if err := r.orders.SetPaymentStatus(ctx, o.Reference, from, order.PaymentRefunded, ""); err != nil {
			return err
		}
		lg.Info("Order marked refunded")
		return nil

	default:
		return errors.Wrapf(ErrUnknownEvent, "event type %q", ev.Type)
	}
}

// alreadyApplied reports whether this event already took effect: the order is
// in the event's target state, and for confirmations the transaction matches.
func (r *Reconciler) alreadyApplied(o *order.Order, ev *Event) bool {
	switch ev.Type {
	case EventPaymentConfirmed:
		return o.PaymentStatus == order.PaymentPaid && o.TransactionID == ev.TransactionID
	case EventPaymentFailed:
		// No money moved either way. Orders failed locally (gateway error,
		// sweep, cancellation) carry no transaction id, and a failure
		// notification for them must still ack or the gateway retries
		// forever.
		return o.PaymentStatus == order.PaymentFailed
	case EventRefund:
		// Refund deliveries carry the refund's own id, not the original
		// charge id, so the target state alone identifies a replay.
		return o.PaymentStatus == order.PaymentRefunded
	}
	return false
}
