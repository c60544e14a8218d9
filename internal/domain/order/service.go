package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

// NotifyFunc is called after a fulfillment transition took effect, e.g. to
// queue a shipping confirmation. The default implementation only logs.
type NotifyFunc func(ctx context.Context, o *Order)

// Service drives fulfillment transitions for back-office callers. All status
// changes go through the state machine and a conditional store update; there
// are no direct status writes.
type Service struct {
	store        Store
	ledger       inventory.Ledger
	gateways     payment.Registry
	currency     string
	cancelWindow time.Duration
	notify       NotifyFunc
	now          func() time.Time
}

// NewService creates a fulfillment Service. cancelWindow bounds how long after
// payment an order can still be cancelled.
func NewService(store Store, ledger inventory.Ledger, gateways payment.Registry, currency string, cancelWindow time.Duration) *Service {
	return &Service{
		store:        store,
		ledger:       ledger,
		gateways:     gateways,
		currency:     currency,
		cancelWindow: cancelWindow,
		notify: func(ctx context.Context, o *Order) {
			zctx.From(ctx).Info("Order status notification",
				zap.String("order", o.Reference),
				zap.String("fulfillment_status", string(o.FulfillmentStatus)),
			)
		},
		now: time.Now,
	}
}

// SetNotifier replaces the default log-only notification hook.
func (s *Service) SetNotifier(fn NotifyFunc) { s.notify = fn }

// Advance moves an order's fulfillment one step forward
// (placed -> processing -> shipped -> delivered).
func (s *Service) Advance(ctx context.Context, reference string, to FulfillmentStatus) (*Order, error) {
	o, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	from := o.FulfillmentStatus
	if err := o.AdvanceFulfillment(to); err != nil {
		return nil, err
	}
	if err := s.store.SetFulfillmentStatus(ctx, reference, from, to); err != nil {
		return nil, err
	}

	s.notify(ctx, o)
	return o, nil
}

// Cancel cancels an order that has not shipped. Reservations go back to stock
// since nothing left the warehouse; a settled payment is refunded through its
// gateway, with the refund webhook closing the payment axis.
func (s *Service) Cancel(ctx context.Context, reference string) (*Order, error) {
	lg := zctx.From(ctx)

	o, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	from := o.FulfillmentStatus
	paymentStatus := o.PaymentStatus
	if err := o.Cancel(s.now(), s.cancelWindow); err != nil {
		return nil, err
	}
	if err := s.store.SetFulfillmentStatus(ctx, reference, from, FulfillmentCancelled); err != nil {
		return nil, err
	}

	switch paymentStatus {
	case PaymentPaid:
		gw, err := s.gateways.For(o.PaymentMethod)
		if err != nil {
			return nil, err
		}
		err = gw.Refund(ctx, payment.RefundRequest{
			OrderReference: o.Reference,
			TransactionID:  o.TransactionID,
			Amount:         o.TotalPrice,
			Currency:       s.currency,
		})
		if err != nil {
			return nil, errors.Wrap(err, "refund cancelled order")
		}
	case PaymentUnpaid, PaymentPending:
		// Close the payment axis so a late gateway notification cannot
		// release the stock a second time.
		if err := s.store.SetPaymentStatus(ctx, reference, paymentStatus, PaymentFailed, ""); err != nil {
			return nil, err
		}
		o.PaymentStatus = PaymentFailed
	}

	if err := inventory.ReleaseAll(ctx, s.ledger, o.Reservations()); err != nil {
		lg.Error("Releasing reservations after cancellation", zap.String("order", reference), zap.Error(err))
	}

	s.notify(ctx, o)
	return o, nil
}
