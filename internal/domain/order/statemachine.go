package order

import (
	"fmt"
	"time"
)

// InvalidTransitionError rejects a state change the order's machine forbids.
// The original state is preserved.
type InvalidTransitionError struct {
	Axis string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Axis, e.From, e.To)
}

func invalidPayment(from, to PaymentStatus) error {
	return &InvalidTransitionError{Axis: "payment", From: string(from), To: string(to)}
}

func invalidFulfillment(from, to FulfillmentStatus) error {
	return &InvalidTransitionError{Axis: "fulfillment", From: string(from), To: string(to)}
}

// BeginPayment moves a freshly created order into pending once a payment
// attempt is in flight (gateway intent created or offline method selected).
func (o *Order) BeginPayment() error {
	if o.PaymentStatus != PaymentUnpaid {
		return invalidPayment(o.PaymentStatus, PaymentPending)
	}
	o.PaymentStatus = PaymentPending
	return nil
}

// MarkPaid records a confirmed gateway charge. Only the webhook reconciler
// and synchronous gateway confirmations reach this; it is terminal on the
// payment axis apart from refunds.
func (o *Order) MarkPaid(transactionID string, at time.Time) error {
	switch o.PaymentStatus {
	case PaymentUnpaid, PaymentPending:
		o.PaymentStatus = PaymentPaid
		o.TransactionID = transactionID
		o.PaidAt = &at
		return nil
	default:
		return invalidPayment(o.PaymentStatus, PaymentPaid)
	}
}

// MarkFailed records a declined or timed-out payment attempt. The caller is
// responsible for releasing the order's reservations afterwards.
func (o *Order) MarkFailed() error {
	switch o.PaymentStatus {
	case PaymentUnpaid, PaymentPending:
		o.PaymentStatus = PaymentFailed
		return nil
	default:
		return invalidPayment(o.PaymentStatus, PaymentFailed)
	}
}

// MarkRefunded is reachable only from paid.
func (o *Order) MarkRefunded() error {
	if o.PaymentStatus != PaymentPaid {
		return invalidPayment(o.PaymentStatus, PaymentRefunded)
	}
	o.PaymentStatus = PaymentRefunded
	return nil
}

// AdvanceFulfillment moves the fulfillment axis forward one step:
// placed -> processing -> shipped -> delivered.
func (o *Order) AdvanceFulfillment(to FulfillmentStatus) error {
	valid := map[FulfillmentStatus]FulfillmentStatus{
		FulfillmentPlaced:     FulfillmentProcessing,
		FulfillmentProcessing: FulfillmentShipped,
		FulfillmentShipped:    FulfillmentDelivered,
	}
	if next, ok := valid[o.FulfillmentStatus]; !ok || next != to {
		return invalidFulfillment(o.FulfillmentStatus, to)
	}
	o.FulfillmentStatus = to
	return nil
}

// Cancel is allowed from placed/processing while payment has not settled, or
// within the cancellation window after the order was paid.
func (o *Order) Cancel(now time.Time, window time.Duration) error {
	if o.FulfillmentStatus != FulfillmentPlaced && o.FulfillmentStatus != FulfillmentProcessing {
		return invalidFulfillment(o.FulfillmentStatus, FulfillmentCancelled)
	}
	if o.PaymentStatus == PaymentPaid {
		if o.PaidAt == nil || now.Sub(*o.PaidAt) > window {
			return invalidFulfillment(o.FulfillmentStatus, FulfillmentCancelled)
		}
	}
	o.FulfillmentStatus = FulfillmentCancelled
	return nil
}
