package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

// ErrNotFound is returned when no order exists for a reference.
var ErrNotFound = errors.New("order not found")

// ErrStale is returned by conditional status updates when the stored status
// no longer matches the expected one, i.e. a concurrent writer got there
// first.
var ErrStale = errors.New("order status changed concurrently")

// PaymentStatus is the payment axis of an order.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// FulfillmentStatus is the fulfillment axis of an order, independent of the
// payment axis.
type FulfillmentStatus string

const (
	FulfillmentPlaced     FulfillmentStatus = "placed"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

// Line is one line of the priced snapshot captured at order creation. Unit
// prices are frozen here and never recomputed from live catalog data.
type Line struct {
	VariantID string          `json:"variant_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Customer holds contact and address data collected at checkout. Guest
// checkouts carry only these fields; registered customers also set Ref.
type Customer struct {
	Ref                string
	Email              string
	Phone              string
	Country            string
	Address            string
	City               string
	PostalCode         string
	DeliveryAddress    string
	DeliveryCity       string
	DeliveryPostalCode string
}

// Order is the durable record of a checkout attempt. Lines, ShippingCost and
// TotalPrice are immutable after creation.
type Order struct {
	ID                string
	Reference         string
	Customer          Customer
	Lines             []Line
	ShippingCost      decimal.Decimal
	TotalPrice        decimal.Decimal
	PaymentMethod     payment.Method
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	// TransactionID is the gateway's identifier for the settled charge.
	TransactionID string
	// IntentID, ClientSecret and ApprovalURL hold gateway handles created
	// during checkout; which ones are set depends on the payment method.
	IntentID     string
	ClientSecret string
	ApprovalURL  string
	CreatedAt    time.Time
	PaidAt       *time.Time
}

// NewReference generates an externally shareable order reference. Internal
// ids never leave the API; references are what customers and gateways see.
func NewReference() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:10])
}

// SnapshotTotal recomputes the total from the immutable line snapshot plus
// shipping. It must always equal TotalPrice.
func (o *Order) SnapshotTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total.Add(o.ShippingCost).Round(2)
}

// Reservations returns the inventory reservations backing this order's lines.
func (o *Order) Reservations() []inventory.Reservation {
	rs := make([]inventory.Reservation, len(o.Lines))
	for i, l := range o.Lines {
		rs[i] = inventory.Reservation{VariantID: l.VariantID, Quantity: l.Quantity}
	}
	return rs
}

// Store persists orders.
//
// CreateWithReservations inserts the order and decrements stock for every
// line inside one transaction: either the order exists and all stock is
// reserved, or neither happened. Status setters are conditional updates that
// fail with ErrStale when the stored status no longer matches from, which
// serializes webhook application per order without a global lock.
type Store interface {
	CreateWithReservations(ctx context.Context, o *Order) error
	GetByReference(ctx context.Context, reference string) (*Order, error)
	// BeginPayment attaches gateway handles and moves unpaid -> pending.
	BeginPayment(ctx context.Context, reference, intentID, clientSecret, approvalURL string) error
	SetPaymentStatus(ctx context.Context, reference string, from, to PaymentStatus, transactionID string) error
	SetFulfillmentStatus(ctx context.Context, reference string, from, to FulfillmentStatus) error
	// SweepStalePending fails orders that have been unpaid/pending since
	// before cutoff and returns them so the caller can release stock.
	SweepStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
}
