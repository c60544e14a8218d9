package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/storage/memory"
)

// --- Mock implementations ---

type mockGateway struct {
	refunds   []payment.RefundRequest
	refundErr error
}

func (m *mockGateway) CreateIntent(_ context.Context, _ payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{ProviderID: "pi_test"}, nil
}

func (m *mockGateway) Confirm(_ context.Context, _ payment.ConfirmRequest) (*payment.ConfirmResult, error) {
	return &payment.ConfirmResult{Succeeded: true}, nil
}

func (m *mockGateway) Refund(_ context.Context, req payment.RefundRequest) error {
	m.refunds = append(m.refunds, req)
	return m.refundErr
}

// --- Helpers ---

func newFulfillmentEnv(t *testing.T) (*order.Service, *memory.Store, *mockGateway) {
	t.Helper()

	store := memory.New()
	store.AddVariant(catalog.Variant{
		ID:        "v1",
		Name:      "Widget",
		Price:     decimal.RequireFromString("10.00"),
		Available: true,
	}, 5)

	gw := &mockGateway{}
	svc := order.NewService(store, store, payment.Registry{payment.MethodCard: gw}, "EUR", 24*time.Hour)
	return svc, store, gw
}

func placeTestOrder(t *testing.T, store *memory.Store, qty int) *order.Order {
	t.Helper()

	o := &order.Order{
		ID:        "id-1",
		Reference: order.NewReference(),
		Lines: []order.Line{
			{VariantID: "v1", Name: "Widget", UnitPrice: decimal.RequireFromString("10.00"), Quantity: qty},
		},
		ShippingCost:      decimal.RequireFromString("10.00"),
		TotalPrice:        decimal.RequireFromString("10.00").Mul(decimal.NewFromInt(int64(qty))).Add(decimal.RequireFromString("10.00")),
		PaymentMethod:     payment.MethodCard,
		PaymentStatus:     order.PaymentUnpaid,
		FulfillmentStatus: order.FulfillmentPlaced,
		CreatedAt:         time.Now(),
	}
	require.NoError(t, store.CreateWithReservations(context.Background(), o))
	require.NoError(t, store.BeginPayment(context.Background(), o.Reference, "pi_test", "", ""))
	return o
}

// --- Tests ---

func TestAdvance(t *testing.T) {
	svc, store, _ := newFulfillmentEnv(t)
	o := placeTestOrder(t, store, 2)

	var notified []order.FulfillmentStatus
	svc.SetNotifier(func(_ context.Context, o *order.Order) {
		notified = append(notified, o.FulfillmentStatus)
	})

	got, err := svc.Advance(context.Background(), o.Reference, order.FulfillmentProcessing)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentProcessing, got.FulfillmentStatus)
	assert.Equal(t, []order.FulfillmentStatus{order.FulfillmentProcessing}, notified)

	stored, err := store.GetByReference(context.Background(), o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentProcessing, stored.FulfillmentStatus)
}

func TestAdvance_SkippedStep(t *testing.T) {
	svc, store, _ := newFulfillmentEnv(t)
	o := placeTestOrder(t, store, 2)

	_, err := svc.Advance(context.Background(), o.Reference, order.FulfillmentDelivered)
	var itErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &itErr)

	stored, err := store.GetByReference(context.Background(), o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentPlaced, stored.FulfillmentStatus)
}

func TestAdvance_UnknownOrder(t *testing.T) {
	svc, _, _ := newFulfillmentEnv(t)

	_, err := svc.Advance(context.Background(), "ORD-MISSING000", order.FulfillmentProcessing)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCancel_PendingRestocksAndClosesPayment(t *testing.T) {
	svc, store, gw := newFulfillmentEnv(t)
	o := placeTestOrder(t, store, 2)
	require.Equal(t, 3, store.Stock("v1"))

	got, err := svc.Cancel(context.Background(), o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentCancelled, got.FulfillmentStatus)

	// Stock is back, the payment axis is closed, and no refund was issued.
	assert.Equal(t, 5, store.Stock("v1"))
	stored, err := store.GetByReference(context.Background(), o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, stored.PaymentStatus)
	assert.Empty(t, gw.refunds)
}

func TestCancel_PaidIssuesRefund(t *testing.T) {
	svc, store, gw := newFulfillmentEnv(t)
	o := placeTestOrder(t, store, 2)
	require.NoError(t, store.SetPaymentStatus(context.Background(), o.Reference, order.PaymentPending, order.PaymentPaid, "txn_1"))

	_, err := svc.Cancel(context.Background(), o.Reference)
	require.NoError(t, err)

	require.Len(t, gw.refunds, 1)
	assert.Equal(t, o.Reference, gw.refunds[0].OrderReference)
	assert.Equal(t, "txn_1", gw.refunds[0].TransactionID)
	assert.True(t, o.TotalPrice.Equal(gw.refunds[0].Amount))
	assert.Equal(t, "EUR", gw.refunds[0].Currency)
	assert.Equal(t, 5, store.Stock("v1"))

	// The payment axis stays paid until the refund webhook lands.
	stored, err := store.GetByReference(context.Background(), o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, stored.PaymentStatus)
}

func TestCancel_AfterShipmentRejected(t *testing.T) {
	svc, store, gw := newFulfillmentEnv(t)
	o := placeTestOrder(t, store, 2)
	require.NoError(t, store.SetFulfillmentStatus(context.Background(), o.Reference, order.FulfillmentPlaced, order.FulfillmentProcessing))
	require.NoError(t, store.SetFulfillmentStatus(context.Background(), o.Reference, order.FulfillmentProcessing, order.FulfillmentShipped))

	_, err := svc.Cancel(context.Background(), o.Reference)
	var itErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &itErr)

	// Nothing moved: no restock, no refund.
	assert.Equal(t, 3, store.Stock("v1"))
	assert.Empty(t, gw.refunds)
}
