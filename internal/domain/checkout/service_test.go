package checkout_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/checkout"
	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/domain/pricing"
	"github.com/vesna-shop/checkout-api/internal/storage/memory"
)

// --- Mock implementations ---

type mockGateway struct {
	intent     *payment.Intent
	createErr  error
	confirm    *payment.ConfirmResult
	confirmErr error
	onConfirm  func()
	calls      int
}

func (m *mockGateway) CreateIntent(_ context.Context, _ payment.IntentRequest) (*payment.Intent, error) {
	m.calls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.intent, nil
}

func (m *mockGateway) Confirm(_ context.Context, _ payment.ConfirmRequest) (*payment.ConfirmResult, error) {
	if m.onConfirm != nil {
		m.onConfirm()
	}
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	return m.confirm, nil
}

func (m *mockGateway) Refund(_ context.Context, _ payment.RefundRequest) error { return nil }

// --- Helpers ---

type checkoutEnv struct {
	svc    *checkout.Service
	store  *memory.Store
	card   *mockGateway
	wallet *mockGateway
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()

	store := memory.New()
	store.AddVariant(catalog.Variant{
		ID:          "v1",
		Name:        "Widget",
		Price:       decimal.RequireFromString("10.00"),
		WeightGrams: 500,
		Available:   true,
	}, 5)
	store.AddVariant(catalog.Variant{
		ID:          "v2",
		Name:        "Gadget",
		Price:       decimal.RequireFromString("5.00"),
		WeightGrams: 200,
		Available:   true,
	}, 5)

	card := &mockGateway{intent: &payment.Intent{ProviderID: "pi_1", ClientSecret: "pi_1_secret"}}
	wallet := &mockGateway{intent: &payment.Intent{ProviderID: "wo_1", ApprovalURL: "https://wallet.test/approve/wo_1"}}

	engine := pricing.NewEngine(store, pricing.DefaultShippingPolicy())
	svc := checkout.NewService(store, engine, store, store, payment.Registry{
		payment.MethodCard:   card,
		payment.MethodWallet: wallet,
	}, "EUR")

	return &checkoutEnv{svc: svc, store: store, card: card, wallet: wallet}
}

func (e *checkoutEnv) putCart(items ...cart.Item) {
	e.store.PutCart(cart.Cart{SessionID: "sess-1", Items: items})
}

func validRequest(method, total string) checkout.Request {
	return checkout.Request{
		CartSessionID: "sess-1",
		Customer: order.Customer{
			Email:      "ana@example.com",
			Phone:      "+38640123456",
			Country:    "Slovenia",
			Address:    "Trubarjeva 1",
			City:       "Ljubljana",
			PostalCode: "1000",
		},
		PaymentMethod: method,
		DeclaredTotal: decimal.RequireFromString(total),
	}
}

// --- Tests ---

func TestCreateOrder_CardFlow(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(
		cart.Item{VariantID: "v1", Quantity: 2},
		cart.Item{VariantID: "v2", Quantity: 1},
	)

	// 2 x 10.00 + 1 x 5.00 + 10.00 shipping.
	res, err := env.svc.CreateOrder(context.Background(), validRequest("card", "35.00"))
	require.NoError(t, err)

	assert.Equal(t, order.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, order.FulfillmentPlaced, res.Order.FulfillmentStatus)
	assert.True(t, decimal.RequireFromString("35.00").Equal(res.Order.TotalPrice))
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.Empty(t, res.ApprovalURL)

	// Stock is reserved and the cart is gone.
	assert.Equal(t, 3, env.store.Stock("v1"))
	assert.Equal(t, 4, env.store.Stock("v2"))
	_, err = env.store.Get(context.Background(), "sess-1")
	assert.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCreateOrder_WalletFlow(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})

	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	assert.Equal(t, "https://wallet.test/approve/wo_1", res.ApprovalURL)
	assert.Empty(t, res.ClientSecret)
	assert.Equal(t, order.PaymentPending, res.Order.PaymentStatus)
}

func TestCreateOrder_OfflineStaysPending(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})

	res, err := env.svc.CreateOrder(context.Background(), validRequest("cashOnDelivery", "20.00"))
	require.NoError(t, err)

	assert.Equal(t, order.PaymentPending, res.Order.PaymentStatus)
	assert.Empty(t, res.ClientSecret)
	assert.Empty(t, res.ApprovalURL)
	// No gateway was involved.
	assert.Zero(t, env.card.calls)
	assert.Zero(t, env.wallet.calls)
}

func TestCreateOrder_PriceMismatch(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 2})

	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "25.00"))

	var pmErr *checkout.PriceMismatchError
	require.ErrorAs(t, err, &pmErr)
	assert.True(t, decimal.RequireFromString("30.00").Equal(pmErr.Computed))

	// No order, no reservation, and the customer keeps the cart.
	assert.Equal(t, 5, env.store.Stock("v1"))
	c, err := env.store.Claim(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCreateOrder_EpsilonTolerated(t *testing.T) {
	// Sub-cent drift from a float-based client is accepted; the server total
	// is charged regardless.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 2})

	res, err := env.svc.CreateOrder(context.Background(), validRequest("card", "30.01"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.00").Equal(res.Order.TotalPrice))
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart()

	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "10.00"))
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestCreateOrder_MissingCart(t *testing.T) {
	env := newCheckoutEnv(t)

	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "10.00"))
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestCreateOrder_DoubleSubmit(t *testing.T) {
	// A concurrent submit already holds the claim; this one must lose.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	_, err := env.store.Claim(context.Background(), "sess-1")
	require.NoError(t, err)

	_, err = env.svc.CreateOrder(context.Background(), validRequest("card", "20.00"))
	require.ErrorIs(t, err, cart.ErrAlreadyCheckedOut)
	assert.Equal(t, 5, env.store.Stock("v1"))
}

func TestCreateOrder_OutOfStock(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 7})

	// 7 x 10.00 + 15.00 shipping (3.5kg parcel).
	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "85.00"))

	var oosErr *inventory.OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, "v1", oosErr.VariantID)
	assert.Equal(t, 7, oosErr.Requested)

	// Nothing was reserved and the cart survives for the customer to adjust.
	assert.Equal(t, 5, env.store.Stock("v1"))
	_, err = env.store.Claim(context.Background(), "sess-1")
	require.NoError(t, err)
}

func TestCreateOrder_PartialStockRollsBack(t *testing.T) {
	// First line fits, second does not: the first line's reservation must be
	// rolled back with the transaction.
	env := newCheckoutEnv(t)
	env.putCart(
		cart.Item{VariantID: "v1", Quantity: 2},
		cart.Item{VariantID: "v2", Quantity: 9},
	)

	// 2 x 10.00 + 9 x 5.00 + 12.50 shipping (2.8kg parcel).
	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "77.50"))

	var oosErr *inventory.OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, 5, env.store.Stock("v1"))
	assert.Equal(t, 5, env.store.Stock("v2"))
}

func TestCreateOrder_GatewayFailure(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 2})
	env.card.createErr = &payment.GatewayError{Provider: "card", Transient: true, Err: errors.New("upstream 503")}

	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "30.00"))

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)

	// The order exists but is failed, its stock is back, and the cart is
	// returned to the customer.
	assert.Equal(t, 5, env.store.Stock("v1"))
	c, err := env.store.Claim(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCreateOrder_InvalidQuantityInCart(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1000})

	_, err := env.svc.CreateOrder(context.Background(), validRequest("card", "10010.00"))

	var iiErr *checkout.InvalidInputError
	require.ErrorAs(t, err, &iiErr)
	assert.Equal(t, "quantity", iiErr.Field)
	assert.Equal(t, 5, env.store.Stock("v1"))
}

func TestCreateOrder_InvalidCustomer(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})

	cases := []struct {
		name   string
		mutate func(*checkout.Request)
		field  string
	}{
		{"bad email", func(r *checkout.Request) { r.Customer.Email = "not-an-email" }, "email"},
		{"missing address", func(r *checkout.Request) { r.Customer.Address = "" }, "address"},
		{"missing city", func(r *checkout.Request) { r.Customer.City = "" }, "city"},
		{"missing postal code", func(r *checkout.Request) { r.Customer.PostalCode = "" }, "postal_code"},
		{"missing phone", func(r *checkout.Request) { r.Customer.Phone = "" }, "phone_number"},
		{"unknown method", func(r *checkout.Request) { r.PaymentMethod = "barter" }, "payment_method"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest("card", "20.00")
			tc.mutate(&req)

			_, err := env.svc.CreateOrder(context.Background(), req)
			var iiErr *checkout.InvalidInputError
			require.ErrorAs(t, err, &iiErr)
			assert.Equal(t, tc.field, iiErr.Field)
		})
	}

	// Validation happens before the claim: the cart was never touched.
	_, err := env.store.Claim(context.Background(), "sess-1")
	require.NoError(t, err)
}

func TestConfirmWalletPayment_Success(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	env.wallet.confirm = &payment.ConfirmResult{TransactionID: "cap_1", Succeeded: true}

	o, err := env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, "wo_1", "payer-1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "cap_1", o.TransactionID)

	stored, err := env.store.GetByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, stored.PaymentStatus)
	// Paid stock stays reserved.
	assert.Equal(t, 4, env.store.Stock("v1"))
}

func TestConfirmWalletPayment_Declined(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	env.wallet.confirm = &payment.ConfirmResult{TransactionID: "cap_1", Succeeded: false, Reason: "INSTRUMENT_DECLINED"}

	_, err = env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, "wo_1", "payer-1")
	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)

	stored, err := env.store.GetByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, 5, env.store.Stock("v1"))
}

func TestConfirmWalletPayment_ProviderIDMismatch(t *testing.T) {
	// A provider id from some other (cheaper) approved payment must not mark
	// this order paid.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	env.wallet.confirm = &payment.ConfirmResult{TransactionID: "cap_other", Succeeded: true}

	for _, providerID := range []string{"wo_other", ""} {
		_, err = env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, providerID, "payer-1")
		var iiErr *checkout.InvalidInputError
		require.ErrorAs(t, err, &iiErr)
		assert.Equal(t, "provider_order_id", iiErr.Field)
	}

	stored, err := env.store.GetByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, stored.TransactionID)
}

func TestConfirmWalletPayment_WrongMethod(t *testing.T) {
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("card", "20.00"))
	require.NoError(t, err)

	_, err = env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, res.Order.IntentID, "payer-1")
	var iiErr *checkout.InvalidInputError
	require.ErrorAs(t, err, &iiErr)
	assert.Equal(t, "reference", iiErr.Field)

	stored, err := env.store.GetByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
}

func TestConfirmWalletPayment_WebhookSettledFirst(t *testing.T) {
	// The webhook landed before the redirect completion: the customer gets
	// their paid order back, not an error.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)
	require.NoError(t, env.store.SetPaymentStatus(context.Background(), res.Order.Reference, order.PaymentPending, order.PaymentPaid, "cap_1"))

	o, err := env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, "wo_1", "payer-1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "cap_1", o.TransactionID)
}

func TestConfirmWalletPayment_WebhookWinsDuringCapture(t *testing.T) {
	// The webhook lands between the order load and the status write. The
	// conditional update loses, and the settled order is returned anyway.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	env.wallet.confirm = &payment.ConfirmResult{TransactionID: "cap_1", Succeeded: true}
	env.wallet.onConfirm = func() {
		require.NoError(t, env.store.SetPaymentStatus(context.Background(), res.Order.Reference, order.PaymentPending, order.PaymentPaid, "cap_1"))
	}

	o, err := env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, "wo_1", "payer-1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "cap_1", o.TransactionID)
}

func TestConfirmWalletPayment_AmbiguousOutcome(t *testing.T) {
	// A capture timeout must not guess: the order stays pending for the
	// webhook or the sweep to settle.
	env := newCheckoutEnv(t)
	env.putCart(cart.Item{VariantID: "v1", Quantity: 1})
	res, err := env.svc.CreateOrder(context.Background(), validRequest("wallet", "20.00"))
	require.NoError(t, err)

	env.wallet.confirmErr = &payment.GatewayError{Provider: "wallet", Transient: true, Err: errors.New("timeout")}

	_, err = env.svc.ConfirmWalletPayment(context.Background(), res.Order.Reference, "wo_1", "payer-1")
	require.Error(t, err)

	stored, err := env.store.GetByReference(context.Background(), res.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, 4, env.store.Stock("v1"))
}
