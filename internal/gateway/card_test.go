package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

func TestCardGateway_CreateIntent(t *testing.T) {
	t.Parallel()

	var gotKey, gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		gotKey.Store(r.Header.Get("Idempotency-Key"))
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_confirmation"}`))
	}))
	defer srv.Close()

	gw := NewCardGateway(CardConfig{BaseURL: srv.URL, APIKey: "sk_test"}, srv.Client())
	intent, err := gw.CreateIntent(context.Background(), payment.IntentRequest{
		OrderReference: "ORD-0A1B2C3D4E",
		Amount:         decimal.RequireFromString("35.00"),
		Currency:       "EUR",
		CustomerEmail:  "jo@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", intent.ProviderID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, "ORD-0A1B2C3D4E", gotKey.Load())
	assert.Equal(t, "Bearer sk_test", gotAuth.Load())
}

func TestCardGateway_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_retry","client_secret":"secret"}`))
	}))
	defer srv.Close()

	gw := NewCardGateway(CardConfig{BaseURL: srv.URL, APIKey: "sk_test"}, srv.Client())
	intent, err := gw.CreateIntent(context.Background(), payment.IntentRequest{
		OrderReference: "ORD-RETRY00001",
		Amount:         decimal.RequireFromString("12.50"),
		Currency:       "EUR",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_retry", intent.ProviderID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCardGateway_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"amount too small"}`))
	}))
	defer srv.Close()

	gw := NewCardGateway(CardConfig{BaseURL: srv.URL, APIKey: "sk_test"}, srv.Client())
	_, err := gw.CreateIntent(context.Background(), payment.IntentRequest{
		OrderReference: "ORD-REJECT0001",
		Amount:         decimal.RequireFromString("0.01"),
		Currency:       "EUR",
	})
	require.Error(t, err)

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.False(t, gwErr.Transient)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWalletGateway_ConfirmIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	gw := NewWalletGateway(WalletConfig{BaseURL: srv.URL, ClientID: "id", Secret: "s"}, srv.Client())
	_, err := gw.Confirm(context.Background(), payment.ConfirmRequest{
		OrderReference: "ORD-AMBIG00001",
		ProviderID:     "5O190127TN364715T",
		PayerID:        "payer-1",
	})
	require.Error(t, err)

	// Capture is not idempotent: an ambiguous timeout must surface after a
	// single attempt, leaving the order pending.
	assert.Equal(t, int32(1), calls.Load())
}

func TestWalletGateway_ConfirmDeclined(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders/5O190127TN364715T/capture", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"3C679366HH908993F","status":"DECLINED","reason":"INSTRUMENT_DECLINED"}`))
	}))
	defer srv.Close()

	gw := NewWalletGateway(WalletConfig{BaseURL: srv.URL, ClientID: "id", Secret: "s"}, srv.Client())
	res, err := gw.Confirm(context.Background(), payment.ConfirmRequest{
		OrderReference: "ORD-DECLINE001",
		ProviderID:     "5O190127TN364715T",
	})
	require.NoError(t, err)

	assert.False(t, res.Succeeded)
	assert.Equal(t, "3C679366HH908993F", res.TransactionID)
	assert.Equal(t, "INSTRUMENT_DECLINED", res.Reason)
}
