package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCardEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "amount": 3500, "metadata": {"order_reference": "ORD-AAAA000001"}}}
	}`)

	ev, err := ParseCardEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentConfirmed, ev.Type)
	assert.Equal(t, "pi_1", ev.TransactionID)
	assert.Equal(t, "ORD-AAAA000001", ev.OrderReference)
}

func TestParseCardEvent_TypeMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want EventType
	}{
		{"payment_intent.succeeded", EventPaymentConfirmed},
		{"payment_intent.payment_failed", EventPaymentFailed},
		{"charge.refunded", EventRefund},
	}
	for _, tc := range cases {
		payload := []byte(`{"type":"` + tc.raw + `","data":{"object":{"id":"pi_1","metadata":{"order_reference":"ORD-A"}}}}`)
		ev, err := ParseCardEvent(payload)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, ev.Type)
	}
}

func TestParseCardEvent_Rejected(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"unknown type", `{"type":"customer.created","data":{"object":{"id":"x","metadata":{"order_reference":"ORD-A"}}}}`},
		{"missing reference", `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{}}}}`},
		{"missing transaction", `{"type":"payment_intent.succeeded","data":{"object":{"metadata":{"order_reference":"ORD-A"}}}}`},
		{"not json", `payment ok`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCardEvent([]byte(tc.payload))
			require.ErrorIs(t, err, ErrUnknownEvent)
		})
	}
}

func TestParseWalletEvent(t *testing.T) {
	payload := []byte(`{
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {"id": "cap_1", "custom_id": "ORD-AAAA000001", "status": "COMPLETED"}
	}`)

	ev, err := ParseWalletEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentConfirmed, ev.Type)
	assert.Equal(t, "cap_1", ev.TransactionID)
	assert.Equal(t, "ORD-AAAA000001", ev.OrderReference)
}

func TestParseWalletEvent_TypeMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want EventType
	}{
		{"PAYMENT.CAPTURE.COMPLETED", EventPaymentConfirmed},
		{"PAYMENT.CAPTURE.DENIED", EventPaymentFailed},
		{"PAYMENT.CAPTURE.REFUNDED", EventRefund},
	}
	for _, tc := range cases {
		payload := []byte(`{"event_type":"` + tc.raw + `","resource":{"id":"cap_1","custom_id":"ORD-A"}}`)
		ev, err := ParseWalletEvent(payload)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, ev.Type)
	}
}

func TestParseWalletEvent_Rejected(t *testing.T) {
	_, err := ParseWalletEvent([]byte(`{"event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"x","custom_id":"ORD-A"}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = ParseWalletEvent([]byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap_1"}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}
