package webhook

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EventType enumerates the payment events the reconciler applies.
type EventType string

const (
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventPaymentFailed    EventType = "payment_failed"
	EventRefund           EventType = "refund"
)

// Sentinel errors for webhook handling.
var (
	// ErrInvalidSignature rejects a payload whose signature does not verify.
	// No state is mutated for such payloads.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownEvent rejects payloads whose shape or type is not
	// recognized. Best-effort parsing of unknown shapes is deliberately not
	// attempted.
	ErrUnknownEvent = errors.New("unrecognized webhook event")
	// ErrUnknownProvider rejects deliveries for an unconfigured provider.
	ErrUnknownProvider = errors.New("unknown webhook provider")
)

// Event is the tagged variant extracted from a verified provider payload.
type Event struct {
	Type           EventType
	TransactionID  string
	OrderReference string
}

// ParseFunc decodes a provider-specific raw payload into an Event.
type ParseFunc func(payload []byte) (*Event, error)

// ParseCardEvent decodes the card provider's envelope:
//
//	{"id":"evt_1","type":"payment_intent.succeeded",
//	 "data":{"object":{"id":"pi_1","metadata":{"order_reference":"ORD-..."}}}}
func ParseCardEvent(payload []byte) (*Event, error) {
	var (
		eventType string
		txID      string
		orderRef  string
	)

	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			if err != nil {
				return err
			}
			eventType = v
			return nil
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "id":
						v, err := d.Str()
						if err != nil {
							return err
						}
						txID = v
						return nil
					case "metadata":
						return d.Obj(func(d *jx.Decoder, key string) error {
							if key != "order_reference" {
								return d.Skip()
							}
							v, err := d.Str()
							if err != nil {
								return err
							}
							orderRef = v
							return nil
						})
					default:
						return d.Skip()
					}
				})
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(ErrUnknownEvent, err.Error())
	}

	var t EventType
	switch eventType {
	case "payment_intent.succeeded":
		t = EventPaymentConfirmed
	case "payment_intent.payment_failed":
		t = EventPaymentFailed
	case "charge.refunded":
		t = EventRefund
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "card event type %q", eventType)
	}
	if txID == "" || orderRef == "" {
		return nil, errors.Wrap(ErrUnknownEvent, "missing transaction id or order reference")
	}

	return &Event{Type: t, TransactionID: txID, OrderReference: orderRef}, nil
}

// ParseWalletEvent decodes the wallet provider's envelope:
//
//	{"event_type":"PAYMENT.CAPTURE.COMPLETED",
//	 "resource":{"id":"cap_1","custom_id":"ORD-..."}}
func ParseWalletEvent(payload []byte) (*Event, error) {
	var (
		eventType string
		txID      string
		orderRef  string
	)

	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event_type":
			v, err := d.Str()
			if err != nil {
				return err
			}
			eventType = v
			return nil
		case "resource":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "id":
					v, err := d.Str()
					if err != nil {
						return err
					}
					txID = v
					return nil
				case "custom_id":
					v, err := d.Str()
					if err != nil {
						return err
					}
					orderRef = v
					return nil
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(ErrUnknownEvent, err.Error())
	}

	var t EventType
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		t = EventPaymentConfirmed
	case "PAYMENT.CAPTURE.DENIED":
		t = EventPaymentFailed
	case "PAYMENT.CAPTURE.REFUNDED":
		t = EventRefund
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "wallet event type %q", eventType)
	}
	if txID == "" || orderRef == "" {
		return nil, errors.Wrap(ErrUnknownEvent, "missing transaction id or order reference")
	}

	return &Event{Type: t, TransactionID: txID, OrderReference: orderRef}, nil
}
