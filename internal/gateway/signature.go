package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// CardVerifier checks the card provider's signed-payload scheme: the header
// carries "t=<unix>,v1=<hex hmac>" where the MAC covers "<t>.<payload>".
// The timestamp is bounded by Tolerance to blunt replay of captured
// deliveries.
type CardVerifier struct {
	Secret    []byte
	Tolerance time.Duration

	// now is overridable in tests.
	now func() time.Time
}

// NewCardVerifier creates a CardVerifier with the given shared secret.
func NewCardVerifier(secret []byte, tolerance time.Duration) *CardVerifier {
	return &CardVerifier{Secret: secret, Tolerance: tolerance, now: time.Now}
}

// Verify implements webhook.Verifier.
func (v *CardVerifier) Verify(payload []byte, signatureHeader string) error {
	var (
		ts  string
		sig string
	)
	for _, part := range strings.Split(signatureHeader, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sig = val
		}
	}
	if ts == "" || sig == "" {
		return errors.New("malformed signature header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed signature timestamp")
	}
	if v.Tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.Tolerance || age < -v.Tolerance {
			return errors.New("signature timestamp outside tolerance")
		}
	}

	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil {
		return errors.New("malformed signature encoding")
	}
	if !hmac.Equal(expected, got) {
		return errors.New("signature mismatch")
	}
	return nil
}

// WalletVerifier checks the wallet provider's plain scheme: the header is the
// hex HMAC-SHA256 of the raw payload.
type WalletVerifier struct {
	Secret []byte
}

// NewWalletVerifier creates a WalletVerifier with the given shared secret.
func NewWalletVerifier(secret []byte) *WalletVerifier {
	return &WalletVerifier{Secret: secret}
}

// Verify implements webhook.Verifier.
func (v *WalletVerifier) Verify(payload []byte, signatureHeader string) error {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return errors.New("malformed signature encoding")
	}
	if !hmac.Equal(expected, got) {
		return errors.New("signature mismatch")
	}
	return nil
}
