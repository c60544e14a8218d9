package gateway

import (
	"context"
	"encoding/base64"

	"github.com/go-faster/errors"

	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

// OfflineGateway serves manual methods (cash on delivery, bank transfer):
// no provider is involved, the order simply stays pending until settled out
// of band by back office staff.
type OfflineGateway struct{}

var _ payment.Gateway = (*OfflineGateway)(nil)

// NewOfflineGateway creates an OfflineGateway.
func NewOfflineGateway() *OfflineGateway {
	return &OfflineGateway{}
}

// CreateIntent succeeds without side effects; there is nothing to hand to
// the client.
func (g *OfflineGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{ProviderID: "offline-" + req.OrderReference}, nil
}

// Confirm is not applicable to offline methods.
func (g *OfflineGateway) Confirm(_ context.Context, _ payment.ConfirmRequest) (*payment.ConfirmResult, error) {
	return nil, errors.New("offline payments are settled out of band")
}

// Refund is handled manually for offline methods.
func (g *OfflineGateway) Refund(_ context.Context, _ payment.RefundRequest) error {
	return errors.New("offline refunds are settled out of band")
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
