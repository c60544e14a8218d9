package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// MaxItemQuantity caps the quantity of a single cart line.
const MaxItemQuantity = 999

// Sentinel errors for cart operations.
var (
	ErrNotFound = errors.New("cart not found")
	// ErrAlreadyCheckedOut is returned by Claim when a concurrent checkout
	// has already consumed the cart.
	ErrAlreadyCheckedOut = errors.New("cart already checked out")
)

// InvalidQuantityError indicates a line quantity outside [1, MaxItemQuantity].
type InvalidQuantityError struct {
	VariantID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for variant %s must be between 1 and %d", e.Quantity, e.VariantID, MaxItemQuantity)
}

// Item is a single cart line.
type Item struct {
	VariantID string
	Quantity  int
	AddedAt   time.Time
}

// Cart holds a session's line items until checkout consumes it.
type Cart struct {
	SessionID   string
	CustomerRef string
	Items       []Item
	UpdatedAt   time.Time
}

// ValidateQuantity rejects quantities outside the allowed range. Values above
// the cap are rejected, never clamped.
func ValidateQuantity(variantID string, qty int) error {
	if qty < 1 || qty > MaxItemQuantity {
		return &InvalidQuantityError{VariantID: variantID, Quantity: qty}
	}
	return nil
}

// Repository defines persistence operations for carts.
//
// Claim atomically marks the cart as consumed by a checkout attempt: exactly
// one concurrent caller observes the cart, every later caller gets
// ErrAlreadyCheckedOut. Unclaim reverts a claim after a failed checkout so the
// customer keeps their items; Clear destroys the cart after a successful one.
type Repository interface {
	Get(ctx context.Context, sessionID string) (*Cart, error)
	UpsertItem(ctx context.Context, sessionID string, item Item) (*Cart, error)
	RemoveItem(ctx context.Context, sessionID, variantID string) (*Cart, error)
	Claim(ctx context.Context, sessionID string) (*Cart, error)
	Unclaim(ctx context.Context, sessionID string) error
	Clear(ctx context.Context, sessionID string) error
}
