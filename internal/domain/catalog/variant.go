package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested variant does not exist.
var ErrNotFound = errors.New("variant not found")

// Variant is a purchasable product variant as the catalog currently sells it.
// Pricing fields reflect live catalog state and are owned by the catalog
// collaborator; the checkout core only reads them.
type Variant struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	DiscountPrice decimal.Decimal
	Discounted    bool
	WeightGrams   int
	Available     bool
}

// UnitPrice returns the price a customer pays right now: the discount price
// when the discount flag is set and a positive discount price exists, the
// regular price otherwise.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.Discounted && v.DiscountPrice.IsPositive() {
		return v.DiscountPrice
	}
	return v.Price
}

// Repository defines read operations against the catalog. The checkout core
// never mutates catalog pricing through this interface.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Variant, error)
	GetByIDs(ctx context.Context, ids []string) ([]Variant, error)
	// StockLevel reports the currently available quantity for a variant.
	StockLevel(ctx context.Context, id string) (int, error)
}
