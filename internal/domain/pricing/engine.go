package pricing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
)

// UnknownVariantError indicates a referenced variant no longer exists in the
// catalog.
type UnknownVariantError struct {
	VariantID string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

// VariantUnavailableError indicates a variant exists but cannot be sold:
// either it is flagged unavailable or its stock is zero.
type VariantUnavailableError struct {
	VariantID string
}

func (e *VariantUnavailableError) Error() string {
	return fmt.Sprintf("variant %s is unavailable", e.VariantID)
}

// Item is a pricing input: a variant reference and a quantity. Prices are
// never part of the input.
type Item struct {
	VariantID string
	Quantity  int
}

// Line is a priced line item in a quote.
type Line struct {
	VariantID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the server-computed truth for a set of items: per-line breakdown,
// shipping, and grand total rounded to 2 decimal places.
type Quote struct {
	Lines        []Line
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// Destination carries the shipping-relevant part of a customer address.
type Destination struct {
	Country string
}

// ShippingPolicy resolves shipping cost from destination and total weight.
type ShippingPolicy struct {
	// ZoneRates maps ISO country names/codes to a base rate. Countries not
	// listed pay DefaultRate.
	ZoneRates map[string]decimal.Decimal
	// DefaultRate applies when the destination has no zone rate.
	DefaultRate decimal.Decimal
	// SurchargePerKg is added for every started kilogram above FreeWeightGrams.
	SurchargePerKg  decimal.Decimal
	FreeWeightGrams int
}

// DefaultShippingPolicy matches the store's flat 10.00 shipping with a
// 2.50/kg surcharge above 2kg.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		ZoneRates:       map[string]decimal.Decimal{},
		DefaultRate:     decimal.RequireFromString("10.00"),
		SurchargePerKg:  decimal.RequireFromString("2.50"),
		FreeWeightGrams: 2000,
	}
}

// Cost computes the shipping cost for a destination and total parcel weight.
func (p ShippingPolicy) Cost(dest Destination, totalWeightGrams int) decimal.Decimal {
	rate, ok := p.ZoneRates[dest.Country]
	if !ok {
		rate = p.DefaultRate
	}
	if over := totalWeightGrams - p.FreeWeightGrams; over > 0 {
		startedKg := (over + 999) / 1000
		rate = rate.Add(p.SurchargePerKg.Mul(decimal.NewFromInt(int64(startedKg))))
	}
	return rate
}

// Engine recomputes order totals from catalog state. It is the only source of
// prices in the checkout flow; client-supplied totals are used for
// verification, never for charging.
type Engine struct {
	catalog  catalog.Repository
	shipping ShippingPolicy
}

// NewEngine creates a pricing Engine over the given catalog.
func NewEngine(c catalog.Repository, shipping ShippingPolicy) *Engine {
	return &Engine{catalog: c, shipping: shipping}
}

// ComputeTotal resolves current unit prices for every item, sums the lines,
// and adds shipping. It fails with UnknownVariantError when a variant no
// longer exists and VariantUnavailableError when a variant cannot be sold.
func (e *Engine) ComputeTotal(ctx context.Context, items []Item, dest Destination) (*Quote, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.VariantID
	}

	fetched, err := e.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}

	byID := make(map[string]catalog.Variant, len(fetched))
	for _, v := range fetched {
		byID[v.ID] = v
	}

	lines := make([]Line, 0, len(items))
	total := decimal.Zero
	weight := 0
	for _, item := range items {
		v, ok := byID[item.VariantID]
		if !ok {
			return nil, &UnknownVariantError{VariantID: item.VariantID}
		}
		if !v.Available {
			return nil, &VariantUnavailableError{VariantID: item.VariantID}
		}
		stock, err := e.catalog.StockLevel(ctx, item.VariantID)
		if err != nil {
			return nil, errors.Wrapf(err, "stock level for %s", item.VariantID)
		}
		if stock <= 0 {
			return nil, &VariantUnavailableError{VariantID: item.VariantID}
		}

		line := Line{
			VariantID: v.ID,
			Name:      v.Name,
			UnitPrice: v.UnitPrice(),
			Quantity:  item.Quantity,
		}
		lines = append(lines, line)
		total = total.Add(line.Subtotal())
		weight += v.WeightGrams * item.Quantity
	}

	shipping := e.shipping.Cost(dest, weight)
	total = total.Add(shipping).Round(2)

	return &Quote{
		Lines:        lines,
		ShippingCost: shipping,
		Total:        total,
	}, nil
}
