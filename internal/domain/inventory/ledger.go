package inventory

import (
	"context"
	"fmt"
)

// OutOfStockError indicates a reservation could not be satisfied. It names
// the offending variant so the caller can surface it.
type OutOfStockError struct {
	VariantID string
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s (requested %d)", e.VariantID, e.Requested)
}

// Reservation pairs a variant with a provisionally reserved quantity.
type Reservation struct {
	VariantID string
	Quantity  int
}

// Ledger is the only mutator of variant stock.
//
// Reserve is a single atomic conditional decrement: it succeeds only if the
// available quantity is at least qty, and the check-and-decrement is
// indivisible under concurrent callers. Release adds stock back and is safe
// to call more than once per failed attempt boundary; it never pushes the
// ledger into an inconsistent state.
type Ledger interface {
	Reserve(ctx context.Context, variantID string, qty int) error
	Release(ctx context.Context, variantID string, qty int) error
}

// ReleaseAll best-effort releases every reservation in the slice, returning
// the first error encountered while still attempting the rest.
func ReleaseAll(ctx context.Context, l Ledger, reservations []Reservation) error {
	var firstErr error
	for _, r := range reservations {
		if err := l.Release(ctx, r.VariantID, r.Quantity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
