package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
)

const (
	// The WHERE clause makes check-and-decrement one indivisible statement:
	// no two concurrent reservations can both succeed on the last unit, and
	// quantity can never go negative.
	reserveStockSQL = `UPDATE variant_stock SET quantity = quantity - $2
		WHERE variant_id = $1 AND quantity >= $2`

	releaseStockSQL = `UPDATE variant_stock SET quantity = quantity + $2
		WHERE variant_id = $1`
)

var _ inventory.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements inventory.Ledger backed by PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Reserve performs the atomic conditional decrement.
func (r *LedgerRepository) Reserve(ctx context.Context, variantID string, qty int) error {
	tag, err := r.pool.Exec(ctx, reserveStockSQL, variantID, qty)
	if err != nil {
		return fmt.Errorf("reserving %d of %q: %w", qty, variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return &inventory.OutOfStockError{VariantID: variantID, Requested: qty}
	}
	return nil
}

// Release adds reserved stock back.
func (r *LedgerRepository) Release(ctx context.Context, variantID string, qty int) error {
	if _, err := r.pool.Exec(ctx, releaseStockSQL, variantID, qty); err != nil {
		return fmt.Errorf("releasing %d of %q: %w", qty, variantID, err)
	}
	return nil
}
