package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
)

const (
	upsertCartSQL = `INSERT INTO carts (session_id, updated_at) VALUES ($1, now())
		ON CONFLICT (session_id) DO UPDATE SET updated_at = now()`

	upsertCartItemSQL = `INSERT INTO cart_items (session_id, variant_id, quantity, added_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, variant_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartItemSQL = `DELETE FROM cart_items WHERE session_id = $1 AND variant_id = $2`

	selectCartSQL = `SELECT session_id, COALESCE(customer_ref, ''), updated_at
		FROM carts WHERE session_id = $1`

	selectCartItemsSQL = `SELECT variant_id, quantity, added_at
		FROM cart_items WHERE session_id = $1 ORDER BY added_at`

	claimCartSQL = `UPDATE carts SET checked_out_at = now()
		WHERE session_id = $1 AND checked_out_at IS NULL`

	unclaimCartSQL = `UPDATE carts SET checked_out_at = NULL WHERE session_id = $1`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE session_id = $1`
	deleteCartSQL      = `DELETE FROM carts WHERE session_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get loads a cart with its items, or cart.ErrNotFound.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	return r.load(ctx, r.pool, sessionID)
}

// UpsertItem creates the cart row if needed and inserts or replaces the line
// for the variant.
func (r *CartRepository) UpsertItem(ctx context.Context, sessionID string, item cart.Item) (*cart.Cart, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning cart update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertCartSQL, sessionID); err != nil {
		return nil, fmt.Errorf("upserting cart %q: %w", sessionID, err)
	}
	if _, err := tx.Exec(ctx, upsertCartItemSQL, sessionID, item.VariantID, item.Quantity); err != nil {
		return nil, fmt.Errorf("upserting cart item %q: %w", item.VariantID, err)
	}

	c, err := r.load(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing cart update: %w", err)
	}
	return c, nil
}

// RemoveItem deletes one line from the cart.
func (r *CartRepository) RemoveItem(ctx context.Context, sessionID, variantID string) (*cart.Cart, error) {
	if _, err := r.pool.Exec(ctx, removeCartItemSQL, sessionID, variantID); err != nil {
		return nil, fmt.Errorf("removing cart item %q: %w", variantID, err)
	}
	return r.load(ctx, r.pool, sessionID)
}

// Claim atomically marks the cart consumed by a checkout attempt. The single
// conditional update guarantees exactly one concurrent claimant wins; losers
// get cart.ErrAlreadyCheckedOut.
func (r *CartRepository) Claim(ctx context.Context, sessionID string) (*cart.Cart, error) {
	tag, err := r.pool.Exec(ctx, claimCartSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("claiming cart %q: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the cart does not exist or it is already claimed.
		if _, err := r.load(ctx, r.pool, sessionID); err != nil {
			return nil, err
		}
		return nil, cart.ErrAlreadyCheckedOut
	}
	return r.load(ctx, r.pool, sessionID)
}

// Unclaim reverts a claim after a failed checkout.
func (r *CartRepository) Unclaim(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, unclaimCartSQL, sessionID); err != nil {
		return fmt.Errorf("unclaiming cart %q: %w", sessionID, err)
	}
	return nil
}

// Clear destroys the cart and its items after a successful checkout.
func (r *CartRepository) Clear(ctx context.Context, sessionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning cart clear: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, deleteCartItemsSQL, sessionID); err != nil {
		return fmt.Errorf("clearing cart items %q: %w", sessionID, err)
	}
	if _, err := tx.Exec(ctx, deleteCartSQL, sessionID); err != nil {
		return fmt.Errorf("deleting cart %q: %w", sessionID, err)
	}
	return tx.Commit(ctx)
}

// querier covers both pool and transaction query surfaces.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *CartRepository) load(ctx context.Context, q querier, sessionID string) (*cart.Cart, error) {
	var c cart.Cart
	err := q.QueryRow(ctx, selectCartSQL, sessionID).Scan(&c.SessionID, &c.CustomerRef, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("loading cart %q: %w", sessionID, err)
	}

	rows, err := q.Query(ctx, selectCartItemsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading cart items %q: %w", sessionID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it cart.Item
		if err := rows.Scan(&it.VariantID, &it.Quantity, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning cart item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}
