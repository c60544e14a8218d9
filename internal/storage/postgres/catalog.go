package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
)

const (
	getVariantSQL = `SELECT id, name, price, discount_price, discounted, weight_grams, available
		FROM variants WHERE id = $1`

	getVariantsSQL = `SELECT id, name, price, discount_price, discounted, weight_grams, available
		FROM variants WHERE id = ANY($1)`

	stockLevelSQL = `SELECT quantity FROM variant_stock WHERE variant_id = $1`

	upsertVariantSQL = `INSERT INTO variants (id, name, price, discount_price, discounted, weight_grams, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			discount_price = EXCLUDED.discount_price,
			discounted = EXCLUDED.discounted,
			weight_grams = EXCLUDED.weight_grams,
			available = EXCLUDED.available`

	setStockSQL = `INSERT INTO variant_stock (variant_id, quantity) VALUES ($1, $2)
		ON CONFLICT (variant_id) DO UPDATE SET quantity = EXCLUDED.quantity`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a single variant, or catalog.ErrNotFound.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Variant, error) {
	row := r.pool.QueryRow(ctx, getVariantSQL, id)
	v, err := scanVariant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	return v, nil
}

// GetByIDs fetches all requested variants in a single query. Missing ids are
// simply absent from the result; the caller decides whether that is an error.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	defer rows.Close()

	var out []catalog.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// StockLevel reads the currently available quantity for a variant.
func (r *CatalogRepository) StockLevel(ctx context.Context, id string) (int, error) {
	var qty int
	err := r.pool.QueryRow(ctx, stockLevelSQL, id).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrNotFound
		}
		return 0, fmt.Errorf("reading stock for %q: %w", id, err)
	}
	return qty, nil
}

// UpsertVariant inserts or updates a variant. Used by the seed and catalog
// ingest tools; the API itself never writes catalog data.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v catalog.Variant) error {
	_, err := r.pool.Exec(ctx, upsertVariantSQL,
		v.ID, v.Name, v.Price, v.DiscountPrice, v.Discounted, v.WeightGrams, v.Available)
	if err != nil {
		return fmt.Errorf("upserting variant %q: %w", v.ID, err)
	}
	return nil
}

// SetStock overwrites a variant's stock level.
func (r *CatalogRepository) SetStock(ctx context.Context, variantID string, quantity int) error {
	_, err := r.pool.Exec(ctx, setStockSQL, variantID, quantity)
	if err != nil {
		return fmt.Errorf("setting stock for %q: %w", variantID, err)
	}
	return nil
}

func scanVariant(row pgx.Row) (*catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.Name, &v.Price, &v.DiscountPrice, &v.Discounted, &v.WeightGrams, &v.Available)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
