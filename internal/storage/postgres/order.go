package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

const (
	insertOrderSQL = `INSERT INTO orders (
			id, reference, customer_ref, email, phone, country, address, city, postal_code,
			delivery_address, delivery_city, delivery_postal_code,
			lines, shipping_cost, total_price, payment_method, payment_status,
			fulfillment_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	selectOrderSQL = `SELECT id, reference, customer_ref, email, phone, country, address, city,
			postal_code, delivery_address, delivery_city, delivery_postal_code,
			lines, shipping_cost, total_price, payment_method, payment_status,
			fulfillment_status, COALESCE(transaction_id, ''), COALESCE(intent_id, ''),
			COALESCE(client_secret, ''), COALESCE(approval_url, ''), created_at, paid_at
		FROM orders WHERE reference = $1`

	beginPaymentSQL = `UPDATE orders
		SET payment_status = 'pending', intent_id = NULLIF($2, ''),
			client_secret = NULLIF($3, ''), approval_url = NULLIF($4, '')
		WHERE reference = $1 AND payment_status = 'unpaid'`

	setPaymentStatusSQL = `UPDATE orders
		SET payment_status = $3,
			transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
			paid_at = CASE WHEN $3 = 'paid' THEN now() ELSE paid_at END
		WHERE reference = $1 AND payment_status = $2`

	setFulfillmentStatusSQL = `UPDATE orders SET fulfillment_status = $3
		WHERE reference = $1 AND fulfillment_status = $2`

	// Offline methods settle out of band and may stay pending for days; only
	// gateway-backed orders are swept. The status guard is repeated in the
	// outer WHERE: after blocking on a row a concurrent webhook just settled,
	// the recheck re-evaluates only the outer quals, and without it the sweep
	// would flip a freshly paid order to failed.
	sweepStalePendingSQL = `UPDATE orders SET payment_status = 'failed'
		WHERE payment_status IN ('unpaid', 'pending')
			AND reference IN (
				SELECT reference FROM orders
				WHERE payment_status IN ('unpaid', 'pending')
					AND payment_method NOT IN ('cashOnDelivery', 'bankTransfer')
					AND created_at < $1
				ORDER BY created_at
				LIMIT $2
			)
		RETURNING reference, lines`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. Line snapshots are
// serialized to a JSONB column; they are written once and never updated.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateWithReservations decrements stock for every line and inserts the
// order inside one transaction. A failed decrement rolls everything back and
// returns inventory.OutOfStockError for the offending variant, so no partial
// reservation is ever left outstanding.
func (s *OrderStore) CreateWithReservations(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, l := range o.Lines {
		tag, err := tx.Exec(ctx, reserveStockSQL, l.VariantID, l.Quantity)
		if err != nil {
			return fmt.Errorf("reserving %d of %q: %w", l.Quantity, l.VariantID, err)
		}
		if tag.RowsAffected() == 0 {
			return &inventory.OutOfStockError{VariantID: l.VariantID, Requested: l.Quantity}
		}
	}

	c := o.Customer
	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Reference, c.Ref, c.Email, c.Phone, c.Country, c.Address, c.City, c.PostalCode,
		c.DeliveryAddress, c.DeliveryCity, c.DeliveryPostalCode,
		linesJSON, o.ShippingCost, o.TotalPrice, string(o.PaymentMethod), string(o.PaymentStatus),
		string(o.FulfillmentStatus), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Reference, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.Reference, err)
	}
	return nil
}

// GetByReference loads an order by its external reference.
func (s *OrderStore) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
		method    string
		payStatus string
		fulStatus string
	)
	c := &o.Customer
	err := s.pool.QueryRow(ctx, selectOrderSQL, reference).Scan(
		&o.ID, &o.Reference, &c.Ref, &c.Email, &c.Phone, &c.Country, &c.Address, &c.City,
		&c.PostalCode, &c.DeliveryAddress, &c.DeliveryCity, &c.DeliveryPostalCode,
		&linesJSON, &o.ShippingCost, &o.TotalPrice, &method, &payStatus,
		&fulStatus, &o.TransactionID, &o.IntentID,
		&o.ClientSecret, &o.ApprovalURL, &o.CreatedAt, &o.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", reference, err)
	}

	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling lines for %q: %w", reference, err)
	}
	o.PaymentMethod = payment.Method(method)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.FulfillmentStatus = order.FulfillmentStatus(fulStatus)
	return &o, nil
}

// BeginPayment attaches gateway handles and moves unpaid -> pending.
func (s *OrderStore) BeginPayment(ctx context.Context, reference, intentID, clientSecret, approvalURL string) error {
	tag, err := s.pool.Exec(ctx, beginPaymentSQL, reference, intentID, clientSecret, approvalURL)
	if err != nil {
		return fmt.Errorf("beginning payment for %q: %w", reference, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStale
	}
	return nil
}

// SetPaymentStatus applies a guarded payment transition. The conditional
// WHERE serializes concurrent webhook deliveries per order: only the writer
// that observes the expected current status wins.
func (s *OrderStore) SetPaymentStatus(ctx context.Context, reference string, from, to order.PaymentStatus, transactionID string) error {
	tag, err := s.pool.Exec(ctx, setPaymentStatusSQL, reference, string(from), string(to), transactionID)
	if err != nil {
		return fmt.Errorf("setting payment status of %q to %s: %w", reference, to, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStale
	}
	return nil
}

// SetFulfillmentStatus applies a guarded fulfillment transition.
func (s *OrderStore) SetFulfillmentStatus(ctx context.Context, reference string, from, to order.FulfillmentStatus) error {
	tag, err := s.pool.Exec(ctx, setFulfillmentStatusSQL, reference, string(from), string(to))
	if err != nil {
		return fmt.Errorf("setting fulfillment status of %q to %s: %w", reference, to, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStale
	}
	return nil
}

// SweepStalePending fails orders pending since before cutoff and returns
// their references and line snapshots so the caller can release stock.
func (s *OrderStore) SweepStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	rows, err := s.pool.Query(ctx, sweepStalePendingSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale pending orders: %w", err)
	}
	defer rows.Close()

	var swept []*order.Order
	for rows.Next() {
		var (
			o         order.Order
			linesJSON []byte
		)
		if err := rows.Scan(&o.Reference, &linesJSON); err != nil {
			return nil, fmt.Errorf("scanning swept order: %w", err)
		}
		if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
			return nil, fmt.Errorf("unmarshaling lines for %q: %w", o.Reference, err)
		}
		o.PaymentStatus = order.PaymentFailed
		swept = append(swept, &o)
	}
	return swept, rows.Err()
}
