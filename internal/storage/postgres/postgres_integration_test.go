//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vesna-shop/checkout-api/internal/domain/cart"
	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/storage/postgres"
)

// startPostgres brings up a throwaway database with migrations applied.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return pool
}

func seedVariant(t *testing.T, pool *pgxpool.Pool, id string, stock int) {
	t.Helper()
	repo := postgres.NewCatalogRepository(pool)
	require.NoError(t, repo.UpsertVariant(context.Background(), catalog.Variant{
		ID:        id,
		Name:      id,
		Price:     decimal.RequireFromString("10.00"),
		Available: true,
	}))
	require.NoError(t, repo.SetStock(context.Background(), id, stock))
}

func testOrder(lines ...order.Line) *order.Order {
	total := decimal.RequireFromString("10.00")
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return &order.Order{
		ID:                uuid.New().String(),
		Reference:         order.NewReference(),
		Customer:          order.Customer{Email: "ana@example.com", Phone: "+38640123456", Address: "Trubarjeva 1", City: "Ljubljana", PostalCode: "1000"},
		Lines:             lines,
		ShippingCost:      decimal.RequireFromString("10.00"),
		TotalPrice:        total,
		PaymentMethod:     payment.MethodCard,
		PaymentStatus:     order.PaymentUnpaid,
		FulfillmentStatus: order.FulfillmentPlaced,
		CreatedAt:         time.Now(),
	}
}

func TestOrderStore_CreateWithReservations(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)

	store := postgres.NewOrderStore(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)

	o := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2})
	require.NoError(t, store.CreateWithReservations(ctx, o))

	stock, err := catalogRepo.StockLevel(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	got, err := store.GetByReference(ctx, o.Reference)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, o.TotalPrice.Equal(got.TotalPrice))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "v1", got.Lines[0].VariantID)
	assert.Equal(t, order.PaymentUnpaid, got.PaymentStatus)
}

func TestOrderStore_CreateRollsBackOnPartialStock(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)
	seedVariant(t, pool, "v2", 1)

	store := postgres.NewOrderStore(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)

	o := testOrder(
		order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
		order.Line{VariantID: "v2", Name: "v2", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 3},
	)
	err := store.CreateWithReservations(ctx, o)

	var oosErr *inventory.OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, "v2", oosErr.VariantID)

	// The whole transaction rolled back: first line's stock is untouched and
	// no order row exists.
	stock, err := catalogRepo.StockLevel(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	_, err = store.GetByReference(ctx, o.Reference)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderStore_ConcurrentReservations(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)

	store := postgres.NewOrderStore(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2})
			if err := store.CreateWithReservations(ctx, o); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	stock, err := catalogRepo.StockLevel(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

func TestOrderStore_ConditionalStatusUpdates(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)

	store := postgres.NewOrderStore(pool)
	o := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1})
	require.NoError(t, store.CreateWithReservations(ctx, o))

	require.NoError(t, store.BeginPayment(ctx, o.Reference, "pi_1", "secret", ""))

	// BeginPayment is one-shot.
	require.ErrorIs(t, store.BeginPayment(ctx, o.Reference, "pi_2", "", ""), order.ErrStale)

	require.NoError(t, store.SetPaymentStatus(ctx, o.Reference, order.PaymentPending, order.PaymentPaid, "txn_1"))

	// A stale writer loses and the stored state is unchanged.
	err := store.SetPaymentStatus(ctx, o.Reference, order.PaymentPending, order.PaymentFailed, "txn_2")
	require.ErrorIs(t, err, order.ErrStale)

	got, err := store.GetByReference(ctx, o.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "txn_1", got.TransactionID)
	assert.Equal(t, "pi_1", got.IntentID)
	require.NotNil(t, got.PaidAt)
}

func TestOrderStore_SweepStalePending(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)

	store := postgres.NewOrderStore(pool)

	stale := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1})
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateWithReservations(ctx, stale))

	fresh := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1})
	require.NoError(t, store.CreateWithReservations(ctx, fresh))

	swept, err := store.SweepStalePending(ctx, time.Now().Add(-30*time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, stale.Reference, swept[0].Reference)

	got, err := store.GetByReference(ctx, stale.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
}

func TestOrderStore_SweepDoesNotOverrideConcurrentSettlement(t *testing.T) {
	// A webhook settles a stale order while the sweep's UPDATE is blocked on
	// its row. After the settling transaction commits, the sweep's recheck
	// must see the paid status and leave the order alone.
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 5)

	store := postgres.NewOrderStore(pool)
	stale := testOrder(order.Line{VariantID: "v1", Name: "v1", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2})
	stale.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateWithReservations(ctx, stale))
	require.NoError(t, store.BeginPayment(ctx, stale.Reference, "pi_1", "", ""))

	// Settle in an open transaction so the row lock is held while the sweep
	// runs.
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status = 'paid', transaction_id = 'txn_1', paid_at = now()
			WHERE reference = $1 AND payment_status = 'pending'`,
		stale.Reference)
	require.NoError(t, err)

	type sweepResult struct {
		swept []*order.Order
		err   error
	}
	done := make(chan sweepResult, 1)
	go func() {
		swept, err := store.SweepStalePending(ctx, time.Now().Add(-30*time.Minute), 100)
		done <- sweepResult{swept: swept, err: err}
	}()

	// Give the sweep time to block on the locked row, then let the
	// settlement win.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, tx.Commit(ctx))

	res := <-done
	require.NoError(t, res.err)
	assert.Empty(t, res.swept)

	got, err := store.GetByReference(ctx, stale.Reference)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "txn_1", got.TransactionID)
}

func TestCartRepository_ClaimProtocol(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	carts := postgres.NewCartRepository(pool)
	_, err := carts.UpsertItem(ctx, "sess-1", cart.Item{VariantID: "v1", Quantity: 2})
	require.NoError(t, err)

	c, err := carts.Claim(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)

	_, err = carts.Claim(ctx, "sess-1")
	require.ErrorIs(t, err, cart.ErrAlreadyCheckedOut)

	require.NoError(t, carts.Unclaim(ctx, "sess-1"))
	_, err = carts.Claim(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, carts.Clear(ctx, "sess-1"))
	_, err = carts.Get(ctx, "sess-1")
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestLedgerRepository_ReserveRelease(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	seedVariant(t, pool, "v1", 3)

	ledger := postgres.NewLedgerRepository(pool)

	require.NoError(t, ledger.Reserve(ctx, "v1", 2))

	var oosErr *inventory.OutOfStockError
	require.ErrorAs(t, ledger.Reserve(ctx, "v1", 2), &oosErr)

	require.NoError(t, ledger.Release(ctx, "v1", 2))
	require.NoError(t, ledger.Reserve(ctx, "v1", 3))
}
