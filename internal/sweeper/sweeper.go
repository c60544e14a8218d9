// Package sweeper fails orders whose payment never settled and returns their
// reserved stock. It is the backstop for crashed checkouts, lost webhooks and
// abandoned redirect flows.
package sweeper

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vesna-shop/checkout-api/internal/domain/inventory"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
)

// Config tunes the sweep loop.
type Config struct {
	// Interval between sweep passes.
	Interval time.Duration
	// PendingTimeout is how long an order may stay unpaid/pending before it
	// is failed. It must comfortably exceed gateway webhook retry horizons.
	PendingTimeout time.Duration
	// BatchSize caps orders swept per pass.
	BatchSize int
}

// Sweeper periodically fails stale pending orders and releases their
// reservations.
type Sweeper struct {
	cfg    Config
	orders order.Store
	ledger inventory.Ledger
	now    func() time.Time
}

// New creates a Sweeper.
func New(cfg Config, orders order.Store, ledger inventory.Ledger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		cfg:    cfg,
		orders: orders,
		ledger: ledger,
		now:    time.Now,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				zctx.From(ctx).Error("Sweep pass failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce fails every order stuck unpaid/pending past the timeout and
// releases its stock. The status flip commits before the release: a crash in
// between leaks stock until someone looks, but can never fail an order whose
// stock was already given back.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.PendingTimeout)

	swept, err := s.orders.SweepStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "sweep stale pending")
	}
	if len(swept) == 0 {
		return nil
	}

	lg := zctx.From(ctx)
	for _, o := range swept {
		if err := inventory.ReleaseAll(ctx, s.ledger, o.Reservations()); err != nil {
			lg.Error("Releasing stock for swept order", zap.String("order", o.Reference), zap.Error(err))
			continue
		}
		lg.Info("Stale pending order failed, stock released",
			zap.String("order", o.Reference),
			zap.Time("created_at", o.CreatedAt),
		)
	}
	return nil
}
