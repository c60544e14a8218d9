// Package app wires configuration, storage, domain services, gateways and the
// HTTP server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vesna-shop/checkout-api/internal/domain/checkout"
	"github.com/vesna-shop/checkout-api/internal/domain/order"
	"github.com/vesna-shop/checkout-api/internal/domain/payment"
	"github.com/vesna-shop/checkout-api/internal/domain/pricing"
	"github.com/vesna-shop/checkout-api/internal/domain/webhook"
	"github.com/vesna-shop/checkout-api/internal/gateway"
	"github.com/vesna-shop/checkout-api/internal/handler"
	"github.com/vesna-shop/checkout-api/internal/storage/postgres"
	"github.com/vesna-shop/checkout-api/internal/sweeper"
	"github.com/vesna-shop/checkout-api/pkg/health"
	"github.com/vesna-shop/checkout-api/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the pending-order
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	ledger := postgres.NewLedgerRepository(pool)
	orderStore := postgres.NewOrderStore(pool)

	// Payment gateways.
	cardGW := gateway.NewCardGateway(gateway.CardConfig{
		BaseURL: cfg.Card.BaseURL,
		APIKey:  cfg.Card.APIKey,
	}, nil)
	walletGW := gateway.NewWalletGateway(gateway.WalletConfig{
		BaseURL:   cfg.Wallet.BaseURL,
		ClientID:  cfg.Wallet.ClientID,
		Secret:    cfg.Wallet.Secret,
		ReturnURL: cfg.Wallet.ReturnURL,
		CancelURL: cfg.Wallet.CancelURL,
	}, nil)
	offlineGW := gateway.NewOfflineGateway()

	gateways := payment.Registry{
		payment.MethodCard:           cardGW,
		payment.MethodWallet:         walletGW,
		payment.MethodCashOnDelivery: offlineGW,
		payment.MethodBankTransfer:   offlineGW,
	}

	// Domain services.
	engine := pricing.NewEngine(catalogRepo, pricing.DefaultShippingPolicy())
	checkoutSvc := checkout.NewService(cartRepo, engine, orderStore, ledger, gateways, cfg.Currency)
	fulfillmentSvc := order.NewService(orderStore, ledger, gateways, cfg.Currency, cfg.CancelWindow)

	reconciler := webhook.NewReconciler(map[string]webhook.Provider{
		"card": {
			SignatureHeader: "Webhook-Signature",
			Verifier:        gateway.NewCardVerifier([]byte(cfg.Card.WebhookSecret), cfg.Card.WebhookTolerance),
			Parse:           webhook.ParseCardEvent,
		},
		"wallet": {
			SignatureHeader: "Wallet-Transmission-Sig",
			Verifier:        gateway.NewWalletVerifier([]byte(cfg.Wallet.WebhookSecret)),
			Parse:           webhook.ParseWalletEvent,
		},
	}, orderStore, ledger)

	// HTTP handlers.
	var adminAuth func(http.Handler) http.Handler
	if cfg.Admin.APIKey != "" {
		pepper := []byte(cfg.Admin.Pepper)
		adminAuth = httpmiddleware.RequireAPIKey(httpmiddleware.HashAPIKey(cfg.Admin.APIKey, pepper), pepper)
	}
	h := handler.NewHandler(checkoutSvc, fulfillmentSvc, orderStore, cartRepo, catalogRepo, reconciler, adminAuth)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "checkout-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", "X-Cart-Session", "X-API-Key"},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	sweep := sweeper.New(sweeper.Config{
		Interval:       cfg.Sweep.Interval,
		PendingTimeout: cfg.Sweep.PendingTimeout,
		BatchSize:      cfg.Sweep.BatchSize,
	}, orderStore, ledger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "sweeper")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: drain readiness first, then stop the listener.
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}
