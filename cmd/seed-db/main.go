// Command seed-db loads demo catalog variants and stock into the database so
// a fresh environment can take orders immediately.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/storage/postgres"
)

type variantJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	DiscountPrice decimal.Decimal `json:"discount_price"`
	Discounted    bool            `json:"discounted"`
	WeightGrams   int             `json:"weight_grams"`
	Available     bool            `json:"available"`
	Stock         int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		variantsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&variantsFile, "variants-file", "db/seed/variants.json", "path to variants JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, variantsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, variantsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading variants file", slog.String("path", variantsFile))

	data, err := os.ReadFile(variantsFile)
	if err != nil {
		return errors.Wrap(err, "read variants file")
	}

	var variants []variantJSON
	if err := json.Unmarshal(data, &variants); err != nil {
		return errors.Wrap(err, "parse variants JSON")
	}

	slog.Info("upserting variants", slog.Int("count", len(variants)))

	repo := postgres.NewCatalogRepository(pool)
	for _, v := range variants {
		err := repo.UpsertVariant(ctx, catalog.Variant{
			ID:            v.ID,
			Name:          v.Name,
			Price:         v.Price,
			DiscountPrice: v.DiscountPrice,
			Discounted:    v.Discounted,
			WeightGrams:   v.WeightGrams,
			Available:     v.Available,
		})
		if err != nil {
			return errors.Wrapf(err, "upsert variant %s", v.ID)
		}
		if err := repo.SetStock(ctx, v.ID, v.Stock); err != nil {
			return errors.Wrapf(err, "set stock for %s", v.ID)
		}

		slog.Info("upserted variant", slog.String("id", v.ID), slog.String("name", v.Name), slog.Int("stock", v.Stock))
	}

	return nil
}
