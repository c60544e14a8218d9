// Command catalog-ingest imports supplier catalog feeds. Feeds are
// gzip-compressed NDJSON, one variant per line; suppliers overlap, and the
// first occurrence of a variant id wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vesna-shop/checkout-api/internal/domain/catalog"
	"github.com/vesna-shop/checkout-api/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// feedVariant is one parsed feed line.
type feedVariant struct {
	variant catalog.Variant
	stock   int
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no feed files given: pass supplier .ndjson.gz paths as arguments")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCatalogRepository(pool)
	variants := make(chan feedVariant, 1024)

	g, ctx := errgroup.WithContext(ctx)

	// Feeds parse concurrently; a single writer owns dedupe and upserts.
	readers, readCtx := errgroup.WithContext(ctx)
	for _, path := range files {
		readers.Go(streamFeed(readCtx, path, variants))
	}
	g.Go(func() error {
		defer close(variants)
		return readers.Wait()
	})

	g.Go(func() error {
		// The bloom filter answers "definitely new" without touching the
		// exact set; only possible repeats pay for the map lookup.
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		seen := make(map[string]struct{})
		var written, dropped uint64

		for fv := range variants {
			id := fv.variant.ID
			if filter.TestString(id) {
				if _, ok := seen[id]; ok {
					dropped++
					continue
				}
			}
			filter.AddString(id)
			seen[id] = struct{}{}

			if err := repo.UpsertVariant(ctx, fv.variant); err != nil {
				return errors.Wrapf(err, "upsert variant %s", id)
			}
			if err := repo.SetStock(ctx, id, fv.stock); err != nil {
				return errors.Wrapf(err, "set stock for %s", id)
			}
			written++
			if written%progressEvery == 0 {
				slog.Info("ingest progress", slog.Uint64("written", written), slog.Uint64("dropped", dropped))
			}
		}

		slog.Info("ingest complete", slog.Uint64("written", written), slog.Uint64("duplicates_dropped", dropped))
		return nil
	})

	return g.Wait()
}

// streamFeed parses one gzip NDJSON feed and sends its variants downstream.
func streamFeed(ctx context.Context, path string, out chan<- feedVariant) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		scanner := bufio.NewScanner(gz)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var line uint64
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}

			fv, err := parseFeedLine([]byte(text))
			if err != nil {
				slog.Warn("skipping malformed feed line",
					slog.String("file", path),
					slog.Uint64("line", line),
					slog.String("error", err.Error()),
				)
				continue
			}

			select {
			case out <- fv:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}
		return nil
	}
}

// parseFeedLine decodes one NDJSON feed line.
func parseFeedLine(data []byte) (feedVariant, error) {
	var (
		fv  feedVariant
		dec = jx.DecodeBytes(data)
	)
	err := dec.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			fv.variant.ID = v
			return err
		case "name":
			v, err := d.Str()
			fv.variant.Name = v
			return err
		case "price":
			raw, err := d.Num()
			if err != nil {
				return err
			}
			fv.variant.Price, err = decimal.NewFromString(raw.String())
			return err
		case "discount_price":
			raw, err := d.Num()
			if err != nil {
				return err
			}
			fv.variant.DiscountPrice, err = decimal.NewFromString(raw.String())
			return err
		case "discounted":
			v, err := d.Bool()
			fv.variant.Discounted = v
			return err
		case "weight_grams":
			v, err := d.Int()
			fv.variant.WeightGrams = v
			return err
		case "available":
			v, err := d.Bool()
			fv.variant.Available = v
			return err
		case "stock":
			v, err := d.Int()
			fv.stock = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return feedVariant{}, err
	}
	if fv.variant.ID == "" {
		return feedVariant{}, errors.New("missing variant id")
	}
	return fv, nil
}
