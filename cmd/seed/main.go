package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCount    = 3
	defaultCurrency = "USD"
)

func main() {
	var (
		count      int
		seed       int64
		dsn        string
		currency   string
		runMigrate bool
	)

	flag.IntVar(&count, "count", defaultCount, "number of demo variants to create")
	flag.Int64Var(&seed, "seed", 0, "random seed for the generator (0=current time)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: CART_POSTGRES_DSN)")
	flag.StringVar(&currency, "currency", defaultCurrency, "currency code used to print prices")
	flag.BoolVar(&runMigrate, "migrate", false, "apply pending migrations before seeding")
	flag.Parse()

	if count <= 0 {
		fail("-count must be positive, got %d", count)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("CART_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("CART_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if runMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			fail("migrate up failed: %v", err)
		}
	}

	variants, err := catalog.SeedDemo(postgres.NewCatalogRepository(store), count, seed)
	if err != nil {
		fail("seed demo catalog: %v", err)
	}

	fmt.Printf("seeded %d demo variants (seed=%d):\n", len(variants), seed)
	for _, variant := range variants {
		fmt.Printf("  id=%d sku=%s name=%q price=%s stock=%d\n",
			variant.ID, variant.SKU, variant.Name, pricing.Format(currency, variant.PriceMinor), variant.Stock)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
