package postgres

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func seedVariantForIntegrationTest(t *testing.T, repo domain.CatalogRepository, stock int32) domain.Variant {
	t.Helper()

	variant, err := repo.CreateVariant(domain.Variant{
		SKU:        "SKU-INT-1",
		Name:       "Integration Widget",
		Status:     domain.VariantStatusPublished,
		PriceMinor: 1500,
		Stock:      stock,
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}
	return variant
}

func TestCatalogRepository_PostgresCreateAndGet(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCatalogRepository(store)

	created := seedVariantForIntegrationTest(t, repo, 10)
	if created.ID == 0 {
		t.Fatal("expected assigned variant id")
	}

	got, err := repo.GetVariant(created.ID)
	if err != nil {
		t.Fatalf("get variant: %v", err)
	}
	if got.SKU != created.SKU || got.PriceMinor != 1500 || got.Stock != 10 {
		t.Fatalf("unexpected variant payload: %+v", got)
	}

	if _, err := repo.GetVariant(99999); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestCatalogRepository_PostgresListPublished(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCatalogRepository(store)

	if _, err := repo.CreateVariant(domain.Variant{
		SKU: "SKU-PUB", Name: "Published", Status: domain.VariantStatusPublished, PriceMinor: 100, Stock: 1,
	}); err != nil {
		t.Fatalf("create published variant: %v", err)
	}
	if _, err := repo.CreateVariant(domain.Variant{
		SKU: "SKU-DRAFT", Name: "Draft", Status: domain.VariantStatusDraft, PriceMinor: 100, Stock: 1,
	}); err != nil {
		t.Fatalf("create draft variant: %v", err)
	}

	listed, err := repo.ListPublished()
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(listed) != 1 || listed[0].SKU != "SKU-PUB" {
		t.Fatalf("unexpected published list: %+v", listed)
	}
}

func TestCatalogRepository_PostgresReserveAndRelease(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCatalogRepository(store)

	variant := seedVariantForIntegrationTest(t, repo, 10)

	newStock, err := repo.Reserve(variant.ID, 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if newStock != 6 {
		t.Fatalf("stock after reserve = %d, want 6", newStock)
	}

	_, err = repo.Reserve(variant.ID, 7)
	if !domain.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if available, ok := domain.AvailableStock(err); !ok || available != 6 {
		t.Fatalf("available = %d, want 6", available)
	}

	newStock, err = repo.Release(variant.ID, 4)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if newStock != 10 {
		t.Fatalf("stock after release = %d, want 10", newStock)
	}

	if _, err := repo.Reserve(99999, 1); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound on reserve, got %v", err)
	}
	if _, err := repo.Release(99999, 1); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound on release, got %v", err)
	}
}

func TestCatalogRepository_PostgresConcurrentReserve(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCatalogRepository(store)

	const initialStock = 10
	const attempts = 30

	variant := seedVariantForIntegrationTest(t, repo, initialStock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Reserve(variant.ID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != initialStock {
		t.Fatalf("succeeded reservations = %d, want %d", succeeded, initialStock)
	}

	got, err := repo.GetVariant(variant.ID)
	if err != nil {
		t.Fatalf("get variant after concurrent reserve: %v", err)
	}
	if got.Stock != 0 {
		t.Fatalf("final stock = %d, want 0", got.Stock)
	}
}
