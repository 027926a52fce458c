package postgres

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func createCartForIntegrationTest(t *testing.T, repo domain.CartRepository, sessionID string) domain.Cart {
	t.Helper()

	cart, err := repo.Create(domain.Cart{
		SessionID: sessionID,
		Currency:  "USD",
		Channel:   "web",
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	return cart
}

func TestCartRepository_PostgresCreateAndGet(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCartRepository(store)

	cart := createCartForIntegrationTest(t, repo, "session-pg-1")
	if cart.ID == 0 {
		t.Fatal("expected assigned cart id")
	}

	got, err := repo.Get(cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if got.SessionID != "session-pg-1" || got.Currency != "USD" || got.Channel != "web" {
		t.Fatalf("unexpected cart payload: %+v", got)
	}

	bySession, err := repo.GetBySession("session-pg-1")
	if err != nil {
		t.Fatalf("get cart by session: %v", err)
	}
	if bySession.ID != cart.ID {
		t.Fatalf("session lookup returned cart %d, want %d", bySession.ID, cart.ID)
	}

	if _, err := repo.Get(99999); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
	if _, err := repo.GetBySession("missing-session"); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound by session, got %v", err)
	}
}

func TestCartRepository_PostgresDuplicateSessionReturnsWinner(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewCartRepository(store)

	first := createCartForIntegrationTest(t, repo, "session-dup")
	second := createCartForIntegrationTest(t, repo, "session-dup")

	if second.ID != first.ID {
		t.Fatalf("duplicate session create returned cart %d, want %d", second.ID, first.ID)
	}
}

func TestCartRepository_PostgresAddLineMerges(t *testing.T) {
	store := migratedTestStore(t)
	catalog := NewCatalogRepository(store)
	repo := NewCartRepository(store)

	variant := seedVariantForIntegrationTest(t, catalog, 100)
	cart := createCartForIntegrationTest(t, repo, "session-merge")

	line1, err := repo.AddLine(cart.ID, variant.ID, 2)
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	line2, err := repo.AddLine(cart.ID, variant.ID, 3)
	if err != nil {
		t.Fatalf("add line again: %v", err)
	}

	if line2.ID != line1.ID {
		t.Fatalf("merge created new line %d, want %d", line2.ID, line1.ID)
	}
	if line2.Qty != 5 {
		t.Fatalf("merged qty = %d, want 5", line2.Qty)
	}

	got, err := repo.Get(cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Lines) != 1 {
		t.Fatalf("lines count = %d, want 1", len(got.Lines))
	}

	if _, err := repo.AddLine(99999, variant.ID, 1); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound for missing cart, got %v", err)
	}
}

func TestCartRepository_PostgresSetLineQtyAndRemove(t *testing.T) {
	store := migratedTestStore(t)
	catalog := NewCatalogRepository(store)
	repo := NewCartRepository(store)

	variant := seedVariantForIntegrationTest(t, catalog, 100)
	cart := createCartForIntegrationTest(t, repo, "session-update")

	line, err := repo.AddLine(cart.ID, variant.ID, 2)
	if err != nil {
		t.Fatalf("add line: %v", err)
	}

	updated, err := repo.SetLineQty(cart.ID, line.ID, 7)
	if err != nil {
		t.Fatalf("set line qty: %v", err)
	}
	if updated.Qty != 7 {
		t.Fatalf("qty after update = %d, want 7", updated.Qty)
	}

	if _, err := repo.SetLineQty(cart.ID, 99999, 1); !errors.Is(err, domain.ErrCartLineNotFound) {
		t.Fatalf("expected ErrCartLineNotFound on update, got %v", err)
	}
	if _, err := repo.SetLineQty(cart.ID, line.ID, 0); !errors.Is(err, domain.ErrLineQtyInvalid) {
		t.Fatalf("expected ErrLineQtyInvalid, got %v", err)
	}

	removed, err := repo.RemoveLine(cart.ID, line.ID)
	if err != nil {
		t.Fatalf("remove line: %v", err)
	}
	if removed.Qty != 7 {
		t.Fatalf("removed line qty = %d, want 7", removed.Qty)
	}

	if _, err := repo.RemoveLine(cart.ID, line.ID); !errors.Is(err, domain.ErrCartLineNotFound) {
		t.Fatalf("expected ErrCartLineNotFound on second remove, got %v", err)
	}

	got, err := repo.Get(cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Lines) != 0 {
		t.Fatalf("lines count after remove = %d, want 0", len(got.Lines))
	}
}
