package memory

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestStockMovementRepository_AppendAndList(t *testing.T) {
	repo := NewStockMovementRepository()

	if err := repo.Append(domain.StockMovement{
		VariantID: 1, CartID: 10, Kind: domain.StockMovementReserve, Qty: 3, StockAfter: 7,
	}); err != nil {
		t.Fatalf("append reserve: %v", err)
	}
	if err := repo.Append(domain.StockMovement{
		VariantID: 1, CartID: 10, Kind: domain.StockMovementRelease, Qty: 1, StockAfter: 8,
	}); err != nil {
		t.Fatalf("append release: %v", err)
	}
	if err := repo.Append(domain.StockMovement{
		VariantID: 2, CartID: 10, Kind: domain.StockMovementReserve, Qty: 5, StockAfter: 0,
	}); err != nil {
		t.Fatalf("append other variant: %v", err)
	}

	movements, err := repo.ListByVariant(1)
	if err != nil {
		t.Fatalf("list by variant: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("movements count = %d, want 2", len(movements))
	}
	if movements[0].ID == 0 || movements[1].ID <= movements[0].ID {
		t.Fatalf("expected increasing ids, got %d then %d", movements[0].ID, movements[1].ID)
	}
	if movements[0].Kind != domain.StockMovementReserve || movements[0].StockAfter != 7 {
		t.Fatalf("unexpected first movement: %+v", movements[0])
	}
	if movements[0].Occurred.IsZero() {
		t.Fatal("expected occurred timestamp to be set")
	}
}

func TestStockMovementRepository_KeepsExplicitTimestamp(t *testing.T) {
	repo := NewStockMovementRepository()

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Append(domain.StockMovement{
		VariantID: 1, CartID: 1, Kind: domain.StockMovementReserve, Qty: 1, StockAfter: 4, Occurred: occurred,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	movements, err := repo.ListByVariant(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !movements[0].Occurred.Equal(occurred) {
		t.Fatalf("occurred = %v, want %v", movements[0].Occurred, occurred)
	}
}

func TestStockMovementRepository_EmptyVariant(t *testing.T) {
	repo := NewStockMovementRepository()

	movements, err := repo.ListByVariant(42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(movements))
	}
}
