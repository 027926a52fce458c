package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestInsufficientStockError(t *testing.T) {
	err := &domain.InsufficientStockError{VariantID: 7, Available: 3}

	if !domain.IsInsufficientStock(err) {
		t.Fatal("expected IsInsufficientStock to match")
	}

	available, ok := domain.AvailableStock(err)
	if !ok || available != 3 {
		t.Fatalf("expected available 3, got %d (ok=%v)", available, ok)
	}
}

func TestInsufficientStockError_Wrapped(t *testing.T) {
	err := fmt.Errorf("add line: %w", &domain.InsufficientStockError{VariantID: 1, Available: 5})

	if !domain.IsInsufficientStock(err) {
		t.Fatal("expected wrapped error to match")
	}
	if available, _ := domain.AvailableStock(err); available != 5 {
		t.Fatalf("expected available 5, got %d", available)
	}
}

func TestAvailableStock_OtherError(t *testing.T) {
	if _, ok := domain.AvailableStock(errors.New("boom")); ok {
		t.Fatal("did not expect a stock value from unrelated error")
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err      error
		expected bool
	}{
		{domain.ErrVariantNotFound, true},
		{domain.ErrCartNotFound, true},
		{domain.ErrCartLineNotFound, true},
		{fmt.Errorf("load cart: %w", domain.ErrCartLineNotFound), true},
		{errors.New("boom"), false},
	}

	for _, tc := range cases {
		if got := domain.IsNotFound(tc.err); got != tc.expected {
			t.Fatalf("IsNotFound(%v) = %v, expected %v", tc.err, got, tc.expected)
		}
	}
}

func TestVariantValidate(t *testing.T) {
	variant := domain.Variant{SKU: "SKU-1", Name: "Red Falcon", PriceMinor: 700, Stock: 10}
	if errs := variant.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}

	bad := domain.Variant{PriceMinor: -1, Stock: -1}
	if errs := bad.Validate(); len(errs) != 4 {
		t.Fatalf("expected 4 validation errors, got %v", errs)
	}
}
