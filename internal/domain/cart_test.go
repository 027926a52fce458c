package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базовой корзины с одной позицией.
func makeCart() domain.Cart {
	now := time.Now().UTC()
	return domain.Cart{
		ID:        1,
		SessionID: "session-1",
		Currency:  "USD",
		Channel:   "web",
		Lines: []domain.CartLine{
			{ID: 10, CartID: 1, VariantID: 100, Qty: 2, CreatedAt: now, UpdatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCartValidateInvariants_Ok(t *testing.T) {
	cart := makeCart()
	if errs := cart.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestCartValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *domain.Cart)
	}{
		{
			name: "no session",
			mut: func(c *domain.Cart) {
				c.SessionID = ""
			},
		},
		{
			name: "no currency",
			mut: func(c *domain.Cart) {
				c.Currency = ""
			},
		},
		{
			name: "no channel",
			mut: func(c *domain.Cart) {
				c.Channel = ""
			},
		},
		{
			name: "zero qty line",
			mut: func(c *domain.Cart) {
				c.Lines[0].Qty = 0
			},
		},
		{
			name: "duplicate variant line",
			mut: func(c *domain.Cart) {
				c.Lines = append(c.Lines, domain.CartLine{ID: 11, CartID: 1, VariantID: 100, Qty: 1})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cart := makeCart()
			tc.mut(&cart)

			if len(cart.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestCartFindLine(t *testing.T) {
	cart := makeCart()

	if _, ok := cart.FindLine(10); !ok {
		t.Fatal("expected to find line 10")
	}
	if _, ok := cart.FindLine(999); ok {
		t.Fatal("did not expect to find line 999")
	}
}

func TestCartLineForVariant(t *testing.T) {
	cart := makeCart()

	line, ok := cart.LineForVariant(100)
	if !ok {
		t.Fatal("expected to find line for variant 100")
	}
	if line.Qty != 2 {
		t.Fatalf("expected qty 2, got %d", line.Qty)
	}
	if _, ok := cart.LineForVariant(200); ok {
		t.Fatal("did not expect a line for variant 200")
	}
}
