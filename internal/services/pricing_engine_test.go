package services

import (
	"errors"
	"testing"

	domain "github.com/pressdeck/api/internal/domain"
)

func newTestEngine(t *testing.T) *CartPricingEngine {
	t.Helper()
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine returned error: %v", err)
	}
	return engine
}

func TestPriceLineAppliesMultiplierAndSurcharge(t *testing.T) {
	engine := newTestEngine(t)

	line, err := engine.PriceLine(domain.CartItem{
		BasePrice:     10_000, // 100.00
		Multiplier:    1.5,
		ContentOption: domain.ContentProfessional,
		Quantity:      2,
	})
	if err != nil {
		t.Fatalf("PriceLine returned error: %v", err)
	}

	// 100.00 x 1.5 + 25.00 = 175.00 per unit
	if line.UnitPrice != 17_500 {
		t.Errorf("unexpected unit price %d", line.UnitPrice)
	}
	if line.Surcharge != 2_500 {
		t.Errorf("unexpected surcharge %d", line.Surcharge)
	}
	if line.LineTotal != 35_000 {
		t.Errorf("unexpected line total %d", line.LineTotal)
	}
}

func TestPriceLineDefaultsMultiplier(t *testing.T) {
	engine := newTestEngine(t)

	line, err := engine.PriceLine(domain.CartItem{BasePrice: 9_999, Quantity: 1})
	if err != nil {
		t.Fatalf("PriceLine returned error: %v", err)
	}
	if line.UnitPrice != 9_999 {
		t.Errorf("expected multiplier 0 to behave as 1.0, got %d", line.UnitPrice)
	}
	if line.Surcharge != 0 {
		t.Errorf("self-provided lines carry no surcharge, got %d", line.Surcharge)
	}
}

func TestPriceLineRoundsHalfUp(t *testing.T) {
	engine := newTestEngine(t)

	// 33 x 1.015 = 33.495 -> 33 (floor at .495), 33 x 1.05 = 34.65 -> 35
	line, err := engine.PriceLine(domain.CartItem{BasePrice: 33, Multiplier: 1.05, Quantity: 1})
	if err != nil {
		t.Fatalf("PriceLine returned error: %v", err)
	}
	if line.UnitPrice != 35 {
		t.Errorf("expected half-up rounding to 35, got %d", line.UnitPrice)
	}
}

func TestPriceLineRejectsBadInput(t *testing.T) {
	engine := newTestEngine(t)

	cases := []domain.CartItem{
		{BasePrice: 0, Quantity: 1},
		{BasePrice: -100, Quantity: 1},
		{BasePrice: 100, Quantity: 0},
		{BasePrice: 100, Quantity: 101},
		{BasePrice: 100, Quantity: 1, Multiplier: -0.5},
	}
	for _, item := range cases {
		if _, err := engine.PriceLine(item); !errors.Is(err, ErrPricingInvalidInput) {
			t.Errorf("expected ErrPricingInvalidInput for %+v, got %v", item, err)
		}
	}

	if _, err := engine.PriceLine(domain.CartItem{BasePrice: 100, Quantity: 1, Currency: "USD"}); !errors.Is(err, ErrPricingCurrencyMismatch) {
		t.Errorf("expected ErrPricingCurrencyMismatch, got %v", err)
	}
}

func TestPriceCartComputesVAT(t *testing.T) {
	engine := newTestEngine(t)

	pricing, err := engine.PriceCart([]domain.CartItem{
		{BasePrice: 10_000, Quantity: 1},
		{BasePrice: 5_000, Quantity: 2, ContentOption: domain.ContentProfessional},
	})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}

	// 100.00 + 2 x (50.00 + 25.00) = 250.00 subtotal
	if pricing.Subtotal != 25_000 {
		t.Errorf("unexpected subtotal %d", pricing.Subtotal)
	}
	// 25% of 250.00 = 62.50
	if pricing.VAT != 6_250 {
		t.Errorf("unexpected VAT %d", pricing.VAT)
	}
	if pricing.Total != 31_250 {
		t.Errorf("unexpected total %d", pricing.Total)
	}
	if pricing.Currency != domain.CurrencyEUR {
		t.Errorf("unexpected currency %s", pricing.Currency)
	}
}

func TestPriceCartIsDeterministic(t *testing.T) {
	engine := newTestEngine(t)

	items := []domain.CartItem{
		{BasePrice: 1_333, Quantity: 3, Multiplier: 1.17},
		{BasePrice: 99_999, Quantity: 1, ContentOption: domain.ContentProfessional},
	}

	first, err := engine.PriceCart(items)
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := engine.PriceCart(items)
		if err != nil {
			t.Fatalf("PriceCart returned error: %v", err)
		}
		if again.Subtotal != first.Subtotal || again.VAT != first.VAT || again.Total != first.Total {
			t.Fatalf("pricing diverged between runs: %+v vs %+v", first, again)
		}
	}
}

func TestPriceCartVATRoundingEdge(t *testing.T) {
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{VATRateBps: 2500})
	if err != nil {
		t.Fatalf("NewCartPricingEngine returned error: %v", err)
	}

	// 0.50 subtotal -> VAT 0.125 rounds half-up to 0.13
	pricing, err := engine.PriceCart([]domain.CartItem{{BasePrice: 50, Quantity: 1}})
	if err != nil {
		t.Fatalf("PriceCart returned error: %v", err)
	}
	if pricing.VAT != 13 {
		t.Errorf("expected VAT 13, got %d", pricing.VAT)
	}
}

func TestPriceCartRejectsEmptyCart(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.PriceCart(nil); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}
