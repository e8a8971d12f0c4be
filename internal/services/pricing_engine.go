package services

import (
	"errors"
	"strings"

	domain "github.com/pressdeck/api/internal/domain"
)

// Provider bounds on a single unit price, in cents. Stripe rejects amounts
// outside this window for EUR.
const (
	MinUnitPrice = 50
	MaxUnitPrice = 99_999_999
)

// Quantity and cart-size bounds.
const (
	MinQuantity  = 1
	MaxQuantity  = 100
	MaxCartLines = 100
)

var (
	// ErrPricingInvalidInput signals bad line data such as non-positive prices or quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCurrencyMismatch is returned when a line is not denominated in EUR.
	ErrPricingCurrencyMismatch = errors.New("pricing: currency mismatch")
)

// CartPricingEngine computes deterministic prices in integer cents. The same
// cart always prices to the same totals; there is no stored pricing state.
type CartPricingEngine struct {
	vatRateBps int64
	contentFee int64
}

// CartPricingEngineDeps configures the engine rates.
type CartPricingEngineDeps struct {
	VATRateBps             int64 // default 2500 (25%)
	ProfessionalContentFee int64 // default 2500 cents
}

// NewCartPricingEngine constructs the engine, applying default rates.
func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	rate := deps.VATRateBps
	if rate == 0 {
		rate = 2500
	}
	if rate < 0 {
		return nil, errors.New("pricing engine: vat rate must not be negative")
	}
	fee := deps.ProfessionalContentFee
	if fee == 0 {
		fee = 2500
	}
	if fee < 0 {
		return nil, errors.New("pricing engine: content fee must not be negative")
	}
	return &CartPricingEngine{vatRateBps: rate, contentFee: fee}, nil
}

// VATRateBps exposes the configured rate for display purposes.
func (e *CartPricingEngine) VATRateBps() int64 { return e.vatRateBps }

// PriceLine computes the unit and line totals for a single cart item.
func (e *CartPricingEngine) PriceLine(item domain.CartItem) (LinePricing, error) {
	if item.BasePrice <= 0 {
		return LinePricing{}, ErrPricingInvalidInput
	}
	if item.Quantity < MinQuantity || item.Quantity > MaxQuantity {
		return LinePricing{}, ErrPricingInvalidInput
	}
	if item.Multiplier < 0 {
		return LinePricing{}, ErrPricingInvalidInput
	}
	if currency := strings.ToUpper(strings.TrimSpace(item.Currency)); currency != "" && currency != domain.CurrencyEUR {
		return LinePricing{}, ErrPricingCurrencyMismatch
	}

	unit := domain.ApplyMultiplier(item.BasePrice, item.Multiplier)
	var surcharge int64
	if item.ContentOption == domain.ContentProfessional {
		surcharge = e.contentFee
	}
	unit += surcharge

	return LinePricing{
		UnitPrice: unit,
		Surcharge: surcharge,
		LineTotal: unit * int64(item.Quantity),
	}, nil
}

// PriceCart prices every line, sums the subtotal, and applies VAT with
// half-up rounding on the cart subtotal.
func (e *CartPricingEngine) PriceCart(items []domain.CartItem) (CartPricing, error) {
	if len(items) == 0 {
		return CartPricing{}, ErrPricingInvalidInput
	}

	pricing := CartPricing{
		Lines:    make([]PricedLine, 0, len(items)),
		Currency: domain.CurrencyEUR,
	}
	for _, item := range items {
		line, err := e.PriceLine(item)
		if err != nil {
			return CartPricing{}, err
		}
		pricing.Lines = append(pricing.Lines, PricedLine{Item: item, Pricing: line})
		pricing.Subtotal += line.LineTotal
	}

	pricing.VAT = domain.VATAmount(pricing.Subtotal, e.vatRateBps)
	pricing.Total = pricing.Subtotal + pricing.VAT
	return pricing, nil
}

var _ PricingEngine = (*CartPricingEngine)(nil)
