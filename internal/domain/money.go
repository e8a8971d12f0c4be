package domain

import (
	"fmt"
	"math"
)

// Monetary values are carried as int64 minor units (euro cents) end to end;
// the payment provider requires integer minor units and integer math keeps
// the pricing deterministic. Major-unit strings exist only for display.

// ApplyMultiplier scales a minor-unit amount by a niche multiplier, rounding
// half up. A multiplier of zero means "not set" and leaves the amount unchanged.
func ApplyMultiplier(amount int64, multiplier float64) int64 {
	if multiplier == 0 || multiplier == 1.0 {
		return amount
	}
	return int64(math.Floor(float64(amount)*multiplier + 0.5))
}

// VATAmount computes the VAT due on a minor-unit subtotal at the given rate in
// basis points (2500 = 25%), rounding half up.
func VATAmount(subtotal int64, rateBps int64) int64 {
	if subtotal <= 0 || rateBps <= 0 {
		return 0
	}
	return (subtotal*rateBps + 5000) / 10000
}

// FormatMajor renders a minor-unit amount as a two-decimal major-unit string,
// e.g. 12550 -> "125.50".
func FormatMajor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
