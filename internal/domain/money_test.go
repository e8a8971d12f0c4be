package domain

import "testing"

func TestApplyMultiplier(t *testing.T) {
	cases := []struct {
		name       string
		amount     int64
		multiplier float64
		want       int64
	}{
		{"unset multiplier keeps amount", 10000, 0, 10000},
		{"identity multiplier keeps amount", 10000, 1.0, 10000},
		{"doubles", 10000, 2.0, 20000},
		{"one point five", 10000, 1.5, 15000},
		{"rounds half up", 333, 1.5, 500},
		{"rounds down below half", 334, 1.1, 367},
	}

	for _, tc := range cases {
		if got := ApplyMultiplier(tc.amount, tc.multiplier); got != tc.want {
			t.Fatalf("%s: ApplyMultiplier(%d, %v) = %d, want %d", tc.name, tc.amount, tc.multiplier, got, tc.want)
		}
	}
}

func TestVATAmount(t *testing.T) {
	if got := VATAmount(10000, 2500); got != 2500 {
		t.Fatalf("expected 2500 VAT on 10000 at 25%%, got %d", got)
	}
	// 1 cent at 25% is 0.25 cents, rounds down; 2 cents is 0.5 cents, rounds up.
	if got := VATAmount(1, 2500); got != 0 {
		t.Fatalf("expected 0 VAT on 1 cent, got %d", got)
	}
	if got := VATAmount(2, 2500); got != 1 {
		t.Fatalf("expected 1 cent VAT on 2 cents, got %d", got)
	}
	if got := VATAmount(0, 2500); got != 0 {
		t.Fatalf("expected no VAT on zero subtotal, got %d", got)
	}
}

func TestFormatMajor(t *testing.T) {
	if got := FormatMajor(12550); got != "125.50" {
		t.Fatalf("expected 125.50, got %s", got)
	}
	if got := FormatMajor(5); got != "0.05" {
		t.Fatalf("expected 0.05, got %s", got)
	}
	if got := FormatMajor(-150); got != "-1.50" {
		t.Fatalf("expected -1.50, got %s", got)
	}
}

func TestOrderIDDeterministic(t *testing.T) {
	if OrderID("cs_123", "outlet-9") != "cs_123_outlet-9" {
		t.Fatalf("unexpected order id %s", OrderID("cs_123", "outlet-9"))
	}
	if OrderID(" cs_123 ", " outlet-9 ") != "cs_123_outlet-9" {
		t.Fatalf("expected trimmed components")
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	for _, s := range []CheckoutSessionStatus{SessionStatusPaid, SessionStatusFailed, SessionStatusExpired} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if SessionStatusCreated.Terminal() {
		t.Fatalf("created must not be terminal")
	}
}
