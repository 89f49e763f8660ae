package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewPriceTruncatesToFiveSignificantDigits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100.12345678", "100.12"},
		{"0.000123456", "0.00012345"},
		{"12345.6789", "12345"},
		{"1", "1"},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.in, err)
		}
		got := NewPrice(d).String()
		if got != tc.want {
			t.Fatalf("NewPrice(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParsePriceRoundTrip(t *testing.T) {
	p, err := ParsePrice("100.10")
	if err != nil {
		t.Fatalf("ParsePrice: %v", err)
	}
	if p.String() != "100.1" {
		t.Fatalf("got %s", p.String())
	}
}

func TestAmountSignConvention(t *testing.T) {
	ask, err := ParseAmount("-5")
	if err != nil {
		t.Fatal(err)
	}
	if ask.Sign() != -1 {
		t.Fatalf("expected ask amount to be negative")
	}
	bid, err := ParseAmount("5")
	if err != nil {
		t.Fatal(err)
	}
	if bid.Sign() != 1 {
		t.Fatalf("expected bid amount to be positive")
	}
}

func TestScaleFromStep(t *testing.T) {
	cases := map[string]int{
		"":         0,
		"1":        0,
		"0.1":      1,
		"0.0001":   4,
		"0.001000": 3,
	}
	for step, want := range cases {
		if got := ScaleFromStep(step); got != want {
			t.Fatalf("ScaleFromStep(%q) = %d, want %d", step, got, want)
		}
	}
}

func TestRoundStep(t *testing.T) {
	r := decimal.RequireFromString("1.23456789")
	got := RoundStep(r, "0.0001")
	if got.String() != "1.2346" {
		t.Fatalf("got %s", got.String())
	}
}
