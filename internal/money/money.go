// Package money provides fixed-point price and amount arithmetic for the
// venue's order book and order submission paths. Values are backed by
// decimal.Decimal so that equality and rounding never depend on binary
// floating point representation.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SignificantDigits is the maximum number of significant digits the venue
// accepts in a price field.
const SignificantDigits = 5

// Price is a decimal value truncated to the venue's significant-digit limit.
type Price struct {
	d decimal.Decimal
}

// Amount is a decimal value rounded to a pair's amount precision. A negative
// amount encodes the ask side of a book level; a positive amount encodes the
// bid side, per the level sign convention in the data model.
type Amount struct {
	d decimal.Decimal
}

// NewPrice truncates r to SignificantDigits significant digits, the way the
// venue's wire format requires, and returns the resulting Price.
func NewPrice(r decimal.Decimal) Price {
	return Price{d: round5(r)}
}

// ParsePrice parses a decimal string into a Price, truncating to the venue's
// significant-digit limit.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Price{}, err
	}
	return NewPrice(d), nil
}

// Decimal returns the underlying decimal.Decimal value.
func (p Price) Decimal() decimal.Decimal { return p.d }

// String renders the price as a plain decimal string, suitable for
// transmission on the wire (prices are always sent as strings, never floats).
func (p Price) String() string { return p.d.String() }

// IsZero reports whether the price is exactly zero.
func (p Price) IsZero() bool { return p.d.IsZero() }

// Cmp compares p to other, returning -1, 0, or 1.
func (p Price) Cmp(other Price) int { return p.d.Cmp(other.d) }

// LessThan reports whether p < other.
func (p Price) LessThan(other Price) bool { return p.d.LessThan(other.d) }

// round5 truncates r toward zero at five significant digits, mirroring the
// teacher's fixed-scale decimal truncation (numeric.Format rounds toward
// zero at a caller-supplied scale); here the scale is derived from the
// magnitude of r so that exactly five significant digits survive.
func round5(r decimal.Decimal) decimal.Decimal {
	if r.IsZero() {
		return r
	}
	abs := r.Abs()
	exp := 0
	ten := decimal.NewFromInt(10)
	one := decimal.NewFromInt(1)
	for abs.GreaterThanOrEqual(ten) {
		abs = abs.Div(ten)
		exp++
	}
	for abs.LessThan(one) {
		abs = abs.Mul(ten)
		exp--
	}
	scale := int32(SignificantDigits - 1 - exp)
	if scale < 0 {
		// Magnitude exceeds the significant-digit window on the integer
		// side; truncate the surplus integer digits toward zero instead.
		return r.Shift(scale).Truncate(0).Shift(-scale)
	}
	return r.Truncate(scale)
}

// NewAmount wraps a raw decimal value as an Amount without rounding; callers
// that need venue-precision rounding should use RoundStep.
func NewAmount(r decimal.Decimal) Amount { return Amount{d: r} }

// ParseAmount parses a decimal string into an Amount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, err
	}
	return Amount{d: d}, nil
}

// Decimal returns the underlying decimal.Decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// String renders the amount as a plain decimal string.
func (a Amount) String() string { return a.d.String() }

// Sign returns -1, 0, or 1 depending on the amount's sign. By convention a
// negative amount marks the ask side of a book level and a positive amount
// marks the bid side.
func (a Amount) Sign() int { return a.d.Sign() }

// Abs returns the absolute value of the amount.
func (a Amount) Abs() Amount { return Amount{d: a.d.Abs()} }

// Neg returns the amount negated.
func (a Amount) Neg() Amount { return Amount{d: a.d.Neg()} }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// LessThan reports whether a < other.
func (a Amount) LessThan(other Amount) bool { return a.d.LessThan(other.d) }

// GreaterThanOrEqual reports whether a >= other.
func (a Amount) GreaterThanOrEqual(other Amount) bool { return a.d.GreaterThanOrEqual(other.d) }

// RoundStep rounds r to the fractional precision implied by a decimal "step"
// string (e.g. "0.0001" implies four fractional digits), the way the
// teacher's numeric.ScaleFromStep derives precision from a step literal.
func RoundStep(r decimal.Decimal, step string) Amount {
	scale := ScaleFromStep(step)
	return Amount{d: r.Round(int32(scale))}
}

// ScaleFromStep derives the fractional precision implied by a decimal "step"
// string. An empty or integral step yields zero fractional digits.
func ScaleFromStep(step string) int {
	step = strings.TrimSpace(step)
	if step == "" {
		return 0
	}
	idx := strings.IndexByte(step, '.')
	if idx < 0 {
		return 0
	}
	frac := strings.TrimRight(step[idx+1:], "0")
	return len(frac)
}
