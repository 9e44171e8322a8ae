package safe

import (
	"math"

	"github.com/shopspring/decimal"
)

// Epsilon is the smallest denominator any ratio in the risk path divides by.
var Epsilon = decimal.New(1, -9)

// Dec converts a boundary float into a decimal. NaN and Inf map to zero so a
// corrupt upstream value can never poison a comparison.
func Dec(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// FloorDenominator returns max(d, Epsilon).
func FloorDenominator(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(Epsilon) {
		return Epsilon
	}
	return d
}

// Div divides a by b with b floored at Epsilon. It never panics.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.Div(FloorDenominator(b))
}

// Notional returns |size| * price.
func Notional(size, price float64) decimal.Decimal {
	return Dec(size).Abs().Mul(Dec(price))
}
