package amount

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of fractional digits kept by every division.
// It is fixed here rather than read from decimal.DivisionPrecision so that a
// replay never depends on process-wide settings.
const DivisionPrecision int32 = 18

// ErrDivisionByZero is returned when an average is requested over zero samples.
var ErrDivisionByZero = errors.New("amount: division by zero")

var half = decimal.New(5, -1)

// FromRaw converts an integer token amount into a decimal scaled by 10^decimals.
func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Div divides with DivisionPrecision and half-up rounding.
func Div(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Decimal{}, ErrDivisionByZero
	}
	return num.DivRound(den, DivisionPrecision), nil
}

// Average returns total / count.
func Average(total decimal.Decimal, count int64) (decimal.Decimal, error) {
	if count == 0 {
		return decimal.Decimal{}, ErrDivisionByZero
	}
	return Div(total, decimal.NewFromInt(count))
}

// Mean returns the arithmetic mean of two values, exactly.
func Mean(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Mul(half)
}
