// Package money implements fixed-point amounts for the settlement engine.
//
// All amounts carry two fractional digits. Rounding is half-up and happens
// once, when a derived value (a platform fee) is first computed.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/safar/go-marketplace/internal/apperr"
)

// Places is the number of fractional digits kept for every amount.
const Places = 2

var (
	hundred = decimal.NewFromInt(100)

	// DefaultCommissionRate is applied to vendors without an explicit rate.
	DefaultCommissionRate = decimal.NewFromInt(10)
)

// Round rounds to two fractional digits, half-up for non-negative values.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// ValidateRate reports apperr.ErrInvalidRate when rate is outside [0, 100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperr.ErrInvalidRate
	}
	return nil
}

// Split divides amount into the platform fee and the vendor earning for a
// commission rate given in percent. fee + earning == amount always holds.
func Split(amount, rate decimal.Decimal) (fee, earning decimal.Decimal, err error) {
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, decimal.Zero, apperr.ErrNegativeAmount
	}

	amount = Round(amount)
	fee = Round(amount.Mul(rate).Div(hundred))
	earning = amount.Sub(fee)
	return fee, earning, nil
}

// LineTotal returns unitPrice * quantity rounded to two places.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
