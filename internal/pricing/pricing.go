// Package pricing holds the money arithmetic shared by procurement and sales.
// Amounts are int64 in the smallest currency unit. Rounding is half-up and
// happens only where a percentage is applied, never per line. Every result is
// computed in decimal and checked against the int64 range before it is
// returned.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var ErrOverflow = errors.New("amount out of range")

var (
	hundred   = decimal.NewFromInt(100)
	minAmount = decimal.NewFromInt(math.MinInt64)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

type Line struct {
	Quantity        int
	UnitPriceAmount int64
}

func LineSubtotal(quantity int, unitPriceAmount int64) (int64, error) {
	return toAmount(product(quantity, unitPriceAmount))
}

func Subtotal(lines []Line) (int64, error) {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(product(line.Quantity, line.UnitPriceAmount))
	}
	return toAmount(total)
}

func TaxFromPercent(subtotal int64, percent float64) (int64, error) {
	tax := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromFloat(percent)).
		Div(hundred)
	return roundHalfUp(tax)
}

func Total(subtotal int64, tax int64) (int64, error) {
	return toAmount(decimal.NewFromInt(subtotal).Add(decimal.NewFromInt(tax)))
}

// SellPrice is cost × (1 + marginPercent/100), rounded to the currency unit.
func SellPrice(costAmount int64, marginPercent float64) (int64, error) {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(marginPercent).Div(hundred))
	return roundHalfUp(decimal.NewFromInt(costAmount).Mul(factor))
}

func product(quantity int, unitPriceAmount int64) decimal.Decimal {
	return decimal.NewFromInt(int64(quantity)).Mul(decimal.NewFromInt(unitPriceAmount))
}

// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func roundHalfUp(d decimal.Decimal) (int64, error) {
	return toAmount(d.Round(0))
}

func toAmount(d decimal.Decimal) (int64, error) {
	if d.LessThan(minAmount) || d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, d.String())
	}
	return d.IntPart(), nil
}
