package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// must returns a func so a (value, error) call can be passed straight in.
func must(t *testing.T) func(int64, error) int64 {
	return func(v int64, err error) int64 {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func TestProcurementTotals(t *testing.T) {
	amount := must(t)
	subtotal := amount(Subtotal([]Line{{Quantity: 100, UnitPriceAmount: 50}}))

	assert.Equal(t, int64(5000), subtotal)
	assert.Equal(t, int64(5000), amount(LineSubtotal(100, 50)))
	assert.Equal(t, int64(5500), amount(Total(subtotal, 500)))
}

func TestSaleTotals(t *testing.T) {
	amount := must(t)
	unit := amount(SellPrice(50, 20))
	subtotal := amount(Subtotal([]Line{{Quantity: 80, UnitPriceAmount: unit}}))
	tax := amount(TaxFromPercent(subtotal, 10))

	assert.Equal(t, int64(60), unit)
	assert.Equal(t, int64(4800), subtotal)
	assert.Equal(t, int64(480), tax)
	assert.Equal(t, int64(5280), amount(Total(subtotal, tax)))
}

func TestRoundingIsHalfUpOnTaxOnly(t *testing.T) {
	amount := must(t)
	// 3 lines of 5 at 11% -> 15 * 0.11 = 1.65 -> 2. Per-line rounding would give 3.
	subtotal := amount(Subtotal([]Line{{Quantity: 1, UnitPriceAmount: 5}, {Quantity: 1, UnitPriceAmount: 5}, {Quantity: 1, UnitPriceAmount: 5}}))
	assert.Equal(t, int64(2), amount(TaxFromPercent(subtotal, 11)))

	assert.Equal(t, int64(1), amount(TaxFromPercent(10, 5)))
	assert.Equal(t, int64(0), amount(TaxFromPercent(10, 4)))
	assert.Equal(t, int64(0), amount(TaxFromPercent(0, 11)))
}

func TestSellPriceRounding(t *testing.T) {
	amount := must(t)
	assert.Equal(t, int64(13), amount(SellPrice(10, 25)))  // 12.5 rounds up
	assert.Equal(t, int64(12), amount(SellPrice(10, 24)))  // 12.4 rounds down
	assert.Equal(t, int64(100), amount(SellPrice(100, 0))) // no margin
	assert.Equal(t, int64(3333), amount(SellPrice(2222, 50)))
}

func TestOverflowIsReportedNotWrapped(t *testing.T) {
	amount := must(t)
	_, err := LineSubtotal(1<<32, 3<<31)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = LineSubtotal(math.MaxInt32, 1_000_000_000_000)
	assert.ErrorIs(t, err, ErrOverflow)

	// each line fits, the sum does not
	_, err = Subtotal([]Line{{Quantity: 1, UnitPriceAmount: math.MaxInt64}, {Quantity: 1, UnitPriceAmount: 1}})
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Total(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = SellPrice(math.MaxInt64/2, 200)
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, int64(math.MaxInt64), amount(LineSubtotal(1, math.MaxInt64)))
}
