package sizing

import (
	"testing"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

var testFees = core.FeeSettings{
	SpotTaker: d("0.001"),
	PerpTaker: d("0.00055"),
	SpotMaker: d("0.001"),
	PerpMaker: d("0.0002"),
}

// S3 — Break-even rate.
func TestBreakEvenRate_S3(t *testing.T) {
	got := BreakEvenRate(testFees, 3)
	want := d("0.0031").Div(decimal.NewFromInt(3))
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestBreakEvenRate_DefaultsTo3Periods(t *testing.T) {
	got := BreakEvenRate(testFees, 0)
	want := BreakEvenRate(testFees, 3)
	assert.True(t, got.Equal(want))
}

// S2 — Funding settlement sign.
func TestFundingPaymentAmount_S2(t *testing.T) {
	qty := d("0.5")
	mark := d("50000")

	income := FundingPaymentAmount(qty, mark, d("0.0003"), true)
	assert.True(t, income.Equal(d("7.5")), "got %s", income)

	expense := FundingPaymentAmount(qty, mark, d("-0.0002"), true)
	assert.True(t, expense.Equal(d("-5")), "got %s", expense)
}

func TestFundingPaymentAmount_LongSideSignFlipped(t *testing.T) {
	got := FundingPaymentAmount(d("1"), d("100"), d("0.01"), false)
	assert.True(t, got.Equal(d("-1")), "got %s", got)
}

func TestRoundDownToStep(t *testing.T) {
	cases := []struct {
		qty, step, want string
	}{
		{"1.0049", "0.001", "1.004"},
		{"1.0", "0.5", "1.0"},
		{"0.0009", "0.001", "0"},
	}
	for _, c := range cases {
		got := RoundDownToStep(d(c.qty), d(c.step))
		assert.True(t, got.Equal(d(c.want)), "qty=%s step=%s got=%s want=%s", c.qty, c.step, got, c.want)
	}
}

func TestRoundDownToStep_ZeroStepIsNoOp(t *testing.T) {
	got := RoundDownToStep(d("1.2345"), decimal.Zero)
	assert.True(t, got.Equal(d("1.2345")))
}

// Testable property 7: round-down quantization (q mod s == 0).
func TestCalculateQuantity_RoundsDownAndRejectsBelowMin(t *testing.T) {
	instrument := core.InstrumentInfo{
		MinQty:      d("0.01"),
		QtyStep:     d("0.001"),
		MinNotional: d("10"),
	}

	qty, ok := CalculateQuantity(d("1000"), d("50000"), instrument, d("1000"))
	require.True(t, ok)
	assert.True(t, qty.Mod(instrument.QtyStep).IsZero(), "qty=%s step=%s", qty, instrument.QtyStep)

	_, ok = CalculateQuantity(d("1"), d("50000"), instrument, d("1000"))
	assert.False(t, ok, "tiny balance should be rejected for min notional")
}

func TestCalculateQuantity_ZeroOrNegativePriceRejected(t *testing.T) {
	instrument := core.InstrumentInfo{MinQty: d("0"), QtyStep: d("0.001"), MinNotional: d("0")}
	_, ok := CalculateQuantity(d("1000"), decimal.Zero, instrument, d("1000"))
	assert.False(t, ok)
}

func TestCalculateMatchingQuantity_UsesCoarserStep(t *testing.T) {
	spot := core.InstrumentInfo{MinQty: d("0.001"), QtyStep: d("0.001"), MinNotional: d("5")}
	perp := core.InstrumentInfo{MinQty: d("0.01"), QtyStep: d("0.01"), MinNotional: d("5")}

	qty, ok := CalculateMatchingQuantity(spot, perp, d("100"), d("1000"))
	require.True(t, ok)
	assert.True(t, qty.Mod(perp.QtyStep).IsZero(), "expected qty aligned to coarser perp step, got %s", qty)
}

// S1 — Drift rollback.
func TestValidateDelta_S1(t *testing.T) {
	result := ValidateDelta(d("1.000"), d("0.900"), d("0.02"))
	assert.False(t, result.WithinTolerance)
	assert.True(t, result.DriftPct.GreaterThan(d("0.02")))
}

func TestValidateDelta_WithinTolerance(t *testing.T) {
	result := ValidateDelta(d("1.000"), d("0.995"), d("0.02"))
	assert.True(t, result.WithinTolerance)
}

func TestValidateDelta_ZeroQuantitiesNoDivisionPanic(t *testing.T) {
	result := ValidateDelta(decimal.Zero, decimal.Zero, d("0.02"))
	assert.True(t, result.WithinTolerance)
	assert.True(t, result.DriftPct.IsZero())
}
