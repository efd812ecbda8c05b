// Package sizing implements the pure fee, position-sizing, and delta
// validation math of the engine. No I/O, no receiver state.
package sizing

import (
	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

var defaultMinHoldingPeriods = decimal.NewFromInt(3)

// EntryFee returns the combined entry-leg fee for a spot-buy + perp-sell pair.
func EntryFee(fees core.FeeSettings, quantity, price decimal.Decimal) decimal.Decimal {
	notional := quantity.Mul(price)
	return notional.Mul(fees.SpotTaker).Add(notional.Mul(fees.PerpTaker))
}

// RoundTripFee is twice the entry fee (open + close use taker fees symmetrically).
func RoundTripFee(fees core.FeeSettings, quantity, price decimal.Decimal) decimal.Decimal {
	return EntryFee(fees, quantity, price).Mul(decimal.NewFromInt(2))
}

// RoundTripFeePct is the round-trip fee expressed as a fraction of notional,
// independent of quantity/price (taker rates only).
func RoundTripFeePct(fees core.FeeSettings) decimal.Decimal {
	return fees.SpotTaker.Add(fees.PerpTaker).Mul(decimal.NewFromInt(2))
}

// BreakEvenRate is the per-period funding rate at which accumulated funding
// equals the round-trip fee over minHoldingPeriods. minHoldingPeriods <= 0
// falls back to the spec's default of 3.
func BreakEvenRate(fees core.FeeSettings, minHoldingPeriods int) decimal.Decimal {
	periods := decimal.NewFromInt(int64(minHoldingPeriods))
	if minHoldingPeriods <= 0 {
		periods = defaultMinHoldingPeriods
	}
	return RoundTripFeePct(fees).Div(periods)
}

// FundingPaymentAmount returns the signed funding payment for one period.
// A short-perp holder receives a positive rate as income.
func FundingPaymentAmount(qty, markPrice, rate decimal.Decimal, isShort bool) decimal.Decimal {
	amount := qty.Mul(markPrice).Mul(rate)
	if isShort {
		return amount
	}
	return amount.Neg()
}

// RoundDownToStep truncates qty down to the nearest multiple of step using
// integer division on scaled integers (never float arithmetic).
func RoundDownToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	units := qty.Div(step).Truncate(0)
	return units.Mul(step)
}

// CalculateQuantity sizes a single-leg order: min(balance, maxPositionSizeUSD) / price,
// rounded down to instrument.QtyStep, rejected (ok=false) if below MinQty or
// below MinNotional.
func CalculateQuantity(balance, price decimal.Decimal, instrument core.InstrumentInfo, maxPositionSizeUSD decimal.Decimal) (qty decimal.Decimal, ok bool) {
	if price.IsZero() || price.IsNegative() {
		return decimal.Zero, false
	}
	budget := decimal.Min(balance, maxPositionSizeUSD)
	if budget.IsNegative() || budget.IsZero() {
		return decimal.Zero, false
	}

	raw := budget.Div(price)
	qty = RoundDownToStep(raw, instrument.QtyStep)

	if qty.LessThan(instrument.MinQty) {
		return decimal.Zero, false
	}
	if qty.Mul(price).LessThan(instrument.MinNotional) {
		return decimal.Zero, false
	}
	return qty, true
}

// CalculateMatchingQuantity sizes the shared quantity for both legs, using
// the coarser of the two instruments' qty_step so the same lot size is
// valid on both venues.
func CalculateMatchingQuantity(spotInfo, perpInfo core.InstrumentInfo, price, budget decimal.Decimal) (qty decimal.Decimal, ok bool) {
	step := decimal.Max(spotInfo.QtyStep, perpInfo.QtyStep)
	merged := core.InstrumentInfo{
		QtyStep:     step,
		MinQty:      decimal.Max(spotInfo.MinQty, perpInfo.MinQty),
		MinNotional: decimal.Max(spotInfo.MinNotional, perpInfo.MinNotional),
	}
	return CalculateQuantity(budget, price, merged, budget)
}

// DriftResult is the delta-neutrality check result between two leg fills.
type DriftResult struct {
	DriftPct       decimal.Decimal
	WithinTolerance bool
}

// ValidateDelta computes the relative quantity mismatch between two fills
// and checks it against tolerance (spec default 0.02 / 2%).
func ValidateDelta(spotFilled, perpFilled, tolerance decimal.Decimal) DriftResult {
	maxQty := decimal.Max(spotFilled, perpFilled)
	if maxQty.IsZero() {
		return DriftResult{DriftPct: decimal.Zero, WithinTolerance: true}
	}
	diff := spotFilled.Sub(perpFilled).Abs()
	drift := diff.Div(maxQty)
	return DriftResult{DriftPct: drift, WithinTolerance: !drift.GreaterThan(tolerance)}
}
