// Package sizer maps a composite signal score to a per-pair USD budget,
// bounded by both a fraction-of-max-position curve and the remaining
// portfolio exposure headroom.
package sizer

import (
	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// Params bundles the allocation-fraction curve and exposure cap.
type Params struct {
	MinAllocationFraction decimal.Decimal
	MaxAllocationFraction decimal.Decimal
	MaxPositionSizeUSD    decimal.Decimal
	MaxPortfolioExposure  decimal.Decimal
}

// CurrentExposure sums quantity * perp_entry_price over open positions,
// using entry price as a proxy since delta-neutral positions hedge drift.
func CurrentExposure(openPositions []core.Position) decimal.Decimal {
	exposure := decimal.Zero
	for _, p := range openPositions {
		exposure = exposure.Add(p.Quantity.Mul(p.PerpEntryPrice))
	}
	return exposure
}

// Budget computes the per-pair USD budget for a candidate scored by the
// composite signal. ok=false means the portfolio has no remaining
// exposure headroom and the pair should not be sized at all.
func Budget(score decimal.Decimal, params Params, openPositions []core.Position) (budget decimal.Decimal, ok bool) {
	fraction := params.MinAllocationFraction.Add(
		params.MaxAllocationFraction.Sub(params.MinAllocationFraction).Mul(score),
	)
	rawBudget := params.MaxPositionSizeUSD.Mul(fraction)

	remaining := params.MaxPortfolioExposure.Sub(CurrentExposure(openPositions))
	if !remaining.IsPositive() {
		return decimal.Zero, false
	}

	return decimal.Min(rawBudget, remaining), true
}
