// Package ranker implements the simple-strategy opportunity ranking: a
// pure function over live funding data and the market catalog, with no
// historical lookback or composite scoring.
package ranker

import (
	"sort"

	"fundingarb/internal/core"
	"fundingarb/internal/sizing"

	"github.com/shopspring/decimal"
)

const periodsPerYearBase = 8760 // hours in a year, divided by interval_hours

// Opportunity is one ranked candidate pair.
type Opportunity struct {
	Symbol          string
	Rate            decimal.Decimal
	NetYield        decimal.Decimal
	AnnualizedYield decimal.Decimal
	PassesFilters   bool
}

// Params bundles the filter thresholds and fee schedule the ranker needs.
type Params struct {
	MinRate           decimal.Decimal
	MinVolume24h      decimal.Decimal
	MinHoldingPeriods int
	Fees              core.FeeSettings
}

// Rank filters and scores live funding data against the market catalog,
// returning candidates sorted descending by annualized yield.
func Rank(rates []core.FundingRateData, markets []core.Market, params Params) []Opportunity {
	activeSpot := make(map[string]bool, len(markets))
	for _, m := range markets {
		if m.IsSpot && m.Active {
			activeSpot[m.Symbol] = true
		}
	}

	amortizedFee := sizing.BreakEvenRate(params.Fees, params.MinHoldingPeriods)

	var out []Opportunity
	for _, r := range rates {
		if r.Rate.LessThan(params.MinRate) {
			continue
		}
		if r.Volume24h.LessThan(params.MinVolume24h) {
			continue
		}
		if !activeSpot[core.SpotSymbol(r.Symbol)] {
			continue
		}

		netYield := r.Rate.Sub(amortizedFee)
		intervalHours := r.IntervalHours
		if intervalHours <= 0 {
			intervalHours = 8
		}
		periodsPerYear := decimal.NewFromInt(periodsPerYearBase).Div(decimal.NewFromInt(int64(intervalHours)))
		annualized := netYield.Mul(periodsPerYear)

		out = append(out, Opportunity{
			Symbol:          r.Symbol,
			Rate:            r.Rate,
			NetYield:        netYield,
			AnnualizedYield: annualized,
			PassesFilters:   netYield.IsPositive(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].AnnualizedYield.GreaterThan(out[j].AnnualizedYield)
	})
	return out
}
