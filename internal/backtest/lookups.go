package backtest

import (
	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// snapshotPrices adapts the event loop's per-tick mark/index maps to
// orchestrator.PriceLookup.
type snapshotPrices struct {
	mark  map[string]decimal.Decimal
	index map[string]decimal.Decimal
}

func (p snapshotPrices) MarkPrice(symbol string) (decimal.Decimal, bool) {
	v, ok := p.mark[symbol]
	return v, ok
}

func (p snapshotPrices) IndexPrice(symbol string) (decimal.Decimal, bool) {
	v, ok := p.index[symbol]
	return v, ok
}

// snapshotRates adapts the event loop's per-tick "most recent funding
// sample per symbol" map to orchestrator.CurrentRateLookup.
type snapshotRates map[string]core.FundingRateData

func (r snapshotRates) CurrentRate(symbol string) (core.FundingRateData, bool) {
	v, ok := r[symbol]
	return v, ok
}
