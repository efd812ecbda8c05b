package orchestrator

import (
	"context"

	"fundingarb/internal/core"
	"fundingarb/internal/ticker"

	"github.com/shopspring/decimal"
)

// CachePriceLookup adapts the live ticker cache to PriceLookup.
type CachePriceLookup struct {
	Cache *ticker.Cache
}

func (c CachePriceLookup) MarkPrice(symbol string) (decimal.Decimal, bool) {
	return c.Cache.GetPrice(symbol)
}

func (c CachePriceLookup) IndexPrice(symbol string) (decimal.Decimal, bool) {
	return c.Cache.GetPrice(symbol)
}

// CacheRateLookup adapts the live ticker cache to CurrentRateLookup.
type CacheRateLookup struct {
	Cache *ticker.Cache
}

func (c CacheRateLookup) CurrentRate(symbol string) (core.FundingRateData, bool) {
	return c.Cache.GetFundingRate(symbol)
}

// StoreHistoryLookup adapts the persisted historical store to
// HistoryLookup for the live loop (no look-ahead guard needed; untilMs is
// always "now" in production).
type StoreHistoryLookup struct {
	Store core.HistoricalStore
}

func (s StoreHistoryLookup) RatesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]decimal.Decimal, bool) {
	rates, err := s.Store.GetFundingRates(ctx, symbol, sinceMs, untilMs)
	if err != nil || len(rates) == 0 {
		return nil, false
	}
	out := make([]decimal.Decimal, len(rates))
	for i, r := range rates {
		out[i] = r.Rate
	}
	return out, true
}

func (s StoreHistoryLookup) CandlesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]core.OHLCVCandle, bool) {
	candles, err := s.Store.GetCandles(ctx, symbol, sinceMs, untilMs)
	if err != nil || len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

// NoHistoryLookup is used when the historical pipeline feature gate is
// off: every lookup reports "missing", which drives signal scoring's
// documented graceful-degradation defaults.
type NoHistoryLookup struct{}

func (NoHistoryLookup) RatesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]decimal.Decimal, bool) {
	return nil, false
}

func (NoHistoryLookup) CandlesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]core.OHLCVCandle, bool) {
	return nil, false
}
