package orchestrator

import (
	"context"
	"testing"

	"fundingarb/internal/core"
	"fundingarb/internal/logging"
	"fundingarb/internal/pnl"
	"fundingarb/internal/position"
	"fundingarb/internal/ranker"
	"fundingarb/internal/risk"
	"fundingarb/internal/sizer"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ nowMs int64 }

func (c fixedClock) NowMs() int64 { return c.nowMs }

type mapRateLookup map[string]core.FundingRateData

func (m mapRateLookup) CurrentRate(symbol string) (core.FundingRateData, bool) {
	r, ok := m[symbol]
	return r, ok
}

func newTestLogger(t *testing.T) core.Logger {
	t.Helper()
	l, err := logging.New("error")
	require.NoError(t, err)
	return l
}

func baseParams() EffectiveParams {
	return EffectiveParams{
		StrategyMode:       StrategySimple,
		MinFundingRate:     decimal.NewFromFloat(0.0001),
		ExitFundingRate:    decimal.Zero,
		MaxPositionSizeUSD: decimal.NewFromInt(1000),
		RankerParams: ranker.Params{
			MinRate:           decimal.NewFromFloat(0.0001),
			MinVolume24h:      decimal.Zero,
			MinHoldingPeriods: 3,
			Fees:              core.FeeSettings{SpotTaker: decimal.NewFromFloat(0.001), PerpTaker: decimal.NewFromFloat(0.00055)},
		},
		RiskParams: risk.Params{
			MaxPositionSizePerPair:   decimal.NewFromInt(1000),
			MaxSimultaneousPositions: 5,
			MarginAlertThreshold:     decimal.NewFromFloat(0.8),
			MarginCriticalThreshold:  decimal.NewFromFloat(0.9),
			PaperVirtualEquity:       decimal.NewFromInt(10000),
		},
	}
}

func TestDecideExits_SimpleMode_ClosesBelowThreshold(t *testing.T) {
	params := baseParams()
	params.ExitFundingRate = decimal.NewFromFloat(0.0001)
	open := []core.Position{{ID: "p1", PerpSymbol: "BTC/USDT:USDT"}}
	rates := mapRateLookup{"BTC/USDT:USDT": {Symbol: "BTC/USDT:USDT", Rate: decimal.NewFromFloat(0.00005)}}

	decisions := DecideExits(open, rates, NoHistoryLookup{}, nil, params, 1000, newTestLogger(t))
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].Close)
}

func TestDecideExits_RateUnavailableForcesClose(t *testing.T) {
	params := baseParams()
	open := []core.Position{{ID: "p1", PerpSymbol: "BTC/USDT:USDT"}}

	decisions := DecideExits(open, mapRateLookup{}, NoHistoryLookup{}, nil, params, 1000, newTestLogger(t))
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].Close)
	require.Contains(t, decisions[0].Reason, "unavailable")
}

func TestDecideExits_SimpleMode_KeepsAboveThreshold(t *testing.T) {
	params := baseParams()
	params.ExitFundingRate = decimal.NewFromFloat(0.0001)
	open := []core.Position{{ID: "p1", PerpSymbol: "BTC/USDT:USDT"}}
	rates := mapRateLookup{"BTC/USDT:USDT": {Symbol: "BTC/USDT:USDT", Rate: decimal.NewFromFloat(0.0005)}}

	decisions := DecideExits(open, rates, NoHistoryLookup{}, nil, params, 1000, newTestLogger(t))
	require.Len(t, decisions, 1)
	require.False(t, decisions[0].Close)
}

func TestDecideEntries_SimpleMode_RespectsRiskGate(t *testing.T) {
	params := baseParams()
	riskMgr := risk.NewManager(params.RiskParams, nil, newTestLogger(t), true)
	liveRates := []core.FundingRateData{
		{Symbol: "BTC/USDT:USDT", Rate: decimal.NewFromFloat(0.002), Volume24h: decimal.NewFromInt(1_000_000)},
		{Symbol: "ETH/USDT:USDT", Rate: decimal.NewFromFloat(0.0018), Volume24h: decimal.NewFromInt(1_000_000)},
	}
	markets := []core.Market{
		{Symbol: "BTC/USDT", IsSpot: true, Active: true},
		{Symbol: "ETH/USDT", IsSpot: true, Active: true},
	}
	open := []core.Position{{SpotSymbol: "BTC/USDT", PerpSymbol: "BTC/USDT:USDT"}}

	entries := DecideEntries(context.Background(), liveRates, markets, NoHistoryLookup{}, nil, riskMgr, open, decimal.Zero, params, 1000, newTestLogger(t))
	require.Len(t, entries, 2)
	require.True(t, entries[0].Skip) // BTC already open (duplicate symbol gate)
	require.False(t, entries[1].Skip)
	require.Equal(t, "ETH/USDT:USDT", entries[1].Symbol)
}

func TestDecideEntries_DynamicSizingStopsOnNoBudget(t *testing.T) {
	params := baseParams()
	params.SizingEnabled = true
	params.SizerParams = sizer.Params{
		MinAllocationFraction: decimal.NewFromFloat(0.3),
		MaxAllocationFraction: decimal.NewFromFloat(1.0),
		MaxPositionSizeUSD:    decimal.NewFromInt(1000),
		MaxPortfolioExposure:  decimal.NewFromInt(500),
	}
	riskMgr := risk.NewManager(params.RiskParams, nil, newTestLogger(t), true)
	liveRates := []core.FundingRateData{
		{Symbol: "BTC/USDT:USDT", Rate: decimal.NewFromFloat(0.002), Volume24h: decimal.NewFromInt(1_000_000)},
	}
	markets := []core.Market{{Symbol: "BTC/USDT", IsSpot: true, Active: true}}
	open := []core.Position{
		{Quantity: decimal.NewFromInt(5), PerpEntryPrice: decimal.NewFromInt(100)}, // exposure 500 == cap
	}

	entries := DecideEntries(context.Background(), liveRates, markets, NoHistoryLookup{}, nil, riskMgr, open, decimal.NewFromInt(500), params, 1000, newTestLogger(t))
	require.Empty(t, entries)
}

// --- full RunCycle integration, reusing the position manager's fakes in spirit ---

type fakeExchange struct {
	core.Exchange
	spotMarkets []core.Market
	perpMarkets []core.Market
	perpPrice   decimal.Decimal
}

func (f *fakeExchange) GetMarkets(ctx context.Context, category core.Category) ([]core.Market, error) {
	if category == core.CategorySpot {
		return f.spotMarkets, nil
	}
	return f.perpMarkets, nil
}

func (f *fakeExchange) GetTicker(ctx context.Context, category core.Category, symbol string) (core.Ticker, error) {
	return core.Ticker{Symbol: symbol, MarkPrice: f.perpPrice}, nil
}

type fakeExecutor struct{}

func (fakeExecutor) OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, qty decimal.Decimal) (core.OrderResult, core.OrderResult, error) {
	return core.OrderResult{FilledQty: qty, FilledPrice: decimal.NewFromInt(100), Fee: decimal.NewFromFloat(0.1)},
		core.OrderResult{FilledQty: qty, FilledPrice: decimal.NewFromInt(101), Fee: decimal.NewFromFloat(0.1)}, nil
}

func (fakeExecutor) ClosePosition(ctx context.Context, pos core.Position) (core.OrderResult, core.OrderResult, error) {
	return core.OrderResult{FilledQty: pos.Quantity, FilledPrice: decimal.NewFromInt(99), Fee: decimal.NewFromFloat(0.1)},
		core.OrderResult{FilledQty: pos.Quantity, FilledPrice: decimal.NewFromInt(102), Fee: decimal.NewFromFloat(0.1)}, nil
}

func instrumentMarket(symbol string) core.Market {
	return core.Market{
		Symbol: symbol, Active: true,
		MinQty: decimal.NewFromFloat(0.001), MinNotional: decimal.NewFromInt(10),
		QtyPrecision: 3, PricePrecision: 2,
	}
}

func TestRunCycle_OpensEntryThenClosesNextCycleBelowThreshold(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	clock := fixedClock{nowMs: 1000}

	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	tracker := pnl.New(clock, logger)
	mgr := position.NewManager(fakeExecutor{}, exchange, tracker, clock, logger, decimal.NewFromFloat(0.02))

	params := baseParams()
	riskMgr := risk.NewManager(params.RiskParams, nil, logger, true)
	emergency := risk.NewEmergencyController(mgr, logger, func() {})

	rate := decimal.NewFromFloat(0.002)
	rates := mapRateLookup{"BTC/USDT:USDT": {Symbol: "BTC/USDT:USDT", Rate: rate, Volume24h: decimal.NewFromInt(1_000_000)}}

	deps := Dependencies{
		Manager:    mgr,
		PnLTracker: tracker,
		RiskMgr:    riskMgr,
		Emergency:  emergency,
		Rates:      rates,
		LiveRates: func() []core.FundingRateData {
			return []core.FundingRateData{rates["BTC/USDT:USDT"]}
		},
		Markets: func(ctx context.Context) ([]core.Market, error) {
			spot := instrumentMarket("BTC/USDT")
			spot.IsSpot = true
			return []core.Market{spot}, nil
		},
		History: NoHistoryLookup{},
		Prices:  nil,
		Clock:   clock,
		Logger:  logger,
		Base:    params,
	}

	o := New(deps, 60)
	require.NoError(t, o.RunCycle(ctx))
	require.Len(t, mgr.GetOpenPositions(), 1)

	// Next cycle: rate has dropped below exit_funding_rate, position should close.
	rates["BTC/USDT:USDT"] = core.FundingRateData{Symbol: "BTC/USDT:USDT", Rate: decimal.NewFromFloat(-0.0001), Volume24h: decimal.NewFromInt(1_000_000)}
	require.NoError(t, o.RunCycle(ctx))
	require.Empty(t, mgr.GetOpenPositions())
	require.Len(t, mgr.GetClosedPositions(), 1)
}

func TestRunCycle_NoLiveDataSkipsCycle(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger(t)
	clock := fixedClock{nowMs: 1000}
	exchange := &fakeExchange{}
	tracker := pnl.New(clock, logger)
	mgr := position.NewManager(fakeExecutor{}, exchange, tracker, clock, logger, decimal.NewFromFloat(0.02))
	params := baseParams()
	riskMgr := risk.NewManager(params.RiskParams, nil, logger, true)
	emergency := risk.NewEmergencyController(mgr, logger, func() {})

	deps := Dependencies{
		Manager:    mgr,
		PnLTracker: tracker,
		RiskMgr:    riskMgr,
		Emergency:  emergency,
		Rates:      mapRateLookup{},
		LiveRates:  func() []core.FundingRateData { return nil },
		Markets:    func(ctx context.Context) ([]core.Market, error) { return nil, nil },
		History:    NoHistoryLookup{},
		Clock:      clock,
		Logger:     logger,
		Base:       params,
	}
	o := New(deps, 60)
	require.NoError(t, o.RunCycle(ctx))
	require.Empty(t, mgr.GetOpenPositions())
}
