// Package backtest replays historical funding-rate and candle data through
// the same strategy-decision functions the live orchestrator uses, so a
// parameter change can be validated against history before it ever touches
// a running position.
package backtest

import (
	"context"
	"fmt"
	"sort"

	"fundingarb/internal/core"
	"fundingarb/internal/orchestrator"
	"fundingarb/internal/pnl"
	"fundingarb/internal/position"
	"fundingarb/internal/risk"
	"fundingarb/internal/sizer"

	"github.com/shopspring/decimal"
)

// SymbolSpec pairs the spot and perp symbols under replay for one market.
type SymbolSpec struct {
	SpotSymbol string
	PerpSymbol string
}

// Config parameterizes a single replay run.
type Config struct {
	Label               string
	StartingFreeBalance decimal.Decimal
	DriftTolerance      decimal.Decimal
	Base                orchestrator.EffectiveParams
}

// EquityPoint is one snapshot on the replay's equity curve.
type EquityPoint struct {
	TimestampMs int64
	Equity      decimal.Decimal
}

// Trade is a closed position paired with its final net PnL.
type Trade struct {
	Position core.Position
	NetPnL   decimal.Decimal
}

// Metrics summarizes one replay run. TotalTrades counts round trips (one
// per closed position), not individual order legs.
type Metrics struct {
	TotalTrades int
	WinCount    int
	WinRate     decimal.Decimal
	NetPnL      decimal.Decimal
	TotalFees   decimal.Decimal
	TotalFunding decimal.Decimal
}

// Result is the full output of one replay run. Trades is dropped (set nil)
// for every configuration but the best performer in a sweep, to bound
// memory; Metrics and EquityCurve are always kept.
type Result struct {
	Label        string
	Metrics      Metrics
	EquityCurve  []EquityPoint
	PnLHistogram map[string]int
	Trades       []Trade
}

// Engine drives one replay: it pre-loads the full historical series for
// every symbol under test (an unwrapped read, since assembling the replay
// timeline is not itself a strategy decision) and then steps tick by tick
// through a LookAheadStore view for every strategy-facing read.
type Engine struct {
	store   core.HistoricalStore
	symbols []SymbolSpec
	logger  core.Logger
}

// NewEngine binds a replay to a historical store and the symbol set to
// evaluate. store may be the production store or any other
// core.HistoricalStore, including an in-memory fixture in tests.
func NewEngine(store core.HistoricalStore, symbols []SymbolSpec, logger core.Logger) *Engine {
	return &Engine{store: store, symbols: symbols, logger: logger}
}

type symbolSeries struct {
	spec    SymbolSpec
	rates   []core.HistoricalFundingRate
	perpOHL []core.OHLCVCandle
	spotOHL []core.OHLCVCandle
}

// Run replays [startMs, endMs] for every configured symbol under cfg.
func (e *Engine) Run(ctx context.Context, cfg Config, startMs, endMs int64) (*Result, error) {
	series := make([]symbolSeries, 0, len(e.symbols))
	tickSet := make(map[int64]struct{})

	for _, spec := range e.symbols {
		rates, err := e.store.GetFundingRates(ctx, spec.PerpSymbol, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("funding rates for %s: %w", spec.PerpSymbol, err)
		}
		perpCandles, err := e.store.GetCandles(ctx, spec.PerpSymbol, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("perp candles for %s: %w", spec.PerpSymbol, err)
		}
		spotCandles, err := e.store.GetCandles(ctx, spec.SpotSymbol, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("spot candles for %s: %w", spec.SpotSymbol, err)
		}
		series = append(series, symbolSeries{spec: spec, rates: rates, perpOHL: perpCandles, spotOHL: spotCandles})
		for _, r := range rates {
			tickSet[r.TimestampMs] = struct{}{}
		}
	}

	if len(tickSet) == 0 {
		return nil, fmt.Errorf("no funding rate samples in [%d, %d] for the requested symbols", startMs, endMs)
	}

	ticks := make([]int64, 0, len(tickSet))
	for t := range tickSet {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	clock := NewSimClock(ticks[0])
	executor := NewExecutor(clock, core.FeeSettings{
		SpotTaker: decimal.RequireFromString("0.001"),
		PerpTaker: decimal.RequireFromString("0.00055"),
		SpotMaker: decimal.RequireFromString("0.001"),
		PerpMaker: decimal.RequireFromString("0.0002"),
	})

	var spotSymbols, perpSymbols []string
	for _, s := range e.symbols {
		spotSymbols = append(spotSymbols, s.SpotSymbol)
		perpSymbols = append(perpSymbols, s.PerpSymbol)
	}
	exchange := NewSyntheticExchange(spotSymbols, perpSymbols, executor)
	tracker := pnl.New(clock, e.logger)
	mgr := position.NewManager(executor, exchange, tracker, clock, e.logger, cfg.DriftTolerance)
	riskMgr := risk.NewManager(cfg.Base.RiskParams, exchange, e.logger, true)
	emergency := risk.NewEmergencyController(mgr, e.logger, func() {})
	lookAhead := NewLookAheadStore(e.store, clock)
	history := orchestrator.StoreHistoryLookup{Store: lookAhead}

	rateCursor := make([]int, len(series))
	perpCursor := make([]int, len(series))
	spotCursor := make([]int, len(series))
	lastRate := make(map[string]core.FundingRateData)
	markPrice := make(map[string]decimal.Decimal)
	indexPrice := make(map[string]decimal.Decimal)

	var equityCurve []EquityPoint

	for _, t := range ticks {
		clock.Set(t)

		freshSample := make(map[string]bool, len(series))
		for i := range series {
			s := &series[i]
			for perpCursor[i] < len(s.perpOHL) && s.perpOHL[perpCursor[i]].TimestampMs <= t {
				markPrice[s.spec.PerpSymbol] = s.perpOHL[perpCursor[i]].Close
				perpCursor[i]++
			}
			for spotCursor[i] < len(s.spotOHL) && s.spotOHL[spotCursor[i]].TimestampMs <= t {
				indexPrice[s.spec.SpotSymbol] = s.spotOHL[spotCursor[i]].Close
				spotCursor[i]++
			}
			if mp, ok := markPrice[s.spec.PerpSymbol]; ok {
				executor.SetPrice(s.spec.PerpSymbol, mp)
			}
			if ip, ok := indexPrice[s.spec.SpotSymbol]; ok {
				executor.SetPrice(s.spec.SpotSymbol, ip)
			}

			for rateCursor[i] < len(s.rates) && s.rates[rateCursor[i]].TimestampMs <= t {
				sample := s.rates[rateCursor[i]]
				if sample.TimestampMs == t {
					freshSample[s.spec.PerpSymbol] = true
				}
				lastRate[s.spec.PerpSymbol] = core.FundingRateData{
					Symbol:            s.spec.PerpSymbol,
					Rate:              sample.Rate,
					IntervalHours:     sample.IntervalHours,
					NextFundingTimeMs: sample.TimestampMs,
					MarkPrice:         markPrice[s.spec.PerpSymbol],
					IndexPrice:        indexPrice[s.spec.SpotSymbol],
					UpdatedAtMs:       t,
				}
				rateCursor[i]++
			}
		}

		liveRates := make([]core.FundingRateData, 0, len(lastRate))
		rateSnapshot := make(snapshotRates, len(lastRate))
		for symbol, rd := range lastRate {
			rd.MarkPrice = markPrice[symbol]
			rd.IndexPrice = indexPrice[core.SpotSymbol(symbol)]
			liveRates = append(liveRates, rd)
			rateSnapshot[symbol] = rd
		}
		prices := snapshotPrices{mark: markPrice, index: indexPrice}

		open := mgr.GetOpenPositions()
		exits := orchestrator.DecideExits(open, rateSnapshot, history, prices, cfg.Base, t, e.logger)
		for _, exit := range exits {
			if !exit.Close {
				continue
			}
			if _, err := mgr.ClosePosition(ctx, exit.Position.ID); err != nil {
				e.logger.Warn("backtest close failed", "position_id", exit.Position.ID, "error", err.Error())
			}
		}

		open = mgr.GetOpenPositions()
		var settleInputs []pnl.FundingPositionInput
		for _, pos := range open {
			if freshSample[pos.PerpSymbol] {
				settleInputs = append(settleInputs, pnl.FundingPositionInput{
					Position:  pos,
					Rate:      lastRate[pos.PerpSymbol].Rate,
					MarkPrice: markPrice[pos.PerpSymbol],
				})
			}
		}
		if len(settleInputs) > 0 {
			tracker.SimulateFundingSettlement(settleInputs, t)
		}

		entries := orchestrator.DecideEntries(ctx, liveRates, exchange.markets, history, prices, riskMgr, open, sizer.CurrentExposure(open), cfg.Base, t, e.logger)
		for _, entry := range entries {
			if entry.Skip {
				continue
			}
			budget := entry.Budget
			if budget.GreaterThan(cfg.StartingFreeBalance) {
				budget = cfg.StartingFreeBalance
			}
			if !budget.IsPositive() {
				continue
			}
			if _, err := mgr.OpenPosition(ctx, core.SpotSymbol(entry.Symbol), entry.Symbol, budget); err != nil {
				e.logger.Warn("backtest open failed", "symbol", entry.Symbol, "error", err.Error())
			}
		}

		if mmr, isAlert, err := riskMgr.CheckMarginRatio(ctx, len(mgr.GetOpenPositions())); err == nil {
			if riskMgr.IsMarginCritical(mmr) {
				emergency.Trigger(ctx, "margin ratio above critical threshold (backtest replay)")
			} else if isAlert {
				e.logger.Warn("backtest margin ratio alert", "mmr", mmr.String())
			}
		}

		summary := tracker.GetPortfolioSummary()
		equityCurve = append(equityCurve, EquityPoint{
			TimestampMs: t,
			Equity:      cfg.StartingFreeBalance.Add(summary.TotalNet),
		})
	}

	for _, pos := range mgr.GetOpenPositions() {
		if _, err := mgr.ClosePosition(ctx, pos.ID); err != nil {
			e.logger.Warn("backtest final liquidation failed", "position_id", pos.ID, "error", err.Error())
		}
	}

	return buildResult(cfg.Label, mgr.GetClosedPositions(), tracker, equityCurve), nil
}

func buildResult(label string, closed []core.Position, tracker *pnl.Tracker, equityCurve []EquityPoint) *Result {
	trades := make([]Trade, 0, len(closed))
	histogram := make(map[string]int)
	winCount := 0
	netPnL := decimal.Zero
	totalFees := decimal.Zero
	totalFunding := decimal.Zero

	for _, pos := range closed {
		total := tracker.GetTotalPnL(pos.ID, decimal.Zero)
		trades = append(trades, Trade{Position: pos, NetPnL: total.Net})
		netPnL = netPnL.Add(total.Net)
		totalFees = totalFees.Add(total.EntryFee).Add(total.ExitFee)
		totalFunding = totalFunding.Add(total.FundingTotal)
		if total.Net.IsPositive() {
			winCount++
		}
		histogram[pnlBucket(total.Net)]++
	}

	winRate := decimal.Zero
	if len(trades) > 0 {
		winRate = decimal.NewFromInt(int64(winCount)).Div(decimal.NewFromInt(int64(len(trades))))
	}

	return &Result{
		Label: label,
		Metrics: Metrics{
			TotalTrades:  len(trades),
			WinCount:     winCount,
			WinRate:      winRate,
			NetPnL:       netPnL,
			TotalFees:    totalFees,
			TotalFunding: totalFunding,
		},
		EquityCurve:  equityCurve,
		PnLHistogram: histogram,
		Trades:       trades,
	}
}

// pnlBucket assigns a trade to a net-PnL bucket for the histogram: loss,
// breakeven, 0-10, 10-50 or 50+ dollars.
func pnlBucket(net decimal.Decimal) string {
	switch {
	case net.LessThan(decimal.Zero):
		return "loss"
	case net.IsZero():
		return "breakeven"
	case net.LessThan(decimal.NewFromInt(10)):
		return "0-10"
	case net.LessThan(decimal.NewFromInt(50)):
		return "10-50"
	default:
		return "50+"
	}
}

// RunSweep runs every configuration against the same symbol set and time
// range, sequentially. Only the best-performing configuration (by net
// PnL) keeps its full trade list; the rest retain summary metrics only,
// to bound memory across a wide parameter sweep.
func RunSweep(ctx context.Context, store core.HistoricalStore, symbols []SymbolSpec, startMs, endMs int64, configs []Config, logger core.Logger) ([]*Result, error) {
	results := make([]*Result, 0, len(configs))
	bestIdx := -1

	for i, cfg := range configs {
		engine := NewEngine(store, symbols, logger)
		res, err := engine.Run(ctx, cfg, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", cfg.Label, err)
		}
		results = append(results, res)
		if bestIdx == -1 || res.Metrics.NetPnL.GreaterThan(results[bestIdx].Metrics.NetPnL) {
			bestIdx = i
		}
	}

	for i := range results {
		if i != bestIdx {
			results[i].Trades = nil
		}
	}
	return results, nil
}
