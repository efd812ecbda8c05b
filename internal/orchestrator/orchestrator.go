// Package orchestrator owns the autonomous trading cycle: scan, rank,
// decide exits, decide entries, monitor margin, settle funding, and log
// status, all serialized under a single cycle lock so no two cycles ever
// interleave their decisions against the same open-position set.
//
// The decision stages (DecideExits/DecideEntries) are exported, explicit-
// dependency functions rather than methods closed over the orchestrator's
// fields, specifically so internal/backtest can drive the identical
// decision logic against injected historical data without running the
// live loop or duplicating the branching between strategy modes.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"fundingarb/internal/core"
	"fundingarb/internal/pnl"
	"fundingarb/internal/position"
	"fundingarb/internal/ranker"
	"fundingarb/internal/risk"
	"fundingarb/internal/signal"
	"fundingarb/internal/sizer"

	"github.com/shopspring/decimal"
)

// StrategyMode selects between the simple rate-threshold ranker and the
// composite signal engine.
type StrategyMode string

const (
	StrategySimple    StrategyMode = "simple"
	StrategyComposite StrategyMode = "composite"
)

// RuntimeConfig is a mutable overlay of strategy parameters applied at the
// top of each cycle. A nil field means "read from immutable configuration
// unchanged"; only non-nil fields override. No mid-cycle mutation: a
// cycle reads one Effective() snapshot and runs to completion against it.
type RuntimeConfig struct {
	MinFundingRate     *decimal.Decimal
	ExitFundingRate    *decimal.Decimal
	MaxPositionSizeUSD *decimal.Decimal
	StrategyMode       *StrategyMode
}

// EffectiveParams is the fully-resolved set of knobs a cycle runs against,
// after applying any RuntimeConfig overlay over the immutable base.
type EffectiveParams struct {
	StrategyMode       StrategyMode
	MinFundingRate     decimal.Decimal
	ExitFundingRate    decimal.Decimal
	MaxPositionSizeUSD decimal.Decimal
	RankerParams       ranker.Params
	SignalParams       signal.Params
	SizerParams        sizer.Params
	SizingEnabled      bool
	RiskParams         risk.Params
}

// Effective applies overlay on top of base, returning a new value; base is
// never mutated.
func Effective(base EffectiveParams, overlay RuntimeConfig) EffectiveParams {
	out := base
	if overlay.MinFundingRate != nil {
		out.MinFundingRate = *overlay.MinFundingRate
		out.RankerParams.MinRate = *overlay.MinFundingRate
	}
	if overlay.ExitFundingRate != nil {
		out.ExitFundingRate = *overlay.ExitFundingRate
	}
	if overlay.MaxPositionSizeUSD != nil {
		out.MaxPositionSizeUSD = *overlay.MaxPositionSizeUSD
	}
	if overlay.StrategyMode != nil {
		out.StrategyMode = *overlay.StrategyMode
	}
	return out
}

// PriceLookup resolves the live mark/index prices a candidate needs for
// composite scoring; backtests supply a simulated-time-bounded version,
// the live loop supplies one backed by internal/ticker.
type PriceLookup interface {
	MarkPrice(symbol string) (decimal.Decimal, bool)
	IndexPrice(symbol string) (decimal.Decimal, bool)
}

// HistoryLookup resolves the historical series composite scoring needs.
// Returned slices must already be capped to the caller's current time by
// the implementation (the backtest wrapper enforces this; the live
// implementation simply reads the store).
type HistoryLookup interface {
	RatesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]decimal.Decimal, bool)
	CandlesAscending(ctx context.Context, symbol string, sinceMs, untilMs int64) ([]core.OHLCVCandle, bool)
}

// CurrentRateLookup resolves the live current funding rate for a symbol,
// used by DecideExits in both strategy modes.
type CurrentRateLookup interface {
	CurrentRate(symbol string) (core.FundingRateData, bool)
}

// ExitDecision is one close-or-keep verdict for an open position.
type ExitDecision struct {
	Position core.Position
	Close    bool
	Reason   string
}

// EntryDecision is one open-or-skip verdict for a ranked candidate.
type EntryDecision struct {
	Symbol string
	Budget decimal.Decimal
	Skip   bool
	Reason string
}

// DecideExits evaluates every open position against the current strategy
// mode's exit rule: simple mode closes on rate below the exit threshold (or
// rate unavailable), composite mode closes when the composite score falls
// below the exit threshold (or rate unavailable).
func DecideExits(open []core.Position, rates CurrentRateLookup, history HistoryLookup, prices PriceLookup, params EffectiveParams, nowMs int64, logger core.Logger) []ExitDecision {
	decisions := make([]ExitDecision, 0, len(open))
	for _, pos := range open {
		rate, ok := rates.CurrentRate(pos.PerpSymbol)
		if !ok {
			decisions = append(decisions, ExitDecision{Position: pos, Close: true, Reason: "current rate unavailable"})
			continue
		}

		switch params.StrategyMode {
		case StrategyComposite:
			in := buildSignalInputs(pos.PerpSymbol, rate, history, prices, nowMs, params.SignalParams)
			shouldExit, sig := signal.ScoreForExit(in, params.SignalParams, logger, true)
			if shouldExit {
				decisions = append(decisions, ExitDecision{Position: pos, Close: true, Reason: "composite score below exit threshold"})
			} else {
				decisions = append(decisions, ExitDecision{Position: pos, Close: false})
			}
			_ = sig
		default:
			if rate.Rate.LessThan(params.ExitFundingRate) {
				decisions = append(decisions, ExitDecision{Position: pos, Close: true, Reason: "rate below exit_funding_rate"})
			} else {
				decisions = append(decisions, ExitDecision{Position: pos, Close: false})
			}
		}
	}
	return decisions
}

// DecideEntries ranks candidates (simple or composite, per params) and
// walks them in order, applying the risk gate and, if dynamic sizing is
// enabled, the exposure-aware budget calculation. currentExposure is the
// exposure already held; DecideEntries adds each accepted budget to a local
// running total, so later candidates are sized against the headroom left
// by earlier ones. It has no side effects and returns one decision per
// viable candidate up to the first exhausted budget.
func DecideEntries(ctx context.Context, liveRates []core.FundingRateData, markets []core.Market, history HistoryLookup, prices PriceLookup, riskMgr *risk.Manager, openPositions []core.Position, currentExposure decimal.Decimal, params EffectiveParams, nowMs int64, logger core.Logger) []EntryDecision {
	var candidates []string
	scores := make(map[string]decimal.Decimal)

	switch params.StrategyMode {
	case StrategyComposite:
		for _, r := range liveRates {
			in := buildSignalInputs(r.Symbol, r, history, prices, nowMs, params.SignalParams)
			sig := signal.Score(in, params.SignalParams, logger)
			if !sig.PassesEntry {
				continue
			}
			candidates = append(candidates, r.Symbol)
			scores[r.Symbol] = sig.Score
		}
	default:
		opps := ranker.Rank(liveRates, markets, params.RankerParams)
		for _, o := range opps {
			if !o.PassesFilters {
				continue
			}
			candidates = append(candidates, o.Symbol)
			scores[o.Symbol] = decimal.NewFromFloat(0.5) // no composite score in simple mode; mid-curve sizing
		}
	}

	decisions := make([]EntryDecision, 0, len(candidates))
	exposure := currentExposure
	for _, symbol := range candidates {
		budget := params.MaxPositionSizeUSD
		if params.SizingEnabled {
			b, ok := sizer.Budget(scores[symbol], params.SizerParams, openPositions)
			remaining := params.SizerParams.MaxPortfolioExposure.Sub(exposure)
			if !ok || !remaining.IsPositive() {
				// No budget left for any pair; later candidates would fare no better.
				break
			}
			budget = decimal.Min(b, remaining)
		}

		allow, reason := riskMgr.CheckCanOpen(symbol, budget, openPositions)
		if !allow {
			decisions = append(decisions, EntryDecision{Symbol: symbol, Skip: true, Reason: reason})
			continue
		}

		decisions = append(decisions, EntryDecision{Symbol: symbol, Budget: budget})
		exposure = exposure.Add(budget)
	}
	return decisions
}

func buildSignalInputs(symbol string, rate core.FundingRateData, history HistoryLookup, prices PriceLookup, nowMs int64, params signal.Params) signal.Inputs {
	in := signal.Inputs{Symbol: symbol, CurrentRate: rate.Rate}

	lookbackMs := int64(params.PersistenceMaxPeriods+params.EMASpan) * 3600_000
	if ratesAsc, ok := history.RatesAscending(context.Background(), symbol, nowMs-lookbackMs, nowMs); ok && len(ratesAsc) > 0 {
		in.HasHistory = true
		in.HistoricalRatesAsc = ratesAsc
	}

	if markPrice, ok := prices.MarkPrice(symbol); ok {
		if indexPrice, ok := prices.IndexPrice(core.SpotSymbol(symbol)); ok {
			in.HasBasis = true
			in.PerpMarkPrice = markPrice
			in.SpotIndexPrice = indexPrice
		}
	}

	volumeLookbackMs := int64(params.VolumeLookbackDays) * 2 * 86400_000
	if candles, ok := history.CandlesAscending(context.Background(), core.SpotSymbol(symbol), nowMs-volumeLookbackMs, nowMs); ok && len(candles) > 0 {
		in.HasVolume = true
		in.RecentCandlesAsc = candles
	}

	return in
}

// Dependencies bundles everything the live cycle needs. A field that may
// be nil (FreeBalance) is checked once at the branch top, never deep in a
// call chain. History is never nil: NoHistoryLookup{} stands in when the
// historical pipeline is disabled.
type Dependencies struct {
	Manager       *position.Manager
	PnLTracker    *pnl.Tracker
	RiskMgr       *risk.Manager
	Emergency     *risk.EmergencyController
	Rates         CurrentRateLookup
	LiveRates     func() []core.FundingRateData
	Markets       func(ctx context.Context) ([]core.Market, error)
	History       HistoryLookup // NoHistoryLookup{} if historical pipeline disabled
	Prices        PriceLookup
	FreeBalance   func(ctx context.Context) (decimal.Decimal, error)
	Clock         core.Clock
	Logger        core.Logger
	Base          EffectiveParams
	SettleEveryMs int64
}

// Orchestrator drives the autonomous cycle loop.
type Orchestrator struct {
	deps Dependencies

	cycleLock sync.Mutex

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	overlay     RuntimeConfig
	lastSettle  int64
	cycleEveryS int
}

// New builds an Orchestrator from its dependency graph and the base cycle
// interval (seconds).
func New(deps Dependencies, cycleIntervalSeconds int) *Orchestrator {
	return &Orchestrator{deps: deps, cycleEveryS: cycleIntervalSeconds}
}

// SetRuntimeConfig replaces the mutable overlay applied at the top of the
// next cycle. Safe to call concurrently with a running loop.
func (o *Orchestrator) SetRuntimeConfig(rc RuntimeConfig) {
	o.mu.Lock()
	o.overlay = rc
	o.mu.Unlock()
}

// Start begins the cycle loop as a background goroutine. A second Start
// while already running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	go o.loop(ctx)
}

// Stop closes all open positions gracefully (not a forced emergency
// unwind), then halts the loop. Blocks until the loop goroutine exits.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	stopCh, doneCh := o.stopCh, o.doneCh
	o.mu.Unlock()

	close(stopCh)
	<-doneCh

	for _, pos := range o.deps.Manager.GetOpenPositions() {
		if _, err := o.deps.Manager.ClosePosition(ctx, pos.ID); err != nil {
			o.deps.Logger.Error("graceful shutdown failed to close position", "position_id", pos.ID, "error", err)
		}
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Restart re-enters the loop as a background task. It is a Stop followed
// by a Start, and does not force-close positions beyond what Stop already
// does.
func (o *Orchestrator) Restart(ctx context.Context) {
	o.Stop(ctx)
	o.Start(ctx)
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.doneCh)

	interval := time.Duration(o.cycleEveryS) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.RunCycle(ctx); err != nil {
				o.deps.Logger.Error("cycle failed", "error", err)
			}
		}
	}
}

// RunCycle executes one full scan/rank/decide/execute/monitor/settle pass.
// It is exported so callers (and tests) can drive single cycles without
// waiting on the ticker.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.cycleLock.Lock()
	defer o.cycleLock.Unlock()

	o.mu.Lock()
	overlay := o.overlay
	o.mu.Unlock()
	params := Effective(o.deps.Base, overlay)

	nowMs := o.deps.Clock.NowMs()

	liveRates := o.deps.LiveRates()
	if len(liveRates) == 0 {
		o.deps.Logger.Debug("cycle skipped: no cached funding data yet")
		return nil
	}

	open := o.deps.Manager.GetOpenPositions()

	for _, decision := range DecideExits(open, o.deps.Rates, o.deps.History, o.deps.Prices, params, nowMs, o.deps.Logger) {
		if !decision.Close {
			continue
		}
		if _, err := o.deps.Manager.ClosePosition(ctx, decision.Position.ID); err != nil {
			o.deps.Logger.Error("exit close failed", "position_id", decision.Position.ID, "reason", decision.Reason, "error", err)
			continue
		}
		o.deps.Logger.Info("position closed", "position_id", decision.Position.ID, "reason", decision.Reason)
	}

	open = o.deps.Manager.GetOpenPositions()
	markets, err := o.deps.Markets(ctx)
	if err != nil {
		o.deps.Logger.Warn("market catalog fetch failed, skipping entries this cycle", "error", err)
	} else {
		exposure := sizer.CurrentExposure(open)
		entries := DecideEntries(ctx, liveRates, markets, o.deps.History, o.deps.Prices, o.deps.RiskMgr, open, exposure, params, nowMs, o.deps.Logger)

		for _, entry := range entries {
			if entry.Skip {
				o.deps.Logger.Debug("entry skipped", "symbol", entry.Symbol, "reason", entry.Reason)
				continue
			}

			available := entry.Budget
			if o.deps.FreeBalance != nil {
				free, err := o.deps.FreeBalance(ctx)
				if err == nil && free.LessThan(available) {
					available = free
				}
			}
			if !available.IsPositive() {
				continue
			}

			spotSymbol := core.SpotSymbol(entry.Symbol)
			if _, err := o.deps.Manager.OpenPosition(ctx, spotSymbol, entry.Symbol, available); err != nil {
				o.deps.Logger.Error("entry open failed", "symbol", entry.Symbol, "error", err)
				continue
			}
			o.deps.Logger.Info("position opened", "symbol", entry.Symbol, "budget", available.String())
		}
	}

	open = o.deps.Manager.GetOpenPositions()
	mmr, isAlert, err := o.deps.RiskMgr.CheckMarginRatio(ctx, len(open))
	if err != nil {
		o.deps.Logger.Warn("margin ratio check failed", "error", err)
	} else if o.deps.RiskMgr.IsMarginCritical(mmr) {
		o.deps.Emergency.Trigger(ctx, "margin ratio above critical threshold")
	} else if isAlert {
		o.deps.Logger.Warn("margin ratio elevated", "mmr", mmr.String())
	}

	if o.deps.SettleEveryMs > 0 && nowMs-o.lastSettle >= o.deps.SettleEveryMs {
		o.settleFunding(open, nowMs)
		o.lastSettle = nowMs
	}

	o.deps.Logger.Info("cycle complete", "open_positions", len(open), "strategy_mode", string(params.StrategyMode))
	return nil
}

func (o *Orchestrator) settleFunding(open []core.Position, nowMs int64) {
	inputs := make([]pnl.FundingPositionInput, 0, len(open))
	for _, pos := range open {
		rate, ok := o.deps.Rates.CurrentRate(pos.PerpSymbol)
		if !ok {
			continue
		}
		inputs = append(inputs, pnl.FundingPositionInput{Position: pos, Rate: rate.Rate, MarkPrice: rate.MarkPrice})
	}
	o.deps.PnLTracker.SimulateFundingSettlement(inputs, nowMs)
}
