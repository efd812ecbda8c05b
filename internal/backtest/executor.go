package backtest

import (
	"context"
	"fmt"
	"sync"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/execution"

	"github.com/shopspring/decimal"
)

// Executor produces synthetic fills against injected current_prices
// instead of a live ticker cache, using the same slippage and fee math
// as the paper executor (execution.SimulateFill), so that swapping the
// executor never changes fill math, only where the price came from
// (testable property 10: executor swap equivalence).
type Executor struct {
	mu       sync.Mutex
	prices   map[string]decimal.Decimal
	clock    *SimClock
	fees     core.FeeSettings
	orderSeq int64
}

// NewExecutor builds a backtest executor bound to the replay clock.
func NewExecutor(clock *SimClock, fees core.FeeSettings) *Executor {
	return &Executor{prices: make(map[string]decimal.Decimal), clock: clock, fees: fees}
}

// SetPrice updates the injected current price for one symbol; the event
// loop calls this once per tick before evaluating strategy decisions.
func (e *Executor) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	e.prices[symbol] = price
	e.mu.Unlock()
}

func (e *Executor) price(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	return p, ok
}

func (e *Executor) nextOrderID() string {
	e.orderSeq++
	return fmt.Sprintf("backtest-%d-%d", e.clock.NowMs(), e.orderSeq)
}

func (e *Executor) fill(symbol string, side core.Side, qty decimal.Decimal, category core.Category) (core.OrderResult, error) {
	price, ok := e.price(symbol)
	if !ok {
		return core.OrderResult{}, fmt.Errorf("%s: %w", symbol, apperrors.ErrPriceUnavailable)
	}
	return execution.SimulateFill(e.nextOrderID(), symbol, side, qty, price, category, e.fees, e.clock.NowMs()), nil
}

func (e *Executor) OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, qty decimal.Decimal) (core.OrderResult, core.OrderResult, error) {
	spotFill, err := e.fill(spotSymbol, core.SideBuy, qty, core.CategorySpot)
	if err != nil {
		return core.OrderResult{}, core.OrderResult{}, fmt.Errorf("spot leg: %w", err)
	}
	perpFill, err := e.fill(perpSymbol, core.SideSell, qty, core.CategoryLinear)
	if err != nil {
		return spotFill, core.OrderResult{}, fmt.Errorf("perp leg: %w", err)
	}
	return spotFill, perpFill, nil
}

func (e *Executor) ClosePosition(ctx context.Context, pos core.Position) (core.OrderResult, core.OrderResult, error) {
	spotFill, err := e.fill(pos.SpotSymbol, core.SideSell, pos.Quantity, core.CategorySpot)
	if err != nil {
		return core.OrderResult{}, core.OrderResult{}, fmt.Errorf("spot leg: %w", err)
	}
	perpFill, err := e.fill(pos.PerpSymbol, core.SideBuy, pos.Quantity, core.CategoryLinear)
	if err != nil {
		return spotFill, core.OrderResult{}, fmt.Errorf("perp leg: %w", err)
	}
	return spotFill, perpFill, nil
}

var _ core.Executor = (*Executor)(nil)

// SyntheticExchange provides the market-catalog and mark-price lookups
// position.Manager needs, without issuing any real network calls. Its
// catalog is constructed once from the symbols under replay.
type SyntheticExchange struct {
	core.Exchange
	markets   []core.Market
	executor  *Executor
	perpByKey map[string]string // spotSymbol -> perpSymbol; allocated empty, not filled or read
}

// NewSyntheticExchange builds a catalog with generous trading-rule limits
// (the replay's injected prices are the only thing that matters for
// fill math; exchange-side minimums are not under test here).
func NewSyntheticExchange(spotSymbols, perpSymbols []string, executor *Executor) *SyntheticExchange {
	ex := &SyntheticExchange{executor: executor, perpByKey: make(map[string]string)}
	for _, s := range spotSymbols {
		ex.markets = append(ex.markets, core.Market{
			Symbol: s, IsSpot: true, Active: true,
			MinQty: decimal.NewFromFloat(0.0001), MinNotional: decimal.NewFromInt(1),
			QtyPrecision: 6, PricePrecision: 2,
		})
	}
	for _, p := range perpSymbols {
		ex.markets = append(ex.markets, core.Market{
			Symbol: p, IsSpot: false, Active: true,
			MinQty: decimal.NewFromFloat(0.0001), MinNotional: decimal.NewFromInt(1),
			QtyPrecision: 6, PricePrecision: 2,
		})
	}
	return ex
}

func (s *SyntheticExchange) GetMarkets(ctx context.Context, category core.Category) ([]core.Market, error) {
	var out []core.Market
	for _, m := range s.markets {
		if (category == core.CategorySpot) == m.IsSpot {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *SyntheticExchange) GetTicker(ctx context.Context, category core.Category, symbol string) (core.Ticker, error) {
	price, _ := s.executor.price(symbol)
	return core.Ticker{Symbol: symbol, MarkPrice: price, LastPrice: price}, nil
}

var _ core.Exchange = (*SyntheticExchange)(nil)
