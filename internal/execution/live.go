// Package execution provides the two Executor implementations that place
// (or simulate) the spot and perp legs of a delta-neutral position. Both
// share the same interface; nothing upstream branches on which one it holds.
package execution

import (
	"context"
	"fmt"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// LiveExecutor places real orders on the underlying exchange.
type LiveExecutor struct {
	exchange core.Exchange
	logger   core.Logger
}

// NewLiveExecutor builds an Executor backed by a real exchange connection.
func NewLiveExecutor(exchange core.Exchange, logger core.Logger) *LiveExecutor {
	return &LiveExecutor{exchange: exchange, logger: logger}
}

func (e *LiveExecutor) OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, qty decimal.Decimal) (core.OrderResult, core.OrderResult, error) {
	spotFill, err := e.exchange.PlaceOrder(ctx, core.OrderRequest{
		Symbol: spotSymbol, Side: core.SideBuy, Type: core.OrderTypeMarket, Quantity: qty, Category: core.CategorySpot,
	})
	if err != nil {
		return core.OrderResult{}, core.OrderResult{}, fmt.Errorf("spot leg: %w", err)
	}

	perpFill, err := e.exchange.PlaceOrder(ctx, core.OrderRequest{
		Symbol: perpSymbol, Side: core.SideSell, Type: core.OrderTypeMarket, Quantity: qty, Category: core.CategoryLinear,
	})
	if err != nil {
		return spotFill, core.OrderResult{}, fmt.Errorf("perp leg: %w", err)
	}
	return spotFill, perpFill, nil
}

func (e *LiveExecutor) ClosePosition(ctx context.Context, pos core.Position) (core.OrderResult, core.OrderResult, error) {
	spotFill, err := e.exchange.PlaceOrder(ctx, core.OrderRequest{
		Symbol: pos.SpotSymbol, Side: core.SideSell, Type: core.OrderTypeMarket, Quantity: pos.Quantity, Category: core.CategorySpot,
	})
	if err != nil {
		return core.OrderResult{}, core.OrderResult{}, fmt.Errorf("spot leg: %w", err)
	}

	perpFill, err := e.exchange.PlaceOrder(ctx, core.OrderRequest{
		Symbol: pos.PerpSymbol, Side: core.SideBuy, Type: core.OrderTypeMarket, Quantity: pos.Quantity, Category: core.CategoryLinear,
	})
	if err != nil {
		return spotFill, core.OrderResult{}, fmt.Errorf("perp leg: %w", err)
	}
	return spotFill, perpFill, nil
}

var _ core.Executor = (*LiveExecutor)(nil)
