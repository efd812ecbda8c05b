package position

import (
	"context"
	"errors"
	"testing"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/logging"
	"fundingarb/internal/pnl"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ nowMs int64 }

func (c fixedClock) NowMs() int64 { return c.nowMs }

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

type fakeExecutor struct {
	spotQty, perpQty decimal.Decimal
	openErr          error
	closeErr         error
}

func (e *fakeExecutor) OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, qty decimal.Decimal) (core.OrderResult, core.OrderResult, error) {
	if e.openErr != nil {
		return core.OrderResult{}, core.OrderResult{}, e.openErr
	}
	spotQty := qty
	if !e.spotQty.IsZero() {
		spotQty = e.spotQty
	}
	perpQty := qty
	if !e.perpQty.IsZero() {
		perpQty = e.perpQty
	}
	return core.OrderResult{FilledQty: spotQty, FilledPrice: decimal.NewFromInt(100), Fee: decimal.NewFromFloat(0.1)},
		core.OrderResult{FilledQty: perpQty, FilledPrice: decimal.NewFromInt(101), Fee: decimal.NewFromFloat(0.1)}, nil
}

func (e *fakeExecutor) ClosePosition(ctx context.Context, pos core.Position) (core.OrderResult, core.OrderResult, error) {
	if e.closeErr != nil {
		return core.OrderResult{}, core.OrderResult{}, e.closeErr
	}
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

func newTestManager(t *testing.T, executor *fakeExecutor, exchange *fakeExchange) *Manager {
	t.Helper()
	logger, err := logging.New("error")
	require.NoError(t, err)
	tracker := pnl.New(fixedClock{nowMs: 1000}, logger)
	return NewManager(executor, exchange, tracker, fixedClock{nowMs: 1000}, logger, decimal.NewFromFloat(0.02))
}

func TestOpenPosition_Succeeds(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	mgr := newTestManager(t, &fakeExecutor{}, exchange)

	pos, err := mgr.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Equal(t, core.PositionOpen, pos.Status)
	require.NotEmpty(t, pos.ID)
	require.Len(t, mgr.GetOpenPositions(), 1)
}

func TestOpenPosition_InsufficientSizeBelowMinNotional(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	mgr := newTestManager(t, &fakeExecutor{}, exchange)

	_, err := mgr.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromFloat(1))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrInsufficientSize))
}

// S1: leg fills differ by more than tolerance triggers emergency unwind.
func TestOpenPosition_DriftExceededTriggersUnwind(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	executor := &fakeExecutor{spotQty: decimal.NewFromFloat(1.000), perpQty: decimal.NewFromFloat(0.900)}
	mgr := newTestManager(t, executor, exchange)

	_, err := mgr.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromInt(1000))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrDeltaDriftExceeded))
	require.Empty(t, mgr.GetOpenPositions())
}

func TestOpenPosition_ExecutorErrorPropagates(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	mgr := newTestManager(t, &fakeExecutor{openErr: errors.New("rejected")}, exchange)

	_, err := mgr.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromInt(1000))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrDeltaHedgeError))
}

func TestClosePosition_MovesFromOpenToClosed(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		spotMarkets: []core.Market{instrumentMarket("BTC/USDT")},
		perpMarkets: []core.Market{instrumentMarket("BTC/USDT:USDT")},
		perpPrice:   decimal.NewFromInt(100),
	}
	mgr := newTestManager(t, &fakeExecutor{}, exchange)

	pos, err := mgr.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromInt(1000))
	require.NoError(t, err)

	closed, err := mgr.ClosePosition(ctx, pos.ID)
	require.NoError(t, err)
	require.Equal(t, core.PositionClosed, closed.Status)
	require.Empty(t, mgr.GetOpenPositions())
	require.Len(t, mgr.GetClosedPositions(), 1)
}

func TestClosePosition_UnknownIDFails(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &fakeExecutor{}, &fakeExchange{})

	_, err := mgr.ClosePosition(ctx, "nonexistent")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrPositionNotFound))
}
