package execution

import (
	"context"
	"errors"
	"testing"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/ticker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ nowMs int64 }

func (c fixedClock) NowMs() int64 { return c.nowMs }

func newTestPaperExecutor(nowMs int64) (*PaperExecutor, *ticker.Cache) {
	cache := ticker.NewCache()
	fees := core.FeeSettings{
		SpotTaker: decimal.NewFromFloat(0.001),
		PerpTaker: decimal.NewFromFloat(0.00055),
	}
	return NewPaperExecutor(cache, fees, fixedClock{nowMs: nowMs}), cache
}

func TestPaperExecutor_OpenPosition_AppliesSymmetricSlippage(t *testing.T) {
	ctx := context.Background()
	exec, cache := newTestPaperExecutor(1000)
	cache.Put(core.FundingRateData{Symbol: "BTC/USDT:USDT", MarkPrice: decimal.NewFromInt(50000), IndexPrice: decimal.NewFromInt(50000), UpdatedAtMs: 1000})

	spotFill, perpFill, err := exec.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromFloat(0.5))
	require.NoError(t, err)

	require.True(t, spotFill.FilledPrice.Equal(decimal.NewFromInt(50000).Mul(slippageUp)))
	require.True(t, perpFill.FilledPrice.Equal(decimal.NewFromInt(50000).Mul(slippageDown)))
	require.True(t, spotFill.IsSimulated)
	require.True(t, perpFill.IsSimulated)
	require.NotEmpty(t, spotFill.OrderID)
	require.NotEqual(t, spotFill.OrderID, perpFill.OrderID)
}

func TestPaperExecutor_OpenPosition_FailsOnStalePrice(t *testing.T) {
	ctx := context.Background()
	exec, cache := newTestPaperExecutor(1_000_000)
	cache.Put(core.FundingRateData{Symbol: "BTC/USDT:USDT", MarkPrice: decimal.NewFromInt(50000), IndexPrice: decimal.NewFromInt(50000), UpdatedAtMs: 1000})

	_, _, err := exec.OpenPosition(ctx, "BTC/USDT", "BTC/USDT:USDT", decimal.NewFromFloat(0.5))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrPriceUnavailable))
}

func TestPaperExecutor_OpenPosition_FailsOnMissingPrice(t *testing.T) {
	ctx := context.Background()
	exec, _ := newTestPaperExecutor(1000)
	_, _, err := exec.OpenPosition(ctx, "NOPE", "NOPE:USDT", decimal.NewFromFloat(1))
	require.Error(t, err)
	require.True(t, errors.Is(err, apperrors.ErrPriceUnavailable))
}

func TestPaperExecutor_ClosePosition_SellsSpotBuysPerp(t *testing.T) {
	ctx := context.Background()
	exec, cache := newTestPaperExecutor(1000)
	cache.Put(core.FundingRateData{Symbol: "ETH/USDT:USDT", MarkPrice: decimal.NewFromInt(3000), IndexPrice: decimal.NewFromInt(3000), UpdatedAtMs: 1000})

	pos := core.Position{SpotSymbol: "ETH/USDT", PerpSymbol: "ETH/USDT:USDT", Quantity: decimal.NewFromFloat(2)}
	spotFill, perpFill, err := exec.ClosePosition(ctx, pos)
	require.NoError(t, err)

	// closing sells spot (down-slip) and buys back perp (up-slip)
	require.True(t, spotFill.FilledPrice.Equal(decimal.NewFromInt(3000).Mul(slippageDown)))
	require.True(t, perpFill.FilledPrice.Equal(decimal.NewFromInt(3000).Mul(slippageUp)))
}
