package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"fundingarb/internal/core"
	"fundingarb/internal/logging"
	"fundingarb/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ nowMs int64 }

func (c fakeClock) NowMs() int64 { return c.nowMs }

// fakeExchange serves funding/OHLCV history from an in-memory fixture,
// paginating backward from endMs exactly like a real venue would.
type fakeExchange struct {
	core.Exchange
	fundingRates []core.HistoricalFundingRate // ascending, fixture truth
	candles      []core.OHLCVCandle
	callCount    int
}

func (f *fakeExchange) GetFundingRateHistory(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]core.HistoricalFundingRate, error) {
	f.callCount++
	if endMs == 0 {
		panic("start-only query: endMs must never be zero")
	}
	var page []core.HistoricalFundingRate
	for _, r := range f.fundingRates {
		if r.TimestampMs < endMs && r.TimestampMs >= startMs {
			page = append(page, r)
		}
	}
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (f *fakeExchange) GetOHLCV(ctx context.Context, symbol string, intervalMinutes int, startMs, endMs int64, limit int) ([]core.OHLCVCandle, error) {
	if endMs == 0 {
		panic("start-only query: endMs must never be zero")
	}
	var page []core.OHLCVCandle
	for _, c := range f.candles {
		if c.TimestampMs < endMs && c.TimestampMs >= startMs {
			page = append(page, c)
		}
	}
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func newTestFetcher(t *testing.T, ex *fakeExchange, nowMs int64) (*Fetcher, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	logger, err := logging.New("error")
	require.NoError(t, err)
	return New(ex, s, fakeClock{nowMs: nowMs}, logger), s
}

func fixtureFundingRates(symbol string, count int, stepMs int64) []core.HistoricalFundingRate {
	out := make([]core.HistoricalFundingRate, count)
	for i := 0; i < count; i++ {
		out[i] = core.HistoricalFundingRate{
			Symbol:        symbol,
			TimestampMs:   int64(i+1) * stepMs,
			Rate:          decimal.NewFromFloat(0.0001),
			IntervalHours: 8,
		}
	}
	return out
}

func TestEnsureDataReady_BackfillsWithinLookback(t *testing.T) {
	ctx := context.Background()
	const dayMs = 24 * 60 * 60 * 1000
	now := int64(10) * dayMs

	ex := &fakeExchange{fundingRates: fixtureFundingRates("BTC/USDT:USDT", 10, dayMs)}
	f, s := newTestFetcher(t, ex, now)

	err := f.EnsureDataReady(ctx, []string{"BTC/USDT:USDT"}, 5, nil)
	require.NoError(t, err)

	got, err := s.GetFundingRates(ctx, "BTC/USDT:USDT", 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].TimestampMs, got[i].TimestampMs)
	}

	state, ok, err := s.GetFetchState(ctx, "BTC/USDT:USDT", core.DataTypeFunding)
	require.NoError(t, err)
	require.True(t, ok)
	require.LessOrEqual(t, state.EarliestMs, now-5*dayMs)
}

func TestEnsureDataReady_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	const dayMs = 24 * 60 * 60 * 1000
	now := int64(3) * dayMs

	ex := &fakeExchange{
		fundingRates: fixtureFundingRates("BTC/USDT:USDT", 3, dayMs),
		candles:      nil,
	}
	f, _ := newTestFetcher(t, ex, now)

	var seen []string
	err := f.EnsureDataReady(ctx, []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}, 1, func(completed, total int, symbol string) {
		seen = append(seen, symbol)
		require.Equal(t, 2, total)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}, seen)
}

func TestIncrementalUpdate_ForwardOnlyFromLatestCursor(t *testing.T) {
	ctx := context.Background()
	const dayMs = 24 * 60 * 60 * 1000
	now := int64(6) * dayMs

	ex := &fakeExchange{fundingRates: fixtureFundingRates("BTC/USDT:USDT", 5, dayMs)}
	f, s := newTestFetcher(t, ex, now)

	require.NoError(t, s.SaveFetchState(ctx, core.FetchState{
		Symbol: "BTC/USDT:USDT", DataType: core.DataTypeFunding,
		EarliestMs: dayMs, LatestMs: 3 * dayMs, LastFetchedAtMs: now,
	}))
	require.NoError(t, s.SaveFundingRates(ctx, fixtureFundingRates("BTC/USDT:USDT", 3, dayMs)))

	require.NoError(t, f.IncrementalUpdate(ctx, []string{"BTC/USDT:USDT"}))

	got, err := s.GetFundingRates(ctx, "BTC/USDT:USDT", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)

	state, ok, err := s.GetFetchState(ctx, "BTC/USDT:USDT", core.DataTypeFunding)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5*dayMs), state.LatestMs)
}
