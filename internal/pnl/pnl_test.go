package pnl

import (
	"testing"

	"fundingarb/internal/core"
	"fundingarb/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ nowMs int64 }

func (c fixedClock) NowMs() int64 { return c.nowMs }

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	logger, err := logging.New("error")
	require.NoError(t, err)
	return New(fixedClock{nowMs: 1000}, logger)
}

func TestRecordOpen_CombinesLegFees(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordOpen("p1", decimal.NewFromFloat(1.5), decimal.NewFromFloat(0.75))

	snap := tr.GetTotalPnL("p1", decimal.Zero)
	require.True(t, snap.EntryFee.Equal(decimal.NewFromFloat(2.25)))
}

// S2: short-perp funding income is positive on a positive rate.
func TestRecordFunding_S2(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordOpen("p1", decimal.Zero, decimal.Zero)

	tr.RecordFunding("p1", decimal.NewFromFloat(0.5), decimal.NewFromInt(50000), decimal.NewFromFloat(0.0003), true, 1000)
	snap := tr.GetTotalPnL("p1", decimal.Zero)
	require.True(t, snap.FundingTotal.Equal(decimal.NewFromFloat(7.5)))

	tr.RecordFunding("p1", decimal.NewFromFloat(0.5), decimal.NewFromInt(50000), decimal.NewFromFloat(-0.0002), true, 2000)
	snap = tr.GetTotalPnL("p1", decimal.Zero)
	require.True(t, snap.FundingTotal.Equal(decimal.NewFromFloat(2.5)))
}

func TestRecordClose_SetsExitFeeAndPrices(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordOpen("p1", decimal.NewFromFloat(1), decimal.NewFromFloat(1))
	tr.RecordClose("p1", decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.5), decimal.NewFromInt(100), decimal.NewFromInt(101), 5000)

	snap := tr.GetTotalPnL("p1", decimal.Zero)
	require.True(t, snap.ExitFee.Equal(decimal.NewFromFloat(1)))
	net := snap.FundingTotal.Sub(snap.EntryFee).Sub(snap.ExitFee)
	require.True(t, snap.Net.Equal(net))
}

func TestSimulateFundingSettlement_RecordsOnePaymentPerPosition(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordOpen("p1", decimal.Zero, decimal.Zero)
	tr.RecordOpen("p2", decimal.Zero, decimal.Zero)

	tr.SimulateFundingSettlement([]FundingPositionInput{
		{Position: core.Position{ID: "p1", Quantity: decimal.NewFromInt(1)}, Rate: decimal.NewFromFloat(0.0001), MarkPrice: decimal.NewFromInt(100)},
		{Position: core.Position{ID: "p2", Quantity: decimal.NewFromInt(2)}, Rate: decimal.NewFromFloat(0.0002), MarkPrice: decimal.NewFromInt(200)},
	}, 8*60*60*1000)

	require.True(t, tr.GetTotalPnL("p1", decimal.Zero).FundingTotal.Equal(decimal.NewFromFloat(0.01)))
	require.True(t, tr.GetTotalPnL("p2", decimal.Zero).FundingTotal.Equal(decimal.NewFromFloat(0.08)))
}

func TestGetPortfolioSummary_AggregatesAcrossPositions(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordOpen("p1", decimal.NewFromFloat(1), decimal.NewFromFloat(1))
	tr.RecordOpen("p2", decimal.NewFromFloat(2), decimal.NewFromFloat(2))
	tr.RecordFunding("p1", decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromFloat(0.001), true, 1000)

	summary := tr.GetPortfolioSummary()
	require.Equal(t, 2, summary.PositionCount)
	require.True(t, summary.TotalEntryFee.Equal(decimal.NewFromFloat(6)))
	require.True(t, summary.TotalFunding.Equal(decimal.NewFromFloat(0.1)))
}

func TestGetTotalPnL_UnknownPositionReturnsUnrealizedOnly(t *testing.T) {
	tr := newTestTracker(t)
	snap := tr.GetTotalPnL("missing", decimal.NewFromFloat(5))
	require.True(t, snap.Unrealized.Equal(decimal.NewFromFloat(5)))
	require.True(t, snap.Net.Equal(decimal.NewFromFloat(5)))
}
