package risk

import (
	"context"
	"testing"

	"fundingarb/internal/core"
	"fundingarb/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func defaultParams() Params {
	return Params{
		MaxPositionSizePerPair:   decimal.NewFromInt(1000),
		MaxSimultaneousPositions: 3,
		MarginAlertThreshold:     decimal.NewFromFloat(0.8),
		MarginCriticalThreshold:  decimal.NewFromFloat(0.9),
		PaperVirtualEquity:       decimal.NewFromInt(10000),
	}
}

func newTestLogger(t *testing.T) core.Logger {
	t.Helper()
	l, err := logging.New("error")
	require.NoError(t, err)
	return l
}

func TestCheckCanOpen_RejectsOversizedPosition(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	allow, reason := m.CheckCanOpen("BTC/USDT", decimal.NewFromInt(2000), nil)
	require.False(t, allow)
	require.Contains(t, reason, "max_position_size_per_pair")
}

func TestCheckCanOpen_RejectsAtMaxSimultaneous(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	open := []core.Position{{SpotSymbol: "A"}, {SpotSymbol: "B"}, {SpotSymbol: "C"}}
	allow, reason := m.CheckCanOpen("D", decimal.NewFromInt(100), open)
	require.False(t, allow)
	require.Contains(t, reason, "max_simultaneous_positions")
}

func TestCheckCanOpen_RejectsDuplicateSymbol(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	open := []core.Position{{SpotSymbol: "BTC/USDT", PerpSymbol: "BTC/USDT:USDT"}}
	allow, _ := m.CheckCanOpen("BTC/USDT", decimal.NewFromInt(100), open)
	require.False(t, allow)
}

func TestCheckCanOpen_AllowsWithinLimits(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	allow, reason := m.CheckCanOpen("ETH/USDT", decimal.NewFromInt(500), nil)
	require.True(t, allow)
	require.Empty(t, reason)
}

func TestCheckMarginRatio_PaperModeSimulatesFromOpenCount(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	mmr, isAlert, err := m.CheckMarginRatio(context.Background(), 9)
	require.NoError(t, err)
	// 9 * 1000 / 10000 = 0.9
	require.True(t, mmr.Equal(decimal.NewFromFloat(0.9)))
	require.True(t, isAlert)
	// 0.9 sits at, not above, the 0.9 critical threshold.
	require.False(t, m.IsMarginCritical(mmr))
}

func TestCheckMarginRatio_BelowAlertThreshold(t *testing.T) {
	m := NewManager(defaultParams(), nil, newTestLogger(t), true)
	mmr, isAlert, err := m.CheckMarginRatio(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, mmr.Equal(decimal.NewFromFloat(0.1)))
	require.False(t, isAlert)
	require.False(t, m.IsMarginCritical(mmr))
}
