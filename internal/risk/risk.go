// Package risk implements pre-trade gating, margin-ratio monitoring, and
// the one-shot emergency controller that force-closes every open position.
package risk

import (
	"context"
	"fmt"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// Params carries the pre-trade gates and margin alert thresholds.
type Params struct {
	MaxPositionSizePerPair   decimal.Decimal
	MaxSimultaneousPositions int
	MarginAlertThreshold     decimal.Decimal
	MarginCriticalThreshold  decimal.Decimal
	PaperVirtualEquity       decimal.Decimal
}

// Manager is the pre-trade and runtime risk gate.
type Manager struct {
	params   Params
	exchange core.Exchange
	logger   core.Logger
	isPaper  bool
}

// NewManager builds a risk Manager. isPaper selects the simulated margin
// formula instead of polling the exchange balance endpoint.
func NewManager(params Params, exchange core.Exchange, logger core.Logger, isPaper bool) *Manager {
	return &Manager{params: params, exchange: exchange, logger: logger, isPaper: isPaper}
}

// CheckCanOpen applies the three pre-trade gates in order, returning the
// first rejection reason, or ("", true) if the candidate may proceed.
func (m *Manager) CheckCanOpen(symbol string, sizeUSD decimal.Decimal, openPositions []core.Position) (allow bool, reason string) {
	if sizeUSD.GreaterThan(m.params.MaxPositionSizePerPair) {
		return false, "size exceeds max_position_size_per_pair"
	}
	if len(openPositions) >= m.params.MaxSimultaneousPositions {
		return false, "at max_simultaneous_positions"
	}
	for _, p := range openPositions {
		if p.SpotSymbol == symbol || p.PerpSymbol == symbol {
			return false, fmt.Sprintf("%s already has an open position", symbol)
		}
	}
	return true, ""
}

// CheckMarginRatio returns the current margin ratio and whether it is
// above the alert threshold. In paper mode it is simulated from open
// position count instead of a live balance poll.
func (m *Manager) CheckMarginRatio(ctx context.Context, openPositionCount int) (mmr decimal.Decimal, isAlert bool, err error) {
	if m.isPaper {
		mmr = m.simulatedMMR(openPositionCount)
	} else {
		balance, balErr := m.exchange.GetBalance(ctx)
		if balErr != nil {
			return decimal.Zero, false, balErr
		}
		mmr = balance.AccountMMRate
	}

	isAlert = mmr.GreaterThan(m.params.MarginAlertThreshold)
	if isAlert {
		m.logger.Warn("margin ratio above alert threshold", "mmr", mmr.String(), "threshold", m.params.MarginAlertThreshold.String())
	}
	return mmr, isAlert, nil
}

func (m *Manager) simulatedMMR(openPositionCount int) decimal.Decimal {
	if m.params.PaperVirtualEquity.IsZero() {
		return decimal.Zero
	}
	numerator := decimal.NewFromInt(int64(openPositionCount)).Mul(m.params.MaxPositionSizePerPair)
	return numerator.Div(m.params.PaperVirtualEquity)
}

// IsMarginCritical reports whether mmr is above the critical threshold.
func (m *Manager) IsMarginCritical(mmr decimal.Decimal) bool {
	return mmr.GreaterThan(m.params.MarginCriticalThreshold)
}
