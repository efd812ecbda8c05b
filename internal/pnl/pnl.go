// Package pnl tracks fee and funding bookkeeping per position, driven by
// an injected clock so backtests can settle funding on simulated time.
package pnl

import (
	"sync"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// Tracker keeps one PositionPnL per position id.
type Tracker struct {
	mu     sync.Mutex
	clock  core.Clock
	logger core.Logger
	byID   map[string]*core.PositionPnL
}

// New builds a Tracker. clock is injected so backtests can drive funding
// settlement cadence from replayed data timestamps instead of wall time.
func New(clock core.Clock, logger core.Logger) *Tracker {
	return &Tracker{clock: clock, logger: logger, byID: make(map[string]*core.PositionPnL)}
}

// RecordOpen starts tracking a position with its combined entry fee.
func (t *Tracker) RecordOpen(positionID string, spotFee, perpFee decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[positionID] = &core.PositionPnL{PositionID: positionID, EntryFee: spotFee.Add(perpFee)}
}

// RecordFunding appends one signed funding payment for an open position.
// isShort indicates the perp leg is short (the standard arb direction);
// a positive rate is income to a short holder.
func (t *Tracker) RecordFunding(positionID string, qty, markPrice, rate decimal.Decimal, isShort bool, nowMs int64) {
	amount := qty.Mul(markPrice).Mul(rate)
	if !isShort {
		amount = amount.Neg()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byID[positionID]
	if !ok {
		return
	}
	entry.FundingPayments = append(entry.FundingPayments, core.FundingPayment{
		TimestampMs: nowMs, Rate: rate, MarkPrice: markPrice, Amount: amount,
	})
}

// RecordClose finalizes a position's fee and exit-price bookkeeping.
func (t *Tracker) RecordClose(positionID string, spotFee, perpFee, spotExit, perpExit decimal.Decimal, closedAtMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byID[positionID]
	if !ok {
		return
	}
	entry.ExitFee = spotFee.Add(perpFee)
	entry.SpotExitPrice = spotExit
	entry.PerpExitPrice = perpExit
	entry.ClosedAtMs = closedAtMs
}

// FundingPositionInput pairs a position with data needed to settle funding.
type FundingPositionInput struct {
	Position  core.Position
	Rate      decimal.Decimal
	MarkPrice decimal.Decimal
}

// SimulateFundingSettlement records one funding payment for every open
// position at its given rate/mark price, called every settlement interval
// (default 8h, driven by the injected clock).
func (t *Tracker) SimulateFundingSettlement(positions []FundingPositionInput, nowMs int64) {
	for _, p := range positions {
		t.RecordFunding(p.Position.ID, p.Position.Quantity, p.MarkPrice, p.Rate, true, nowMs)
		t.logger.Debug("funding settled", "position_id", p.Position.ID, "rate", p.Rate.String(), "mark_price", p.MarkPrice.String())
	}
}

// GetTotalPnL computes the synchronous {entry_fee, exit_fee, funding_total,
// unrealized, net} snapshot for one position. The caller supplies
// unrealized PnL separately -- the tracker holds no live price state.
func (t *Tracker) GetTotalPnL(positionID string, unrealized decimal.Decimal) core.TotalPnL {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.byID[positionID]
	if !ok {
		return core.TotalPnL{Unrealized: unrealized, Net: unrealized}
	}

	fundingTotal := decimal.Zero
	for _, fp := range entry.FundingPayments {
		fundingTotal = fundingTotal.Add(fp.Amount)
	}

	net := fundingTotal.Sub(entry.EntryFee).Sub(entry.ExitFee).Add(unrealized)
	return core.TotalPnL{
		EntryFee:     entry.EntryFee,
		ExitFee:      entry.ExitFee,
		FundingTotal: fundingTotal,
		Unrealized:   unrealized,
		Net:          net,
	}
}

// PortfolioSummary aggregates PnL across every tracked position.
type PortfolioSummary struct {
	PositionCount int
	TotalEntryFee decimal.Decimal
	TotalExitFee  decimal.Decimal
	TotalFunding  decimal.Decimal
	TotalNet      decimal.Decimal
}

// GetPortfolioSummary aggregates across all positions (realized legs only;
// unrealized PnL is not tracked here since it requires live prices).
func (t *Tracker) GetPortfolioSummary() PortfolioSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := PortfolioSummary{
		TotalEntryFee: decimal.Zero,
		TotalExitFee:  decimal.Zero,
		TotalFunding:  decimal.Zero,
		TotalNet:      decimal.Zero,
	}
	for _, entry := range t.byID {
		summary.PositionCount++
		summary.TotalEntryFee = summary.TotalEntryFee.Add(entry.EntryFee)
		summary.TotalExitFee = summary.TotalExitFee.Add(entry.ExitFee)

		fundingTotal := decimal.Zero
		for _, fp := range entry.FundingPayments {
			fundingTotal = fundingTotal.Add(fp.Amount)
		}
		summary.TotalFunding = summary.TotalFunding.Add(fundingTotal)
		summary.TotalNet = summary.TotalNet.Add(fundingTotal.Sub(entry.EntryFee).Sub(entry.ExitFee))
	}
	return summary
}
