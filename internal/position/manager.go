// Package position manages the lifecycle of delta-neutral spot+perp
// positions: two-leg open/close under a single mutation lock, drift
// validation, and emergency unwind on partial failure. The Executor places
// the two legs one after the other; a leg error is returned without
// cancelling or unwinding the other leg.
//
// LOCK ORDERING:
// 1. Manager.mu (serializes all position mutations: open/close/emergency)
// There is no finer-grained lock below it -- every mutation holds mu for
// its whole duration, including the network round trips for both legs.
// This trades latency for the simplest possible correctness argument: two
// opens can never interleave their leg placements.
package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/pnl"
	"fundingarb/internal/sizing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultLegTimeout = 5 * time.Second

// Manager owns the open/closed position sets and the Executor used to
// place both legs. It is polymorphic over Executor: it never inspects
// which concrete implementation it was given.
type Manager struct {
	mu sync.Mutex

	executor      core.Executor
	exchange      core.Exchange
	pnlTracker    *pnl.Tracker
	logger        core.Logger
	clock         core.Clock
	legTimeout    time.Duration
	driftTolerance decimal.Decimal

	open   map[string]core.Position
	closed []core.Position
}

// NewManager builds a Manager. driftTolerance is the fractional leg-size
// mismatch allowed before an emergency unwind (spec default 0.02).
func NewManager(executor core.Executor, exchange core.Exchange, pnlTracker *pnl.Tracker, clock core.Clock, logger core.Logger, driftTolerance decimal.Decimal) *Manager {
	return &Manager{
		executor:       executor,
		exchange:       exchange,
		pnlTracker:     pnlTracker,
		logger:         logger,
		clock:          clock,
		legTimeout:     defaultLegTimeout,
		driftTolerance: driftTolerance,
		open:           make(map[string]core.Position),
	}
}

// OpenPosition sizes, places, and validates a new delta-neutral position.
func (m *Manager) OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, budget decimal.Decimal) (core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spotInfo, perpInfo, price, err := m.resolveInstruments(ctx, spotSymbol, perpSymbol)
	if err != nil {
		return core.Position{}, err
	}

	qty, ok := sizing.CalculateMatchingQuantity(spotInfo, perpInfo, price, budget)
	if !ok {
		return core.Position{}, fmt.Errorf("%s/%s: %w", spotSymbol, perpSymbol, apperrors.ErrInsufficientSize)
	}

	legCtx, cancel := context.WithTimeout(ctx, m.legTimeout)
	defer cancel()

	spotFill, perpFill, err := m.executor.OpenPosition(legCtx, spotSymbol, perpSymbol, qty)
	if err != nil {
		if errors.Is(legCtx.Err(), context.DeadlineExceeded) {
			return core.Position{}, fmt.Errorf("%s/%s: %w", spotSymbol, perpSymbol, apperrors.ErrDeltaHedgeTimeout)
		}
		return core.Position{}, fmt.Errorf("%s/%s: %w: %v", spotSymbol, perpSymbol, apperrors.ErrDeltaHedgeError, err)
	}

	drift := sizing.ValidateDelta(spotFill.FilledQty, perpFill.FilledQty, m.driftTolerance)
	if !drift.WithinTolerance {
		m.emergencyUnwind(ctx, core.Position{
			SpotSymbol: spotSymbol, PerpSymbol: perpSymbol,
			Quantity: decimal.Min(spotFill.FilledQty, perpFill.FilledQty),
		})
		return core.Position{}, fmt.Errorf("%s/%s: drift %s: %w", spotSymbol, perpSymbol, drift.DriftPct.String(), apperrors.ErrDeltaDriftExceeded)
	}

	pos := core.Position{
		ID:             uuid.NewString(),
		SpotSymbol:     spotSymbol,
		PerpSymbol:     perpSymbol,
		Quantity:       perpFill.FilledQty,
		SpotEntryPrice: spotFill.FilledPrice,
		PerpEntryPrice: perpFill.FilledPrice,
		OpenedAtMs:     m.clock.NowMs(),
		Status:         core.PositionOpen,
	}

	m.pnlTracker.RecordOpen(pos.ID, spotFill.Fee, perpFill.Fee)
	m.open[pos.ID] = pos
	m.logger.Info("position opened", "position_id", pos.ID, "spot_symbol", spotSymbol, "perp_symbol", perpSymbol, "quantity", qty.String())
	return pos, nil
}

// ClosePosition unwinds an open position by id.
func (m *Manager) ClosePosition(ctx context.Context, id string) (core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.open[id]
	if !ok {
		return core.Position{}, fmt.Errorf("%s: %w", id, apperrors.ErrPositionNotFound)
	}

	legCtx, cancel := context.WithTimeout(ctx, m.legTimeout)
	defer cancel()

	spotFill, perpFill, err := m.executor.ClosePosition(legCtx, pos)
	if err != nil {
		if errors.Is(legCtx.Err(), context.DeadlineExceeded) {
			return core.Position{}, fmt.Errorf("%s: %w", id, apperrors.ErrDeltaHedgeTimeout)
		}
		return core.Position{}, fmt.Errorf("%s: %w: %v", id, apperrors.ErrDeltaHedgeError, err)
	}

	pos.Status = core.PositionClosed
	pos.ClosedAtMs = m.clock.NowMs()
	pos.SpotExitPrice = spotFill.FilledPrice
	pos.PerpExitPrice = perpFill.FilledPrice

	m.pnlTracker.RecordClose(pos.ID, spotFill.Fee, perpFill.Fee, spotFill.FilledPrice, perpFill.FilledPrice, pos.ClosedAtMs)
	delete(m.open, id)
	m.closed = append(m.closed, pos)
	m.logger.Info("position closed", "position_id", id)
	return pos, nil
}

// emergencyUnwind best-effort reverses a partially-hedged position after a
// drift failure. Errors are logged, not propagated: the caller already has
// a DeltaDriftExceeded failure to report upstream.
func (m *Manager) emergencyUnwind(ctx context.Context, pos core.Position) {
	legCtx, cancel := context.WithTimeout(ctx, m.legTimeout)
	defer cancel()
	if _, _, err := m.executor.ClosePosition(legCtx, pos); err != nil {
		m.logger.Error("emergency unwind failed", "spot_symbol", pos.SpotSymbol, "perp_symbol", pos.PerpSymbol, "error", err)
	}
}

func (m *Manager) resolveInstruments(ctx context.Context, spotSymbol, perpSymbol string) (core.InstrumentInfo, core.InstrumentInfo, decimal.Decimal, error) {
	var spotMarkets, perpMarkets []core.Market
	var price decimal.Decimal

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spotMarkets, err = m.exchange.GetMarkets(gctx, core.CategorySpot)
		return err
	})
	g.Go(func() error {
		var err error
		perpMarkets, err = m.exchange.GetMarkets(gctx, core.CategoryLinear)
		return err
	})
	g.Go(func() error {
		ticker, err := m.exchange.GetTicker(gctx, core.CategoryLinear, perpSymbol)
		if err != nil {
			return err
		}
		price = ticker.MarkPrice
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.InstrumentInfo{}, core.InstrumentInfo{}, decimal.Zero, err
	}

	spotInfo, ok := findInstrument(spotMarkets, spotSymbol)
	if !ok {
		return core.InstrumentInfo{}, core.InstrumentInfo{}, decimal.Zero, fmt.Errorf("%s: %w", spotSymbol, apperrors.ErrInvalidSymbol)
	}
	perpInfo, ok := findInstrument(perpMarkets, perpSymbol)
	if !ok {
		return core.InstrumentInfo{}, core.InstrumentInfo{}, decimal.Zero, fmt.Errorf("%s: %w", perpSymbol, apperrors.ErrInvalidSymbol)
	}
	return spotInfo, perpInfo, price, nil
}

func findInstrument(markets []core.Market, symbol string) (core.InstrumentInfo, bool) {
	for _, mkt := range markets {
		if mkt.Symbol == symbol {
			return core.InstrumentInfo{
				Symbol:      mkt.Symbol,
				MinQty:      mkt.MinQty,
				QtyStep:     decimal.New(1, -mkt.QtyPrecision),
				MinNotional: mkt.MinNotional,
				TickSize:    decimal.New(1, -mkt.PricePrecision),
				Active:      mkt.Active,
			}, true
		}
	}
	return core.InstrumentInfo{}, false
}

// GetOpenPositions returns a snapshot of currently open positions.
func (m *Manager) GetOpenPositions() []core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p)
	}
	return out
}

// GetClosedPositions returns the full closed-position history.
func (m *Manager) GetClosedPositions() []core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Position, len(m.closed))
	copy(out, m.closed)
	return out
}
