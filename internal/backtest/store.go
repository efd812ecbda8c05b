package backtest

import (
	"context"
	"fmt"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
)

// LookAheadStore wraps a historical store and caps every range read's
// upper bound at the replay's current simulated time. The replay's history
// lookups go through this wrapper rather than the raw store, so they never
// see data from the future relative to the tick being evaluated
// (testable property 11).
type LookAheadStore struct {
	inner core.HistoricalStore
	clock *SimClock
}

// NewLookAheadStore binds a store to the clock driving the replay.
func NewLookAheadStore(inner core.HistoricalStore, clock *SimClock) *LookAheadStore {
	return &LookAheadStore{inner: inner, clock: clock}
}

// clampUntil narrows untilMs to at most the current simulated time. A
// request whose entire window starts after the current tick is rejected
// outright rather than silently clamped to an empty range -- that shape
// usually means an upstream bug, not a normal boundary query.
func (s *LookAheadStore) clampUntil(startMs, untilMs int64) (int64, error) {
	sim := s.clock.NowMs()
	if startMs > sim {
		return 0, fmt.Errorf("query start %d beyond simulated time %d: %w", startMs, sim, apperrors.ErrLookAheadViolation)
	}
	if untilMs <= 0 || untilMs > sim {
		return sim, nil
	}
	return untilMs, nil
}

func (s *LookAheadStore) GetFundingRates(ctx context.Context, symbol string, startMs, untilMs int64) ([]core.HistoricalFundingRate, error) {
	effectiveUntil, err := s.clampUntil(startMs, untilMs)
	if err != nil {
		return nil, err
	}
	return s.inner.GetFundingRates(ctx, symbol, startMs, effectiveUntil)
}

func (s *LookAheadStore) GetCandles(ctx context.Context, symbol string, startMs, untilMs int64) ([]core.OHLCVCandle, error) {
	effectiveUntil, err := s.clampUntil(startMs, untilMs)
	if err != nil {
		return nil, err
	}
	return s.inner.GetCandles(ctx, symbol, startMs, effectiveUntil)
}

// The remaining HistoricalStore methods are not time-range reads and pass
// straight through; a backtest never writes replayed data back and never
// mutates fetch cursors, but the interface still needs an implementation.

func (s *LookAheadStore) SaveFundingRates(ctx context.Context, rates []core.HistoricalFundingRate) error {
	return s.inner.SaveFundingRates(ctx, rates)
}

func (s *LookAheadStore) SaveCandles(ctx context.Context, candles []core.OHLCVCandle) error {
	return s.inner.SaveCandles(ctx, candles)
}

func (s *LookAheadStore) GetFetchState(ctx context.Context, symbol string, dataType core.DataType) (core.FetchState, bool, error) {
	return s.inner.GetFetchState(ctx, symbol, dataType)
}

func (s *LookAheadStore) SaveFetchState(ctx context.Context, state core.FetchState) error {
	return s.inner.SaveFetchState(ctx, state)
}

func (s *LookAheadStore) AddTrackedPair(ctx context.Context, pair core.TrackedPair) error {
	return s.inner.AddTrackedPair(ctx, pair)
}

func (s *LookAheadStore) GetTrackedPairs(ctx context.Context) ([]core.TrackedPair, error) {
	return s.inner.GetTrackedPairs(ctx)
}

func (s *LookAheadStore) GetDataStatus(ctx context.Context) (core.DataStatus, error) {
	return s.inner.GetDataStatus(ctx)
}

var _ core.HistoricalStore = (*LookAheadStore)(nil)
