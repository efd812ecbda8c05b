// Package fetcher drives the historical backfill: a backward paginated
// walk to fill in lookback history on startup, and a forward-only
// incremental update on every cycle thereafter.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundingarb/internal/apperrors"
	"fundingarb/internal/core"
	"fundingarb/internal/retry"
)

const (
	fundingPageLimit = 200
	ohlcvPageLimit   = 1000
	ohlcvIntervalMin = 60

	defaultBatchDelay = 100 * time.Millisecond
)

// backfillPolicy makes at most 5 attempts, waiting 1s, 2s, 4s, then 8s
// (each plus up to 50% jitter) between them.
var backfillPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     16 * time.Second,
	Multiplier:     2,
}

// backfillRateLimitPolicy escalates to a 3x multiplier once a rate-limit
// error is observed, same shape as the exchange client's own escalation.
var backfillRateLimitPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 3 * time.Second,
	MaxBackoff:     48 * time.Second,
	Multiplier:     3,
}

// ProgressFunc reports backfill progress across the symbol set.
type ProgressFunc func(completed, total int, currentSymbol string)

// Fetcher owns the historical backfill and incremental-update operations.
type Fetcher struct {
	exchange   core.Exchange
	store      core.HistoricalStore
	clock      core.Clock
	logger     core.Logger
	batchDelay time.Duration
}

// New builds a Fetcher with the documented inter-batch delay.
func New(exchange core.Exchange, store core.HistoricalStore, clock core.Clock, logger core.Logger) *Fetcher {
	return &Fetcher{exchange: exchange, store: store, clock: clock, logger: logger, batchDelay: defaultBatchDelay}
}

func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrNetwork) ||
		errors.Is(err, apperrors.ErrExchangeMaintenance) ||
		errors.Is(err, apperrors.ErrSystemOverload)
}

// EnsureDataReady blocks until every symbol has funding and OHLCV history
// covering lookbackDays, resuming from each symbol's persisted FetchState.
func (f *Fetcher) EnsureDataReady(ctx context.Context, symbols []string, lookbackDays int, progress ProgressFunc) error {
	total := len(symbols)
	for i, symbol := range symbols {
		if err := f.ensureFundingReady(ctx, symbol, lookbackDays); err != nil {
			return fmt.Errorf("backfill funding history for %s: %w", symbol, err)
		}
		if err := f.ensureOHLCVReady(ctx, symbol, lookbackDays); err != nil {
			return fmt.Errorf("backfill OHLCV history for %s: %w", symbol, err)
		}
		if progress != nil {
			progress(i+1, total, symbol)
		}
		f.logger.Debug("backfill complete for symbol", "symbol", symbol)
	}
	f.logger.Info("historical backfill complete", "symbol_count", total)
	return nil
}

func (f *Fetcher) ensureFundingReady(ctx context.Context, symbol string, lookbackDays int) error {
	now := f.clock.NowMs()
	target := now - int64(lookbackDays)*24*60*60*1000

	state, ok, err := f.store.GetFetchState(ctx, symbol, core.DataTypeFunding)
	if err != nil {
		return err
	}
	cursor := now
	if ok && state.EarliestMs > 0 {
		cursor = state.EarliestMs
	}

	for cursor > target {
		var rates []core.HistoricalFundingRate
		fetchErr := f.fetchWithRetry(ctx, func() error {
			var innerErr error
			rates, innerErr = f.exchange.GetFundingRateHistory(ctx, symbol, 0, cursor, fundingPageLimit)
			return innerErr
		})
		if fetchErr != nil {
			return fetchErr
		}
		if len(rates) == 0 {
			break
		}
		if err := f.store.SaveFundingRates(ctx, rates); err != nil {
			return err
		}

		oldest := rates[0].TimestampMs
		newest := rates[len(rates)-1].TimestampMs
		if err := f.advanceFetchState(ctx, symbol, core.DataTypeFunding, oldest, newest); err != nil {
			return err
		}

		if oldest >= cursor {
			break
		}
		cursor = oldest

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.batchDelay):
		}
	}
	return nil
}

func (f *Fetcher) ensureOHLCVReady(ctx context.Context, symbol string, lookbackDays int) error {
	now := f.clock.NowMs()
	target := now - int64(lookbackDays)*24*60*60*1000

	state, ok, err := f.store.GetFetchState(ctx, symbol, core.DataTypeOHLCV)
	if err != nil {
		return err
	}
	cursor := now
	if ok && state.EarliestMs > 0 {
		cursor = state.EarliestMs
	}

	for cursor > target {
		var candles []core.OHLCVCandle
		fetchErr := f.fetchWithRetry(ctx, func() error {
			var innerErr error
			candles, innerErr = f.exchange.GetOHLCV(ctx, symbol, ohlcvIntervalMin, 0, cursor, ohlcvPageLimit)
			return innerErr
		})
		if fetchErr != nil {
			return fetchErr
		}
		if len(candles) == 0 {
			break
		}
		if err := f.store.SaveCandles(ctx, candles); err != nil {
			return err
		}

		oldest := candles[0].TimestampMs
		newest := candles[len(candles)-1].TimestampMs
		if err := f.advanceFetchState(ctx, symbol, core.DataTypeOHLCV, oldest, newest); err != nil {
			return err
		}

		if oldest >= cursor {
			break
		}
		cursor = oldest

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.batchDelay):
		}
	}
	return nil
}

// fetchWithRetry runs op under the backward-fetch backoff schedule,
// escalating to the rate-limit variant once that error is observed.
func (f *Fetcher) fetchWithRetry(ctx context.Context, op func() error) error {
	var lastErr error
	err := retry.Do(ctx, backfillPolicy, func(e error) bool {
		lastErr = e
		return isTransient(e)
	}, op)
	if err != nil && errors.Is(lastErr, apperrors.ErrRateLimitExceeded) {
		return retry.Do(ctx, backfillRateLimitPolicy, isTransient, op)
	}
	return err
}

func (f *Fetcher) advanceFetchState(ctx context.Context, symbol string, dataType core.DataType, oldest, newest int64) error {
	existing, ok, err := f.store.GetFetchState(ctx, symbol, dataType)
	if err != nil {
		return err
	}
	state := core.FetchState{Symbol: symbol, DataType: dataType, EarliestMs: oldest, LatestMs: newest, LastFetchedAtMs: f.clock.NowMs()}
	if ok {
		if existing.EarliestMs != 0 && existing.EarliestMs < oldest {
			state.EarliestMs = existing.EarliestMs
		}
		if existing.LatestMs > newest {
			state.LatestMs = existing.LatestMs
		}
	}
	return f.store.SaveFetchState(ctx, state)
}

// IncrementalUpdate appends new records past each symbol's latest cursor.
// Forward-only; never walks backward once ensure_data_ready has run.
func (f *Fetcher) IncrementalUpdate(ctx context.Context, symbols []string) error {
	now := f.clock.NowMs()
	for _, symbol := range symbols {
		fundingState, ok, err := f.store.GetFetchState(ctx, symbol, core.DataTypeFunding)
		if err != nil {
			return err
		}
		if ok {
			rates, err := f.exchange.GetFundingRateHistory(ctx, symbol, fundingState.LatestMs+1, now, fundingPageLimit)
			if err != nil {
				f.logger.Warn("incremental funding update failed", "symbol", symbol, "error", err)
				continue
			}
			if len(rates) > 0 {
				if err := f.store.SaveFundingRates(ctx, rates); err != nil {
					return err
				}
				if err := f.advanceFetchState(ctx, symbol, core.DataTypeFunding, fundingState.EarliestMs, rates[len(rates)-1].TimestampMs); err != nil {
					return err
				}
			}
			f.logger.Debug("incremental funding update", "symbol", symbol, "new_records", len(rates))
		}

		ohlcvState, ok, err := f.store.GetFetchState(ctx, symbol, core.DataTypeOHLCV)
		if err != nil {
			return err
		}
		if ok {
			candles, err := f.exchange.GetOHLCV(ctx, symbol, ohlcvIntervalMin, ohlcvState.LatestMs+1, now, ohlcvPageLimit)
			if err != nil {
				f.logger.Warn("incremental OHLCV update failed", "symbol", symbol, "error", err)
				continue
			}
			if len(candles) > 0 {
				if err := f.store.SaveCandles(ctx, candles); err != nil {
					return err
				}
				if err := f.advanceFetchState(ctx, symbol, core.DataTypeOHLCV, ohlcvState.EarliestMs, candles[len(candles)-1].TimestampMs); err != nil {
					return err
				}
			}
			f.logger.Debug("incremental OHLCV update", "symbol", symbol, "new_records", len(candles))
		}
	}
	f.logger.Info("incremental update complete", "symbol_count", len(symbols))
	return nil
}
