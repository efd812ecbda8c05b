package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Exchange is the capability contract every venue adapter implements.
// Both live and paper code paths consume this interface; nothing upstream
// branches on the concrete type behind it.
type Exchange interface {
	// GetMarkets returns the active instrument catalog for the given category.
	GetMarkets(ctx context.Context, category Category) ([]Market, error)

	// GetTicker returns a normalized ticker/funding snapshot for one symbol.
	GetTicker(ctx context.Context, category Category, symbol string) (Ticker, error)

	// GetTickers returns normalized snapshots for every active symbol in a category.
	GetTickers(ctx context.Context, category Category) ([]Ticker, error)

	// GetFundingRateHistory returns funding-rate samples in [startMs, endMs),
	// ordered ascending by timestamp. Callers must always pass a non-zero
	// endMs; open-ended backward queries are not supported by this venue.
	GetFundingRateHistory(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]HistoricalFundingRate, error)

	// GetOHLCV returns candles in [startMs, endMs), ordered ascending.
	GetOHLCV(ctx context.Context, symbol string, intervalMinutes int, startMs, endMs int64, limit int) ([]OHLCVCandle, error)

	// PlaceOrder submits an order and returns its normalized fill result.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// GetBalance returns the account's current margin/equity snapshot.
	GetBalance(ctx context.Context) (Balance, error)

	// GetFeeSettings returns the account's current maker/taker fee schedule.
	GetFeeSettings(ctx context.Context) (FeeSettings, error)
}

// Executor is the capability contract for placing the two legs of a
// delta-neutral position. LiveExecutor and PaperExecutor share this
// interface; the position manager never knows which one it holds.
type Executor interface {
	// OpenPosition places the spot-buy and perp-short legs for quantity qty
	// of the given symbol pair, returning both fill results.
	OpenPosition(ctx context.Context, spotSymbol, perpSymbol string, qty decimal.Decimal) (spotFill, perpFill OrderResult, err error)

	// ClosePosition places the spot-sell and perp-buy-to-cover legs,
	// unwinding an open Position.
	ClosePosition(ctx context.Context, pos Position) (spotFill, perpFill OrderResult, err error)
}

// Logger is the structured-logging contract call sites depend on; no
// call site imports a concrete logging library directly.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// Clock abstracts wall-clock time so the backtest engine can inject
// simulated time without the rest of the system branching on a "mode".
type Clock interface {
	NowMs() int64
}

// HistoricalStore is the capability contract for persisted funding/OHLCV
// series and fetch-cursor bookkeeping.
type HistoricalStore interface {
	SaveFundingRates(ctx context.Context, rates []HistoricalFundingRate) error
	GetFundingRates(ctx context.Context, symbol string, startMs, untilMs int64) ([]HistoricalFundingRate, error)
	SaveCandles(ctx context.Context, candles []OHLCVCandle) error
	GetCandles(ctx context.Context, symbol string, startMs, untilMs int64) ([]OHLCVCandle, error)

	GetFetchState(ctx context.Context, symbol string, dataType DataType) (FetchState, bool, error)
	SaveFetchState(ctx context.Context, state FetchState) error

	AddTrackedPair(ctx context.Context, pair TrackedPair) error
	GetTrackedPairs(ctx context.Context) ([]TrackedPair, error)

	GetDataStatus(ctx context.Context) (DataStatus, error)
}
