// Package core defines the domain types and capability interfaces shared
// across the funding-rate arbitrage engine.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Category distinguishes spot from linear-perpetual instruments.
type Category string

const (
	CategorySpot   Category = "spot"
	CategoryLinear Category = "linear"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// symbolDelimiter separates the base/quote pair from the settle asset in a
// canonical perpetual symbol, e.g. "BTC/USDT:USDT".
const symbolDelimiter = ":"

// SpotSymbol derives the spot form of a canonical perpetual symbol by
// splitting on the settle delimiter -- never by regex or other string
// arithmetic on arbitrary substrings.
func SpotSymbol(perpSymbol string) string {
	if idx := strings.Index(perpSymbol, symbolDelimiter); idx >= 0 {
		return perpSymbol[:idx]
	}
	return perpSymbol
}

// PerpSymbol derives the canonical perpetual form given a spot symbol and
// the settle asset (the quote currency, by convention of this venue).
func PerpSymbol(spotSymbol, settleAsset string) string {
	return spotSymbol + symbolDelimiter + settleAsset
}

// InstrumentInfo carries exchange trading-rule limits for one instrument.
type InstrumentInfo struct {
	Symbol      string
	MinQty      decimal.Decimal
	QtyStep     decimal.Decimal
	MinNotional decimal.Decimal
	TickSize    decimal.Decimal
	Active      bool
}

// FundingRateData is a single funding-rate observation for a symbol.
type FundingRateData struct {
	Symbol            string
	Rate              decimal.Decimal
	NextFundingTimeMs int64
	IntervalHours     int
	MarkPrice         decimal.Decimal
	IndexPrice        decimal.Decimal
	Volume24h         decimal.Decimal
	UpdatedAtMs       int64
}

// Position is a delta-neutral spot+perp pair. Quantity applies to both legs.
// Once Status is PositionClosed the record is immutable.
type Position struct {
	ID              string
	SpotSymbol      string
	PerpSymbol      string
	Quantity        decimal.Decimal
	SpotEntryPrice  decimal.Decimal
	PerpEntryPrice  decimal.Decimal
	OpenedAtMs      int64
	Status          PositionStatus
	ClosedAtMs      int64
	SpotExitPrice   decimal.Decimal
	PerpExitPrice   decimal.Decimal
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Category Category
}

// OrderResult is the normalized result of placing an order.
type OrderResult struct {
	OrderID      string
	Symbol       string
	FilledQty    decimal.Decimal
	FilledPrice  decimal.Decimal
	Fee          decimal.Decimal
	TimestampMs  int64
	IsSimulated  bool
}

// FundingPayment is a single signed funding settlement applied to a position.
type FundingPayment struct {
	TimestampMs int64
	Rate        decimal.Decimal
	MarkPrice   decimal.Decimal
	Amount      decimal.Decimal // signed: positive is income
}

// PositionPnL accumulates fee and funding bookkeeping for one position.
type PositionPnL struct {
	PositionID      string
	EntryFee        decimal.Decimal
	ExitFee         decimal.Decimal
	FundingPayments []FundingPayment
	SpotExitPrice   decimal.Decimal
	PerpExitPrice   decimal.Decimal
	ClosedAtMs      int64
}

// TotalPnL is a computed snapshot of a position's profit and loss.
type TotalPnL struct {
	EntryFee     decimal.Decimal
	ExitFee      decimal.Decimal
	FundingTotal decimal.Decimal
	Unrealized   decimal.Decimal
	Net          decimal.Decimal
}

// HistoricalFundingRate is a persisted funding-rate sample.
// Composite primary key: (Symbol, TimestampMs).
type HistoricalFundingRate struct {
	Symbol        string
	TimestampMs   int64
	Rate          decimal.Decimal
	IntervalHours int
}

// OHLCVCandle is a persisted candle.
// Composite primary key: (Symbol, TimestampMs).
type OHLCVCandle struct {
	Symbol      string
	TimestampMs int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
}

// DataType distinguishes the two historical series tracked by FetchState.
type DataType string

const (
	DataTypeFunding DataType = "funding"
	DataTypeOHLCV   DataType = "ohlcv"
)

// FetchState tracks the backward/forward fetch cursors for one (symbol, type).
type FetchState struct {
	Symbol         string
	DataType       DataType
	EarliestMs     int64
	LatestMs       int64
	LastFetchedAtMs int64
}

// TrackedPair is a symbol under active historical tracking.
type TrackedPair struct {
	Symbol        string
	AddedAtMs     int64
	LastVolume24h decimal.Decimal
	Active        bool
}

// DataStatus is an aggregate view over the historical store.
type DataStatus struct {
	PairCount    int
	TotalRecords int64
	EarliestMs   int64
	LatestMs     int64
	LastSyncMs   int64
}

// Market is a normalized exchange market-catalog entry.
type Market struct {
	Symbol         string
	Base           string
	Quote          string
	IsSpot         bool
	Active         bool
	MinQty         decimal.Decimal
	MaxQty         decimal.Decimal
	MinNotional    decimal.Decimal
	PricePrecision int32
	QtyPrecision   int32
}

// Ticker is a normalized ticker/funding snapshot for one symbol.
type Ticker struct {
	Symbol              string
	LastPrice           decimal.Decimal
	FundingRate         decimal.Decimal
	NextFundingTimeMs   int64
	FundingIntervalHour int
	IndexPrice          decimal.Decimal
	MarkPrice           decimal.Decimal
	Volume24h           decimal.Decimal
}

// Balance is a normalized account-balance/margin snapshot.
type Balance struct {
	AccountMMRate         decimal.Decimal
	TotalEquity           decimal.Decimal
	TotalAvailableBalance decimal.Decimal
}

// FeeSettings are the exchange's maker/taker fee rates for each leg.
type FeeSettings struct {
	SpotTaker decimal.Decimal
	PerpTaker decimal.Decimal
	SpotMaker decimal.Decimal
	PerpMaker decimal.Decimal
}
