// Package apperrors is the flat sentinel-error taxonomy used across the
// engine. Call sites compare with errors.Is, never a type switch.
package apperrors

import "errors"

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected by exchange")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid or unknown symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange under maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// Domain-specific sentinels beyond the exchange-client taxonomy.
	ErrBelowMinNotional   = errors.New("order size below exchange minimum notional")
	ErrBelowMinQty        = errors.New("order size below exchange minimum quantity")
	ErrDeltaDrift         = errors.New("position legs drifted beyond delta tolerance")
	ErrLegMismatch        = errors.New("spot and perp leg fills do not match")
	ErrPositionNotFound   = errors.New("position not found")
	ErrPositionClosed     = errors.New("position already closed")
	ErrCircuitOpen        = errors.New("emergency circuit is open")
	ErrCycleInProgress    = errors.New("orchestrator cycle already in progress")
	ErrInsufficientData   = errors.New("insufficient historical data for signal")
	ErrLookAheadViolation = errors.New("backtest query would read beyond simulated time")

	// Position-open/close failure taxonomy.
	ErrInsufficientSize   = errors.New("insufficient size to meet instrument minimums")
	ErrPriceUnavailable   = errors.New("price unavailable: cache miss or stale")
	ErrDeltaHedgeTimeout  = errors.New("delta hedge leg timed out")
	ErrDeltaHedgeError    = errors.New("delta hedge leg failed")
	ErrDeltaDriftExceeded = errors.New("delta drift exceeded tolerance after fill")
)
