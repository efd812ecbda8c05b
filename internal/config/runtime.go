package config

// RuntimeConfig is a mutable overlay of strategy parameters applied over
// the immutable Config at the top of each orchestrator cycle. Pointer
// fields left nil mean "use the immutable config's value" -- this is a
// value type copied in, never mutated mid-cycle.
type RuntimeConfig struct {
	MinFundingRate      *float64
	MaxPositionSizeUSD  *float64
	DeltaDriftTolerance *float64
	StrategyMode        *string
	EntryThreshold      *float64
	ExitThreshold       *float64
}

// Effective applies the non-nil overlay fields over base, returning a new
// TradingConfig + SignalConfig view. It never mutates base.
func (rc RuntimeConfig) Effective(base Config) (TradingConfig, SignalConfig) {
	trading := base.Trading
	signal := base.Signal

	if rc.MinFundingRate != nil {
		trading.MinFundingRate = *rc.MinFundingRate
	}
	if rc.MaxPositionSizeUSD != nil {
		trading.MaxPositionSizeUSD = *rc.MaxPositionSizeUSD
	}
	if rc.DeltaDriftTolerance != nil {
		trading.DeltaDriftTolerance = *rc.DeltaDriftTolerance
	}
	if rc.StrategyMode != nil {
		trading.StrategyMode = *rc.StrategyMode
	}
	if rc.EntryThreshold != nil {
		signal.EntryThreshold = *rc.EntryThreshold
	}
	if rc.ExitThreshold != nil {
		signal.ExitThreshold = *rc.ExitThreshold
	}
	return trading, signal
}
