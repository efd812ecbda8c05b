package core

import "time"

// WallClock is the default Clock, backed by real time. Backtests inject a
// SimClock (internal/backtest) instead.
type WallClock struct{}

func (WallClock) NowMs() int64 { return time.Now().UnixMilli() }

var _ Clock = WallClock{}
