package backtest

import "fundingarb/internal/core"

// SimClock is the injected clock the PnL tracker and any cadence-driven
// component reads during replay; NowMs reflects the event loop's current
// tick, not wall time.
type SimClock struct {
	nowMs int64
}

// NewSimClock starts the clock at startMs.
func NewSimClock(startMs int64) *SimClock {
	return &SimClock{nowMs: startMs}
}

func (c *SimClock) NowMs() int64 { return c.nowMs }

// Set advances (or, in principle, could rewind, though the event loop
// never does) the simulated time.
func (c *SimClock) Set(ms int64) { c.nowMs = ms }

var _ core.Clock = (*SimClock)(nil)
