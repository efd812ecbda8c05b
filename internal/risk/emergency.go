package risk

import (
	"context"
	"sync/atomic"
	"time"

	"fundingarb/internal/core"

	"golang.org/x/sync/errgroup"
)

const (
	closeAllMaxAttempts = 3
	closeAllBackoffUnit = 1 * time.Second
)

// PositionCloser is the subset of the position manager the controller
// needs: close-by-id, and the currently open set to snapshot at trigger
// time.
type PositionCloser interface {
	ClosePosition(ctx context.Context, id string) (core.Position, error)
	GetOpenPositions() []core.Position
}

// StopCallback is invoked once the close-all fan-out has finished.
type StopCallback func()

// EmergencyController force-closes every open position on trigger, with a
// one-shot guard so repeat triggers (e.g. from multiple monitors) are no-ops.
type EmergencyController struct {
	closer   PositionCloser
	logger   core.Logger
	stop     StopCallback
	triggered int32
}

// NewEmergencyController builds a controller bound to a position closer
// and the orchestrator's stop callback.
func NewEmergencyController(closer PositionCloser, logger core.Logger, stop StopCallback) *EmergencyController {
	return &EmergencyController{closer: closer, logger: logger, stop: stop}
}

// Trigger snapshots open positions and force-closes them concurrently,
// each with its own linear-backoff retry. Re-entrant calls after the
// first are no-ops.
func (c *EmergencyController) Trigger(ctx context.Context, reason string) {
	if !atomic.CompareAndSwapInt32(&c.triggered, 0, 1) {
		c.logger.Warn("emergency trigger ignored: already triggered", "reason", reason)
		return
	}

	c.logger.Error("emergency controller triggered", "reason", reason)
	positions := c.closer.GetOpenPositions()

	g, gctx := errgroup.WithContext(context.Background())
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			return c.closeWithRetry(gctx, pos)
		})
	}
	_ = g.Wait()

	if c.stop != nil {
		c.stop()
	}
}

func (c *EmergencyController) closeWithRetry(ctx context.Context, pos core.Position) error {
	var lastErr error
	for attempt := 1; attempt <= closeAllMaxAttempts; attempt++ {
		_, err := c.closer.ClosePosition(ctx, pos.ID)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < closeAllMaxAttempts {
			time.Sleep(time.Duration(attempt) * closeAllBackoffUnit)
		}
	}
	c.logger.Error("emergency close failed after retries",
		"position_id", pos.ID, "spot_symbol", pos.SpotSymbol, "perp_symbol", pos.PerpSymbol,
		"quantity", pos.Quantity.String(), "error", lastErr)
	return lastErr
}
