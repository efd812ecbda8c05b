package ticker

import (
	"context"
	"time"

	"fundingarb/internal/core"
)

// Poller periodically calls Exchange.GetTickers(linear) and publishes
// normalized snapshots into the Cache.
type Poller struct {
	exchange core.Exchange
	cache    *Cache
	interval time.Duration
	clock    core.Clock
	logger   core.Logger
}

// NewPoller builds a poller with a fixed interval (spec default 30s).
func NewPoller(exchange core.Exchange, cache *Cache, interval time.Duration, clock core.Clock, logger core.Logger) *Poller {
	return &Poller{exchange: exchange, cache: cache, interval: interval, clock: clock, logger: logger}
}

// Run blocks, polling until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ticker poller stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	tickers, err := p.exchange.GetTickers(ctx, core.CategoryLinear)
	if err != nil {
		p.logger.Warn("ticker poll failed", "error", err)
		return
	}

	now := p.clock.NowMs()
	for _, t := range tickers {
		p.cache.Put(core.FundingRateData{
			Symbol:            t.Symbol,
			Rate:              t.FundingRate,
			NextFundingTimeMs: t.NextFundingTimeMs,
			IntervalHours:     t.FundingIntervalHour,
			MarkPrice:         t.MarkPrice,
			IndexPrice:        t.IndexPrice,
			Volume24h:         t.Volume24h,
			UpdatedAtMs:       now,
		})
	}
	p.logger.Debug("ticker poll completed", "symbol_count", len(tickers))
}
