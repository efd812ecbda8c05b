// Command enginectl is the process entrypoint: it loads configuration,
// constructs the dependency graph honoring the historical/sizing/strategy
// feature gates, and runs the autonomous cycle loop until a process
// signal tells it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundingarb/internal/config"
	"fundingarb/internal/core"
	"fundingarb/internal/exchange/bybit"
	"fundingarb/internal/execution"
	"fundingarb/internal/fetcher"
	"fundingarb/internal/logging"
	"fundingarb/internal/orchestrator"
	"fundingarb/internal/pnl"
	"fundingarb/internal/position"
	"fundingarb/internal/ranker"
	"fundingarb/internal/risk"
	"fundingarb/internal/signal"
	"fundingarb/internal/sizer"
	"fundingarb/internal/store"
	"fundingarb/internal/ticker"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}

	o, cleanup, err := build(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct engine", "error", err)
		return
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	waitForSignal(ctx, o, logger)
}

func waitForSignal(ctx context.Context, o *orchestrator.Orchestrator, logger core.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			// A bare OS signal carries no margin-ratio context of its own,
			// so the forced-unwind path is reached through the running
			// cycle's own margin-critical reading (RunCycle fires the
			// emergency controller itself). This signal stops the loop
			// the same way a graceful shutdown would.
			logger.Info("emergency signal received, stopping loop")
			o.Stop(ctx)
			return
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutdown signal received, stopping gracefully")
			o.Stop(ctx)
			return
		}
	}
}

// build wires the full dependency graph, branching once per feature gate
// (historical pipeline, dynamic sizing, strategy mode) rather than
// threading nullability checks through every call site.
func build(cfg *config.Config, logger core.Logger) (*orchestrator.Orchestrator, func(), error) {
	exch := bybit.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.SecretKey, 10, 20, logger)

	fees := core.FeeSettings{
		SpotTaker: decimal.NewFromFloat(cfg.Fees.SpotTaker),
		PerpTaker: decimal.NewFromFloat(cfg.Fees.PerpTaker),
		SpotMaker: decimal.NewFromFloat(cfg.Fees.SpotMaker),
		PerpMaker: decimal.NewFromFloat(cfg.Fees.PerpMaker),
	}

	clock := core.WallClock{}
	cache := ticker.NewCache()
	poller := ticker.NewPoller(exch, cache, 30*time.Second, clock, logger)

	var historicalStore core.HistoricalStore
	var fetchSvc *fetcher.Fetcher
	history := orchestrator.HistoryLookup(orchestrator.NoHistoryLookup{})
	var cleanupFns []func()

	if cfg.Historical.Enabled {
		sqliteStore, err := store.Open(cfg.Historical.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open historical store: %w", err)
		}
		historicalStore = sqliteStore
		cleanupFns = append(cleanupFns, func() { _ = sqliteStore.Close() })
		fetchSvc = fetcher.New(exch, historicalStore, clock, logger)
		history = orchestrator.StoreHistoryLookup{Store: historicalStore}
	}

	var executor core.Executor
	isPaper := cfg.Exchange.Mode == "paper"
	if isPaper {
		executor = execution.NewPaperExecutor(cache, fees, clock)
	} else {
		executor = execution.NewLiveExecutor(exch, logger)
	}

	tracker := pnl.New(clock, logger)
	mgr := position.NewManager(executor, exch, tracker, clock, logger, decimal.NewFromFloat(cfg.Trading.DeltaDriftTolerance))

	riskParams := risk.Params{
		MaxPositionSizePerPair:   decimal.NewFromFloat(cfg.Risk.MaxPositionSizePerPair),
		MaxSimultaneousPositions: cfg.Risk.MaxSimultaneousPositions,
		MarginAlertThreshold:     decimal.NewFromFloat(cfg.Risk.MarginAlertThreshold),
		MarginCriticalThreshold:  decimal.NewFromFloat(cfg.Risk.MarginCriticalThreshold),
		PaperVirtualEquity:       decimal.NewFromFloat(cfg.Risk.PaperVirtualEquity),
	}
	riskMgr := risk.NewManager(riskParams, exch, logger, isPaper)

	strategyMode := orchestrator.StrategySimple
	if cfg.Trading.StrategyMode == "composite" {
		strategyMode = orchestrator.StrategyComposite
	}

	base := orchestrator.EffectiveParams{
		StrategyMode:       strategyMode,
		MinFundingRate:     decimal.NewFromFloat(cfg.Trading.MinFundingRate),
		ExitFundingRate:    decimal.NewFromFloat(cfg.Risk.ExitFundingRate),
		MaxPositionSizeUSD: decimal.NewFromFloat(cfg.Trading.MaxPositionSizeUSD),
		RankerParams: ranker.Params{
			MinRate:           decimal.NewFromFloat(cfg.Trading.MinFundingRate),
			MinVolume24h:      decimal.NewFromFloat(cfg.Risk.MinVolume24h),
			MinHoldingPeriods: cfg.Risk.MinHoldingPeriods,
			Fees:              fees,
		},
		SignalParams: signal.Params{
			RateCap:               decimal.NewFromFloat(cfg.Signal.RateCap),
			StableThreshold:       decimal.NewFromFloat(cfg.Signal.TrendStableThreshold),
			PersistenceThreshold:  decimal.NewFromFloat(cfg.Signal.PersistenceThreshold),
			BasisCap:              decimal.NewFromFloat(cfg.Signal.BasisWeightCap),
			VolumeDeclineRatio:    decimal.NewFromFloat(cfg.Signal.VolumeDeclineRatio),
			WeightRateLevel:       decimal.NewFromFloat(cfg.Signal.WeightRateLevel),
			WeightTrend:           decimal.NewFromFloat(cfg.Signal.WeightTrend),
			WeightPersistence:     decimal.NewFromFloat(cfg.Signal.WeightPersistence),
			WeightBasis:           decimal.NewFromFloat(cfg.Signal.WeightBasis),
			EntryThreshold:        decimal.NewFromFloat(cfg.Signal.EntryThreshold),
			ExitThreshold:         decimal.NewFromFloat(cfg.Signal.ExitThreshold),
			EMASpan:               cfg.Signal.TrendEMASpan,
			PersistenceMaxPeriods: cfg.Signal.PersistenceMaxPeriods,
			VolumeLookbackDays:    cfg.Signal.VolumeLookbackDays,
		},
		SizingEnabled: cfg.Sizing.Enabled,
		SizerParams: sizer.Params{
			MinAllocationFraction: decimal.NewFromFloat(cfg.Sizing.MinAllocationFraction),
			MaxAllocationFraction: decimal.NewFromFloat(cfg.Sizing.MaxAllocationFraction),
			MaxPositionSizeUSD:    decimal.NewFromFloat(cfg.Trading.MaxPositionSizeUSD),
			MaxPortfolioExposure:  decimal.NewFromFloat(cfg.Sizing.MaxPortfolioExposure),
		},
		RiskParams: riskParams,
	}

	var o *orchestrator.Orchestrator
	emergency := risk.NewEmergencyController(mgr, logger, func() {
		logger.Warn("engine stopped by emergency controller")
		// Trigger runs inside the loop's own cycle and Stop waits for the
		// loop to exit, so Stop runs on its own goroutine.
		go o.Stop(context.Background())
	})

	deps := orchestrator.Dependencies{
		Manager:    mgr,
		PnLTracker: tracker,
		RiskMgr:    riskMgr,
		Emergency:  emergency,
		Rates:      orchestrator.CacheRateLookup{Cache: cache},
		LiveRates:  cache.GetAllFundingRates,
		Markets: func(ctx context.Context) ([]core.Market, error) {
			return exch.GetMarkets(ctx, core.CategorySpot)
		},
		History: history,
		Prices:  orchestrator.CachePriceLookup{Cache: cache},
		FreeBalance: func(ctx context.Context) (decimal.Decimal, error) {
			bal, err := exch.GetBalance(ctx)
			if err != nil {
				return decimal.Zero, err
			}
			return bal.TotalAvailableBalance, nil
		},
		Clock:         clock,
		Logger:        logger,
		Base:          base,
		SettleEveryMs: 8 * 3600_000,
	}

	o = orchestrator.New(deps, cfg.Trading.ScanIntervalSeconds)

	pollerCtx, pollerCancel := context.WithCancel(context.Background())
	go poller.Run(pollerCtx)
	cleanupFns = append(cleanupFns, pollerCancel)

	if fetchSvc != nil {
		go runHistoricalBackfill(pollerCtx, fetchSvc, historicalStore, cfg, logger)
	}

	cleanup := func() {
		for _, fn := range cleanupFns {
			fn()
		}
	}
	return o, cleanup, nil
}

func runHistoricalBackfill(ctx context.Context, f *fetcher.Fetcher, st core.HistoricalStore, cfg *config.Config, logger core.Logger) {
	pairs, err := st.GetTrackedPairs(ctx)
	if err != nil {
		logger.Warn("failed to load tracked pairs", "error", err)
		return
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.Active {
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) == 0 {
		return
	}

	if err := f.EnsureDataReady(ctx, symbols, cfg.Historical.LookbackDays, func(completed, total int, symbol string) {
		logger.Info("backfill progress", "completed", completed, "total", total, "symbol", symbol)
	}); err != nil {
		logger.Warn("initial backfill incomplete", "error", err)
	}

	interval := time.Duration(cfg.Trading.ScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := f.IncrementalUpdate(ctx, symbols); err != nil {
				logger.Warn("incremental update failed", "error", err)
			}
		}
	}
}
