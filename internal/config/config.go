// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete, immutable (post-load) configuration tree.
type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Trading    TradingConfig    `yaml:"trading"`
	Fees       FeesConfig       `yaml:"fees"`
	Risk       RiskConfig       `yaml:"risk"`
	Historical HistoricalConfig `yaml:"historical"`
	Signal     SignalConfig     `yaml:"signal"`
	Sizing     SizingConfig     `yaml:"sizing"`
	System     SystemConfig     `yaml:"system"`
}

// ExchangeConfig carries venue credentials and trading mode.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Demo      bool   `yaml:"demo"`
	Mode      string `yaml:"mode" validate:"oneof=paper live"`
	BaseURL   string `yaml:"base_url"`
}

// TradingConfig carries the core strategy parameters.
type TradingConfig struct {
	MinFundingRate       float64 `yaml:"min_funding_rate"`
	MaxPositionSizeUSD   float64 `yaml:"max_position_size_usd" validate:"required,min=0"`
	DeltaDriftTolerance  float64 `yaml:"delta_drift_tolerance"`
	OrderTimeoutSeconds  int     `yaml:"order_timeout_seconds"`
	ScanIntervalSeconds  int     `yaml:"scan_interval"`
	StrategyMode         string  `yaml:"strategy_mode" validate:"oneof=simple composite"`
}

// FeesConfig carries the venue's maker/taker fee schedule.
type FeesConfig struct {
	SpotTaker float64 `yaml:"spot_taker"`
	PerpTaker float64 `yaml:"perp_taker"`
	SpotMaker float64 `yaml:"spot_maker"`
	PerpMaker float64 `yaml:"perp_maker"`
}

// RiskConfig carries pre-trade gates and margin alert thresholds.
type RiskConfig struct {
	MaxPositionSizePerPair  float64 `yaml:"max_position_size_per_pair"`
	MaxSimultaneousPositions int    `yaml:"max_simultaneous_positions"`
	ExitFundingRate         float64 `yaml:"exit_funding_rate"`
	MarginAlertThreshold    float64 `yaml:"margin_alert_threshold"`
	MarginCriticalThreshold float64 `yaml:"margin_critical_threshold"`
	MinVolume24h            float64 `yaml:"min_volume_24h"`
	MinHoldingPeriods       int     `yaml:"min_holding_periods"`
	PaperVirtualEquity      float64 `yaml:"paper_virtual_equity"`
}

// HistoricalConfig carries the historical-data pipeline parameters.
type HistoricalConfig struct {
	Enabled               bool    `yaml:"enabled"`
	DBPath                string  `yaml:"db_path"`
	LookbackDays          int     `yaml:"lookback_days"`
	OHLCVInterval         string  `yaml:"ohlcv_interval"`
	TopPairsCount         int     `yaml:"top_pairs_count"`
	PairReevalIntervalHrs int     `yaml:"pair_reeval_interval_hours"`
	MaxRetries            int     `yaml:"max_retries"`
	RetryBaseDelay        float64 `yaml:"retry_base_delay"`
	FetchBatchDelay       float64 `yaml:"fetch_batch_delay"`
}

// SignalConfig carries the composite signal engine's weights and thresholds.
type SignalConfig struct {
	RateCap                float64 `yaml:"rate_cap"`
	TrendEMASpan           int     `yaml:"trend_ema_span"`
	TrendStableThreshold   float64 `yaml:"trend_stable_threshold"`
	PersistenceThreshold   float64 `yaml:"persistence_threshold"`
	PersistenceMaxPeriods  int     `yaml:"persistence_max_periods"`
	BasisWeightCap         float64 `yaml:"basis_weight_cap"`
	VolumeLookbackDays     int     `yaml:"volume_lookback_days"`
	VolumeDeclineRatio     float64 `yaml:"volume_decline_ratio"`
	WeightRateLevel        float64 `yaml:"weight_rate_level"`
	WeightTrend            float64 `yaml:"weight_trend"`
	WeightPersistence      float64 `yaml:"weight_persistence"`
	WeightBasis            float64 `yaml:"weight_basis"`
	EntryThreshold         float64 `yaml:"entry_threshold"`
	ExitThreshold          float64 `yaml:"exit_threshold"`
}

// SizingConfig carries the dynamic sizer's allocation-fraction parameters.
type SizingConfig struct {
	Enabled               bool    `yaml:"enabled"`
	MinAllocationFraction float64 `yaml:"min_allocation_fraction"`
	MaxAllocationFraction float64 `yaml:"max_allocation_fraction"`
	MaxPortfolioExposure  float64 `yaml:"max_portfolio_exposure"`
}

// SystemConfig carries ambient process-level settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error fatal"`
}

// ValidationError is one field-level configuration problem.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads, expands, parses, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate aggregates the first field-level error of each section
// (exchange, trading, system) instead of stopping at the first section
// that fails.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateTrading(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.Mode != "paper" && c.Exchange.Mode != "live" {
		return ValidationError{Field: "exchange.mode", Value: c.Exchange.Mode, Message: "must be one of: paper, live"}
	}
	if c.Exchange.Mode == "live" {
		if c.Exchange.APIKey == "" {
			return ValidationError{Field: "exchange.api_key", Message: "required in live mode"}
		}
		if c.Exchange.SecretKey == "" {
			return ValidationError{Field: "exchange.secret_key", Message: "required in live mode"}
		}
	}
	return nil
}

func (c *Config) validateTrading() error {
	if c.Trading.MaxPositionSizeUSD <= 0 {
		return ValidationError{Field: "trading.max_position_size_usd", Value: c.Trading.MaxPositionSizeUSD, Message: "must be positive"}
	}
	if c.Trading.StrategyMode != "simple" && c.Trading.StrategyMode != "composite" {
		return ValidationError{Field: "trading.strategy_mode", Value: c.Trading.StrategyMode, Message: "must be one of: simple, composite"}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, strings.ToLower(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel, Message: "must be one of: " + strings.Join(validLevels, ", ")}
	}
	return nil
}

// String renders the config as YAML with API credentials masked.
func (c *Config) String() string {
	cp := *c
	cp.Exchange.APIKey = maskString(cp.Exchange.APIKey)
	cp.Exchange.SecretKey = maskString(cp.Exchange.SecretKey)
	data, _ := yaml.Marshal(cp)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// Default returns a baseline configuration suitable for paper-mode tests.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{Mode: "paper"},
		Trading: TradingConfig{
			MinFundingRate:      0.0001,
			MaxPositionSizeUSD:  1000,
			DeltaDriftTolerance: 0.02,
			OrderTimeoutSeconds: 5,
			ScanIntervalSeconds: 60,
			StrategyMode:        "simple",
		},
		Fees: FeesConfig{
			SpotTaker: 0.001,
			PerpTaker: 0.00055,
			SpotMaker: 0.001,
			PerpMaker: 0.0002,
		},
		Risk: RiskConfig{
			MaxPositionSizePerPair:   1000,
			MaxSimultaneousPositions: 5,
			ExitFundingRate:          0,
			MarginAlertThreshold:     0.8,
			MarginCriticalThreshold:  0.9,
			MinVolume24h:             1_000_000,
			MinHoldingPeriods:        3,
			PaperVirtualEquity:       10000,
		},
		Historical: HistoricalConfig{
			Enabled:               true,
			DBPath:                "./data/fundingarb.db",
			LookbackDays:          365,
			OHLCVInterval:         "1h",
			TopPairsCount:         20,
			PairReevalIntervalHrs: 168,
			MaxRetries:            5,
			RetryBaseDelay:        1.0,
			FetchBatchDelay:       0.1,
		},
		Signal: SignalConfig{
			RateCap:               0.003,
			TrendEMASpan:          6,
			TrendStableThreshold:  0.00002,
			PersistenceThreshold:  0.0001,
			PersistenceMaxPeriods: 30,
			BasisWeightCap:        0.01,
			VolumeLookbackDays:    7,
			VolumeDeclineRatio:    0.7,
			WeightRateLevel:       0.35,
			WeightTrend:           0.25,
			WeightPersistence:     0.25,
			WeightBasis:           0.15,
			EntryThreshold:        0.5,
			ExitThreshold:         0.3,
		},
		Sizing: SizingConfig{
			Enabled:               false,
			MinAllocationFraction: 0.3,
			MaxAllocationFraction: 1.0,
			MaxPortfolioExposure:  10000,
		},
		System: SystemConfig{LogLevel: "info"},
	}
}
