// Package signal implements the composite strategy's multi-pillar scoring:
// rate level, EMA trend, persistence run-length, basis, and a volume-trend
// hard filter, combined into one weighted CompositeSignal.
package signal

import (
	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
)

// Trend is the EMA-slope classification of recent funding rates.
type Trend string

const (
	TrendRising  Trend = "RISING"
	TrendStable  Trend = "STABLE"
	TrendFalling Trend = "FALLING"
)

// Params bundles every threshold and weight the composite score needs.
type Params struct {
	RateCap               decimal.Decimal
	EMASpan               int
	StableThreshold       decimal.Decimal
	PersistenceThreshold  decimal.Decimal
	PersistenceMaxPeriods int
	BasisCap              decimal.Decimal
	VolumeLookbackDays    int
	VolumeDeclineRatio    decimal.Decimal
	WeightRateLevel       decimal.Decimal
	WeightTrend           decimal.Decimal
	WeightPersistence     decimal.Decimal
	WeightBasis           decimal.Decimal
	EntryThreshold        decimal.Decimal
	ExitThreshold         decimal.Decimal
}

// CompositeSignal is the full sub-score breakdown for one candidate pair,
// logged at info level in full for diagnosability.
type CompositeSignal struct {
	Symbol           string
	RateLevel        decimal.Decimal
	Trend            Trend
	TrendScore       decimal.Decimal
	PersistenceScore decimal.Decimal
	BasisScore       decimal.Decimal
	VolumeOK         bool
	Score            decimal.Decimal
	PassesEntry      bool
}

var emaQuantizeDecimals int32 = 12
var scoreQuantizeDecimals int32 = 6

func clamp01(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}

// rateLevel normalizes the current rate to [0, 1] against a cap.
func rateLevel(rate, rateCap decimal.Decimal) decimal.Decimal {
	if rateCap.IsZero() {
		return decimal.Zero
	}
	return clamp01(rate.Div(rateCap))
}

// ema computes the exponential moving average over historical rates
// (oldest-first), quantizing every intermediate value to prevent
// representation blowup in the recursive decimal division.
func ema(ratesAscending []decimal.Decimal, span int) []decimal.Decimal {
	if len(ratesAscending) == 0 || span <= 0 {
		return nil
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(span + 1)))
	out := make([]decimal.Decimal, len(ratesAscending))
	out[0] = ratesAscending[0].Truncate(emaQuantizeDecimals)
	for i := 1; i < len(ratesAscending); i++ {
		prev := out[i-1]
		cur := ratesAscending[i]
		next := alpha.Mul(cur).Add(decimal.NewFromInt(1).Sub(alpha).Mul(prev))
		out[i] = next.Truncate(emaQuantizeDecimals)
	}
	return out
}

// trendFromEMA classifies RISING/STABLE/FALLING by comparing the latest EMA
// value to the value span periods earlier. Insufficient history is STABLE.
func trendFromEMA(ratesAscending []decimal.Decimal, span int, stableThreshold decimal.Decimal) (Trend, decimal.Decimal) {
	values := ema(ratesAscending, span)
	if len(values) <= span {
		return TrendStable, decimal.NewFromFloat(0.5)
	}

	latest := values[len(values)-1]
	past := values[len(values)-1-span]
	diff := latest.Sub(past)

	switch {
	case diff.GreaterThan(stableThreshold):
		return TrendRising, decimal.NewFromInt(1)
	case diff.LessThan(stableThreshold.Neg()):
		return TrendFalling, decimal.Zero
	default:
		return TrendStable, decimal.NewFromFloat(0.5)
	}
}

// persistence walks backward from the newest rate counting consecutive
// samples at or above threshold, scored as a fraction of maxPeriods.
func persistence(ratesDescending []decimal.Decimal, threshold decimal.Decimal, maxPeriods int) decimal.Decimal {
	if maxPeriods <= 0 {
		return decimal.Zero
	}
	count := 0
	for _, r := range ratesDescending {
		if r.LessThan(threshold) {
			break
		}
		count++
	}
	if count > maxPeriods {
		count = maxPeriods
	}
	return decimal.NewFromInt(int64(count)).Div(decimal.NewFromInt(int64(maxPeriods)))
}

// basisScore normalizes (perp_mark - spot_index) / spot_index to [0, 1].
// Safely yields 0 when spotIndex is non-positive or missing.
func basisScore(perpMark, spotIndex, basisCap decimal.Decimal) decimal.Decimal {
	if spotIndex.IsZero() || spotIndex.IsNegative() || basisCap.IsZero() {
		return decimal.Zero
	}
	basis := perpMark.Sub(spotIndex).Div(spotIndex)
	return clamp01(basis.Div(basisCap))
}

// volumeOK reports whether recent mean volume has not declined below
// declineRatio times the prior window's mean. Insufficient data passes.
func volumeOK(candles []core.OHLCVCandle, lookbackDays int, declineRatio decimal.Decimal) bool {
	windowSize := lookbackDays
	if windowSize <= 0 || len(candles) < windowSize*2 {
		return true
	}

	n := len(candles)
	recent := candles[n-windowSize:]
	prior := candles[n-2*windowSize : n-windowSize]

	recentMean := meanVolume(recent)
	priorMean := meanVolume(prior)
	if priorMean.IsZero() {
		return true
	}
	return !recentMean.LessThan(declineRatio.Mul(priorMean))
}

func meanVolume(candles []core.OHLCVCandle) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}

// compositeScore combines the four sub-scores by the documented weighted
// sum, quantized to six decimal places.
func compositeScore(rateLevel, trendScore, persistenceScore, basisScore decimal.Decimal, params Params) decimal.Decimal {
	return params.WeightRateLevel.Mul(rateLevel).
		Add(params.WeightTrend.Mul(trendScore)).
		Add(params.WeightPersistence.Mul(persistenceScore)).
		Add(params.WeightBasis.Mul(basisScore)).
		Truncate(scoreQuantizeDecimals)
}

// Inputs bundles everything needed to score one candidate pair. Any field
// may be its zero value to signal "missing" and trigger graceful
// degradation to the documented neutral defaults.
type Inputs struct {
	Symbol             string
	CurrentRate        decimal.Decimal
	HistoricalRatesAsc []decimal.Decimal // ascending, oldest first
	PerpMarkPrice      decimal.Decimal
	SpotIndexPrice     decimal.Decimal
	RecentCandlesAsc   []core.OHLCVCandle // ascending, oldest first

	HasHistory bool
	HasBasis   bool
	HasVolume  bool
}

// Score computes the full composite signal for one candidate, logging the
// sub-score breakdown at info level for diagnosability.
func Score(in Inputs, params Params, logger core.Logger) CompositeSignal {
	rl := rateLevel(in.CurrentRate, params.RateCap)

	trend := TrendStable
	trendScore := decimal.NewFromFloat(0.5)
	persistenceScore := decimal.Zero
	if in.HasHistory && len(in.HistoricalRatesAsc) > 0 {
		trend, trendScore = trendFromEMA(in.HistoricalRatesAsc, params.EMASpan, params.StableThreshold)

		descending := make([]decimal.Decimal, len(in.HistoricalRatesAsc))
		for i, r := range in.HistoricalRatesAsc {
			descending[len(descending)-1-i] = r
		}
		persistenceScore = persistence(descending, params.PersistenceThreshold, params.PersistenceMaxPeriods)
	}

	basis := decimal.Zero
	if in.HasBasis {
		basis = basisScore(in.PerpMarkPrice, in.SpotIndexPrice, params.BasisCap)
	}

	volOK := true
	if in.HasVolume {
		volOK = volumeOK(in.RecentCandlesAsc, params.VolumeLookbackDays, params.VolumeDeclineRatio)
	}

	score := compositeScore(rl, trendScore, persistenceScore, basis, params)
	passesEntry := volOK && !score.LessThan(params.EntryThreshold)

	sig := CompositeSignal{
		Symbol:           in.Symbol,
		RateLevel:        rl,
		Trend:            trend,
		TrendScore:       trendScore,
		PersistenceScore: persistenceScore,
		BasisScore:       basis,
		VolumeOK:         volOK,
		Score:            score,
		PassesEntry:      passesEntry,
	}

	if logger != nil {
		logger.Info("composite signal computed",
			"symbol", in.Symbol,
			"rate_level", rl.String(),
			"trend", string(trend),
			"trend_score", trendScore.String(),
			"persistence_score", persistenceScore.String(),
			"basis_score", basis.String(),
			"volume_ok", volOK,
			"score", score.String(),
			"passes_entry", passesEntry,
		)
	}
	return sig
}

// ScoreForExit reuses the composite score at the current moment to decide
// whether to exit; callers treat a missing rate as an unconditional exit.
func ScoreForExit(in Inputs, params Params, logger core.Logger, rateAvailable bool) (shouldExit bool, sig CompositeSignal) {
	if !rateAvailable {
		return true, CompositeSignal{Symbol: in.Symbol}
	}
	sig = Score(in, params, logger)
	return sig.Score.LessThan(params.ExitThreshold), sig
}
