package signal

import (
	"testing"

	"fundingarb/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func defaultParams() Params {
	return Params{
		RateCap:               d("0.003"),
		EMASpan:               6,
		StableThreshold:       d("0.00002"),
		PersistenceThreshold:  d("0.0001"),
		PersistenceMaxPeriods: 30,
		BasisCap:              d("0.01"),
		VolumeLookbackDays:    7,
		VolumeDeclineRatio:    d("0.7"),
		WeightRateLevel:       d("0.35"),
		WeightTrend:           d("0.25"),
		WeightPersistence:     d("0.25"),
		WeightBasis:           d("0.15"),
		EntryThreshold:        d("0.5"),
		ExitThreshold:         d("0.3"),
	}
}

// S5: composite determinism, exact weighted-sum quantization.
func TestCompositeScore_S5(t *testing.T) {
	params := defaultParams()
	score := compositeScore(d("0.8"), d("0.5"), d("0.4"), d("0.3"), params)
	require.True(t, score.Equal(d("0.550000")), "got %s", score.String())
}

func TestRateLevel_ClampsToOne(t *testing.T) {
	require.True(t, rateLevel(d("0.01"), d("0.003")).Equal(decimal.NewFromInt(1)))
}

func TestRateLevel_ZeroCapYieldsZero(t *testing.T) {
	require.True(t, rateLevel(d("0.001"), decimal.Zero).IsZero())
}

func TestTrendFromEMA_InsufficientHistoryIsStable(t *testing.T) {
	rates := []decimal.Decimal{d("0.0001"), d("0.0002"), d("0.0003")}
	trend, score := trendFromEMA(rates, 6, d("0.00002"))
	require.Equal(t, TrendStable, trend)
	require.True(t, score.Equal(d("0.5")))
}

func TestTrendFromEMA_RisingWhenDiffExceedsThreshold(t *testing.T) {
	rates := make([]decimal.Decimal, 20)
	for i := range rates {
		rates[i] = decimal.NewFromFloat(0.0001).Mul(decimal.NewFromInt(int64(i + 1)))
	}
	trend, score := trendFromEMA(rates, 6, d("0.00002"))
	require.Equal(t, TrendRising, trend)
	require.True(t, score.Equal(decimal.NewFromInt(1)))
}

func TestTrendFromEMA_FallingWhenDiffBelowNegativeThreshold(t *testing.T) {
	rates := make([]decimal.Decimal, 20)
	for i := range rates {
		rates[i] = decimal.NewFromFloat(0.01).Sub(decimal.NewFromFloat(0.0001).Mul(decimal.NewFromInt(int64(i + 1))))
	}
	trend, score := trendFromEMA(rates, 6, d("0.00002"))
	require.Equal(t, TrendFalling, trend)
	require.True(t, score.IsZero())
}

func TestPersistence_CountsConsecutiveFromNewest(t *testing.T) {
	// descending: newest first
	descending := []decimal.Decimal{d("0.001"), d("0.001"), d("0.001"), d("0.00001")}
	score := persistence(descending, d("0.0001"), 30)
	require.True(t, score.Equal(d("3").Div(d("30"))))
}

func TestPersistence_CapsAtMaxPeriods(t *testing.T) {
	descending := make([]decimal.Decimal, 50)
	for i := range descending {
		descending[i] = d("0.001")
	}
	score := persistence(descending, d("0.0001"), 30)
	require.True(t, score.Equal(decimal.NewFromInt(1)))
}

func TestBasisScore_SafeOnNonPositiveSpotIndex(t *testing.T) {
	require.True(t, basisScore(d("100"), decimal.Zero, d("0.01")).IsZero())
	require.True(t, basisScore(d("100"), d("-5"), d("0.01")).IsZero())
}

func TestBasisScore_ClampsAtCap(t *testing.T) {
	score := basisScore(d("110"), d("100"), d("0.01")) // basis = 0.10, way above cap
	require.True(t, score.Equal(decimal.NewFromInt(1)))
}

func TestVolumeOK_InsufficientDataPasses(t *testing.T) {
	require.True(t, volumeOK(nil, 7, d("0.7")))
	require.True(t, volumeOK(make([]core.OHLCVCandle, 5), 7, d("0.7")))
}

func TestVolumeOK_RejectsOnSteepDecline(t *testing.T) {
	candles := make([]core.OHLCVCandle, 14)
	for i := 0; i < 7; i++ {
		candles[i] = core.OHLCVCandle{Volume: decimal.NewFromInt(1000)}
	}
	for i := 7; i < 14; i++ {
		candles[i] = core.OHLCVCandle{Volume: decimal.NewFromInt(100)}
	}
	require.False(t, volumeOK(candles, 7, d("0.7")))
}

func TestScore_GracefulDegradationToNeutralDefaults(t *testing.T) {
	params := defaultParams()
	in := Inputs{Symbol: "BTC/USDT:USDT", CurrentRate: d("0.0015")}
	sig := Score(in, params, nil)

	require.Equal(t, TrendStable, sig.Trend)
	require.True(t, sig.TrendScore.Equal(d("0.5")))
	require.True(t, sig.PersistenceScore.IsZero())
	require.True(t, sig.BasisScore.IsZero())
	require.True(t, sig.VolumeOK)
}

func TestScoreForExit_UnavailableRateForcesExit(t *testing.T) {
	params := defaultParams()
	shouldExit, _ := ScoreForExit(Inputs{Symbol: "BTC/USDT:USDT"}, params, nil, false)
	require.True(t, shouldExit)
}

func TestScoreForExit_BelowThresholdExits(t *testing.T) {
	params := defaultParams()
	in := Inputs{Symbol: "BTC/USDT:USDT", CurrentRate: d("0.00001")}
	shouldExit, sig := ScoreForExit(in, params, nil, true)
	require.True(t, shouldExit)
	require.True(t, sig.Score.LessThan(params.ExitThreshold))
}
