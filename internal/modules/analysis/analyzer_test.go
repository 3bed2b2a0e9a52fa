package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipwatch/engine/internal/domain"
)

// dailyPoints builds one point per day ending the day before `end`.
func dailyPoints(end time.Time, prices ...int64) []domain.PricePoint {
	points := make([]domain.PricePoint, len(prices))
	start := end.AddDate(0, 0, -len(prices))
	for i, p := range prices {
		points[i] = domain.PricePoint{
			Timestamp: start.AddDate(0, 0, i),
			Price:     domain.Money(p),
			InStock:   true,
		}
	}
	return points
}

func repeat(price int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestAnalyze_ConstantSeries(t *testing.T) {
	// Ten identical observations: no movement, no noise, full certainty.
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	points := dailyPoints(now, repeat(1000, 10)...)

	result := Analyze("B00TEST01", domain.ChannelRetail, points, now)

	assert.Equal(t, "B00TEST01", result.ProductRef)
	assert.Equal(t, domain.ChannelRetail, result.Channel)
	assert.Equal(t, domain.TrendStable, result.Trend)
	assert.Equal(t, 0.0, result.TrendStrength)
	assert.Equal(t, 0.0, result.Volatility)
	assert.Empty(t, result.Anomalies)
	assert.Empty(t, result.Seasonality)
	assert.Equal(t, 0.6, result.ConfidenceScore)
	assert.Equal(t, 10, result.PointCount)
	assert.Equal(t, now, result.AnalyzedAt)

	// Flat input projects flat: same price at every horizon, zero-width
	// interval, and confidence pegged at the maximum.
	require.Len(t, result.Predictions, 3)
	for i, days := range []int{30, 60, 90} {
		p := result.Predictions[i]
		assert.Equal(t, days, p.DaysAhead)
		assert.Equal(t, now.AddDate(0, 0, days), p.Timestamp)
		assert.Equal(t, domain.Money(1000), p.PredictedPrice)
		assert.Equal(t, domain.Money(1000), p.ConfidenceInterval.Lower)
		assert.Equal(t, domain.Money(1000), p.ConfidenceInterval.Upper)
		assert.Equal(t, 1.0, p.Probability)
	}
}

func TestAnalyze_ShortSeries(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		points []domain.PricePoint
	}{
		{name: "empty", points: nil},
		{name: "single point", points: dailyPoints(now, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Analyze("B00TEST01", domain.ChannelRetail, tt.points, now)

			assert.Equal(t, domain.TrendStable, result.Trend)
			assert.Equal(t, 0.0, result.TrendStrength)
			assert.Equal(t, 0.0, result.Volatility)
			assert.Empty(t, result.Anomalies)
			assert.Empty(t, result.Seasonality)
			assert.Empty(t, result.Predictions)
			assert.Equal(t, 0.3, result.ConfidenceScore)
			assert.Equal(t, len(tt.points), result.PointCount)
		})
	}
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   domain.Trend
	}{
		{
			name:   "steady climb is rising",
			prices: []float64{1000, 1010, 1020, 1030, 1040, 1050, 1060, 1070, 1080, 1090},
			want:   domain.TrendRising,
		},
		{
			name:   "steady decline is falling",
			prices: []float64{1000, 990, 980, 970, 960, 950, 940, 930, 920, 910},
			want:   domain.TrendFalling,
		},
		{
			name:   "small drift is stable",
			prices: []float64{1000, 1003, 1006, 1009, 1012, 1015, 1018, 1021, 1024, 1027},
			want:   domain.TrendStable,
		},
		{
			name:   "noise overrides direction",
			prices: []float64{500, 1500, 500, 1500, 500, 1500, 500, 1500, 500, 1500},
			want:   domain.TrendVolatile,
		},
		{
			name:   "single point is stable",
			prices: []float64{1000},
			want:   domain.TrendStable,
		},
		{
			name: "classification only sees the last ten points",
			prices: []float64{
				5000, 5000, 5000, 5000, 5000, 5000, 5000, 5000, 5000, 5000,
				1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000,
			},
			want: domain.TrendStable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTrend(tt.prices))
		})
	}
}

func TestTrendStrength(t *testing.T) {
	t.Run("constant series has zero strength", func(t *testing.T) {
		assert.Equal(t, 0.0, trendStrength([]float64{500, 500, 500, 500}))
	})

	t.Run("fewer than three points has zero strength", func(t *testing.T) {
		assert.Equal(t, 0.0, trendStrength([]float64{100, 200}))
	})

	t.Run("linear series divides slope by mean", func(t *testing.T) {
		// Slope 100 per step, mean 500: strength 0.2.
		prices := []float64{100, 200, 300, 400, 500, 600, 700, 800, 900}
		assert.InDelta(t, 0.2, trendStrength(prices), 1e-9)
	})

	t.Run("extreme slope clamps to one", func(t *testing.T) {
		assert.Equal(t, 1.0, trendStrength([]float64{100, 10000, 30000}))
	})
}

func TestVolatility(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   float64
	}{
		{name: "flat series", prices: []float64{1000, 1000, 1000}, want: 0},
		{name: "single point", prices: []float64{1000}, want: 0},
		{name: "symmetric pair", prices: []float64{90, 110}, want: 10},
		{
			name:   "alternating extremes",
			prices: []float64{500, 1500, 500, 1500, 500, 1500, 500, 1500, 500, 1500},
			want:   50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, volatility(tt.prices), 1e-9)
		})
	}
}

func TestDetectAnomalies(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("one outlier among constants is a spike", func(t *testing.T) {
		prices := repeat(1000, 20)
		prices[7] = 2000
		points := dailyPoints(now, prices...)

		anomalies := detectAnomalies(points, pricesOf(points))

		require.Len(t, anomalies, 1)
		assert.Equal(t, domain.AnomalySpike, anomalies[0].Type)
		assert.Equal(t, domain.SeverityHigh, anomalies[0].Severity)
		assert.Equal(t, domain.Money(2000), anomalies[0].Price)
		assert.Equal(t, points[7].Timestamp, anomalies[0].Timestamp)
	})

	t.Run("downward outlier is a drop", func(t *testing.T) {
		prices := repeat(1000, 20)
		prices[3] = 200
		points := dailyPoints(now, prices...)

		anomalies := detectAnomalies(points, pricesOf(points))

		require.Len(t, anomalies, 1)
		assert.Equal(t, domain.AnomalyDrop, anomalies[0].Type)
		assert.Equal(t, domain.SeverityHigh, anomalies[0].Severity)
	})

	t.Run("flat series has none", func(t *testing.T) {
		points := dailyPoints(now, repeat(1000, 20)...)
		assert.Empty(t, detectAnomalies(points, pricesOf(points)))
	})

	t.Run("too few points has none", func(t *testing.T) {
		prices := repeat(1000, 9)
		prices[4] = 9000
		points := dailyPoints(now, prices...)
		assert.Empty(t, detectAnomalies(points, pricesOf(points)))
	})
}

func TestAnomalySeverity(t *testing.T) {
	tests := []struct {
		z    float64
		want domain.Severity
	}{
		{z: 2.6, want: domain.SeverityLow},
		{z: 2.8, want: domain.SeverityLow},
		{z: 2.85, want: domain.SeverityMedium},
		{z: 3.0, want: domain.SeverityMedium},
		{z: 3.5, want: domain.SeverityHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, anomalySeverity(tt.z), "z=%v", tt.z)
	}
}

func TestDetectSeasonality(t *testing.T) {
	// Weekly observations across a year, with a December price jump.
	weeklyYear := func(n int, decemberPrice int64) []domain.PricePoint {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		points := make([]domain.PricePoint, n)
		for i := range points {
			ts := start.AddDate(0, 0, 7*i)
			price := int64(1000)
			if ts.Month() == time.December {
				price = decemberPrice
			}
			points[i] = domain.PricePoint{Timestamp: ts, Price: domain.Money(price), InStock: true}
		}
		return points
	}

	t.Run("december jump yields a yearly pattern", func(t *testing.T) {
		points := weeklyYear(52, 2000)

		patterns := detectSeasonality(points, pricesOf(points))

		require.Len(t, patterns, 1)
		assert.Equal(t, "yearly", patterns[0].Period)
		// Monthly averages: eleven months at 1000, December at 2000.
		// CV = stddev/mean = 276.4/1083.3.
		assert.InDelta(t, 0.2551, patterns[0].Strength, 0.001)
		assert.Equal(t, []int{12}, patterns[0].PeakMonths)
		assert.Equal(t, []int{1}, patterns[0].LowMonths)
	})

	t.Run("below a year of data yields nothing", func(t *testing.T) {
		points := weeklyYear(51, 2000)
		assert.Empty(t, detectSeasonality(points, pricesOf(points)))
	})

	t.Run("flat year yields nothing", func(t *testing.T) {
		points := weeklyYear(52, 1000)
		assert.Empty(t, detectSeasonality(points, pricesOf(points)))
	})
}

func TestAnalyze_RisingSeriesPredictions(t *testing.T) {
	// Linear climb 1000..1090: slope 10, mean 1045, stddev sqrt(825).
	//   strength   = 10/1045            = 0.009569
	//   volatility = 100*28.7228/1045   = 2.7486
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	points := dailyPoints(now,
		1000, 1010, 1020, 1030, 1040, 1050, 1060, 1070, 1080, 1090)

	result := Analyze("B00TEST01", domain.ChannelRetail, points, now)

	assert.Equal(t, domain.TrendRising, result.Trend)
	assert.InDelta(t, 0.009569, result.TrendStrength, 1e-6)
	assert.InDelta(t, 2.7486, result.Volatility, 1e-4)

	require.Len(t, result.Predictions, 3)

	// last * (1 + strength*(d/30)*0.1), interval last*(vol/100)*sqrt(d/30).
	wantPrices := []domain.Money{1091, 1092, 1093}
	wantLower := []domain.Money{1061, 1050, 1041}
	wantUpper := []domain.Money{1121, 1134, 1145}
	for i := range result.Predictions {
		p := result.Predictions[i]
		assert.Equal(t, wantPrices[i], p.PredictedPrice)
		assert.Equal(t, wantLower[i], p.ConfidenceInterval.Lower)
		assert.Equal(t, wantUpper[i], p.ConfidenceInterval.Upper)
		assert.InDelta(t, 0.97251, p.Probability, 1e-4)
	}
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		points int
		want   float64
	}{
		{points: 0, want: 0.3},
		{points: 9, want: 0.3},
		{points: 10, want: 0.6},
		{points: 29, want: 0.6},
		{points: 30, want: 0.9},
		{points: 365, want: 0.9},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, confidenceScore(tt.points), "points=%d", tt.points)
	}
}

func TestAnalyze_Bounds(t *testing.T) {
	// A noisy series must still produce values inside documented ranges.
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	points := dailyPoints(now,
		1000, 1800, 600, 1400, 900, 2100, 700, 1600, 800, 1900,
		1100, 500, 2000, 1200, 750, 1550, 950, 1850, 650, 1450,
		1050, 1700, 550, 1350, 850, 2050, 720, 1620, 880, 1980,
		1020, 1750, 580, 1380, 920)

	result := Analyze("B00TEST01", domain.ChannelRetail, points, now)

	assert.GreaterOrEqual(t, result.TrendStrength, 0.0)
	assert.LessOrEqual(t, result.TrendStrength, 1.0)
	assert.GreaterOrEqual(t, result.Volatility, 0.0)
	assert.Equal(t, 0.9, result.ConfidenceScore)

	require.NotEmpty(t, result.Predictions)
	for _, p := range result.Predictions {
		assert.GreaterOrEqual(t, p.Probability, 0.1)
		assert.LessOrEqual(t, p.Probability, 1.0)
		assert.LessOrEqual(t, p.ConfidenceInterval.Lower, p.PredictedPrice)
		assert.GreaterOrEqual(t, p.ConfidenceInterval.Upper, p.PredictedPrice)
	}
}
