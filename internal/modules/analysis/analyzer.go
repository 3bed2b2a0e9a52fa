// Package analysis turns raw price histories into statistical reads: trend
// classification, volatility, seasonality, anomaly detection and short-horizon
// price predictions. All functions here are pure; fetching, caching and access
// bookkeeping live in the Service.
package analysis

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/flipwatch/engine/internal/domain"
)

const (
	// trendWindow bounds the number of most recent points used for trend
	// classification. Older history still feeds strength and volatility.
	trendWindow = 10

	// Percent-change thresholds separating rising/falling from stable.
	risingThresholdPct  = 5.0
	fallingThresholdPct = -5.0

	// volatileThreshold marks a window too noisy to call a direction.
	volatileThreshold = 25.0

	// minSeasonalityPoints is roughly a year of weekly observations; with
	// less the monthly averages are too sparse to call a cycle.
	minSeasonalityPoints = 52
	seasonalityMinCV     = 0.15

	minAnomalyPoints = 10
	anomalyZCutoff   = 2.5
	anomalyZMedium   = 2.8
	anomalyZHigh     = 3.0

	minPredictionPoints = 10
	trendImpactPerMonth = 0.1
	confidenceFloor     = 0.1
)

// predictionHorizons are the fixed look-ahead distances in days.
var predictionHorizons = []int{30, 60, 90}

// Analyze computes the full statistical read of one price channel.
// It never fails: short or empty series degrade to neutral results
// (stable trend, zero strength, no patterns) instead of errors.
func Analyze(productRef string, channel domain.Channel, points []domain.PricePoint, now time.Time) domain.AnalysisResult {
	prices := pricesOf(points)

	result := domain.AnalysisResult{
		ProductRef:      productRef,
		Channel:         channel,
		Trend:           classifyTrend(prices),
		TrendStrength:   trendStrength(prices),
		Volatility:      volatility(prices),
		Seasonality:     detectSeasonality(points, prices),
		Anomalies:       detectAnomalies(points, prices),
		ConfidenceScore: confidenceScore(len(points)),
		PointCount:      len(points),
		AnalyzedAt:      now,
	}
	result.Predictions = predictPrices(prices, result.TrendStrength, result.Volatility, now)
	return result
}

// pricesOf extracts raw price values in minor units as floats.
func pricesOf(points []domain.PricePoint) []float64 {
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price.Float64()
	}
	return prices
}

// classifyTrend labels direction from the last trendWindow points.
//
// A window whose volatility exceeds volatileThreshold is volatile regardless
// of direction; otherwise the first-to-last percent change decides:
// above +5% rising, below -5% falling, else stable. Fewer than two points
// is always stable.
func classifyTrend(prices []float64) domain.Trend {
	if len(prices) < 2 {
		return domain.TrendStable
	}

	window := prices
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}

	first := window[0]
	if first == 0 {
		return domain.TrendStable
	}

	if volatility(window) > volatileThreshold {
		return domain.TrendVolatile
	}

	changePct := (window[len(window)-1] - first) / first * 100
	switch {
	case changePct > risingThresholdPct:
		return domain.TrendRising
	case changePct < fallingThresholdPct:
		return domain.TrendFalling
	default:
		return domain.TrendStable
	}
}

// trendStrength measures how directional the full window is.
//
// Formula: |OLS slope of price against observation index| / mean(prices),
// clamped to [0,1]. Fewer than three points scores 0.
func trendStrength(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}

	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, prices, nil, false)

	mean := stat.Mean(prices, nil)
	if mean <= 0 {
		return 0
	}
	return clamp01(math.Abs(slope) / mean)
}

// volatility is the population coefficient of variation as a percentage:
// 100 x stddev / mean. Fewer than two points, or a zero mean, reports 0
// rather than NaN.
func volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	mean := stat.Mean(prices, nil)
	if mean == 0 {
		return 0
	}
	return 100 * stat.PopStdDev(prices, nil) / mean
}

// detectSeasonality looks for a yearly cycle in monthly average prices.
// It needs roughly a year of history; with less it reports nothing. A cycle
// is called when the coefficient of variation across monthly averages
// exceeds seasonalityMinCV; its strength is that CV, and the peak and low
// months are the extremes of the averages.
func detectSeasonality(points []domain.PricePoint, prices []float64) []domain.SeasonalityPattern {
	if len(points) < minSeasonalityPoints {
		return nil
	}

	sums := make(map[time.Month]float64)
	counts := make(map[time.Month]int)
	for i, p := range points {
		m := p.Timestamp.Month()
		sums[m] += prices[i]
		counts[m]++
	}

	var (
		months   []int
		averages []float64
	)
	for m := time.January; m <= time.December; m++ {
		if counts[m] == 0 {
			continue
		}
		months = append(months, int(m))
		averages = append(averages, sums[m]/float64(counts[m]))
	}

	mean := stat.Mean(averages, nil)
	if mean == 0 {
		return nil
	}
	cv := stat.PopStdDev(averages, nil) / mean
	if cv <= seasonalityMinCV {
		return nil
	}

	peakIdx, lowIdx := 0, 0
	for i, avg := range averages {
		if avg > averages[peakIdx] {
			peakIdx = i
		}
		if avg < averages[lowIdx] {
			lowIdx = i
		}
	}

	return []domain.SeasonalityPattern{{
		Period:     "yearly",
		Strength:   cv,
		PeakMonths: []int{months[peakIdx]},
		LowMonths:  []int{months[lowIdx]},
	}}
}

// detectAnomalies flags points whose z-score against the full window mean
// exceeds anomalyZCutoff. A flat window (zero deviation) yields none.
func detectAnomalies(points []domain.PricePoint, prices []float64) []domain.PriceAnomaly {
	if len(points) < minAnomalyPoints {
		return nil
	}

	mean := stat.Mean(prices, nil)
	sigma := stat.PopStdDev(prices, nil)
	if sigma == 0 {
		return nil
	}

	var anomalies []domain.PriceAnomaly
	for i, p := range points {
		z := math.Abs(prices[i]-mean) / sigma
		if z <= anomalyZCutoff {
			continue
		}

		kind := domain.AnomalyDrop
		cause := "clearance event or lightning deal"
		if prices[i] > mean {
			kind = domain.AnomalySpike
			cause = "stock-out or third-party repricing"
		}

		anomalies = append(anomalies, domain.PriceAnomaly{
			Timestamp:     p.Timestamp,
			Price:         p.Price,
			Type:          kind,
			Severity:      anomalySeverity(z),
			PossibleCause: cause,
		})
	}
	return anomalies
}

func anomalySeverity(z float64) domain.Severity {
	switch {
	case z > anomalyZHigh:
		return domain.SeverityHigh
	case z > anomalyZMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// predictPrices projects the last observed price over the fixed horizons.
//
// Formulas, per horizon of d days:
//
//	predicted  = last x (1 + strength x (d/30) x 0.1)
//	confidence = max(0.1, 1 - volatility/100)
//	halfWidth  = last x (volatility/100) x sqrt(d/30)
//
// The projection grows with trend strength, the interval widens with both
// volatility and distance, and confidence decays linearly in volatility
// down to a hard floor. Fewer than minPredictionPoints yields none.
func predictPrices(prices []float64, strength, vol float64, now time.Time) []domain.PricePrediction {
	if len(prices) < minPredictionPoints {
		return nil
	}
	last := prices[len(prices)-1]

	predictions := make([]domain.PricePrediction, 0, len(predictionHorizons))
	for _, days := range predictionHorizons {
		months := float64(days) / 30.0
		predicted := last * (1 + strength*months*trendImpactPerMonth)
		confidence := math.Max(confidenceFloor, 1-vol/100)
		halfWidth := last * (vol / 100) * math.Sqrt(months)

		predictions = append(predictions, domain.PricePrediction{
			Timestamp:      now.AddDate(0, 0, days),
			DaysAhead:      days,
			PredictedPrice: domain.MoneyFromFloat(predicted),
			ConfidenceInterval: domain.ConfidenceInterval{
				Lower: domain.MoneyFromFloat(predicted - halfWidth),
				Upper: domain.MoneyFromFloat(predicted + halfWidth),
			},
			Probability: confidence,
		})
	}
	return predictions
}

// confidenceScore grades how much history backs the whole analysis.
// Monotone in point count: 0.3 below 10 points, 0.6 below 30, 0.9 above.
func confidenceScore(n int) float64 {
	switch {
	case n < 10:
		return 0.3
	case n < 30:
		return 0.6
	default:
		return 0.9
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
