package analysis

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index over the given period.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Returns the current RSI value (0-100), or nil when the series is too
// short for the period.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) == 0 || math.IsNaN(rsi[len(rsi)-1]) {
		return nil
	}

	result := rsi[len(rsi)-1]
	return &result
}

// CalculateSMA calculates the Simple Moving Average over the given period.
// Returns nil when the series is shorter than the period.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) == 0 || math.IsNaN(sma[len(sma)-1]) {
		return nil
	}

	result := sma[len(sma)-1]
	return &result
}

// CalculateSMADistance calculates the fractional distance of the current
// price from its Simple Moving Average. Positive means the price trades
// above the average, negative below.
//
// Formula: (Current Price - SMA) / SMA
func CalculateSMADistance(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}

	sma := CalculateSMA(closes, length)
	if sma == nil || *sma == 0 {
		return nil
	}

	distance := (closes[len(closes)-1] - *sma) / *sma
	return &distance
}
