// Package domain provides core domain models and types for the Flipwatch
// resale-analytics engine.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Money is a monetary amount in integer minor currency units (cents).
// All persisted and cached prices are Money; floating point is used only
// inside pure analytics math and converted back at the boundary.
type Money int64

// MoneyFromFloat rounds an amount in minor units back to Money. This is the
// single crossing point from analytics floats to monetary values.
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f))
}

// Float64 returns the amount in minor units as a float for analytics math.
func (m Money) Float64() float64 {
	return float64(m)
}

// Major returns the amount in major currency units (e.g. dollars).
func (m Money) Major() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f", m.Major())
}

// Channel identifies one price channel of a product's marketplace history.
type Channel string

const (
	// ChannelRetail is the primary retailer price.
	ChannelRetail Channel = "retail"
	// ChannelNew is the third-party new-offer price.
	ChannelNew Channel = "new"
	// ChannelUsed is the third-party used-offer price.
	ChannelUsed Channel = "used"
	// ChannelRank is the popularity (sales) rank pseudo-price channel.
	ChannelRank Channel = "rank"
)

// ParseChannel validates a caller-supplied channel name. An empty name
// defaults to the retail channel.
func ParseChannel(name string) (Channel, error) {
	switch Channel(name) {
	case "":
		return ChannelRetail, nil
	case ChannelRetail, ChannelNew, ChannelUsed, ChannelRank:
		return Channel(name), nil
	default:
		return "", NewValidationError("channel", "must be one of retail, new, used, rank")
	}
}

// PricePoint is a single observation in a price series.
// Immutable once recorded.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     Money     `json:"price"`
	InStock   bool      `json:"in_stock"`
}

// PriceSeries holds a product's bounded price history, partitioned by channel.
// Each channel's points are ordered by timestamp ascending. The series is
// owned by the upstream provider; the engine only reads a bounded window.
type PriceSeries struct {
	ProductRef string                   `json:"product_ref"`
	Days       int                      `json:"days"`
	Channels   map[Channel][]PricePoint `json:"channels"`
}

// Channel returns the points for one channel (nil when absent).
func (s PriceSeries) Channel(c Channel) []PricePoint {
	if s.Channels == nil {
		return nil
	}
	return s.Channels[c]
}

// Trend classifies recent price direction.
type Trend string

const (
	TrendRising   Trend = "rising"
	TrendFalling  Trend = "falling"
	TrendStable   Trend = "stable"
	TrendVolatile Trend = "volatile"
)

// AnomalyType classifies the direction of a price anomaly.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyDrop  AnomalyType = "drop"
)

// Severity grades anomalies and risk factors.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeasonalityPattern describes a recurring price cycle detected in a series.
// PeakMonths and LowMonths are calendar months (1-12).
type SeasonalityPattern struct {
	Period     string  `json:"period"`
	Strength   float64 `json:"strength"`
	PeakMonths []int   `json:"peak_months"`
	LowMonths  []int   `json:"low_months"`
}

// PriceAnomaly is a price point whose deviation from the window mean, in
// standard-deviation units, exceeded the detection threshold.
type PriceAnomaly struct {
	Timestamp     time.Time   `json:"timestamp"`
	Price         Money       `json:"price"`
	Type          AnomalyType `json:"type"`
	Severity      Severity    `json:"severity"`
	PossibleCause string      `json:"possible_cause,omitempty"`
}

// ConfidenceInterval bounds a predicted price.
type ConfidenceInterval struct {
	Lower Money `json:"lower"`
	Upper Money `json:"upper"`
}

// PricePrediction is a short-horizon price projection.
type PricePrediction struct {
	Timestamp          time.Time          `json:"timestamp"`
	DaysAhead          int                `json:"days_ahead"`
	PredictedPrice     Money              `json:"predicted_price"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	Probability        float64            `json:"probability"`
}

// AnalysisResult is the full statistical read of one price channel over a
// bounded window. Derived data: recomputed on demand, cached with a TTL, and
// never mutated in place - each recomputation produces a new result.
type AnalysisResult struct {
	ProductRef      string               `json:"product_ref"`
	Channel         Channel              `json:"channel"`
	Trend           Trend                `json:"trend"`
	TrendStrength   float64              `json:"trend_strength"`
	Volatility      float64              `json:"volatility"`
	Seasonality     []SeasonalityPattern `json:"seasonality"`
	Anomalies       []PriceAnomaly       `json:"anomalies"`
	Predictions     []PricePrediction    `json:"predictions"`
	ConfidenceScore float64              `json:"confidence_score"`
	PointCount      int                  `json:"point_count"`
	AnalyzedAt      time.Time            `json:"analyzed_at"`
}

// TrackedProduct is the local read-model of a catalog entry for a product the
// engine watches. It is registered on first analyze/track call and enriched
// from upstream metadata during sync cycles.
type TrackedProduct struct {
	Ref            string     `json:"ref"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	SalesRank      int        `json:"sales_rank"`
	ReviewCount    int        `json:"review_count"`
	OfferCountNew  int        `json:"offer_count_new"`
	OfferCountUsed int        `json:"offer_count_used"`
	CurrentPrice   Money      `json:"current_price"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// ValidateProductRef checks the basic shape of a product reference.
// Refs are caller-supplied identifiers for upstream marketplace listings.
func ValidateProductRef(ref string) error {
	if ref == "" {
		return NewValidationError("product_ref", "must not be empty")
	}
	if len(ref) > 64 {
		return NewValidationError("product_ref", "must be at most 64 characters")
	}
	for _, r := range ref {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_'
		if !valid {
			return NewValidationError("product_ref", "contains invalid characters")
		}
	}
	return nil
}
