package alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/flipwatch/engine/internal/domain"
)

const (
	// predictionNudgeThreshold gates the soft prediction notification.
	predictionNudgeThreshold = 0.8

	atTargetProbability = 0.9
	fallingTrendFactor  = 0.5
	baselineProbability = 0.1
)

// ComputePredictions derives an alert's predictive read from the product's
// analysis. The heuristic is deterministic:
//
//  1. price already at or below target: trigger expected immediately
//  2. an analyzer price prediction reaches the target: adopt that horizon
//     and its probability
//  3. falling trend without a horizon reaching the target: weak chance
//     scaled by trend strength
//  4. otherwise: baseline floor
//
// Callers degrade to PlaceholderPredictions when this returns an error.
func ComputePredictions(desiredPrice, currentPrice domain.Money, analysis *domain.AnalysisResult, now time.Time) (*domain.AlertPredictions, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("no current price to predict from")
	}
	if analysis == nil {
		return nil, fmt.Errorf("no analysis to predict from")
	}

	predictions := &domain.AlertPredictions{
		Confidence:  analysis.ConfidenceScore,
		GeneratedAt: now,
	}

	if currentPrice <= desiredPrice {
		triggerAt := now
		predictions.ProbabilityOfTrigger = atTargetProbability
		predictions.PredictedPrice = currentPrice
		predictions.PredictedTriggerAt = &triggerAt
		return predictions, nil
	}

	for _, p := range analysis.Predictions {
		if p.PredictedPrice <= desiredPrice {
			triggerAt := p.Timestamp
			predictions.ProbabilityOfTrigger = p.Probability
			predictions.PredictedPrice = p.PredictedPrice
			predictions.PredictedTriggerAt = &triggerAt
			return predictions, nil
		}
	}

	if analysis.Trend == domain.TrendFalling {
		predictions.ProbabilityOfTrigger = math.Max(baselineProbability,
			analysis.TrendStrength*fallingTrendFactor)
		predictions.PredictedPrice = nearestPredictedPrice(analysis, currentPrice)
		return predictions, nil
	}

	predictions.ProbabilityOfTrigger = baselineProbability
	predictions.PredictedPrice = currentPrice
	return predictions, nil
}

// nearestPredictedPrice picks the lowest predicted price on record, falling
// back to the current price when the analysis carries no predictions.
func nearestPredictedPrice(analysis *domain.AnalysisResult, current domain.Money) domain.Money {
	lowest := current
	for _, p := range analysis.Predictions {
		if p.PredictedPrice < lowest {
			lowest = p.PredictedPrice
		}
	}
	return lowest
}

// generatePredictions computes an alert's predictive read, degrading to the
// low-confidence placeholder when the price or analysis is unavailable.
// Prediction failure never blocks the alert operation that asked for it.
func (s *Service) generatePredictions(ctx context.Context, alert *domain.Alert, now time.Time) *domain.AlertPredictions {
	var current domain.Money
	if alert.CurrentPrice != nil {
		current = *alert.CurrentPrice
	}

	analysis, err := s.analyzer.Analyze(ctx, alert.ProductRef, alert.Channel, evaluationWindowDays)
	if err != nil {
		s.log.Debug().Err(err).Str("product", alert.ProductRef).Msg("No analysis for predictions")
		analysis = nil
	}

	predictions, err := ComputePredictions(alert.DesiredPrice, current, analysis, now)
	if err != nil {
		s.log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Using placeholder predictions")
		return domain.PlaceholderPredictions(now)
	}
	return predictions
}
