package alerts

import (
	"fmt"
	"time"

	"github.com/flipwatch/engine/internal/domain"
)

// Snooze thresholds. Market hours are evaluated against the clock of the
// passed-in evaluation time, so callers control the zone.
const (
	marketOpenHour      = 9
	marketCloseHour     = 21
	snoozeVolatilityMax = 25.0
)

// EvaluationContext carries everything one evaluation cycle needs for one
// alert. Analysis may be nil when the analyzer was unavailable; conditions
// that need it then fail closed.
type EvaluationContext struct {
	Alert        *domain.Alert
	CurrentPrice domain.Money
	Analysis     *domain.AnalysisResult
	Now          time.Time
}

// Outcome is the decision of one evaluation cycle for one alert, with the
// reasoning chain that produced it.
type Outcome struct {
	BasicTrigger    bool
	SmartTrigger    bool
	Snoozed         bool
	SnoozedBy       domain.SnoozeCondition
	Fired           bool
	PredictionNudge bool
	Reasoning       []string
}

// Evaluate runs the trigger chain for one alert:
//
//  1. basic trigger: current price at or below the desired price
//  2. smart triggers: AND of the configured secondary conditions
//  3. snoozing: any matching snooze condition suppresses the fire for this
//     cycle without touching the alert's active state
//  4. fire, or, when the triggers did not line up, nudge with a prediction
//     notification if the cached probability of triggering is high
//
// A snoozed alert sends nothing: the prediction nudge only applies when the
// trigger conditions themselves were not met.
func Evaluate(ectx EvaluationContext) Outcome {
	alert := ectx.Alert
	var out Outcome

	out.BasicTrigger = ectx.CurrentPrice <= alert.DesiredPrice
	if out.BasicTrigger {
		out.Reasoning = append(out.Reasoning,
			fmt.Sprintf("price %s at or below target %s", ectx.CurrentPrice, alert.DesiredPrice))
	} else {
		out.Reasoning = append(out.Reasoning,
			fmt.Sprintf("price %s above target %s", ectx.CurrentPrice, alert.DesiredPrice))
	}

	var smartReasons []string
	out.SmartTrigger, smartReasons = evaluateSmartTriggers(alert.SmartTriggers, ectx.Analysis, ectx.Now)
	out.Reasoning = append(out.Reasoning, smartReasons...)

	if out.BasicTrigger && out.SmartTrigger {
		if condition, snoozed := snoozeReason(alert, ectx); snoozed {
			out.Snoozed = true
			out.SnoozedBy = condition
			out.Reasoning = append(out.Reasoning, "snoozed by "+string(condition))
			return out
		}
		out.Fired = true
		return out
	}

	if alert.Predictions != nil && alert.Predictions.ProbabilityOfTrigger > predictionNudgeThreshold {
		out.PredictionNudge = true
		out.Reasoning = append(out.Reasoning,
			fmt.Sprintf("trigger predicted with probability %.2f", alert.Predictions.ProbabilityOfTrigger))
	}
	return out
}

// evaluateSmartTriggers AND-combines the configured secondary conditions.
// No conditions configured means true. Conditions that need analysis fail
// closed when none is available.
func evaluateSmartTriggers(conditions *domain.SmartTriggerConditions, analysis *domain.AnalysisResult, now time.Time) (bool, []string) {
	if conditions == nil {
		return true, nil
	}

	passed := true
	var reasons []string

	if conditions.TargetTrend != nil {
		switch {
		case analysis == nil:
			passed = false
			reasons = append(reasons, "trend condition unverifiable without analysis")
		case analysis.Trend != *conditions.TargetTrend:
			passed = false
			reasons = append(reasons,
				fmt.Sprintf("trend %s does not match required %s", analysis.Trend, *conditions.TargetTrend))
		default:
			reasons = append(reasons, fmt.Sprintf("trend matches %s", *conditions.TargetTrend))
		}
	}

	if conditions.MaxVolatility != nil {
		switch {
		case analysis == nil:
			passed = false
			reasons = append(reasons, "volatility condition unverifiable without analysis")
		case analysis.Volatility > *conditions.MaxVolatility:
			passed = false
			reasons = append(reasons,
				fmt.Sprintf("volatility %.1f%% above limit %.1f%%", analysis.Volatility, *conditions.MaxVolatility))
		default:
			reasons = append(reasons,
				fmt.Sprintf("volatility %.1f%% within limit %.1f%%", analysis.Volatility, *conditions.MaxVolatility))
		}
	}

	if len(conditions.SeasonalMonths) > 0 {
		if monthIn(int(now.Month()), conditions.SeasonalMonths) {
			reasons = append(reasons, fmt.Sprintf("within seasonal window (month %d)", now.Month()))
		} else {
			passed = false
			reasons = append(reasons, fmt.Sprintf("outside seasonal window (month %d)", now.Month()))
		}
	}

	return passed, reasons
}

// snoozeReason returns the first configured snooze condition that matches.
func snoozeReason(alert *domain.Alert, ectx EvaluationContext) (domain.SnoozeCondition, bool) {
	if alert.Snoozing == nil {
		return "", false
	}

	for _, condition := range alert.Snoozing.Conditions {
		switch condition {
		case domain.SnoozeMarketHours:
			hour := ectx.Now.Hour()
			if hour < marketOpenHour || hour >= marketCloseHour {
				return condition, true
			}
		case domain.SnoozeHighVolatility:
			if ectx.Analysis != nil && ectx.Analysis.Volatility > snoozeVolatilityMax {
				return condition, true
			}
		case domain.SnoozeRecentTrigger:
			if alert.TriggeredAt == nil || alert.Snoozing.MaxSnoozeTimeMinutes <= 0 {
				continue
			}
			window := time.Duration(alert.Snoozing.MaxSnoozeTimeMinutes) * time.Minute
			if ectx.Now.Sub(*alert.TriggeredAt) < window {
				return condition, true
			}
		}
	}
	return "", false
}

func monthIn(month int, months []int) bool {
	for _, m := range months {
		if m == month {
			return true
		}
	}
	return false
}
