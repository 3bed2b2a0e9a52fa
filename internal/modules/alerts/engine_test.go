package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flipwatch/engine/internal/domain"
)

// middayMonday is a fixed evaluation time inside market hours (12:00) in
// June, outside any November/December seasonal window.
var middayMonday = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func testAlert() *domain.Alert {
	return &domain.Alert{
		ID:               "alert-1",
		ProductRef:       "B00FLIP001",
		OwnerRef:         "user-1",
		Channel:          domain.ChannelRetail,
		DesiredPrice:     10000,
		IsActive:         true,
		Priority:         domain.AlertPriorityMedium,
		NotificationsVia: []string{"push"},
		IntervalMinutes:  60,
	}
}

func analysisWith(trend domain.Trend, volatility float64) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Trend:           trend,
		Volatility:      volatility,
		ConfidenceScore: 0.9,
	}
}

func TestEvaluate_BasicTrigger(t *testing.T) {
	tests := []struct {
		name  string
		price domain.Money
		fired bool
	}{
		{name: "below target fires", price: 9999, fired: true},
		{name: "exactly at target fires", price: 10000, fired: true},
		{name: "above target does not fire", price: 10001, fired: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(EvaluationContext{
				Alert:        testAlert(),
				CurrentPrice: tt.price,
				Now:          middayMonday,
			})
			assert.Equal(t, tt.fired, out.BasicTrigger)
			assert.Equal(t, tt.fired, out.Fired)
			assert.True(t, out.SmartTrigger, "no conditions configured defaults to true")
		})
	}
}

func TestEvaluate_SmartTriggerTrend(t *testing.T) {
	falling := domain.TrendFalling
	alert := testAlert()
	alert.SmartTriggers = &domain.SmartTriggerConditions{TargetTrend: &falling}

	tests := []struct {
		name     string
		analysis *domain.AnalysisResult
		fired    bool
	}{
		{name: "matching trend fires", analysis: analysisWith(domain.TrendFalling, 5), fired: true},
		{name: "wrong trend suppresses", analysis: analysisWith(domain.TrendRising, 5), fired: false},
		{name: "missing analysis fails closed", analysis: nil, fired: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(EvaluationContext{
				Alert:        alert,
				CurrentPrice: 9500,
				Analysis:     tt.analysis,
				Now:          middayMonday,
			})
			assert.True(t, out.BasicTrigger)
			assert.Equal(t, tt.fired, out.Fired)
		})
	}
}

func TestEvaluate_SmartTriggerVolatility(t *testing.T) {
	limit := 10.0
	alert := testAlert()
	alert.SmartTriggers = &domain.SmartTriggerConditions{MaxVolatility: &limit}

	calm := Evaluate(EvaluationContext{
		Alert: alert, CurrentPrice: 9500,
		Analysis: analysisWith(domain.TrendStable, 5), Now: middayMonday,
	})
	assert.True(t, calm.Fired)

	choppy := Evaluate(EvaluationContext{
		Alert: alert, CurrentPrice: 9500,
		Analysis: analysisWith(domain.TrendStable, 15), Now: middayMonday,
	})
	assert.False(t, choppy.Fired)
	assert.False(t, choppy.SmartTrigger)
}

func TestEvaluate_SeasonalWindow(t *testing.T) {
	alert := testAlert()
	alert.SmartTriggers = &domain.SmartTriggerConditions{SeasonalMonths: []int{11, 12}}

	june := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: middayMonday})
	assert.False(t, june.Fired)

	december := time.Date(2024, 12, 2, 12, 0, 0, 0, time.UTC)
	holiday := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: december})
	assert.True(t, holiday.Fired)
}

// A recently triggered alert must not fire again inside its snooze window,
// even with all trigger conditions met. Snoozed cycles send nothing, not
// even the prediction nudge.
func TestEvaluate_SnoozeRecentTrigger(t *testing.T) {
	fiveMinutesAgo := middayMonday.Add(-5 * time.Minute)
	alert := testAlert()
	alert.TriggeredAt = &fiveMinutesAgo
	alert.Snoozing = &domain.SmartSnoozing{
		Conditions:           []domain.SnoozeCondition{domain.SnoozeRecentTrigger},
		MaxSnoozeTimeMinutes: 60,
	}
	alert.Predictions = &domain.AlertPredictions{ProbabilityOfTrigger: 0.95}

	out := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: middayMonday})

	assert.True(t, out.BasicTrigger)
	assert.True(t, out.SmartTrigger)
	assert.True(t, out.Snoozed)
	assert.Equal(t, domain.SnoozeRecentTrigger, out.SnoozedBy)
	assert.False(t, out.Fired)
	assert.False(t, out.PredictionNudge)

	// Outside the snooze window the alert fires again.
	overAnHourAgo := middayMonday.Add(-61 * time.Minute)
	alert.TriggeredAt = &overAnHourAgo
	out = Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: middayMonday})
	assert.True(t, out.Fired)
}

func TestEvaluate_SnoozeMarketHours(t *testing.T) {
	alert := testAlert()
	alert.Snoozing = &domain.SmartSnoozing{
		Conditions: []domain.SnoozeCondition{domain.SnoozeMarketHours},
	}

	tests := []struct {
		name    string
		hour    int
		snoozed bool
	}{
		{name: "late evening snoozes", hour: 22, snoozed: true},
		{name: "early morning snoozes", hour: 8, snoozed: true},
		{name: "opening hour fires", hour: 9, snoozed: false},
		{name: "midday fires", hour: 12, snoozed: false},
		{name: "closing hour snoozes", hour: 21, snoozed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2024, 6, 3, tt.hour, 30, 0, 0, time.UTC)
			out := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: now})
			assert.Equal(t, tt.snoozed, out.Snoozed)
			assert.Equal(t, !tt.snoozed, out.Fired)
		})
	}
}

func TestEvaluate_SnoozeHighVolatility(t *testing.T) {
	alert := testAlert()
	alert.Snoozing = &domain.SmartSnoozing{
		Conditions: []domain.SnoozeCondition{domain.SnoozeHighVolatility},
	}

	turbulent := Evaluate(EvaluationContext{
		Alert: alert, CurrentPrice: 9500,
		Analysis: analysisWith(domain.TrendStable, 30), Now: middayMonday,
	})
	assert.True(t, turbulent.Snoozed)
	assert.Equal(t, domain.SnoozeHighVolatility, turbulent.SnoozedBy)

	calm := Evaluate(EvaluationContext{
		Alert: alert, CurrentPrice: 9500,
		Analysis: analysisWith(domain.TrendStable, 20), Now: middayMonday,
	})
	assert.True(t, calm.Fired)

	// Without analysis the volatility condition cannot match.
	blind := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: 9500, Now: middayMonday})
	assert.True(t, blind.Fired)
}

func TestEvaluate_PredictionNudge(t *testing.T) {
	tests := []struct {
		name        string
		price       domain.Money
		probability float64
		nudge       bool
	}{
		{name: "high probability above target nudges", price: 11000, probability: 0.85, nudge: true},
		{name: "threshold is strict", price: 11000, probability: 0.8, nudge: false},
		{name: "fired alerts do not nudge", price: 9500, probability: 0.85, nudge: false},
		{name: "low probability stays quiet", price: 11000, probability: 0.4, nudge: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := testAlert()
			alert.Predictions = &domain.AlertPredictions{ProbabilityOfTrigger: tt.probability}

			out := Evaluate(EvaluationContext{Alert: alert, CurrentPrice: tt.price, Now: middayMonday})
			assert.Equal(t, tt.nudge, out.PredictionNudge)
		})
	}
}

func TestEvaluate_ReasoningChain(t *testing.T) {
	falling := domain.TrendFalling
	alert := testAlert()
	alert.SmartTriggers = &domain.SmartTriggerConditions{TargetTrend: &falling}

	out := Evaluate(EvaluationContext{
		Alert: alert, CurrentPrice: 9500,
		Analysis: analysisWith(domain.TrendFalling, 5), Now: middayMonday,
	})

	assert.True(t, out.Fired)
	assert.Contains(t, out.Reasoning[0], "at or below target")
	assert.Contains(t, out.Reasoning[1], "trend matches falling")
}
