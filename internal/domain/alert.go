package domain

import "time"

// AlertPriority orders alert notifications by urgency.
type AlertPriority string

const (
	AlertPriorityLow    AlertPriority = "low"
	AlertPriorityMedium AlertPriority = "medium"
	AlertPriorityHigh   AlertPriority = "high"
	AlertPriorityUrgent AlertPriority = "urgent"
)

// ParseAlertPriority validates a priority name. The empty string maps to
// the medium default.
func ParseAlertPriority(name string) (AlertPriority, error) {
	switch AlertPriority(name) {
	case "":
		return AlertPriorityMedium, nil
	case AlertPriorityLow, AlertPriorityMedium, AlertPriorityHigh, AlertPriorityUrgent:
		return AlertPriority(name), nil
	default:
		return "", NewValidationError("priority", "must be one of low, medium, high, urgent")
	}
}

// NotificationType distinguishes the two notification paths of the alert
// engine: a full trigger and the softer predictive heads-up.
type NotificationType string

const (
	NotificationTrigger    NotificationType = "trigger"
	NotificationPrediction NotificationType = "prediction"
)

// SnoozeCondition names one smart-snoozing rule.
type SnoozeCondition string

const (
	// SnoozeMarketHours suppresses triggers outside the 09:00-21:00 local window.
	SnoozeMarketHours SnoozeCondition = "market_hours"
	// SnoozeHighVolatility suppresses triggers while recent volatility exceeds 25%.
	SnoozeHighVolatility SnoozeCondition = "high_volatility"
	// SnoozeRecentTrigger suppresses re-fires within MaxSnoozeTimeMinutes of the last one.
	SnoozeRecentTrigger SnoozeCondition = "recent_trigger"
)

// SmartTriggerConditions are secondary conditions AND-combined with the basic
// price trigger. All configured conditions must pass for the alert to fire.
type SmartTriggerConditions struct {
	// TargetTrend requires the current analysis trend to equal this value.
	TargetTrend *Trend `json:"target_trend,omitempty"`
	// MaxVolatility suppresses the trigger when volatility exceeds this percentage.
	MaxVolatility *float64 `json:"max_volatility,omitempty"`
	// SeasonalMonths restricts firing to these calendar months (1-12).
	SeasonalMonths []int `json:"seasonal_months,omitempty"`
}

// SmartSnoozing configures post-trigger suppression. Any matching condition
// snoozes the alert for the cycle without deactivating it.
type SmartSnoozing struct {
	Conditions           []SnoozeCondition `json:"conditions"`
	MaxSnoozeTimeMinutes int               `json:"max_snooze_time_minutes"`
}

// AlertPredictions is the cached predictive read for an alert: how likely the
// desired price is to be reached, and when. Regenerated on create, on
// price/condition updates, and daily for all active alerts.
type AlertPredictions struct {
	ProbabilityOfTrigger float64    `json:"probability_of_trigger"`
	PredictedPrice       Money      `json:"predicted_price"`
	PredictedTriggerAt   *time.Time `json:"predicted_trigger_at,omitempty"`
	Confidence           float64    `json:"confidence"`
	GeneratedAt          time.Time  `json:"generated_at"`
}

// PlaceholderPredictions is the fixed low-confidence fallback used when
// prediction generation fails. It never blocks alert creation.
func PlaceholderPredictions(now time.Time) *AlertPredictions {
	return &AlertPredictions{
		ProbabilityOfTrigger: 0.1,
		Confidence:           0.1,
		GeneratedAt:          now,
	}
}

// Alert is a mutable entity watching one product's price. Its lifecycle
// (created -> active <-> paused -> deleted) is mutated only by the alert
// engine and its service.
type Alert struct {
	ID                 string                  `json:"id"`
	ProductRef         string                  `json:"product_ref"`
	OwnerRef           string                  `json:"owner_ref"`
	Channel            Channel                 `json:"channel"`
	DesiredPrice       Money                   `json:"desired_price"`
	CurrentPrice       *Money                  `json:"current_price,omitempty"`
	IsActive           bool                    `json:"is_active"`
	Priority           AlertPriority           `json:"priority"`
	NotificationsVia   []string                `json:"notification_channels"`
	SmartTriggers      *SmartTriggerConditions `json:"smart_triggers,omitempty"`
	Snoozing           *SmartSnoozing          `json:"smart_snoozing,omitempty"`
	Predictions        *AlertPredictions       `json:"ai_predictions,omitempty"`
	IntervalMinutes    int                     `json:"interval_minutes"`
	PausedUntil        *time.Time              `json:"paused_until,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	TriggeredAt        *time.Time              `json:"triggered_at,omitempty"`
	LastCheckedAt      *time.Time              `json:"last_checked_at,omitempty"`
	NotificationsSent  int                     `json:"notifications_sent"`
}

// DueForCheck reports whether the alert's per-alert evaluation interval has
// elapsed. Alerts that were never checked are always due.
func (a *Alert) DueForCheck(now time.Time) bool {
	if a.LastCheckedAt == nil {
		return true
	}
	interval := time.Duration(a.IntervalMinutes) * time.Minute
	return now.Sub(*a.LastCheckedAt) >= interval
}

// Validate checks the structural validity of a new or updated alert.
func (a *Alert) Validate() error {
	if err := ValidateProductRef(a.ProductRef); err != nil {
		return err
	}
	if a.OwnerRef == "" {
		return NewValidationError("owner_ref", "must not be empty")
	}
	if a.DesiredPrice <= 0 {
		return NewValidationError("desired_price", "must be positive")
	}
	if a.IntervalMinutes < 0 {
		return NewValidationError("interval_minutes", "must not be negative")
	}
	if a.SmartTriggers != nil {
		for _, m := range a.SmartTriggers.SeasonalMonths {
			if m < 1 || m > 12 {
				return NewValidationError("seasonal_months", "months must be 1-12")
			}
		}
	}
	return nil
}
