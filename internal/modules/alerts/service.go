package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/clients/notify"
	"github.com/flipwatch/engine/internal/domain"
)

const (
	// defaultIntervalMinutes is the per-alert check interval when the caller
	// does not set one.
	defaultIntervalMinutes = 60

	// evaluationWindowDays matches the analyze endpoint's default window so
	// sweep evaluations and API calls share cached analysis results.
	evaluationWindowDays = 90

	// maxConcurrentEvaluations bounds the sweep worker pool. Alerts are
	// independent, but each evaluation may cost an upstream call.
	maxConcurrentEvaluations = 4

	// defaultNotificationChannel receives prediction nudges and is the
	// fallback channel for alerts created without any.
	defaultNotificationChannel = "push"
)

// PriceProvider supplies the current price for alert evaluation.
type PriceProvider interface {
	GetCurrentPrice(ctx context.Context, productRef string, channel domain.Channel) (domain.Money, error)
}

// Analyzer supplies the statistical read backing smart triggers, snoozing
// and predictions.
type Analyzer interface {
	Analyze(ctx context.Context, productRef string, channel domain.Channel, days int) (*domain.AnalysisResult, error)
}

// SweepStats summarizes one evaluation sweep.
type SweepStats struct {
	Skipped     bool  `json:"skipped"`
	Resumed     int   `json:"resumed"`
	Evaluated   int   `json:"evaluated"`
	Fired       int   `json:"fired"`
	Predictions int   `json:"predictions"`
	Snoozed     int   `json:"snoozed"`
	Failures    int   `json:"failures"`
	DurationMS  int64 `json:"duration_ms"`
}

// UpdateAlertInput carries the patchable alert fields. Nil means unchanged.
type UpdateAlertInput struct {
	DesiredPrice     *domain.Money                  `json:"desired_price,omitempty"`
	Priority         *domain.AlertPriority          `json:"priority,omitempty"`
	IntervalMinutes  *int                           `json:"interval_minutes,omitempty"`
	NotificationsVia []string                       `json:"notification_channels,omitempty"`
	SmartTriggers    *domain.SmartTriggerConditions `json:"smart_triggers,omitempty"`
	Snoozing         *domain.SmartSnoozing          `json:"smart_snoozing,omitempty"`
}

// Service owns the alert lifecycle and the recurring evaluation sweep.
type Service struct {
	repo          *Repository
	notifications *NotificationLog
	provider      PriceProvider
	analyzer      Analyzer
	dispatcher    notify.Dispatcher
	log           zerolog.Logger

	// Only one sweep may be in flight; a second caller skips instead of
	// queueing behind it.
	sweepRunning atomic.Bool
}

// NewService creates the alert service.
func NewService(repo *Repository, notifications *NotificationLog, provider PriceProvider,
	analyzer Analyzer, dispatcher notify.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		notifications: notifications,
		provider:      provider,
		analyzer:      analyzer,
		dispatcher:    dispatcher,
		log:           log,
	}
}

// Create registers a new alert: defaults applied, current price captured
// best-effort, predictions computed (degrading to the placeholder on
// failure), state active with zero notifications sent.
func (s *Service) Create(ctx context.Context, alert *domain.Alert) (*domain.Alert, error) {
	if alert.Channel == "" {
		alert.Channel = domain.ChannelRetail
	}
	if _, err := domain.ParseChannel(string(alert.Channel)); err != nil {
		return nil, err
	}
	priority, err := domain.ParseAlertPriority(string(alert.Priority))
	if err != nil {
		return nil, err
	}
	alert.Priority = priority
	if alert.IntervalMinutes == 0 {
		alert.IntervalMinutes = defaultIntervalMinutes
	}
	if len(alert.NotificationsVia) == 0 {
		alert.NotificationsVia = []string{defaultNotificationChannel}
	}
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert.ID = uuid.New().String()
	alert.CreatedAt = now
	alert.IsActive = true
	alert.NotificationsSent = 0
	alert.TriggeredAt = nil
	alert.LastCheckedAt = nil
	alert.PausedUntil = nil

	if price, err := s.provider.GetCurrentPrice(ctx, alert.ProductRef, alert.Channel); err == nil {
		alert.CurrentPrice = &price
	} else {
		s.log.Debug().Err(err).Str("product", alert.ProductRef).Msg("No current price at alert creation")
		alert.CurrentPrice = nil
	}

	alert.Predictions = s.generatePredictions(ctx, alert, now)

	if err := s.repo.Create(alert); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("alert_id", alert.ID).
		Str("product", alert.ProductRef).
		Str("target", alert.DesiredPrice.String()).
		Msg("Alert created")
	return alert, nil
}

// Get returns one alert.
func (s *Service) Get(ctx context.Context, id string) (*domain.Alert, error) {
	alert, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	return alert, nil
}

// List returns alerts, optionally filtered by owner.
func (s *Service) List(ctx context.Context, ownerRef string) ([]domain.Alert, error) {
	return s.repo.List(ownerRef)
}

// Update patches an alert's configuration. Predictions are recomputed when
// the target price or trigger conditions change.
func (s *Service) Update(ctx context.Context, id string, input UpdateAlertInput) (*domain.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	conditionsChanged := false
	if input.DesiredPrice != nil {
		alert.DesiredPrice = *input.DesiredPrice
		conditionsChanged = true
	}
	if input.Priority != nil {
		priority, err := domain.ParseAlertPriority(string(*input.Priority))
		if err != nil {
			return nil, err
		}
		alert.Priority = priority
	}
	if input.IntervalMinutes != nil {
		alert.IntervalMinutes = *input.IntervalMinutes
	}
	if input.NotificationsVia != nil {
		alert.NotificationsVia = input.NotificationsVia
	}
	if input.SmartTriggers != nil {
		alert.SmartTriggers = input.SmartTriggers
		conditionsChanged = true
	}
	if input.Snoozing != nil {
		alert.Snoozing = input.Snoozing
	}
	if err := alert.Validate(); err != nil {
		return nil, err
	}

	if conditionsChanged {
		alert.Predictions = s.generatePredictions(ctx, alert, time.Now().UTC())
	}

	found, err := s.repo.Update(alert)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	return alert, nil
}

// Pause deactivates an alert. A positive resumeAfter sets an auto-resume
// deadline that the next sweep applies once it passes.
func (s *Service) Pause(ctx context.Context, id string, resumeAfter time.Duration) error {
	var until *time.Time
	if resumeAfter > 0 {
		deadline := time.Now().UTC().Add(resumeAfter)
		until = &deadline
	}

	found, err := s.repo.SetActive(id, false, until)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	s.log.Info().Str("alert_id", id).Msg("Alert paused")
	return nil
}

// Resume reactivates a paused alert.
func (s *Service) Resume(ctx context.Context, id string) error {
	found, err := s.repo.SetActive(id, true, nil)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	s.log.Info().Str("alert_id", id).Msg("Alert resumed")
	return nil
}

// Delete removes an alert. Deleting an unknown or already deleted alert is
// a no-op.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(id); err != nil {
		return err
	}
	s.log.Info().Str("alert_id", id).Msg("Alert deleted")
	return nil
}

// ActiveCount returns the number of active alerts.
func (s *Service) ActiveCount() (int, error) {
	return s.repo.CountActive()
}

// Notifications returns the recent notification audit entries for an alert.
func (s *Service) Notifications(ctx context.Context, alertID string, limit int) ([]notify.Notification, error) {
	if _, err := s.Get(ctx, alertID); err != nil {
		return nil, err
	}
	return s.notifications.ListByAlert(alertID, limit)
}

// EvaluateAll runs one sweep: auto-resume expired pauses, then evaluate
// every active alert whose check interval has elapsed. Evaluations run on a
// bounded worker pool; a panic or error in one alert is counted and skipped
// without disturbing the rest. If a sweep is already in flight the call
// returns immediately with Skipped set.
func (s *Service) EvaluateAll(ctx context.Context) (*SweepStats, error) {
	if !s.sweepRunning.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Alert sweep already in flight, skipping")
		return &SweepStats{Skipped: true}, nil
	}
	defer s.sweepRunning.Store(false)

	started := time.Now()
	now := time.Now().UTC()
	stats := &SweepStats{}

	stats.Resumed = s.resumeExpiredPauses(now)

	active, err := s.repo.ListActive()
	if err != nil {
		return nil, err
	}

	var due []domain.Alert
	for _, alert := range active {
		if alert.DueForCheck(now) {
			due = append(due, alert)
		}
	}
	if len(due) == 0 {
		stats.DurationMS = time.Since(started).Milliseconds()
		return stats, nil
	}

	jobs := make(chan domain.Alert, len(due))
	results := make(chan evalResult, len(due))

	workers := maxConcurrentEvaluations
	if len(due) < workers {
		workers = len(due)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for alert := range jobs {
				results <- s.evaluateSafely(ctx, alert, now)
			}
		}()
	}
	for _, alert := range due {
		jobs <- alert
	}
	close(jobs)
	wg.Wait()
	close(results)

	for result := range results {
		stats.Evaluated++
		switch {
		case result.err != nil:
			stats.Failures++
		case result.outcome.Fired:
			stats.Fired++
		case result.outcome.PredictionNudge:
			stats.Predictions++
		case result.outcome.Snoozed:
			stats.Snoozed++
		}
	}
	stats.DurationMS = time.Since(started).Milliseconds()

	s.log.Info().
		Int("evaluated", stats.Evaluated).
		Int("fired", stats.Fired).
		Int("predictions", stats.Predictions).
		Int("snoozed", stats.Snoozed).
		Int("failures", stats.Failures).
		Int64("duration_ms", stats.DurationMS).
		Msg("Alert sweep completed")
	return stats, nil
}

// RefreshPredictions recomputes the cached predictive read for every active
// alert. Runs daily, independent of the per-alert check interval.
func (s *Service) RefreshPredictions(ctx context.Context) (int, error) {
	active, err := s.repo.ListActive()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	refreshed := 0
	for i := range active {
		alert := &active[i]
		if price, err := s.provider.GetCurrentPrice(ctx, alert.ProductRef, alert.Channel); err == nil {
			alert.CurrentPrice = &price
		}
		predictions := s.generatePredictions(ctx, alert, now)
		if err := s.repo.UpdatePredictions(alert.ID, predictions); err != nil {
			s.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to store refreshed predictions")
			continue
		}
		refreshed++
	}

	s.log.Info().Int("refreshed", refreshed).Int("active", len(active)).Msg("Alert predictions refreshed")
	return refreshed, nil
}

type evalResult struct {
	outcome Outcome
	err     error
}

// evaluateSafely isolates one alert's evaluation: a panic is converted to an
// error so the sweep's other alerts are unaffected.
func (s *Service) evaluateSafely(ctx context.Context, alert domain.Alert, now time.Time) (result evalResult) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error().
				Str("alert_id", alert.ID).
				Interface("panic", p).
				Msg("Alert evaluation panicked")
			result = evalResult{err: fmt.Errorf("panic evaluating alert %s: %v", alert.ID, p)}
		}
	}()

	outcome, err := s.evaluateOne(ctx, &alert, now)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Alert evaluation failed")
		return evalResult{err: err}
	}
	return evalResult{outcome: outcome}
}

func (s *Service) evaluateOne(ctx context.Context, alert *domain.Alert, now time.Time) (Outcome, error) {
	price, err := s.provider.GetCurrentPrice(ctx, alert.ProductRef, alert.Channel)
	if err != nil {
		return Outcome{}, fmt.Errorf("current price for %s: %w", alert.ProductRef, err)
	}

	analysis, err := s.analyzer.Analyze(ctx, alert.ProductRef, alert.Channel, evaluationWindowDays)
	if err != nil {
		s.log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Evaluating without analysis")
		analysis = nil
	}

	outcome := Evaluate(EvaluationContext{
		Alert:        alert,
		CurrentPrice: price,
		Analysis:     analysis,
		Now:          now,
	})

	switch {
	case outcome.Fired:
		if err := s.repo.MarkTriggered(alert.ID, price, now); err != nil {
			return outcome, err
		}
		s.dispatch(ctx, notify.Notification{
			AlertID:    alert.ID,
			ProductRef: alert.ProductRef,
			Type:       domain.NotificationTrigger,
			Priority:   alert.Priority,
			Message:    triggerMessage(alert, price, outcome.Reasoning),
			Channels:   alert.NotificationsVia,
			SentAt:     now,
		})
	case outcome.PredictionNudge:
		if err := s.repo.TouchChecked(alert.ID, &price, now); err != nil {
			return outcome, err
		}
		s.dispatch(ctx, notify.Notification{
			AlertID:    alert.ID,
			ProductRef: alert.ProductRef,
			Type:       domain.NotificationPrediction,
			Priority:   domain.AlertPriorityLow,
			Message:    predictionMessage(alert),
			Channels:   []string{defaultNotificationChannel},
			SentAt:     now,
		})
	default:
		if err := s.repo.TouchChecked(alert.ID, &price, now); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// dispatch sends a notification and records it in the audit log. Neither
// failure propagates into the evaluation cycle.
func (s *Service) dispatch(ctx context.Context, n notify.Notification) {
	if err := s.dispatcher.Send(ctx, n); err != nil {
		s.log.Error().Err(err).Str("alert_id", n.AlertID).Msg("Failed to dispatch notification")
	}
	if err := s.notifications.Record(n); err != nil {
		s.log.Error().Err(err).Str("alert_id", n.AlertID).Msg("Failed to record notification")
	}
}

// resumeExpiredPauses reactivates paused alerts whose auto-resume deadline
// has passed. Applied lazily at sweep time.
func (s *Service) resumeExpiredPauses(now time.Time) int {
	paused, err := s.repo.ListPausedWithDeadline()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load paused alerts")
		return 0
	}

	resumed := 0
	for _, alert := range paused {
		if alert.PausedUntil == nil || alert.PausedUntil.After(now) {
			continue
		}
		if _, err := s.repo.SetActive(alert.ID, true, nil); err != nil {
			s.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to auto-resume alert")
			continue
		}
		s.log.Info().Str("alert_id", alert.ID).Msg("Alert auto-resumed")
		resumed++
	}
	return resumed
}

func triggerMessage(alert *domain.Alert, price domain.Money, reasoning []string) string {
	return fmt.Sprintf("Price alert for %s: %s (target %s). %s",
		alert.ProductRef, price, alert.DesiredPrice, strings.Join(reasoning, "; "))
}

func predictionMessage(alert *domain.Alert) string {
	return fmt.Sprintf("Price alert for %s is likely to trigger soon (probability %.0f%%, target %s)",
		alert.ProductRef, alert.Predictions.ProbabilityOfTrigger*100, alert.DesiredPrice)
}
