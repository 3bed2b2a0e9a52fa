package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipwatch/engine/internal/domain"
	enginetest "github.com/flipwatch/engine/internal/testing"
)

// stubAnalyzer hands out one fixed analysis result.
type stubAnalyzer struct {
	result *domain.AnalysisResult
	err    error
}

func (a *stubAnalyzer) Analyze(ctx context.Context, ref string, channel domain.Channel, days int) (*domain.AnalysisResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}

func newAlertTestService(t *testing.T) (*Service, *enginetest.FakePriceProvider, *enginetest.FakeDispatcher, *stubAnalyzer) {
	t.Helper()
	db, cleanup := enginetest.NewTestDB(t, "alerts")
	t.Cleanup(cleanup)

	provider := enginetest.NewFakePriceProvider()
	dispatcher := enginetest.NewFakeDispatcher()
	analyzer := &stubAnalyzer{result: &domain.AnalysisResult{
		Trend:           domain.TrendStable,
		ConfidenceScore: 0.9,
	}}

	repo := NewRepository(db.Conn(), zerolog.Nop())
	notifications := NewNotificationLog(db.Conn(), zerolog.Nop())
	svc := NewService(repo, notifications, provider, analyzer, dispatcher, zerolog.Nop())
	return svc, provider, dispatcher, analyzer
}

func newAlertInput(ref string, desired domain.Money) *domain.Alert {
	return &domain.Alert{
		ProductRef:   ref,
		OwnerRef:     "user-1",
		DesiredPrice: desired,
	}
}

func TestCreate_InitialState(t *testing.T) {
	svc, provider, _, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 12000)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, 0, created.NotificationsSent)
	assert.Nil(t, created.TriggeredAt)
	assert.Equal(t, domain.AlertPriorityMedium, created.Priority, "empty priority defaults to medium")
	assert.Equal(t, domain.ChannelRetail, created.Channel)
	assert.Equal(t, defaultIntervalMinutes, created.IntervalMinutes)
	assert.Equal(t, []string{"push"}, created.NotificationsVia)
	require.NotNil(t, created.CurrentPrice)
	assert.Equal(t, domain.Money(12000), *created.CurrentPrice)
	require.NotNil(t, created.Predictions, "predictions are generated at creation")

	// Round-trips through the repository.
	stored, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, created.DesiredPrice, stored.DesiredPrice)
}

func TestCreate_WithoutPriceDegradesToPlaceholder(t *testing.T) {
	svc, _, _, _ := newAlertTestService(t)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	assert.Nil(t, created.CurrentPrice)
	require.NotNil(t, created.Predictions)
	assert.InDelta(t, 0.1, created.Predictions.Confidence, 1e-9, "placeholder confidence")
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newAlertTestService(t)

	tests := []struct {
		name  string
		alert *domain.Alert
	}{
		{name: "missing owner", alert: &domain.Alert{ProductRef: "B00FLIP001", DesiredPrice: 1000}},
		{name: "zero target price", alert: newAlertInput("B00FLIP001", 0)},
		{name: "unknown channel", alert: &domain.Alert{
			ProductRef: "B00FLIP001", OwnerRef: "user-1", DesiredPrice: 1000, Channel: "wholesale",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.alert)
			assert.True(t, domain.IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	svc, _, _, _ := newAlertTestService(t)
	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	require.NoError(t, svc.Pause(context.Background(), created.ID, 0))
	paused, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	assert.Nil(t, paused.PausedUntil, "indefinite pause has no deadline")

	require.NoError(t, svc.Resume(context.Background(), created.ID))
	resumed, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)

	require.NoError(t, svc.Pause(context.Background(), created.ID, time.Hour))
	timed, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, timed.PausedUntil)
	assert.True(t, timed.PausedUntil.After(time.Now().UTC()))
}

func TestPause_UnknownAlert(t *testing.T) {
	svc, _, _, _ := newAlertTestService(t)
	err := svc.Pause(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete_IdempotentAndInvisibleToSweep(t *testing.T) {
	svc, provider, dispatcher, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 9000)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	require.NoError(t, svc.Delete(context.Background(), created.ID), "second delete is a no-op")

	_, err = svc.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The price is below target, but the deleted alert must never fire.
	stats, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Evaluated)
	assert.Empty(t, dispatcher.Sent())
}

func TestEvaluateAll_FiresAndRecordsNotification(t *testing.T) {
	svc, provider, dispatcher, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 9500)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	stats, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 1, stats.Fired)
	assert.Equal(t, 0, stats.Failures)

	fired, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, fired.TriggeredAt)
	require.NotNil(t, fired.LastCheckedAt)
	assert.Equal(t, 1, fired.NotificationsSent)

	sent := dispatcher.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotificationTrigger, sent[0].Type)
	assert.Equal(t, created.ID, sent[0].AlertID)

	logged, err := svc.Notifications(context.Background(), created.ID, 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, domain.NotificationTrigger, logged[0].Type)
}

func TestEvaluateAll_FailureDoesNotDisturbOthers(t *testing.T) {
	svc, provider, dispatcher, _ := newAlertTestService(t)
	// B00FLIP002 has no registered price, so its evaluation errors.
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 9500)

	_, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), newAlertInput("B00FLIP002", 10000))
	require.NoError(t, err)

	stats, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Evaluated)
	assert.Equal(t, 1, stats.Fired)
	assert.Equal(t, 1, stats.Failures)
	require.Len(t, dispatcher.Sent(), 1)
	assert.Equal(t, "B00FLIP001", dispatcher.Sent()[0].ProductRef)
}

func TestEvaluateAll_RespectsCheckInterval(t *testing.T) {
	svc, provider, _, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 15000)

	_, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	first, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Evaluated)

	// Checked moments ago with a 60 minute interval: not due again.
	second, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Evaluated)
}

func TestEvaluateAll_AutoResumesExpiredPause(t *testing.T) {
	svc, provider, _, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 15000)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)

	require.NoError(t, svc.Pause(context.Background(), created.ID, time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	stats, err := svc.EvaluateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resumed)

	resumed, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
}

func TestUpdate_RecomputesPredictionsOnTargetChange(t *testing.T) {
	svc, provider, _, analyzer := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 12000)

	created, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)
	require.NotNil(t, created.Predictions)

	// The new target sits above the current price, so the at-target branch
	// of the prediction heuristic applies on recompute.
	analyzer.result = &domain.AnalysisResult{Trend: domain.TrendStable, ConfidenceScore: 0.8}
	target := domain.Money(13000)
	updated, err := svc.Update(context.Background(), created.ID, UpdateAlertInput{DesiredPrice: &target})
	require.NoError(t, err)

	assert.Equal(t, target, updated.DesiredPrice)
	require.NotNil(t, updated.Predictions)
	assert.InDelta(t, 0.9, updated.Predictions.ProbabilityOfTrigger, 1e-9)
}

func TestRefreshPredictions_CoversActiveAlerts(t *testing.T) {
	svc, provider, _, _ := newAlertTestService(t)
	provider.SetPrice("B00FLIP001", domain.ChannelRetail, 9000)
	provider.SetPrice("B00FLIP002", domain.ChannelRetail, 20000)

	first, err := svc.Create(context.Background(), newAlertInput("B00FLIP001", 10000))
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), newAlertInput("B00FLIP002", 10000))
	require.NoError(t, err)
	require.NoError(t, svc.Pause(context.Background(), second.ID, 0))

	refreshed, err := svc.RefreshPredictions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed, "paused alerts are not refreshed")

	stored, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Predictions)
	assert.InDelta(t, 0.9, stored.Predictions.ProbabilityOfTrigger, 1e-9,
		"price below target predicts an immediate trigger")
}
