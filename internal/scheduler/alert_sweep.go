package scheduler

import (
	"context"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/modules/alerts"
	"github.com/rs/zerolog"
)

// Evaluation is cheap per alert, but a sweep can touch the upstream for
// products with no cached price. The lease TTL leaves room for that.
const alertSweepLeaseTTL = 5 * time.Minute

// AlertSweepJob evaluates all active alerts once a minute. Each alert gates
// itself by its own interval, so a minutely sweep does not mean minutely
// upstream traffic.
type AlertSweepJob struct {
	log    zerolog.Logger
	alerts *alerts.Service
	lease  *cache.Lease
}

// AlertSweepConfig holds configuration for the alert sweep job
type AlertSweepConfig struct {
	Log    zerolog.Logger
	Alerts *alerts.Service
	Lease  *cache.Lease
}

// NewAlertSweepJob creates a new alert sweep job
func NewAlertSweepJob(cfg AlertSweepConfig) *AlertSweepJob {
	return &AlertSweepJob{
		log:    cfg.Log.With().Str("job", "alert_sweep").Logger(),
		alerts: cfg.Alerts,
		lease:  cfg.Lease,
	}
}

// Name returns the job name
func (j *AlertSweepJob) Name() string {
	return "alert_sweep"
}

// Run executes one sweep, skipping if a previous sweep still holds the lease.
func (j *AlertSweepJob) Run() error {
	// Deadline matches the lease TTL so a run cannot outlive its lease.
	ctx, cancel := context.WithTimeout(context.Background(), alertSweepLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "alert_sweep", alertSweepLeaseTTL, func() error {
		stats, err := j.alerts.EvaluateAll(ctx)
		if err != nil {
			return err
		}

		j.log.Info().
			Int("evaluated", stats.Evaluated).
			Int("fired", stats.Fired).
			Int("snoozed", stats.Snoozed).
			Int("failures", stats.Failures).
			Int64("duration_ms", stats.DurationMS).
			Msg("Alert sweep completed")

		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Alert sweep already running, skipping")
	}

	return nil
}
