package scheduler

import (
	"context"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/modules/alerts"
	"github.com/rs/zerolog"
)

const predictionRefreshLeaseTTL = 30 * time.Minute

// PredictionRefreshJob recomputes the stored predictions of every active
// alert from fresh analysis, nightly. Evaluation-time nudges work off these;
// a day-old baseline is fine, a week-old one drifts.
type PredictionRefreshJob struct {
	log    zerolog.Logger
	alerts *alerts.Service
	lease  *cache.Lease
}

// PredictionRefreshConfig holds configuration for the prediction refresh job
type PredictionRefreshConfig struct {
	Log    zerolog.Logger
	Alerts *alerts.Service
	Lease  *cache.Lease
}

// NewPredictionRefreshJob creates a new prediction refresh job
func NewPredictionRefreshJob(cfg PredictionRefreshConfig) *PredictionRefreshJob {
	return &PredictionRefreshJob{
		log:    cfg.Log.With().Str("job", "prediction_refresh").Logger(),
		alerts: cfg.Alerts,
		lease:  cfg.Lease,
	}
}

// Name returns the job name
func (j *PredictionRefreshJob) Name() string {
	return "prediction_refresh"
}

// Run refreshes predictions for all active alerts, skipping if a previous
// run still holds the lease.
func (j *PredictionRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), predictionRefreshLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "prediction_refresh", predictionRefreshLeaseTTL, func() error {
		refreshed, err := j.alerts.RefreshPredictions(ctx)
		if err != nil {
			return err
		}

		j.log.Info().
			Int("refreshed", refreshed).
			Msg("Prediction refresh completed")

		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Prediction refresh already running, skipping")
	}

	return nil
}
