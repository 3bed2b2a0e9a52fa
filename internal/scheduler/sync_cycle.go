package scheduler

import (
	"context"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/modules/syncsched"
	"github.com/rs/zerolog"
)

const syncCycleLeaseTTL = 10 * time.Minute

// SyncCycleJob rebuilds the priority queue and drains it against the
// remaining upstream request budget, every five minutes.
type SyncCycleJob struct {
	log   zerolog.Logger
	sync  *syncsched.Service
	lease *cache.Lease
}

// SyncCycleConfig holds configuration for the sync cycle job
type SyncCycleConfig struct {
	Log   zerolog.Logger
	Sync  *syncsched.Service
	Lease *cache.Lease
}

// NewSyncCycleJob creates a new sync cycle job
func NewSyncCycleJob(cfg SyncCycleConfig) *SyncCycleJob {
	return &SyncCycleJob{
		log:   cfg.Log.With().Str("job", "sync_cycle").Logger(),
		sync:  cfg.Sync,
		lease: cfg.Lease,
	}
}

// Name returns the job name
func (j *SyncCycleJob) Name() string {
	return "sync_cycle"
}

// Run executes one rebuild-and-drain cycle, skipping if a previous cycle
// still holds the lease.
func (j *SyncCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), syncCycleLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "sync_cycle", syncCycleLeaseTTL, func() error {
		stats, err := j.sync.RunCycle(ctx)
		if err != nil {
			return err
		}

		if stats.Skipped {
			j.log.Debug().Msg("Sync cycle already running in-process, skipping")
			return nil
		}

		j.log.Info().
			Int("tracked", stats.Tracked).
			Int("due", stats.TotalDue).
			Int("queued", stats.Queued).
			Bool("truncated", stats.Truncated).
			Int("synced", stats.Synced).
			Int("failures", stats.Failures).
			Int64("duration_ms", stats.DurationMS).
			Msg("Sync cycle completed")

		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Sync cycle already running, skipping")
	}

	return nil
}
