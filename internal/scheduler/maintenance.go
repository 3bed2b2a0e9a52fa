package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/database"
	"github.com/flipwatch/engine/internal/modules/alerts"
	"github.com/rs/zerolog"
)

const maintenanceLeaseTTL = time.Hour

// defaultNotificationRetention bounds the notification audit trail. Ninety
// days covers any reasonable "why did this fire" investigation.
const defaultNotificationRetention = 90 * 24 * time.Hour

// MaintenanceJob performs the nightly database maintenance window: integrity
// checks, WAL checkpoints, vacuum, and notification-log pruning.
type MaintenanceJob struct {
	log           zerolog.Logger
	databases     map[string]*database.DB
	notifications *alerts.NotificationLog
	retention     time.Duration
	lease         *cache.Lease
}

// MaintenanceConfig holds configuration for the maintenance job
type MaintenanceConfig struct {
	Log                   zerolog.Logger
	Databases             map[string]*database.DB
	Notifications         *alerts.NotificationLog
	NotificationRetention time.Duration
	Lease                 *cache.Lease
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(cfg MaintenanceConfig) *MaintenanceJob {
	retention := cfg.NotificationRetention
	if retention <= 0 {
		retention = defaultNotificationRetention
	}

	return &MaintenanceJob{
		log:           cfg.Log.With().Str("job", "maintenance").Logger(),
		databases:     cfg.Databases,
		notifications: cfg.Notifications,
		retention:     retention,
		lease:         cfg.Lease,
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance window, skipping if a previous run still
// holds the lease.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "maintenance", maintenanceLeaseTTL, func() error {
		return j.runMaintenance(ctx)
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Maintenance already running, skipping")
	}

	return nil
}

func (j *MaintenanceJob) runMaintenance(ctx context.Context) error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	// Step 1: integrity check. A corrupt database is the one condition worth
	// failing the whole job over; everything after this degrades gracefully.
	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running integrity check")

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("Integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	// Step 2: WAL checkpoint to keep the WAL files from growing unbounded
	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running WAL checkpoint")

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
		}
	}

	// Step 3: vacuum. Expensive, which is why this runs at 2 AM.
	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running VACUUM")

		if err := db.Vacuum(); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("VACUUM failed")
		}
	}

	// Step 4: prune the notification audit trail
	if j.notifications != nil {
		cutoff := time.Now().UTC().Add(-j.retention)

		pruned, err := j.notifications.PruneOlderThan(cutoff)
		if err != nil {
			j.log.Error().Err(err).Msg("Notification pruning failed")
		} else if pruned > 0 {
			j.log.Info().
				Int64("pruned", pruned).
				Time("cutoff", cutoff).
				Msg("Pruned old notifications")
		}
	}

	// Step 5: report database sizes for growth tracking
	for name, db := range j.databases {
		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("Failed to get database stats")
			continue
		}

		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Msg("Database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")

	return nil
}
