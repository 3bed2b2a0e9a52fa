package scheduler

import (
	"context"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/reliability"
	"github.com/rs/zerolog"
)

const backupLeaseTTL = time.Hour

// BackupJob uploads the nightly database archive to the configured bucket
// and rotates old archives out. Registered only when backups are enabled.
type BackupJob struct {
	log     zerolog.Logger
	backups *reliability.BackupService
	lease   *cache.Lease
}

// BackupConfig holds configuration for the backup job
type BackupConfig struct {
	Log     zerolog.Logger
	Backups *reliability.BackupService
	Lease   *cache.Lease
}

// NewBackupJob creates a new backup job
func NewBackupJob(cfg BackupConfig) *BackupJob {
	return &BackupJob{
		log:     cfg.Log.With().Str("job", "cloud_backup").Logger(),
		backups: cfg.Backups,
		lease:   cfg.Lease,
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "cloud_backup"
}

// Run creates and uploads one backup archive, skipping if a previous run
// still holds the lease.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "cloud_backup", backupLeaseTTL, func() error {
		if err := j.backups.CreateAndUpload(ctx); err != nil {
			return err
		}

		// Rotation failure is not worth failing a successful upload over.
		if err := j.backups.RotateOld(ctx); err != nil {
			j.log.Warn().Err(err).Msg("Backup rotation failed")
		}

		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Backup already running, skipping")
	}

	return nil
}
