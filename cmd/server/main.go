package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/clients/marketdata"
	"github.com/flipwatch/engine/internal/clients/notify"
	"github.com/flipwatch/engine/internal/config"
	"github.com/flipwatch/engine/internal/database"
	"github.com/flipwatch/engine/internal/modules/alerts"
	alertshandlers "github.com/flipwatch/engine/internal/modules/alerts/handlers"
	"github.com/flipwatch/engine/internal/modules/analysis"
	analysishandlers "github.com/flipwatch/engine/internal/modules/analysis/handlers"
	"github.com/flipwatch/engine/internal/modules/profit"
	profithandlers "github.com/flipwatch/engine/internal/modules/profit/handlers"
	"github.com/flipwatch/engine/internal/modules/ranking"
	rankinghandlers "github.com/flipwatch/engine/internal/modules/ranking/handlers"
	"github.com/flipwatch/engine/internal/modules/syncsched"
	synchandlers "github.com/flipwatch/engine/internal/modules/syncsched/handlers"
	"github.com/flipwatch/engine/internal/modules/tracking"
	"github.com/flipwatch/engine/internal/reliability"
	"github.com/flipwatch/engine/internal/scheduler"
	"github.com/flipwatch/engine/internal/server"
	"github.com/flipwatch/engine/pkg/logger"
)

func main() {
	// Bootstrap logger for configuration errors; replaced once the
	// configured level is known.
	log := logger.New(logger.Config{
		Level:  "info",
		Pretty: true,
	})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log = logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Flipwatch")

	// Initialize cache store
	store, err := cache.New(cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to cache store")
	}
	defer store.Close()

	lease := cache.NewLease(store)
	budget := cache.NewRateLimiter(store, cfg.Marketdata.RequestsPerMinute, time.Minute)

	// Initialize databases
	alertsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "alerts.db"),
		Profile: database.ProfileDurable,
		Name:    "alerts",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize alerts database")
	}
	defer alertsDB.Close()

	catalogDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "catalog.db"),
		Profile: database.ProfileStandard,
		Name:    "catalog",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize catalog database")
	}
	defer catalogDB.Close()

	// Run migrations
	for _, db := range []*database.DB{alertsDB, catalogDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	databases := map[string]*database.DB{
		"alerts":  alertsDB,
		"catalog": catalogDB,
	}

	// Upstream clients
	provider := marketdata.NewClient(cfg.Marketdata, store, budget, log)
	dispatcher := notify.NewDispatcher(cfg.Notifier, log)

	// Repositories
	catalog := tracking.NewRepository(catalogDB.Conn(), log)
	alertRepo := alerts.NewRepository(alertsDB.Conn(), log)
	notifications := alerts.NewNotificationLog(alertsDB.Conn(), log)

	// Services
	tracker := syncsched.NewAccessTracker(store, log)
	analysisSvc := analysis.NewService(provider, store, tracker, catalog, log)
	profitSvc := profit.NewService(provider, analysisSvc, log)
	rankingSvc := ranking.NewService(profitSvc, catalog, log)
	syncSvc := syncsched.NewService(tracker, catalog, provider, budget, store, log)
	alertsSvc := alerts.NewService(alertRepo, notifications, provider, analysisSvc, dispatcher, log)

	// Optional live price stream. Start is non-fatal: the stream reconnects
	// in the background and the cycle-based sync covers any gap.
	var stream *marketdata.PriceStream
	if cfg.Marketdata.StreamEnabled && cfg.Marketdata.StreamURL != "" {
		stream = marketdata.NewPriceStream(cfg.Marketdata.StreamURL, store, log)
		if err := stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Price stream failed to start")
		}
		defer stream.Stop()
	}

	// Initialize scheduler
	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	// Register background jobs
	syncCycleJob, maintenanceJob, err := registerJobs(sched, cfg, log, jobServices{
		alerts:        alertsSvc,
		sync:          syncSvc,
		notifications: notifications,
		databases:     databases,
		lease:         lease,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}

	// Initialize HTTP server
	system := server.NewSystemHandlers(log, databases, store, sched, stream)
	system.SetJobs(syncCycleJob, maintenanceJob)

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		DevMode:  cfg.DevMode,
		Analysis: analysishandlers.NewHandler(analysisSvc, log),
		Profit:   profithandlers.NewHandler(profitSvc, log),
		Ranking:  rankinghandlers.NewHandler(rankingSvc, log),
		Alerts:   alertshandlers.NewHandler(alertsSvc, log),
		Sync:     synchandlers.NewHandler(syncSvc, log),
		System:   system,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// jobServices carries the dependencies the background jobs close over.
type jobServices struct {
	alerts        *alerts.Service
	sync          *syncsched.Service
	notifications *alerts.NotificationLog
	databases     map[string]*database.DB
	lease         *cache.Lease
}

// registerJobs wires the background jobs onto the scheduler. Returns the
// sync cycle and maintenance jobs so the system handlers can expose manual
// triggers for them.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger,
	svcs jobServices) (scheduler.Job, scheduler.Job, error) {

	alertSweep := scheduler.NewAlertSweepJob(scheduler.AlertSweepConfig{
		Log:    log,
		Alerts: svcs.alerts,
		Lease:  svcs.lease,
	})
	if err := sched.AddJob("0 * * * * *", alertSweep); err != nil {
		return nil, nil, err
	}

	syncCycle := scheduler.NewSyncCycleJob(scheduler.SyncCycleConfig{
		Log:   log,
		Sync:  svcs.sync,
		Lease: svcs.lease,
	})
	if err := sched.AddJob("0 */5 * * * *", syncCycle); err != nil {
		return nil, nil, err
	}

	cacheWarm := scheduler.NewCacheWarmJob(scheduler.CacheWarmConfig{
		Log:   log,
		Sync:  svcs.sync,
		Lease: svcs.lease,
	})
	if err := sched.AddJob("0 */10 * * * *", cacheWarm); err != nil {
		return nil, nil, err
	}

	predictionRefresh := scheduler.NewPredictionRefreshJob(scheduler.PredictionRefreshConfig{
		Log:    log,
		Alerts: svcs.alerts,
		Lease:  svcs.lease,
	})
	if err := sched.AddJob("0 0 3 * * *", predictionRefresh); err != nil {
		return nil, nil, err
	}

	maintenance := scheduler.NewMaintenanceJob(scheduler.MaintenanceConfig{
		Log:           log,
		Databases:     svcs.databases,
		Notifications: svcs.notifications,
		Lease:         svcs.lease,
	})
	if err := sched.AddJob("0 0 2 * * *", maintenance); err != nil {
		return nil, nil, err
	}

	// Cloud backups only run when an object store is configured. A bad
	// backup config degrades to no backups rather than blocking startup.
	if cfg.Backup.Enabled {
		s3, err := reliability.NewS3Client(cfg.Backup.Endpoint, cfg.Backup.Region,
			cfg.Backup.Bucket, cfg.Backup.AccessKey, cfg.Backup.SecretKey, log)
		if err != nil {
			log.Warn().Err(err).Msg("Backup disabled: object store client failed to initialize")
		} else {
			backups := reliability.NewBackupService(s3, svcs.databases, cfg.DataDir,
				cfg.Backup.RetentionDays, log)
			backup := scheduler.NewBackupJob(scheduler.BackupConfig{
				Log:     log,
				Backups: backups,
				Lease:   svcs.lease,
			})
			if err := sched.AddJob("0 0 4 * * *", backup); err != nil {
				return nil, nil, err
			}
		}
	}

	return syncCycle, maintenance, nil
}
