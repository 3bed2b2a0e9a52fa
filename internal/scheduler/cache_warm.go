package scheduler

import (
	"context"
	"time"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/modules/syncsched"
	"github.com/rs/zerolog"
)

const cacheWarmLeaseTTL = 15 * time.Minute

// CacheWarmJob prefetches products predicted to be accessed soon, every ten
// minutes. Warming is best-effort and bows out when the request budget runs
// low.
type CacheWarmJob struct {
	log   zerolog.Logger
	sync  *syncsched.Service
	lease *cache.Lease
}

// CacheWarmConfig holds configuration for the cache warm job
type CacheWarmConfig struct {
	Log   zerolog.Logger
	Sync  *syncsched.Service
	Lease *cache.Lease
}

// NewCacheWarmJob creates a new cache warm job
func NewCacheWarmJob(cfg CacheWarmConfig) *CacheWarmJob {
	return &CacheWarmJob{
		log:   cfg.Log.With().Str("job", "cache_warm").Logger(),
		sync:  cfg.Sync,
		lease: cfg.Lease,
	}
}

// Name returns the job name
func (j *CacheWarmJob) Name() string {
	return "cache_warm"
}

// Run executes one warming pass, skipping if a previous pass still holds the
// lease.
func (j *CacheWarmJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWarmLeaseTTL)
	defer cancel()

	ran, err := j.lease.TryRun(ctx, "cache_warm", cacheWarmLeaseTTL, func() error {
		stats, err := j.sync.WarmCache(ctx)
		if err != nil {
			return err
		}

		if stats.Skipped {
			j.log.Debug().Msg("Cache warm already running in-process, skipping")
			return nil
		}

		j.log.Info().
			Int("scanned", stats.Scanned).
			Int("candidates", stats.Candidates).
			Int("warmed", stats.Warmed).
			Int("failures", stats.Failures).
			Msg("Cache warm completed")

		return nil
	})
	if err != nil {
		return err
	}
	if !ran {
		j.log.Debug().Msg("Cache warm already running, skipping")
	}

	return nil
}
