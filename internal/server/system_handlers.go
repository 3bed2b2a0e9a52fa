package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/flipwatch/engine/internal/cache"
	"github.com/flipwatch/engine/internal/clients/marketdata"
	"github.com/flipwatch/engine/internal/database"
	"github.com/flipwatch/engine/internal/scheduler"
)

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	databases map[string]*database.DB
	store     *cache.Store
	sched     *scheduler.Scheduler
	stream    *marketdata.PriceStream // nil when the live feed is disabled
	startedAt time.Time

	// Jobs (set after job registration in main.go)
	syncCycleJob   scheduler.Job
	maintenanceJob scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	databases map[string]*database.DB,
	store *cache.Store,
	sched *scheduler.Scheduler,
	stream *marketdata.PriceStream,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("component", "system_handlers").Logger(),
		databases: databases,
		store:     store,
		sched:     sched,
		stream:    stream,
		startedAt: time.Now().UTC(),
	}
}

// SetJobs registers job references for manual triggering
// Called after jobs are registered in main.go
func (h *SystemHandlers) SetJobs(syncCycle, maintenance scheduler.Job) {
	h.syncCycleJob = syncCycle
	h.maintenanceJob = maintenance
}

// HealthResponse is the basic liveness response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// SystemStatusResponse represents the full system status
type SystemStatusResponse struct {
	Status        string           `json:"status"` // "ok" or "degraded"
	Timestamp     string           `json:"timestamp"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	System        SystemStats      `json:"system"`
	Databases     []DatabaseStatus `json:"databases"`
	Cache         CacheStatus      `json:"cache"`
	Stream        StreamStatus     `json:"stream"`
}

// SystemStats holds process and host resource usage
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
}

// DatabaseStatus represents health and size of a single database
type DatabaseStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
}

// CacheStatus represents cache store health
type CacheStatus struct {
	Healthy bool `json:"healthy"`
}

// StreamStatus represents the live price feed state
type StreamStatus struct {
	Enabled    bool   `json:"enabled"`
	Connected  bool   `json:"connected"`
	Updates    int64  `json:"updates"`
	LastUpdate string `json:"last_update,omitempty"`
}

// JobsStatusResponse represents scheduler job status
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// HandleHealth returns basic liveness
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSystemStatus returns comprehensive system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	ctx := r.Context()
	status := "ok"

	databases := make([]DatabaseStatus, 0, len(h.databases))
	for name, db := range h.databases {
		dbStatus := DatabaseStatus{Name: name, Healthy: true}

		if err := db.QuickCheck(ctx); err != nil {
			h.log.Warn().Str("database", name).Err(err).Msg("Database check failed")
			dbStatus.Healthy = false
			status = "degraded"
		}

		if stats, err := db.GetStats(); err == nil {
			dbStatus.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			dbStatus.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
		}

		databases = append(databases, dbStatus)
	}

	cacheStatus := CacheStatus{Healthy: true}
	if err := h.pingCache(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Cache check failed")
		cacheStatus.Healthy = false
		status = "degraded"
	}

	streamStatus := StreamStatus{}
	if h.stream != nil {
		streamStatus.Enabled = true
		streamStatus.Connected = h.stream.IsConnected()

		count, lastUpdate := h.stream.Stats()
		streamStatus.Updates = count
		if !lastUpdate.IsZero() {
			streamStatus.LastUpdate = lastUpdate.UTC().Format(time.RFC3339)
		}
	}

	h.writeJSON(w, http.StatusOK, SystemStatusResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		System:        h.getSystemStats(),
		Databases:     databases,
		Cache:         cacheStatus,
		Stream:        streamStatus,
	})
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	jobs := h.sched.Jobs()
	h.writeJSON(w, http.StatusOK, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	})
}

// HandleTriggerSyncCycle triggers the sync cycle job immediately
// POST /api/system/jobs/sync-cycle
func (h *SystemHandlers) HandleTriggerSyncCycle(w http.ResponseWriter, r *http.Request) {
	h.triggerJob(w, h.syncCycleJob, "Sync cycle")
}

// HandleTriggerMaintenance triggers the maintenance job immediately
// POST /api/system/jobs/maintenance
func (h *SystemHandlers) HandleTriggerMaintenance(w http.ResponseWriter, r *http.Request) {
	h.triggerJob(w, h.maintenanceJob, "Maintenance")
}

func (h *SystemHandlers) triggerJob(w http.ResponseWriter, job scheduler.Job, label string) {
	if job == nil {
		h.log.Warn().Str("job", label).Msg("Job not registered yet")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": label + " job not registered",
		})
		return
	}

	h.log.Info().Str("job", job.Name()).Msg("Manual job trigger")

	if err := h.sched.RunNow(job); err != nil {
		h.log.Error().Err(err).Str("job", job.Name()).Msg("Failed to run job")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": label + " triggered successfully",
	})
}

// getSystemStats collects host CPU and memory usage
func (h *SystemHandlers) getSystemStats() SystemStats {
	stats := SystemStats{Goroutines: runtime.NumGoroutine()}

	// Short sampling window keeps the handler responsive.
	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vmStat.UsedPercent
	}

	return stats
}

func (h *SystemHandlers) pingCache(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.store.Ping(pingCtx)
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
